package headless

import (
	"bytes"
	"net/http"
)

// DefaultBodyThreshold is the body size under which script-heavy pages are
// treated as client-rendered.
const DefaultBodyThreshold = 2048

// Heuristic flags responses whose article content is probably rendered by
// JavaScript.
type Heuristic struct {
	BodyThreshold int
}

// NewHeuristic creates a detector. A zero threshold uses DefaultBodyThreshold.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &Heuristic{BodyThreshold: threshold}
}

var appShellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
}

// NeedsRender reports whether a static fetch should be repeated in a
// browser. Only successful responses qualify.
func (h *Heuristic) NeedsRender(statusCode int, body []byte) bool {
	if statusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyThreshold && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
// An unterminated tag counts to the end of the document.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return 0
	}
	openTag := []byte("<script")
	closeTag := []byte("</script>")

	covered := 0
	pos := 0
	for pos < total {
		rel := bytes.Index(lower[pos:], openTag)
		if rel < 0 {
			break
		}
		start := pos + rel
		end := total
		if gt := bytes.IndexByte(lower[start:], '>'); gt >= 0 {
			contentStart := start + gt + 1
			if closeAt := bytes.Index(lower[contentStart:], closeTag); closeAt >= 0 {
				end = contentStart + closeAt + len(closeTag)
			}
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
