// Package llm provides the classification clients: a live Ollama-compatible
// backend and a deterministic offline heuristic.
package llm

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// Classification errors.
var (
	ErrUnavailable     = errors.New("classifier unavailable")
	ErrTimeout         = errors.New("classifier timed out")
	ErrInvalidResponse = errors.New("classifier response failed validation")
)

// DefaultMaxInputChars bounds the article text sent to the live backend.
const DefaultMaxInputChars = 8000

const truncationMarker = "...[truncated]"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Truncate cuts text to limit characters and marks the cut.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + truncationMarker
}

// Validate checks c against the analysis schema and drops topic slugs that
// are not in known. The returned error wraps ErrInvalidResponse.
func Validate(c *news.Classification, known []string) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	allowed := make(map[string]struct{}, len(known))
	for _, slug := range known {
		allowed[slug] = struct{}{}
	}
	topics := make([]string, 0, len(c.Topics))
	for _, slug := range c.Topics {
		slug = strings.TrimSpace(slug)
		if _, ok := allowed[slug]; ok {
			topics = append(topics, slug)
		}
	}
	c.Topics = topics
	return nil
}

func buildPrompt(req news.ClassifyRequest, maxChars int) string {
	var b strings.Builder
	b.WriteString("You are an ESG (Environmental, Social, and Governance) news analyst. ")
	b.WriteString("Analyze the following article and provide a structured assessment.\n\n")
	b.WriteString("ARTICLE TITLE: ")
	b.WriteString(req.Title)
	b.WriteString("\n\nARTICLE TEXT:\n")
	b.WriteString(Truncate(req.Body, maxChars))
	b.WriteString("\n\nAVAILABLE TOPICS: ")
	b.WriteString(strings.Join(req.TopicSlugs, ", "))
	b.WriteString(`

Analyze this article and respond with a JSON object containing:
1. "relevant" (boolean): Is this article relevant to ESG topics?
2. "topics" (string[]): Which of the available topics apply? Use exact topic slugs.
3. "importance" (number 0-100): How important is this news for ESG professionals?
4. "summaryBullets" (string[]): 2-4 key takeaways as bullet points.
5. "whyItMatters" (string): One paragraph explaining why this matters for ESG.

Respond ONLY with valid JSON, no other text.`)
	return b.String()
}
