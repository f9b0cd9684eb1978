package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(itemsTotal.WithLabelValues("skipped"))
	ObserveItem("skipped")
	if got := testutil.ToFloat64(itemsTotal.WithLabelValues("skipped")); got != before+1 {
		t.Errorf("expected skipped items to grow by one, got %f -> %f", before, got)
	}

	ObserveFetch("https://news.example.com/a", "ok", 512, 20*time.Millisecond)
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("news.example.com")); got < 512 {
		t.Errorf("expected fetched bytes to be recorded, got %f", got)
	}

	ObserveClassification("keyword-prefilter")
	if got := testutil.ToFloat64(classificationsTotal.WithLabelValues("keyword-prefilter")); got < 1 {
		t.Errorf("expected classification counter, got %f", got)
	}

	ObserveRun("discovery", "succeeded", time.Second)
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("discovery", "succeeded")); got < 1 {
		t.Errorf("expected run counter, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
