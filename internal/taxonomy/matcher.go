package taxonomy

import (
	"regexp"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

type keywordRule struct {
	word    int
	pattern *regexp.Regexp
}

// Matcher finds topics whose keywords occur as whole words in a text. A
// single Aho-Corasick pass finds candidate substrings; only those are checked
// against word boundaries. Safe for concurrent use.
type Matcher struct {
	slugs   []string
	rules   []keywordRule
	byTopic [][]int

	mu       sync.Mutex
	automata *ahocorasick.Matcher
}

// NewMatcher compiles the enabled topics. Disabled topics never match.
func NewMatcher(topics []news.Topic) *Matcher {
	m := &Matcher{}
	var dictionary []string
	words := make(map[string]int)
	for _, topic := range topics {
		if !topic.Enabled {
			continue
		}
		idx := len(m.slugs)
		m.slugs = append(m.slugs, topic.Slug)
		m.byTopic = append(m.byTopic, nil)
		for _, kw := range topic.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			word, seen := words[kw]
			if !seen {
				word = len(dictionary)
				words[kw] = word
				dictionary = append(dictionary, kw)
			}
			m.byTopic[idx] = append(m.byTopic[idx], len(m.rules))
			m.rules = append(m.rules, keywordRule{
				word:    word,
				pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
			})
		}
	}
	if len(dictionary) > 0 {
		m.automata = ahocorasick.NewStringMatcher(dictionary)
	}
	return m
}

// Match returns the slugs of matching topics in taxonomy order. The
// comparison is case-insensitive and each topic stops at its first hit.
func (m *Matcher) Match(text string) []string {
	if m.automata == nil || text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	// the automaton keeps per-call state
	m.mu.Lock()
	hits := m.automata.Match([]byte(lower))
	m.mu.Unlock()

	hit := make(map[int]bool, len(hits))
	for _, i := range hits {
		hit[i] = true
	}
	if len(hit) == 0 {
		return nil
	}

	var matched []string
	for topic, ruleIdxs := range m.byTopic {
		for _, ri := range ruleIdxs {
			if hit[m.rules[ri].word] && m.rules[ri].pattern.MatchString(lower) {
				matched = append(matched, m.slugs[topic])
				break
			}
		}
	}
	return matched
}

// MatchTopics is a convenience wrapper for one-off matching.
func MatchTopics(text string, topics []news.Topic) []string {
	return NewMatcher(topics).Match(text)
}

// Slugs returns every topic slug, enabled or not, in order.
func Slugs(topics []news.Topic) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		out = append(out, t.Slug)
	}
	return out
}
