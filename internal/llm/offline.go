package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// OfflineModel is the identity recorded for offline analyses.
const OfflineModel = "mock-llm-v1"

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	numericCue    = regexp.MustCompile(`\d+%|\$\d+|\d+ billion|\d+ million`)

	urgencyWords    = []string{"urgent", "breaking", "major", "significant", "landmark", "historic"}
	regulatoryWords = []string{"regulation", "law", "policy", "mandate", "directive"}

	offlineKeywords = map[string][]string{
		"climate-carbon":        {"climate", "carbon", "emissions", "net zero", "greenhouse"},
		"esg-regulation":        {"regulation", "compliance", "disclosure", "csrd", "sec"},
		"sustainable-finance":   {"green bond", "sustainable", "esg fund", "investing"},
		"social-responsibility": {"human rights", "labor", "diversity", "supply chain"},
		"corporate-governance":  {"governance", "board", "executive", "shareholder"},
		"renewable-energy":      {"renewable", "solar", "wind", "clean energy", "battery"},
	}

	topicContext = map[string]string{
		"climate-carbon":        "climate action and carbon reduction strategies",
		"esg-regulation":        "ESG regulatory compliance and disclosure requirements",
		"sustainable-finance":   "sustainable investment trends and green finance",
		"social-responsibility": "social impact and stakeholder welfare",
		"corporate-governance":  "corporate accountability and governance practices",
		"renewable-energy":      "clean energy transition and renewable technology",
	}
)

// OfflineClient produces deterministic rule-based analyses without any
// network access.
type OfflineClient struct{}

var _ news.Classifier = OfflineClient{}

// NewOfflineClient returns the offline classifier.
func NewOfflineClient() OfflineClient { return OfflineClient{} }

// Model reports the offline model identity.
func (OfflineClient) Model() string { return OfflineModel }

// Available is always true.
func (OfflineClient) Available(context.Context) bool { return true }

// ClassifyAndSummarize scores the article with keyword heuristics.
func (OfflineClient) ClassifyAndSummarize(ctx context.Context, in news.ClassifyRequest) (news.Classification, error) {
	if err := ctx.Err(); err != nil {
		return news.Classification{}, err
	}
	lower := strings.ToLower(in.Title + " " + in.Body)

	var matched []string
	for _, slug := range in.TopicSlugs {
		keywords, ok := offlineKeywords[slug]
		if !ok {
			keywords = []string{strings.ReplaceAll(slug, "-", " ")}
		}
		if containsAny(lower, keywords) {
			matched = append(matched, slug)
		}
	}

	selected := matched
	switch {
	case len(selected) > 3:
		selected = selected[:3]
	case len(selected) == 0 && len(in.TopicSlugs) > 0:
		selected = in.TopicSlugs[:1]
	}

	return news.Classification{
		Relevant:     len(matched) > 0,
		Topics:       append([]string{}, selected...),
		Importance:   Importance(lower),
		Bullets:      summaryBullets(in.Body, in.Title),
		WhyItMatters: whyItMatters(selected, in.Title),
	}, nil
}

// Importance scores lowercased text: base 50, plus urgency, regulatory and
// numeric cues, clamped to 0..100.
func Importance(lower string) int {
	score := 50
	if containsAny(lower, urgencyWords) {
		score += 20
	}
	if containsAny(lower, regulatoryWords) {
		score += 10
	}
	if numericCue.MatchString(lower) {
		score += 10
	}
	return min(100, max(0, score))
}

func summaryBullets(body, title string) []string {
	var sentences []string
	for _, s := range sentenceSplit.Split(body, -1) {
		s = strings.TrimSpace(s)
		if len(s) > 20 && len(s) < 200 {
			sentences = append(sentences, s)
		}
	}

	bullets := []string{title + " represents a notable development in the ESG landscape."}
	if len(sentences) > 0 {
		bullets = append(bullets, sentences[0]+".")
	}
	if len(sentences) > 2 {
		bullets = append(bullets, sentences[2]+".")
	}
	if len(bullets) < 2 {
		bullets = append(bullets, "This article provides relevant context for ESG stakeholders.")
	}
	return bullets
}

func whyItMatters(topics []string, title string) string {
	contexts := make([]string, 0, len(topics))
	for _, t := range topics {
		if c, ok := topicContext[t]; ok {
			contexts = append(contexts, c)
		} else {
			contexts = append(contexts, t)
		}
	}
	return "This article is relevant for ESG professionals tracking " + strings.Join(contexts, " and ") +
		`. "` + title + `" provides insights that may inform strategic decisions, risk assessment, ` +
		"and stakeholder communications. Organizations should monitor these developments for potential " +
		"impacts on their sustainability initiatives and reporting obligations."
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
