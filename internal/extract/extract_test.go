package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func articleHTML(body string) string {
	return `<!DOCTYPE html><html lang="en"><head>
<title>Regulators adopt new climate disclosure rule</title>
<meta name="author" content="Jane Reporter">
<meta property="article:published_time" content="2024-03-06T10:00:00Z">
</head><body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Regulators adopt new climate disclosure rule</h1>
` + body + `
</article>
<footer>Copyright</footer>
</body></html>`
}

func TestExtractor_Extract(t *testing.T) {
	t.Parallel()

	para := "<p>" + strings.Repeat("Companies must now report scope one and scope two emissions in annual filings. ", 6) + "</p>"
	article, err := New().Extract([]byte(articleHTML(para+para)), "https://news.example.com/story")
	require.NoError(t, err)
	require.Contains(t, article.Title, "climate disclosure")
	require.Contains(t, article.Text, "scope one and scope two")
	require.GreaterOrEqual(t, len(article.Text), MinTextLength)
	require.Empty(t, article.ItemID)
	require.False(t, article.ExtractedAt.IsZero())
}

func TestExtractor_ShortContentIsNoArticle(t *testing.T) {
	t.Parallel()

	_, err := New().Extract([]byte(articleHTML("<p>Too short.</p>")), "https://news.example.com/story")
	require.ErrorIs(t, err, ErrNoArticle)
}

func TestExtractor_EmptyDocument(t *testing.T) {
	t.Parallel()

	_, err := New().Extract([]byte("   "), "https://news.example.com/story")
	require.ErrorIs(t, err, ErrNoArticle)
}
