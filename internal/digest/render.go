package digest

import (
	"fmt"
	"html/template"
	"strings"
)

var htmlTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"date": formatDate,
}).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>ESG News Digest - {{.Stats.DateRange}}</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; color: #292524; background-color: #F2F7F4; }
    h1 { color: #365146; border-bottom: 3px solid #54816F; padding-bottom: 10px; }
    .article { background: #FFFFFF; padding: 20px; margin: 20px 0; border-radius: 12px; border: 1px solid #E1ECE6; }
    .article h3 { margin: 0 0 8px 0; }
    .article h3 a { color: #365146; text-decoration: none; font-weight: 600; }
    .topics { display: flex; flex-wrap: wrap; gap: 6px; margin-bottom: 12px; }
    .topic-badge { display: inline-block; background: #E1ECE6; color: #365146; font-size: 0.75em; padding: 4px 10px; border-radius: 12px; font-weight: 600; }
    .meta { color: #78716c; font-size: 0.85em; margin-bottom: 12px; text-transform: uppercase; }
    .bullets { margin: 12px 0; padding-left: 20px; color: #44403c; line-height: 1.6; }
    .why-it-matters { background: #E1ECE6; padding: 15px; border-radius: 8px; font-style: italic; color: #365146; border-left: 4px solid #54816F; }
    .why-it-matters strong { color: #292524; font-style: normal; }
  </style>
</head>
<body>
  <h1>ESG News Digest</h1>
  <p><strong>Period:</strong> {{.Stats.DateRange}}</p>
{{- range .Articles}}
  <div class="article">
    <h3><a href="{{.URL}}">{{.Title}}</a></h3>
    <div class="topics">{{range .Topics}}<span class="topic-badge">{{.Name}}</span>{{end}}</div>
    <div class="meta"><strong>{{.Source}}</strong>{{with .PublishedAt}} &bull; {{date .}}{{end}}</div>
    <ul class="bullets">
{{- range .Bullets}}
      <li>{{.}}</li>
{{- end}}
    </ul>
    <div class="why-it-matters"><strong>Why it matters:</strong> {{.WhyItMatters}}</div>
  </div>
{{- end}}
</body>
</html>
`))

func renderHTML(d Digest) (string, error) {
	var sb strings.Builder
	if err := htmlTemplate.Execute(&sb, d); err != nil {
		return "", fmt.Errorf("render html digest: %w", err)
	}
	return sb.String(), nil
}

func renderText(d Digest) string {
	var sb strings.Builder
	sb.WriteString("ESG NEWS DIGEST\n")
	sb.WriteString(strings.Repeat("=", 50))
	fmt.Fprintf(&sb, "\nPeriod: %s\n\n", d.Stats.DateRange)

	for _, a := range d.Articles {
		names := make([]string, 0, len(a.Topics))
		for _, t := range a.Topics {
			names = append(names, t.Name)
		}
		fmt.Fprintf(&sb, "\n• %s\n", a.Title)
		fmt.Fprintf(&sb, "  Topics: [%s]\n", strings.Join(names, ", "))
		fmt.Fprintf(&sb, "  Source: %s", a.Source)
		if a.PublishedAt != nil {
			fmt.Fprintf(&sb, " | %s", formatDate(*a.PublishedAt))
		}
		fmt.Fprintf(&sb, "\n  Link: %s\n", a.URL)
		sb.WriteString("\n  Key Points:\n")
		for _, b := range a.Bullets {
			fmt.Fprintf(&sb, "    - %s\n", b)
		}
		fmt.Fprintf(&sb, "\n  Why it matters: %s\n", a.WhyItMatters)
	}
	return sb.String()
}
