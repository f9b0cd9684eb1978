// Package taxonomy holds the ESG topic taxonomy and the keyword prefilter
// that decides whether an article is worth classifying.
package taxonomy

import "github.com/JakeFAU/esg-news-digest/internal/news"

// DefaultTopics is seeded when no taxonomy has been configured.
func DefaultTopics() []news.Topic {
	return []news.Topic{
		{
			Slug: "climate-carbon",
			Name: "Climate & Carbon",
			Keywords: []string{
				"climate change", "carbon emissions", "carbon footprint", "greenhouse gas", "ghg",
				"net zero", "net-zero", "carbon neutral", "decarbonization", "decarbonisation",
				"carbon capture", "climate risk", "climate disclosure", "scope 1", "scope 2", "scope 3",
				"paris agreement", "sbti", "science based targets",
			},
			Enabled: true,
		},
		{
			Slug: "esg-regulation",
			Name: "ESG Regulation",
			Keywords: []string{
				"esg regulation", "esg disclosure", "csrd", "sfdr", "eu taxonomy", "sec climate", "tcfd",
				"issb", "ifrs sustainability", "greenwashing", "esg compliance", "sustainability reporting",
				"double materiality", "esg standards",
			},
			Enabled: true,
		},
		{
			Slug: "sustainable-finance",
			Name: "Sustainable Finance",
			Keywords: []string{
				"sustainable finance", "green bonds", "sustainability-linked", "esg investing",
				"sustainable investing", "impact investing", "esg funds", "esg ratings", "green loans",
				"climate finance", "transition finance", "blended finance", "carbon credits", "carbon offset",
			},
			Enabled: true,
		},
		{
			Slug: "social-responsibility",
			Name: "Social Responsibility",
			Keywords: []string{
				"human rights", "labor rights", "supply chain", "modern slavery", "child labor", "dei",
				"diversity equity inclusion", "workplace safety", "fair trade", "living wage",
				"worker welfare", "community engagement", "social impact", "stakeholder engagement",
			},
			Enabled: true,
		},
		{
			Slug: "corporate-governance",
			Name: "Corporate Governance",
			Keywords: []string{
				"corporate governance", "board diversity", "executive compensation", "shareholder activism",
				"proxy voting", "esg governance", "business ethics", "anti-corruption", "whistleblower",
				"corporate accountability", "fiduciary duty", "board oversight",
			},
			Enabled: true,
		},
		{
			Slug: "renewable-energy",
			Name: "Renewable Energy",
			Keywords: []string{
				"renewable energy", "solar power", "wind power", "clean energy", "energy transition",
				"battery storage", "green hydrogen", "offshore wind", "solar farm", "renewable portfolio",
				"ppa", "power purchase agreement", "energy efficiency", "electrification",
			},
			Enabled: true,
		},
	}
}
