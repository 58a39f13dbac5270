// Package content produces themed headline and description variants for an
// existing creative. Generation is pure: no I/O, no shared state.
package content

import (
	"strings"
)

// Generator supplies themed copy for one creative. Implementations must be
// pure functions of their inputs.
type Generator interface {
	Generate(theme string, baseHeadlines []string, baseDescription string) Generated
}

// Generated is the themed content appended to an existing creative.
type Generated struct {
	Headlines    []string
	Descriptions []string
	PathSegment  string
}

type themeTemplate struct {
	headlines    []string
	descriptions []string
	path         string
}

var themes = map[string]themeTemplate{
	"singles_day": {
		headlines:    []string{"Singles Day Deals", "Alleen Vandaag Korting", "Singles Day Sale"},
		descriptions: []string{"Profiteer nu van onze Singles Day aanbiedingen. Op=Op!"},
		path:         "singles-day",
	},
	"black_friday": {
		headlines:    []string{"Black Friday Deals", "Hoogste Korting Van Het Jaar", "Black Friday Sale"},
		descriptions: []string{"Scoor de beste Black Friday deals voordat ze weg zijn."},
		path:         "black-friday",
	},
	"cyber_monday": {
		headlines:    []string{"Cyber Monday Korting", "Laatste Kans Deals", "Cyber Monday Sale"},
		descriptions: []string{"Cyber Monday: online de scherpste prijzen van het jaar."},
		path:         "cyber-monday",
	},
	"sinterklaas": {
		headlines:    []string{"Sinterklaas Cadeaus", "Voor 5 December In Huis", "Sinterklaas Deals"},
		descriptions: []string{"Vind het perfecte sinterklaascadeau, snel geleverd."},
		path:         "sinterklaas",
	},
}

// Themes lists the known theme keys.
func Themes() []string {
	out := make([]string, 0, len(themes))
	for k := range themes {
		out = append(out, k)
	}
	return out
}

// KnownTheme reports whether theme has a template.
func KnownTheme(theme string) bool {
	_, ok := themes[theme]
	return ok
}

// Themed generates content from static per-theme templates, skipping any
// headline already present in the base creative.
type Themed struct{}

// Generate implements Generator.
func (Themed) Generate(theme string, baseHeadlines []string, baseDescription string) Generated {
	tpl, ok := themes[theme]
	if !ok {
		// Unknown themes fall back to a generic sale template so a typo in
		// configuration degrades rather than blocks a run.
		tpl = themeTemplate{
			headlines:    []string{"Tijdelijke Aanbieding", "Nu Met Extra Korting"},
			descriptions: []string{"Tijdelijke actie, bekijk snel onze aanbiedingen."},
			path:         "aanbieding",
		}
	}

	seen := make(map[string]bool, len(baseHeadlines))
	for _, h := range baseHeadlines {
		seen[normalize(h)] = true
	}

	headlines := make([]string, 0, len(tpl.headlines))
	for _, h := range tpl.headlines {
		if !seen[normalize(h)] {
			headlines = append(headlines, h)
		}
	}

	descriptions := make([]string, 0, len(tpl.descriptions))
	for _, d := range tpl.descriptions {
		if normalize(d) != normalize(baseDescription) {
			descriptions = append(descriptions, d)
		}
	}

	return Generated{
		Headlines:    headlines,
		Descriptions: descriptions,
		PathSegment:  tpl.path,
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
