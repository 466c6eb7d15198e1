package slug

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonWordRe    = regexp.MustCompile(`[^\w-]+`)
	multiDashRe  = regexp.MustCompile(`--+`)
)

// Make converts a title into a URL-friendly slug: lowercase, whitespace to
// hyphens, non-word characters stripped, repeated hyphens collapsed. The
// result is stable under re-slugification.
func Make(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = whitespaceRe.ReplaceAllString(s, "-")
	s = nonWordRe.ReplaceAllString(s, "")
	s = multiDashRe.ReplaceAllString(s, "-")
	return s
}

// TyreDetails is the structured form of a standard tyre title such as
// "CEAT SecuraDrive 185/65 R15 88T".
type TyreDetails struct {
	Brand       string
	Model       string
	Width       string
	Profile     string
	Radius      string
	LoadIndex   string
	SpeedRating string
}

var tyreSpecRe = regexp.MustCompile(`(\d+)/(\d+)\s*R(\d+)\s+(\d+)([A-Za-z])$`)

// ParseTyreTitle parses a tyre title into its structured parts. Multi-word
// model names are kept intact. Returns nil when the title does not carry a
// recognizable spec suffix or lacks a brand and model.
func ParseTyreTitle(title string) *TyreDetails {
	loc := tyreSpecRe.FindStringSubmatchIndex(title)
	if loc == nil {
		return nil
	}
	m := tyreSpecRe.FindStringSubmatch(title)

	brandModel := strings.Fields(strings.TrimSpace(title[:loc[0]]))
	if len(brandModel) < 2 {
		return nil
	}

	return &TyreDetails{
		Brand:       brandModel[0],
		Model:       strings.Join(brandModel[1:], " "),
		Width:       m[1],
		Profile:     m[2],
		Radius:      m[3],
		LoadIndex:   m[4],
		SpeedRating: strings.ToUpper(m[5]),
	}
}
