package helpers

import (
	"regexp"
	"strings"
)

var (
	markersRe = regexp.MustCompile(`(\*\*|###|---)`)
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	bulletRe  = regexp.MustCompile(`[-*]\s+`)
	spacesRe  = regexp.MustCompile(`\s+`)
)

// CleanResponse normalises raw LLM output into plain prose: markdown emphasis
// and heading markers are dropped, links are reduced to their anchor text,
// list bullets are removed, escaped newlines collapse to spaces, runs of
// whitespace collapse to a single space and escaped quotes are unescaped.
// Every completion passes through here before it is stored or returned.
func CleanResponse(text string) string {
	if text == "" {
		return ""
	}
	text = markersRe.ReplaceAllString(text, "")
	text = linkRe.ReplaceAllString(text, "$1")
	text = bulletRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, `\n`, " ")
	text = spacesRe.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, `\"`, `"`)
	return strings.TrimSpace(text)
}
