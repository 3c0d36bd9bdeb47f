package normalize

import (
	"regexp"
	"sort"
)

var dateTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b`),
	regexp.MustCompile(`\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b`),
	regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2},? \d{4}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2} (?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]* \d{4}\b`),
}

// dateTokens returns date-shaped substrings of text in order of appearance.
func dateTokens(text string) []string {
	type match struct {
		pos   int
		token string
	}

	var matches []match
	for _, re := range dateTokenPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			matches = append(matches, match{pos: loc[0], token: text[loc[0]:loc[1]]})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.token)
	}
	return out
}
