// Package extract pulls verification codes out of free-form model output.
package extract

import "regexp"

// codeRe matches CLASS-XXXXX where CLASS is uppercase letters and XXXXX is
// five uppercase letters or digits. Word boundaries keep lowercase or longer
// near-misses from producing a partial match.
var codeRe = regexp.MustCompile(`\b[A-Z]+-[A-Z0-9]{5}\b`)

// Code returns the first code in text, scanning left to right.
// A later, correct code does not override an earlier wrong one.
func Code(text string) (string, bool) {
	m := codeRe.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// All returns every code in text in order of appearance.
func All(text string) []string {
	return codeRe.FindAllString(text, -1)
}
