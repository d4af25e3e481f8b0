// Package verdict turns raw program output into per-test and per-job verdicts.
package verdict

import (
	"regexp"
	"strings"
)

// Normalizer canonicalizes text before comparison.
type Normalizer func(string) string

var (
	lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	trueWord    = regexp.MustCompile(`\bTrue\b`)
	falseWord   = regexp.MustCompile(`\bFalse\b`)
)

// Normalize trims the whole text, unifies line endings to "\n" and trims every line.
func Normalize(s string) string {
	s = strings.TrimSpace(lineEndings.Replace(s))
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// NormalizeBooleans is Normalize plus folding of the Python literals True/False to lowercase,
// so that python output compares equal to other languages' boolean spelling.
func NormalizeBooleans(s string) string {
	s = Normalize(s)
	s = trueWord.ReplaceAllString(s, "true")
	return falseWord.ReplaceAllString(s, "false")
}
