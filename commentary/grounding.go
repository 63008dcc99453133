package commentary

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberToken  = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	thousandsSep = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
)

// UngroundedFigures returns the numbers in output that never appear in
// source. Signs and formatting are ignored, so "5.2%" in a comment matches
// "+5.20%" in the data. Single digit integers are skipped since they are
// usually counts or list positions.
func UngroundedFigures(output, source string) []string {
	known := make(map[string]struct{})
	for _, tok := range numberToken.FindAllString(source, -1) {
		if n, ok := normalizeNumber(tok); ok {
			known[n] = struct{}{}
		}
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, tok := range numberToken.FindAllString(output, -1) {
		n, ok := normalizeNumber(tok)
		if !ok || isMinor(n) {
			continue
		}
		if _, ok := known[n]; ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		missing = append(missing, tok)
	}
	return missing
}

func normalizeNumber(tok string) (string, bool) {
	switch {
	case thousandsSep.MatchString(tok):
		tok = strings.ReplaceAll(tok, ",", "")
	case strings.Count(tok, ",") == 1 && !strings.Contains(tok, "."):
		tok = strings.Replace(tok, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func isMinor(n string) bool {
	return len(n) == 1
}
