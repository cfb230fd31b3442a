package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips markup, applies NFKC normalisation and collapses whitespace runs into
// single spaces. The result never contains HTML entities.
func SanitizePlainText(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	stripped := html.UnescapeString(plainTextPolicy.Sanitize(value))
	normalized := norm.NFKC.String(stripped)
	return strings.Join(strings.Fields(normalized), " ")
}

// RuneLength counts characters rather than bytes.
func RuneLength(value string) int {
	return utf8.RuneCountInString(value)
}
