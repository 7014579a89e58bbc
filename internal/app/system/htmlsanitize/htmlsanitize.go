// Package htmlsanitize strips markup from user-supplied chat content.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every element and attribute. Content of script and style
// elements is dropped entirely.
var strict = bluemonday.StrictPolicy()

// PlainText returns s with all HTML removed. Entities escaped by the policy
// are decoded again so "fish & chips" survives unchanged; clients must
// render the result as text.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(strict.Sanitize(s))
}

// IsPlainText reports whether s contains no markup that PlainText would remove.
func IsPlainText(s string) bool {
	if !strings.Contains(s, "<") {
		return true
	}
	return PlainText(s) == s
}
