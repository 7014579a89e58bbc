package authutil

import "strings"

// SafeReturnURL returns s if it is a local absolute path, otherwise "/".
// Scheme-relative and backslash forms are rejected since browsers treat
// them as other hosts.
func SafeReturnURL(s string) string {
	if s == "" || !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/\\") {
		return "/"
	}
	return s
}
