// Package successurl decides when a navigation of the automation surface has
// reached a server-declared checkpoint.
package successurl

import (
	"strings"

	"browser-session/internal/domain/entity"
)

// Matches reports whether url satisfies pattern. A pattern matches on exact
// equality, on the prefix before its first '*', or as a plain prefix.
func Matches(url, pattern string) bool {
	if url == pattern {
		return true
	}
	if i := strings.Index(pattern, "*"); i >= 0 {
		return strings.HasPrefix(url, pattern[:i])
	}
	return strings.HasPrefix(url, pattern)
}

// FirstMatch returns the first pattern of the given navigation type that
// matches url.
func FirstMatch(url string, patterns []entity.SuccessURL, navType entity.NavigationType) (entity.SuccessURL, bool) {
	for _, p := range patterns {
		if p.NavigationType != navType {
			continue
		}
		if Matches(url, p.URLPattern) {
			return p, true
		}
	}
	return entity.SuccessURL{}, false
}
