package schema

import "strings"

// DefaultTheme is used until the peer pushes a theme.
const DefaultTheme ThemeName = "dracula"

// NormalizeThemeName returns the canonical form of a theme id pushed by the peer.
func NormalizeThemeName(name string) (ThemeName, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if normalized == "" {
		return "", false
	}
	return ThemeName(normalized), true
}
