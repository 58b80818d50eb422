// Package match filters mirrored paths with doublestar glob patterns.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Unescaped backslashes become forward slashes; escaped glob metacharacters
// (\*, \?, \[ ...) are preserved. Leading, trailing and doubled slashes are
// kept as written.
//
//	"logs\2024\app.log" -> "logs/2024/app.log"
//	"data/file\*.txt"   -> "data/file\*.txt"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}

// IsHidden reports whether any '/'-separated segment starts with a dot.
//
//	"a/b.txt"       -> false
//	".git/config"   -> true
//	"a/.env"        -> true
func IsHidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
