// Package stringutil provides shared string helpers.
package stringutil

// TruncateRunes caps s at max runes, appending an ellipsis when anything was
// cut. Counting runes instead of bytes keeps multi-byte titles from being
// split mid code point on their way into status lines.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
