package chat

import "strings"

// Sanitize removes ASCII control characters other than tab, newline and
// carriage return, then trims surrounding whitespace. All other Unicode,
// including emoji, is kept. Sanitize is idempotent.
func Sanitize(s string) string {
	stripped := strings.Map(func(r rune) rune {
		switch {
		case r <= 0x08, r == 0x0B, r == 0x0C, r >= 0x0E && r <= 0x1F, r == 0x7F:
			return -1
		default:
			return r
		}
	}, s)
	return strings.TrimSpace(stripped)
}
