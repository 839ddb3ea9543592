package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// MessageText strips control characters other than newlines and tabs and
// trims surrounding whitespace
func MessageText(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// DisplayName removes every control character and trims whitespace
func DisplayName(input string) string {
	return strings.TrimSpace(StripControlCharacters(input))
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidUsername reports whether username only holds letters, digits,
// underscores, hyphens and dots
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}
