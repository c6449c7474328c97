package textutil

import "strings"

// SanitizeFileName makes a backend-reported output name safe to create in a
// work directory. Path separators, colons and asterisks become dashes;
// quotes, wildcards, pipes and control characters are dropped.
func SanitizeFileName(name string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*':
			return '-'
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`?"<>|`, r):
			return -1
		}
		return r
	}, strings.TrimSpace(name)))
}

// SanitizeToken lowercases value and replaces every rune outside [a-z0-9_-]
// with an underscore, for use in lock and log file names. Empty results
// become "unknown".
func SanitizeToken(value string) string {
	token := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, strings.TrimSpace(value))
	if token = strings.Trim(token, "_-"); token == "" {
		return "unknown"
	}
	return token
}
