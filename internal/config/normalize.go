package config

import (
	"regexp"
	"strings"
)

var (
	validSessionIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidIDChars   = regexp.MustCompile(`[^a-z0-9_-]+`)
	edgeDashes       = regexp.MustCompile(`^-+|-+$`)
)

// NormalizeSessionID converts a caller-supplied identifier (typically a
// phone number or account slug) into a stable session id:
//   - Lowercase, max 64 chars
//   - Only [a-z0-9_-] allowed
//   - Invalid chars replaced with "-"
//   - Leading/trailing dashes stripped
//
// Returns "" if nothing usable remains.
func NormalizeSessionID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	lower := strings.ToLower(trimmed)
	if validSessionIDRe.MatchString(lower) {
		return lower
	}

	result := invalidIDChars.ReplaceAllString(lower, "-")
	result = edgeDashes.ReplaceAllString(result, "")
	if len(result) > 64 {
		// Truncation can expose a new trailing dash.
		result = edgeDashes.ReplaceAllString(result[:64], "")
	}
	return result
}
