package security

import (
	"crypto/subtle"
	"strings"
)

// ExtractBearerToken parses "Bearer <token>" from the Authorization header.
// The scheme is matched case-insensitively and surrounding whitespace is
// trimmed from the token.
func ExtractBearerToken(authHeader string) string {
	const prefix = "bearer "
	if len(authHeader) <= len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// TokenMatch uses constant-time comparison to prevent timing attacks.
func TokenMatch(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
