// Package logging provides logger construction and secret masking for log output.
package logging

import (
	"strings"
)

// MaskHeader redacts sensitive header values based on header name.
// Returns the redacted value suitable for logging.
//
// Rules:
// - Password/secret headers: "[REDACTED]" (no partial reveal)
// - Authorization: scheme and credential scope kept, signature masked
// - Token/API key headers: "****" + last4chars (e.g., "****ab3f")
// - Other headers: returned unchanged
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	if strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "private-key") {
		return "[REDACTED]"
	}

	if lowerName == "authorization" {
		return maskAuthorization(value)
	}

	if lowerName == "x-api-key" ||
		lowerName == "x-access-key" ||
		lowerName == "x-github-token" {
		if len(value) < 4 {
			return "****"
		}
		return "****" + value[len(value)-4:]
	}

	return value
}

// MaskSecret shows only the first and last 4 characters of a secret.
// Values shorter than 12 characters are fully redacted.
func MaskSecret(s string) string {
	if len(s) < 12 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// maskAuthorization handles both "TC3-HMAC-SHA256 Credential=..., Signature=..."
// and "Bearer <token>" values.
func maskAuthorization(value string) string {
	scheme, rest, ok := strings.Cut(value, " ")
	if !ok {
		return MaskSecret(value)
	}

	if strings.EqualFold(scheme, "bearer") {
		return scheme + " " + MaskSecret(rest)
	}

	parts := strings.Split(rest, ", ")
	for i, part := range parts {
		key, val, found := strings.Cut(part, "=")
		if !found {
			parts[i] = MaskSecret(part)
			continue
		}
		switch key {
		case "Credential":
			id, scope, _ := strings.Cut(val, "/")
			parts[i] = key + "=" + MaskSecret(id) + "/" + scope
		case "Signature":
			parts[i] = key + "=" + MaskSecret(val)
		}
	}
	return scheme + " " + strings.Join(parts, ", ")
}
