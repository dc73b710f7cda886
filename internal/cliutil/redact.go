package cliutil

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	bearerPattern    = regexp.MustCompile(`(?i)\b(bearer\s+)([^\s"']+)`)
	secretKeyPattern = regexp.MustCompile(`(?i)(--?|\b)(` + strings.Join(secretKeys(), "|") + `)\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
)

func secretKeys() []string {
	keys := []string{
		"AUTH_TOKEN",
		"ACCESS_TOKEN",
		"REFRESH_TOKEN",
		"API_KEY",
		"JWT_SECRET",
		"CLIENT_SECRET",
		"PASSWORD",
		"TOKEN",
	}
	escaped := make([]string, len(keys))
	for i, key := range keys {
		escaped[i] = regexp.QuoteMeta(key)
	}
	return escaped
}

// RedactSecrets masks bearer credentials and known secret key assignments,
// including --flag=value forms, so launch commands can be printed safely.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := bearerPattern.ReplaceAllString(message, "${1}"+redactedPlaceholder)
	return secretKeyPattern.ReplaceAllString(redacted, "$1$2$3$4"+redactedPlaceholder+"$6")
}

// MaskToken keeps the first four characters of a credential.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return "(none)"
	case len(token) <= 4:
		return redactedPlaceholder
	default:
		return token[:4] + "…" + redactedPlaceholder
	}
}
