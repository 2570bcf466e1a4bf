package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"op":        {},
	"address":   {},
	"method":    {},
	"tx":        {},
}

// MaskURL keeps the scheme and host of an endpoint and redacts the path,
// query and credentials, which commonly embed provider API keys.
func MaskURL(key, raw string) slog.Attr {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return slog.String(key, trimmed)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return slog.String(key, RedactedValue)
	}
	masked := parsed.Scheme + "://" + parsed.Host
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.User != nil {
		masked += "/" + RedactedValue
	}
	return slog.String(key, masked)
}

// MaskField redacts value unless key is allowlisted. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if _, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]; ok {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
