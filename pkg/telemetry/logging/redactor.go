package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redactor masks caller identifiers that look like API keys or bearer
// tokens, so credentials used as caller IDs never reach the log stream.
type Redactor struct {
	patterns []*regexp.Regexp
}

// Attribute keys whose values are always masked.
var sensitiveKeys = []string{
	"caller", "caller_id", "api_key", "apikey", "token", "authorization",
}

// NewRedactor creates a Redactor with the built-in key patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// OpenAI/Anthropic style keys
			regexp.MustCompile(`^sk-[a-zA-Z0-9_-]+$`),
			regexp.MustCompile(`^Bearer\s+[a-zA-Z0-9\-._~+/]+=*$`),
			// Long opaque alphanumeric tokens
			regexp.MustCompile(`^[a-zA-Z0-9]{32,}$`),
		},
	}
}

// LooksLikeKey reports whether value has the shape of a credential.
func (r *Redactor) LooksLikeKey(value string) bool {
	if r == nil || value == "" {
		return false
	}
	for _, p := range r.patterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

// RedactCaller masks caller if it looks like a credential and returns it
// unchanged otherwise.
func (r *Redactor) RedactCaller(caller string) string {
	if !r.LooksLikeKey(caller) {
		return caller
	}
	return RedactAPIKey(strings.TrimPrefix(caller, "Bearer "))
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook that masks
// credential-shaped values under caller-like keys.
func (r *Redactor) ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if r == nil || a.Value.Kind() != slog.KindString || !isSensitiveKey(a.Key) {
		return a
	}
	return slog.String(a.Key, r.RedactCaller(a.Value.String()))
}

// isSensitiveKey checks if a key name may carry a credential.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if lowerKey == sensitive {
			return true
		}
	}
	return false
}

// RedactAPIKey redacts an API key, keeping only a prefix.
func RedactAPIKey(apiKey string) string {
	if len(apiKey) <= 4 {
		return "***"
	}

	// Keep first 4 characters for identification
	return apiKey[:4] + "***"
}
