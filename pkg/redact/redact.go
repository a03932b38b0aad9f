// Package redact scrubs credentials and secrets from text before it is
// persisted to mission logs or returned through the API. Patterns are
// pre-compiled once; invalid patterns are skipped at construction.
package redact

import (
	"log/slog"
	"regexp"
)

// Replacement is the marker substituted for every matched secret.
const Replacement = "[REDACTED]"

// Pattern pairs a name with a regex and its replacement. Replacements keep
// surrounding structure (quotes, key names, separators) intact so redacted
// JSON payloads stay parseable; only the secret value is removed.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
}

// builtinPatterns covers the credential shapes the executor is likely to see
// in tool parameters and tool output.
var builtinPatterns = []Pattern{
	{
		Name:        "bearer_token",
		Pattern:     `(?i)(bearer\s+)[a-zA-Z0-9\-._~+/]{16,}=*`,
		Replacement: "${1}" + Replacement,
	},
	{
		Name:        "api_key_assignment",
		Pattern:     `(?i)("?(?:api[_-]?key|apikey|access[_-]?token|auth[_-]?token|secret[_-]?key|client[_-]?secret)"?\s*[:=]\s*"?)[a-zA-Z0-9\-._~+/]{8,}=*`,
		Replacement: "${1}" + Replacement,
	},
	{
		Name:        "password_assignment",
		Pattern:     `(?i)("?(?:password|passwd|pwd)"?\s*[:=]\s*"?)[^\s"',}{]{4,}`,
		Replacement: "${1}" + Replacement,
	},
	{
		Name:        "aws_access_key",
		Pattern:     `(A3T[A-Z0-9]|AKIA|ASIA|ABIA|ACCA)[A-Z0-9]{16}`,
		Replacement: Replacement,
	},
	{
		Name:        "private_key_block",
		Pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		Replacement: Replacement,
	},
	{
		Name:        "basic_auth_url",
		Pattern:     `(?i)([a-z][a-z0-9+.-]*://[^/\s:@]+:)[^/\s:@]+@`,
		Replacement: "${1}" + Replacement + "@",
	},
}

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Scrubber applies the compiled pattern set to strings and byte slices.
type Scrubber struct {
	patterns []compiledPattern
}

// NewScrubber compiles the built-in patterns plus any extras. Patterns that
// fail to compile are logged and skipped rather than aborting startup.
func NewScrubber(logger *slog.Logger, extra ...Pattern) *Scrubber {
	s := &Scrubber{}
	for _, p := range append(append([]Pattern{}, builtinPatterns...), extra...) {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			logger.Error("failed to compile redaction pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = Replacement
		}
		s.patterns = append(s.patterns, compiledPattern{name: p.Name, regex: compiled, replacement: replacement})
	}
	return s
}

// Scrub replaces every secret match in the string with the marker.
func (s *Scrubber) Scrub(text string) string {
	for _, p := range s.patterns {
		text = p.regex.ReplaceAllString(text, p.replacement)
	}
	return text
}

// ScrubBytes replaces every secret match in the byte slice. The input is not
// modified.
func (s *Scrubber) ScrubBytes(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	return []byte(s.Scrub(string(data)))
}
