package query

import "regexp"

// Redaction runs last, on already-assembled strings, so no upstream
// transformation can reintroduce a secret after the check.
var redactionPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[REDACTED_AWS_ACCESS_KEY]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret)\s*[:=]\s*['"][^'"]+['"]`), `$1="[REDACTED]"`},
	{regexp.MustCompile(`(?s)-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----.*?-----END (?:RSA |EC |DSA )?PRIVATE KEY-----`), "[REDACTED_PRIVATE_KEY]"},
	// Long bare hex or base64 runs are treated as secret material.
	{regexp.MustCompile(`\b[0-9a-fA-F]{40,}\b`), "[REDACTED_HEX]"},
	{regexp.MustCompile(`\b[A-Za-z0-9+/]{48,}={0,2}\b`), "[REDACTED_BASE64]"},
}

// redactSensitive replaces secret-shaped spans with markers and returns
// the redacted text plus the number of spans replaced.
func redactSensitive(text string) (string, int) {
	hits := 0
	for _, entry := range redactionPatterns {
		matches := entry.pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		hits += len(matches)
		text = entry.pattern.ReplaceAllString(text, entry.replacement)
	}
	return text, hits
}
