package privacy

import (
	"encoding/json"
	"regexp"

	"go.uber.org/zap"
)

// PII patterns, chosen to avoid false positives on valid hex tokens.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), // email
	regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),                          // phone (US format)
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                                  // SSN
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),                            // IPv4
	regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`),            // MAC address
}

// Fields expected to contain hex tokens, excluded from PII checks.
var allowedHexFields = map[string]struct{}{
	"anonymized_token": {},
	"session_id":       {},
}

const redacted = "[REDACTED]"

// Auditor screens event payloads for personally identifying patterns
// and produces redacted copies safe to store in the audit log.
type Auditor struct {
	logger *zap.Logger
}

func NewAuditor(logger *zap.Logger) *Auditor {
	return &Auditor{logger: logger}
}

// Detect reports whether any string value in the payload matches a PII
// pattern. Allow-listed hex token fields are skipped at every level.
func (a *Auditor) Detect(payload map[string]any) bool {
	return containsPII(payload)
}

func containsPII(value any) bool {
	switch v := value.(type) {
	case string:
		return matchesAny(v)
	case map[string]any:
		for key, nested := range v {
			if _, ok := allowedHexFields[key]; ok {
				continue
			}
			if containsPII(nested) {
				return true
			}
		}
	case []any:
		for _, nested := range v {
			if containsPII(nested) {
				return true
			}
		}
	}
	return false
}

func matchesAny(s string) bool {
	for _, pattern := range piiPatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// Sanitize serializes the payload and replaces every PII match with
// [REDACTED]. The result is always valid JSON.
func (a *Auditor) Sanitize(payload any) json.RawMessage {
	raw, err := json.Marshal(payload)
	if err != nil {
		a.logger.Warn("Failed to marshal payload for sanitizing", zap.Error(err))
		return json.RawMessage(`{"error":"marshal_failed"}`)
	}

	sanitized := string(raw)
	for _, pattern := range piiPatterns {
		sanitized = pattern.ReplaceAllString(sanitized, redacted)
	}

	if !json.Valid([]byte(sanitized)) {
		// Redaction inside a quoted string cannot break JSON, but a
		// match spanning structure characters could.
		return json.RawMessage(`{"error":"parse_failed"}`)
	}

	return json.RawMessage(sanitized)
}
