package privacy

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDetect(t *testing.T) {
	auditor := NewAuditor(zap.NewNop())

	tests := []struct {
		name     string
		payload  map[string]any
		expected bool
	}{
		{
			"clean payload",
			map[string]any{"event_type": "scroll_depth", "page_path": "/pricing", "depth": 50.0},
			false,
		},
		{
			"email",
			map[string]any{"note": "contact jane.doe@example.com please"},
			true,
		},
		{
			"phone number",
			map[string]any{"note": "call 555-867-5309"},
			true,
		},
		{
			"ssn",
			map[string]any{"note": "078-05-1120"},
			true,
		},
		{
			"ipv4",
			map[string]any{"note": "client at 192.168.1.100"},
			true,
		},
		{
			"mac address",
			map[string]any{"note": "device 00:1B:44:11:3A:B7"},
			true,
		},
		{
			"nested map",
			map[string]any{"attributes": map[string]any{"contact": "a@b.co"}},
			true,
		},
		{
			"nested slice",
			map[string]any{"notes": []any{"fine", "mail a@b.co"}},
			true,
		},
		{
			"anonymized token is allow-listed",
			map[string]any{"anonymized_token": strings.Repeat("ab", 32)},
			false,
		},
		{
			"session id is allow-listed",
			map[string]any{"session_id": "123e4567-e89b-12d3-a456-426614174000"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auditor.Detect(tt.payload))
		})
	}
}

func TestSanitizeRedactsMatches(t *testing.T) {
	auditor := NewAuditor(zap.NewNop())

	sanitized := auditor.Sanitize(map[string]any{
		"event_type": "contact_intent",
		"note":       "reach jane.doe@example.com or 555-867-5309",
	})

	s := string(sanitized)
	assert.NotContains(t, s, "jane.doe@example.com")
	assert.NotContains(t, s, "555-867-5309")
	assert.Contains(t, s, "[REDACTED]")
	assert.Contains(t, s, "contact_intent")
}

func TestSanitizeAlwaysValidJSON(t *testing.T) {
	auditor := NewAuditor(zap.NewNop())

	sanitized := auditor.Sanitize(map[string]any{
		"a": "x@y.co",
		"b": []any{"192.168.0.1", map[string]any{"c": "5558675309"}},
	})

	assert.True(t, json.Valid(sanitized))
	assert.NotContains(t, string(sanitized), "192.168.0.1")
	assert.NotContains(t, string(sanitized), "5558675309")
}

func TestSanitizeUnmarshalableValue(t *testing.T) {
	auditor := NewAuditor(zap.NewNop())

	sanitized := auditor.Sanitize(map[string]any{"bad": make(chan int)})
	assert.JSONEq(t, `{"error":"marshal_failed"}`, string(sanitized))
}
