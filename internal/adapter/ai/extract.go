package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// InvalidStructuredOutputError reports completion text that held no valid JSON object.
type InvalidStructuredOutputError struct {
	Raw       string
	Candidate string
	Message   string
}

func (e *InvalidStructuredOutputError) Error() string {
	return fmt.Sprintf("invalid structured output: %s", e.Message)
}

// Is lets callers match with errors.Is(err, domain.ErrSchemaInvalid).
func (e *InvalidStructuredOutputError) Is(target error) bool {
	return target == domain.ErrSchemaInvalid
}

// ExtractJSON recovers a JSON object embedded in raw completion text.
//
// The candidate is the substring from the first '{' to the last '}'. With no
// such pair the whole text is the candidate. The candidate must parse as a
// JSON object as-is; nothing is repaired.
func ExtractJSON(raw string) (map[string]any, error) {
	var out map[string]any
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeJSON is ExtractJSON into a caller-supplied value.
func DecodeJSON(raw string, v any) error {
	candidate := jsonCandidate(raw)
	trimmed := strings.TrimSpace(candidate)
	if !strings.HasPrefix(trimmed, "{") {
		return &InvalidStructuredOutputError{Raw: raw, Candidate: candidate, Message: "no JSON object found"}
	}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return &InvalidStructuredOutputError{Raw: raw, Candidate: candidate, Message: err.Error()}
	}
	return nil
}

func jsonCandidate(raw string) string {
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first >= 0 && last > first {
		return raw[first : last+1]
	}
	return raw
}
