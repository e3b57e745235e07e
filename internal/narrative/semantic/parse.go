package semantic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errMalformed = errors.New("semantic: malformed response")

// response is the JSON object the model must return. Pointer fields detect
// missing keys.
type response struct {
	EntitiesPresent *[]string `json:"entities_present"`
	Confidence      *float64  `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
}

// parseResponse decodes content after stripping markdown fences. Both
// entities_present and confidence are required.
func parseResponse(content string) (response, error) {
	cleaned := stripMarkdown(content)
	if cleaned == "" {
		return response{}, fmt.Errorf("%w: empty content", errMalformed)
	}

	var r response
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return response{}, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if r.EntitiesPresent == nil {
		return response{}, fmt.Errorf("%w: missing entities_present", errMalformed)
	}
	if r.Confidence == nil {
		return response{}, fmt.Errorf("%w: missing confidence", errMalformed)
	}
	return r, nil
}

// stripMarkdown removes a surrounding ``` or ```json fence. Some models add
// one even when told not to.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
