// Package extract pulls structured payloads out of free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ErrNoJSON is returned when no candidate decodes into the target.
var ErrNoJSON = errors.New("no JSON object found")

// JSON decodes the first JSON object found in text into v. It tries the whole text,
// then a fenced code block, then the span between the first '{' and the last '}'.
func JSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoJSON
	}

	candidates := []string{text}
	if m := fencedBlock.FindStringSubmatch(text); len(m) == 2 {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := json.Unmarshal([]byte(candidate), v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: %v", ErrNoJSON, lastErr)
}
