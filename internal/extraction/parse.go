package extraction

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// parseDraft turns a model response into a validated, vocabulary-constrained draft
func parseDraft(text string, vocab Vocabulary, logger *slog.Logger) (*Draft, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("%w: no JSON object found in response", ErrMalformedResponse)
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("%w: invalid JSON object in response", ErrMalformedResponse)
	}
	raw := []byte(text[startIdx : endIdx+1])

	if err := validateShape(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var draft Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %w", ErrMalformedResponse, err)
	}
	draft.Store = strings.TrimSpace(draft.Store)
	draft.Date = strings.TrimSpace(draft.Date)

	if err := draft.Validate(); err != nil {
		return nil, err
	}

	if cleared := draft.Constrain(vocab); len(cleared) > 0 {
		logger.Warn("Cleared values outside the vocabulary", "store", draft.Store, "cleared", cleared)
	}

	return &draft, nil
}
