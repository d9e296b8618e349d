package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrJSONContract marks a completion that never produced a valid structured
// object within the retry budget. Callers substitute their documented
// default object and continue; they must not abort the request.
var ErrJSONContract = errors.New("json output contract violated")

// jsonBackoff is the retry spacing of the JSON-output contract. Retries past
// the schedule reuse the last entry.
var jsonBackoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// OverrideJSONBackoffForTest shrinks the retry spacing and returns a restore
// func. For testing only.
func OverrideJSONBackoffForTest(d time.Duration) func() {
	old := jsonBackoff
	jsonBackoff = []time.Duration{d}
	return func() { jsonBackoff = old }
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// CompleteJSON runs a completion under the JSON-output contract: the prompt
// carries the schema, the response is stripped of code fences, parsed
// strictly, and validated against the target's struct tags. A validation
// failure counts as a parse failure for retry purposes. target must be a
// pointer to a struct.
func CompleteJSON(ctx context.Context, client Client, req Request, maxRetries int, target any) error {
	req.JSONOnly = true

	var lastErr error
	for attempt := 0; ; attempt++ {
		raw, err := client.Complete(ctx, req)
		if err == nil {
			if err = decodeStrict(raw, target); err == nil {
				return nil
			}
		}
		lastErr = err

		if attempt >= maxRetries {
			break
		}
		if waitErr := waitBackoff(ctx, attempt); waitErr != nil {
			return fmt.Errorf("%w: %w", ErrJSONContract, waitErr)
		}
	}
	return fmt.Errorf("%w: %w", ErrJSONContract, lastErr)
}

// decodeStrict cleans, parses, and schema-validates one raw completion.
func decodeStrict(raw string, target any) error {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return errors.New("empty completion")
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// stripFences removes a leading and trailing markdown code fence, tolerating
// a language tag on the opening fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			// Drop the rest of the fence line ("json", "JSON", ...).
			if lang := strings.TrimSpace(s[:idx]); lang == "" || !strings.ContainsAny(lang, "{[") {
				s = s[idx+1:]
			}
		}
	}
	if strings.HasSuffix(strings.TrimSpace(s), "```") {
		s = strings.TrimSpace(s)
		s = s[:len(s)-3]
	}
	return strings.TrimSpace(s)
}

func waitBackoff(ctx context.Context, attempt int) error {
	idx := attempt
	if idx >= len(jsonBackoff) {
		idx = len(jsonBackoff) - 1
	}
	select {
	case <-time.After(jsonBackoff[idx]):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
