package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// errMalformedResponse marks structured-extractor replies that carried no
// usable JSON object. The arbiter uses it to label fallback diagnostics.
var errMalformedResponse = errors.New("malformed structured response")

// sentinel placeholders models emit instead of omitting a field.
var sentinelValues = map[string]struct{}{
	"null":          {},
	"none":          {},
	"n/a":           {},
	"no disponible": {},
	"not available": {},
}

// minDateLen is the shortest string that can still be a full date.
const minDateLen = 8

// parseStructured extracts a Result from an LLM reply. The reply may wrap
// the JSON object in markdown code fences or prose; everything outside the
// outermost braces is discarded. Each field is validated independently:
// invalid values become absent fields, never zero values, so per-field
// fallback to the heuristic tier stays possible.
func parseStructured(text, defaultCategory string) (*Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", errMalformedResponse)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}

	res := &Result{}

	if amount, ok := validAmount(payload["amount"]); ok {
		res.Amount = &amount
		res.setSource(FieldAmount, TierLLM)
	}
	if currency, ok := validToken(payload["currency"]); ok {
		res.Currency = strings.ToUpper(currency)
		res.setSource(FieldCurrency, TierLLM)
	}
	if date, ok := validToken(payload["date"]); ok && len(date) >= minDateLen {
		res.Date = date
		res.setSource(FieldDate, TierLLM)
	}
	if desc, ok := validToken(payload["description"]); ok {
		res.Description = desc
		res.setSource(FieldDescription, TierLLM)
	}
	// The default category is the model's way of saying "no confident
	// guess"; treat it as absent so the heuristic gets a chance.
	if category, ok := validToken(payload["concept"]); ok && category != defaultCategory {
		res.Category = category
		res.setSource(FieldCategory, TierLLM)
	}

	return res, nil
}

// validAmount accepts a positive finite number, or a string that parses as
// one.
func validAmount(v any) (decimal.Decimal, bool) {
	var f float64
	switch value := v.(type) {
	case float64:
		f = value
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return decimal.Decimal{}, false
		}
		f = parsed
	default:
		return decimal.Decimal{}, false
	}

	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f).Round(2), true
}

// validToken accepts a non-empty string that is not a known sentinel
// placeholder.
func validToken(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if _, sentinel := sentinelValues[strings.ToLower(s)]; sentinel {
		return "", false
	}
	return s, true
}
