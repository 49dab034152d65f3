package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gastos-dev/gastos/internal/metrics"
)

// Arbiter orchestrates the extraction pipeline: image normalization, text
// recognition, the optional structured LLM tier, and the heuristic tier,
// merged per-field with LLM values taking precedence.
type Arbiter struct {
	recognizer TextRecognizer
	structured StructuredExtractor
	heuristic  *Heuristic
}

// NewArbiter creates an Arbiter. recognizer and structured may be nil, in
// which case the respective tier is skipped.
func NewArbiter(recognizer TextRecognizer, structured StructuredExtractor, heuristic *Heuristic) *Arbiter {
	return &Arbiter{
		recognizer: recognizer,
		structured: structured,
		heuristic:  heuristic,
	}
}

// Extract runs the full pipeline over a raw receipt image. A failure of the
// structured tier never surfaces to the caller; it degrades to the heuristic
// path and is only observable through the result quality, a warn log line
// and a fallback counter. Only an undecodable image is an error.
func (a *Arbiter) Extract(ctx context.Context, imageData []byte, contentType string) (*Result, error) {
	normalized, err := Normalize(imageData, contentType)
	if err != nil {
		return nil, fmt.Errorf("normalizing image: %w", err)
	}

	text := ""
	if a.recognizer != nil {
		text, err = a.recognizer.Recognize(ctx, normalized)
		if err != nil {
			metrics.OCRFailures.Inc()
			slog.Warn("text recognition failed, continuing without OCR text", "error", err)
			text = ""
		}
	}

	var structured *Result
	if a.structured != nil {
		structured, err = a.structured.Extract(ctx, normalized, text)
		if err != nil {
			cause := "call"
			if errors.Is(err, errMalformedResponse) {
				cause = "parse"
			}
			metrics.LLMFallbacks.WithLabelValues(cause).Inc()
			slog.Warn("structured extraction failed, falling back to heuristics", "cause", cause, "error", err)
			structured = nil
		}
	}

	result := merge(structured, a.heuristic.Extract(text))
	metrics.ExtractionsTotal.WithLabelValues(amountTier(result)).Inc()
	return result, nil
}

// merge fills every field the structured tier left absent from the
// heuristic result. Absence falls through per field, not per result.
func merge(structured, heuristic *Result) *Result {
	if structured == nil {
		return heuristic
	}

	merged := *structured
	merged.Sources = make(map[string]Tier, len(structured.Sources))
	for field, tier := range structured.Sources {
		merged.Sources[field] = tier
	}

	if merged.Amount == nil && heuristic.Amount != nil {
		merged.Amount = heuristic.Amount
		merged.setSource(FieldAmount, TierHeuristic)
	}
	if merged.Currency == "" && heuristic.Currency != "" {
		merged.Currency = heuristic.Currency
		merged.setSource(FieldCurrency, TierHeuristic)
	}
	if merged.Date == "" && heuristic.Date != "" {
		merged.Date = heuristic.Date
		merged.setSource(FieldDate, TierHeuristic)
	}
	if merged.Description == "" && heuristic.Description != "" {
		merged.Description = heuristic.Description
		merged.setSource(FieldDescription, TierHeuristic)
	}
	if merged.Category == "" && heuristic.Category != "" {
		merged.Category = heuristic.Category
		merged.setSource(FieldCategory, TierHeuristic)
	}
	return &merged
}

func amountTier(res *Result) string {
	if res.Amount == nil {
		return "none"
	}
	return string(res.Source(FieldAmount))
}
