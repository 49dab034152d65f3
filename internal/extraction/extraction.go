// Package extraction turns photographed purchase receipts into structured
// expense data. A receipt flows through image normalization, text
// recognition, and either a structured LLM extractor, a deterministic
// heuristic extractor, or both, merged under a fixed precedence policy.
package extraction

import (
	"context"

	"github.com/shopspring/decimal"
)

// Tier identifies which extraction tier produced a field value.
type Tier string

const (
	// TierLLM marks fields produced by a structured LLM extractor.
	TierLLM Tier = "llm"
	// TierHeuristic marks fields produced by the regex/keyword extractor.
	TierHeuristic Tier = "heuristic"
)

// Field names used in Result.Sources.
const (
	FieldAmount      = "amount"
	FieldCurrency    = "currency"
	FieldDate        = "date"
	FieldDescription = "description"
	FieldCategory    = "category"
)

// Result is a best-effort structured reading of a receipt. Every field is
// independently optional; an all-absent Result is valid but uninformative.
// Sources records, per present field, which tier produced it.
type Result struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Date        string           `json:"date,omitempty"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Sources     map[string]Tier  `json:"sources,omitempty"`
}

// setSource records the producing tier for a field.
func (r *Result) setSource(field string, tier Tier) {
	if r.Sources == nil {
		r.Sources = make(map[string]Tier)
	}
	r.Sources[field] = tier
}

// Source returns the tier that produced a field, or "" when absent.
func (r *Result) Source(field string) Tier {
	return r.Sources[field]
}

// StructuredExtractor asks an external model to read a receipt image
// directly into a Result. The OCR text, when available, is passed along as
// auxiliary context.
type StructuredExtractor interface {
	Extract(ctx context.Context, imagePNG []byte, ocrText string) (*Result, error)
	Close() error
}

// TextRecognizer produces raw unstructured text from a normalized image.
// The pipeline treats it as a black box.
type TextRecognizer interface {
	Recognize(ctx context.Context, imagePNG []byte) (string, error)
}
