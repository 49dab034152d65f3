package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/gastos-dev/gastos/internal/config"
)

// Bounds for a plausible single-receipt amount, in document currency units.
const (
	minPlausibleAmount = 0.01
	maxPlausibleAmount = 9999.99
)

// minReadableTextLen is the threshold below which OCR output is considered
// unreadable and the extractor refuses to guess numbers.
const minReadableTextLen = 5

// Label-anchored patterns first, then currency-marked numbers, then any bare
// two-decimal figure. All candidate matches are collected; the maximum wins,
// since the grand total is normally the largest figure on a receipt.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)total[:\s]*€?\s*(\d+[.,]\d{2})`),
	regexp.MustCompile(`(?i)importe[:\s]*€?\s*(\d+[.,]\d{2})`),
	regexp.MustCompile(`(?i)suma[:\s]*€?\s*(\d+[.,]\d{2})`),
	regexp.MustCompile(`(?i)cobrado[:\s]*€?\s*(\d+[.,]\d{2})`),
	regexp.MustCompile(`€\s*(\d+[.,]\d{2})`),
	regexp.MustCompile(`(\d+[.,]\d{2})\s*€`),
	regexp.MustCompile(`(?i)(\d+[.,]\d{2})\s*euros?`),
	regexp.MustCompile(`(?i)(\d+[.,]\d{2})\s*eur`),
	regexp.MustCompile(`(\d{1,3}[.,]\d{2})`),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4})`),
	regexp.MustCompile(`(?i)(\d{1,2}\s+de\s+\p{L}+\s+de\s+\d{4})`),
	regexp.MustCompile(`(\d{4}[/.-]\d{1,2}[/.-]\d{1,2})`),
}

// Day-first layouts come before year-first ones, matching the receipts this
// was built for.
var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2/1/06",
	"2006/1/2",
	"2006-1-2",
	"2006.1.2",
}

var spanishMonths = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
}

var longDateRe = regexp.MustCompile(`(?i)^(\d{1,2})\s+de\s+(\p{L}+)\s+de\s+(\d{4})$`)

// numericLineRe matches lines that carry only digits and date punctuation,
// which never make a useful vendor description.
var numericLineRe = regexp.MustCompile(`^[\d\s/.,:€-]+$`)

// Heuristic is the deterministic regex/keyword extraction path. It is a pure
// function of the input text and the injected configuration.
type Heuristic struct {
	categories      []config.Category
	defaultCategory string
	now             func() time.Time
}

// NewHeuristic creates a Heuristic over the configured category keyword sets.
func NewHeuristic(categories []config.Category, defaultCategory string) *Heuristic {
	return NewHeuristicWithClock(categories, defaultCategory, time.Now)
}

// NewHeuristicWithClock creates a Heuristic with an injected clock for tests.
func NewHeuristicWithClock(categories []config.Category, defaultCategory string, now func() time.Time) *Heuristic {
	return &Heuristic{
		categories:      categories,
		defaultCategory: defaultCategory,
		now:             now,
	}
}

// Extract parses the OCR text into a best-effort Result. Unreadable text
// short-circuits to today's date and the default category: when nothing can
// be read, no amount is ever invented.
func (h *Heuristic) Extract(text string) *Result {
	res := &Result{}

	if utf8.RuneCountInString(strings.TrimSpace(text)) < minReadableTextLen {
		res.Date = h.now().Format("2006-01-02")
		res.Category = h.defaultCategory
		res.setSource(FieldDate, TierHeuristic)
		res.setSource(FieldCategory, TierHeuristic)
		return res
	}

	if amount, ok := h.extractAmount(text); ok {
		res.Amount = &amount
		res.setSource(FieldAmount, TierHeuristic)
	}
	if date, ok := h.extractDate(text); ok {
		res.Date = date
		res.setSource(FieldDate, TierHeuristic)
	}
	if desc, ok := h.extractDescription(text); ok {
		res.Description = desc
		res.setSource(FieldDescription, TierHeuristic)
	}
	if category, ok := h.extractCategory(text); ok {
		res.Category = category
		res.setSource(FieldCategory, TierHeuristic)
	}
	return res
}

func (h *Heuristic) extractAmount(text string) (decimal.Decimal, bool) {
	var found []float64
	for _, pattern := range amountPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			raw := strings.ReplaceAll(match[1], ",", ".")
			amount, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			if amount >= minPlausibleAmount && amount <= maxPlausibleAmount {
				found = append(found, amount)
			}
		}
	}
	if len(found) == 0 {
		return decimal.Decimal{}, false
	}

	max := found[0]
	for _, amount := range found[1:] {
		if amount > max {
			max = amount
		}
	}
	return decimal.NewFromFloat(max).Round(2), true
}

func (h *Heuristic) extractDate(text string) (string, bool) {
	for _, pattern := range datePatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		if date, ok := parseDate(match[1]); ok {
			return date, true
		}
	}
	return "", false
}

// parseDate tries the fixed layout list in order and normalizes to
// YYYY-MM-DD.
func parseDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)

	if m := longDateRe.FindStringSubmatch(raw); m != nil {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		month, ok := spanishMonths[strings.ToLower(m[2])]
		if !ok || day < 1 || day > 31 {
			return "", false
		}
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), true
	}

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.Format("2006-01-02"), true
		}
	}
	return "", false
}

// extractDescription takes the first line of reasonable length that is not
// purely numeric, a single best-effort signal for the vendor name.
func (h *Heuristic) extractDescription(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		// Rune counts, not bytes: accented OCR text must not shift the
		// bounds.
		n := utf8.RuneCountInString(line)
		if n <= 3 || n >= 50 {
			continue
		}
		if numericLineRe.MatchString(line) {
			continue
		}
		return line, true
	}
	return "", false
}

// extractCategory scores each configured category by keyword occurrence and
// picks the highest non-zero score. Ties resolve to the earlier category.
func (h *Heuristic) extractCategory(text string) (string, bool) {
	lower := strings.ToLower(text)

	best := ""
	bestScore := 0
	for _, category := range h.categories {
		score := 0
		for _, keyword := range category.Keywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				score++
			}
		}
		if score > bestScore {
			best = category.Name
			bestScore = score
		}
	}
	return best, bestScore > 0
}
