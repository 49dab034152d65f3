package extraction

import (
	"fmt"
	"strings"
)

// buildPrompt produces the shared instruction all structured extractors send
// with the receipt image. The category list comes from configuration so the
// model only answers with names the rest of the system understands.
func buildPrompt(categories []string, defaultCategory string) string {
	list := strings.Join(append(append([]string{}, categories...), defaultCategory), ", ")
	return fmt.Sprintf(`You are analyzing a photographed purchase receipt. Read all text carefully and extract exactly what appears on it.

Steps:
1. Find the TOTAL to pay (the final amount, not subtotals or tax lines).
2. Find the transaction DATE (formats like DD/MM/YYYY, DD-MM-YYYY or written dates).
3. Find the NAME of the establishment or business.
4. Classify the TYPE of establishment.

Return ONLY valid JSON in this exact format:
{
  "amount": 15.50,
  "currency": "EUR",
  "date": "2024-03-15",
  "description": "Restaurante El Rincón",
  "concept": "Restaurante"
}

Rules:
- "amount" must be a number, the final total only.
- "currency" is the 3-letter code (EUR, USD, GBP, JPY, ...). Use "EUR" when unclear.
- "date" must be YYYY-MM-DD (convert DD/MM/YYYY accordingly, e.g. 7/12/2023 becomes 2023-12-07).
- "description" is the establishment name exactly as printed.
- "concept" must be one of: %s.
- Use null for any field you cannot read clearly.
- Do not include any text before or after the JSON and do not use markdown code blocks.`, list)
}
