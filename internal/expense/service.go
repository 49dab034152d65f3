package expense

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gastos-dev/gastos/internal/currency"
	"github.com/gastos-dev/gastos/internal/extraction"
)

// IDGenerator generates unique IDs for expenses and pool entries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUID identifiers
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// realTimeSource provides the current time
type realTimeSource struct{}

func (t *realTimeSource) Now() time.Time {
	return time.Now()
}

// Extractor reads a receipt image into a structured extraction result.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte, contentType string) (*extraction.Result, error)
}

// Input carries the fields of an expense create or update request. Manual
// values always win over whatever extraction suggested.
type Input struct {
	Date             string           `json:"date"`
	Category         string           `json:"category"`
	Trip             string           `json:"trip"`
	Description      string           `json:"description"`
	Amount           *decimal.Decimal `json:"amount"`
	OriginalAmount   *decimal.Decimal `json:"original_amount"`
	OriginalCurrency string           `json:"original_currency"`
	User             string           `json:"user"`
	ImagePath        string           `json:"image_path"`
	ContentType      string           `json:"content_type"`
}

// Service handles expense operations
type Service struct {
	db              DB
	storage         Storage
	extractor       Extractor
	converter       *currency.Converter
	reconciler      *Reconciler
	defaultCategory string
	idGenerator     IDGenerator
	timeSource      TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, extractor Extractor, converter *currency.Converter, reconciler *Reconciler, defaultCategory string) *Service {
	return &Service{
		db:              db,
		storage:         storage,
		extractor:       extractor,
		converter:       converter,
		reconciler:      reconciler,
		defaultCategory: defaultCategory,
		idGenerator:     &uuidGenerator{},
		timeSource:      &realTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, extractor Extractor, converter *currency.Converter, reconciler *Reconciler, defaultCategory string, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:              db,
		storage:         storage,
		extractor:       extractor,
		converter:       converter,
		reconciler:      reconciler,
		defaultCategory: defaultCategory,
		idGenerator:     idGen,
		timeSource:      timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ScanReceipt stores the uploaded image, runs the extraction pipeline and
// returns an unsaved draft expense with extraction defaults applied. The
// caller reviews the draft and submits it through CreateExpense.
func (s *Service) ScanReceipt(ctx context.Context, identity Identity, filename string, data []byte, contentType string) (*Record, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	cleanFilename := sanitizeFilename(filename)
	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	result, err := s.extractor.Extract(ctx, data, contentType)
	if err != nil {
		// Only an undecodable image reaches here; the LLM and OCR tiers
		// degrade inside the pipeline.
		slog.Error("Failed to extract receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	draft := &Record{
		Date:        result.Date,
		Category:    result.Category,
		Description: result.Description,
		User:        identity.User,
		ImagePath:   savedPath,
		ContentType: contentType,
	}
	if draft.Date == "" {
		draft.Date = now.Format("2006-01-02")
	}
	if draft.Category == "" {
		draft.Category = s.defaultCategory
	}
	if result.Amount != nil {
		if result.Currency != "" && result.Currency != s.converter.Base() {
			draft.OriginalAmount = currency.Cents(*result.Amount)
			draft.OriginalCurrency = result.Currency
			draft.Amount = s.converter.ToBaseCents(*result.Amount, result.Currency)
		} else {
			draft.Amount = currency.Cents(*result.Amount)
		}
	}

	return draft, nil
}

// CreateExpense persists a new expense from reviewed input.
func (s *Service) CreateExpense(identity Identity, input Input) (*Record, error) {
	user := input.User
	if user == "" {
		user = identity.User
	}
	if !identity.CanAccess(user) {
		return nil, fmt.Errorf("%w: cannot create expenses for user %s", ErrNotAuthorized, user)
	}

	now := s.timeSource.Now()
	record := &Record{
		ID:          s.idGenerator.Generate(),
		Date:        validDateOr(input.Date, now),
		Category:    input.Category,
		Trip:        input.Trip,
		Description: input.Description,
		User:        user,
		ImagePath:   input.ImagePath,
		ContentType: input.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if record.Category == "" {
		record.Category = s.defaultCategory
	}

	if err := s.applyAmounts(record, input); err != nil {
		return nil, err
	}

	if err := s.db.SaveExpense(record); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	return record, nil
}

// applyAmounts fills the base and original amount fields from input. A
// missing base amount is derived from the original-currency amount.
func (s *Service) applyAmounts(record *Record, input Input) error {
	if input.OriginalAmount != nil && input.OriginalCurrency != "" && input.OriginalCurrency != s.converter.Base() {
		if input.OriginalAmount.IsNegative() {
			return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
		}
		record.OriginalAmount = currency.Cents(*input.OriginalAmount)
		record.OriginalCurrency = strings.ToUpper(input.OriginalCurrency)
		if input.Amount == nil {
			record.Amount = s.converter.ToBaseCents(*input.OriginalAmount, input.OriginalCurrency)
			return nil
		}
	}
	if input.Amount != nil {
		if input.Amount.IsNegative() {
			return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
		}
		record.Amount = currency.Cents(*input.Amount)
	}
	return nil
}

func validDateOr(date string, fallback time.Time) string {
	if _, err := time.Parse("2006-01-02", date); err == nil {
		return date
	}
	return fallback.Format("2006-01-02")
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(identity Identity, id string) (*Record, error) {
	record, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	if !identity.CanAccess(record.User) {
		return nil, fmt.Errorf("%w: expense belongs to %s", ErrNotAuthorized, record.User)
	}
	return record, nil
}

// ListExpenses returns the expenses visible to the caller, newest date
// first. filterUser narrows the list to one owner; non-admins are always
// narrowed to themselves.
func (s *Service) ListExpenses(identity Identity, filterUser string) ([]*Record, error) {
	if !identity.Admin {
		filterUser = identity.User
	}

	all, err := s.db.ListExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}

	records := make([]*Record, 0, len(all))
	for _, record := range all {
		if filterUser != "" && record.User != filterUser {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// UpdateExpense applies reviewed input to an existing expense.
func (s *Service) UpdateExpense(identity Identity, id string, input Input) (*Record, error) {
	record, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	if !identity.CanAccess(record.User) {
		return nil, fmt.Errorf("%w: expense belongs to %s", ErrNotAuthorized, record.User)
	}
	if input.User != "" && input.User != record.User {
		if !identity.Admin {
			return nil, fmt.Errorf("%w: cannot reassign expenses", ErrNotAuthorized)
		}
		record.User = input.User
	}

	if input.Date != "" {
		record.Date = validDateOr(input.Date, s.timeSource.Now())
	}
	if input.Category != "" {
		record.Category = input.Category
	}
	if input.Trip != "" {
		record.Trip = input.Trip
	}
	if input.Description != "" {
		record.Description = input.Description
	}
	if err := s.applyAmounts(record, input); err != nil {
		return nil, err
	}

	record.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveExpense(record); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	return record, nil
}

// SetChecked flips the operator review flag on an expense.
func (s *Service) SetChecked(identity Identity, id string, checked bool) (*Record, error) {
	record, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	if !identity.CanAccess(record.User) {
		return nil, fmt.Errorf("%w: expense belongs to %s", ErrNotAuthorized, record.User)
	}

	record.Checked = checked
	record.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveExpense(record); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	return record, nil
}

// DeleteExpense removes an expense, its receipt image and any settlement
// pairing. A reconciled expense is unmatched first so the paired pool entry
// is released, never left dangling.
func (s *Service) DeleteExpense(identity Identity, id string) error {
	record, err := s.db.GetExpense(id)
	if err != nil {
		return fmt.Errorf("getting expense for deletion: %w", err)
	}
	if !identity.CanAccess(record.User) {
		return fmt.Errorf("%w: expense belongs to %s", ErrNotAuthorized, record.User)
	}

	if record.ImagePath != "" {
		if err := s.storage.Delete(record.ImagePath); err != nil {
			slog.Warn("Failed to delete receipt image", "path", record.ImagePath, "error", err)
		}
	}

	// The release and the row delete run under the reconciler's lock. The
	// Reconciled flag read above is stale by then, so the release always
	// runs; it is a no-op for an unmatched expense.
	if err := s.reconciler.ReleaseAndDelete(identity, id); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return nil
}

// GetReceiptImage retrieves the stored receipt image for an expense
func (s *Service) GetReceiptImage(identity Identity, id string) ([]byte, string, error) {
	record, err := s.db.GetExpense(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting expense: %w", err)
	}
	if !identity.CanAccess(record.User) {
		return nil, "", fmt.Errorf("%w: expense belongs to %s", ErrNotAuthorized, record.User)
	}
	if record.ImagePath == "" {
		return nil, "", fmt.Errorf("expense %s has no receipt image: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(record.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, record.ContentType, nil
}

// ExportCSV renders the caller's visible expenses as CSV, amounts in base
// currency units with two decimals.
func (s *Service) ExportCSV(identity Identity, filterUser string) ([]byte, error) {
	records, err := s.ListExpenses(identity, filterUser)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := []string{"date", "category", "trip", "description", "amount", "original_amount", "original_currency", "user", "reconciled", "checked"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}

	for _, record := range records {
		row := []string{
			record.Date,
			record.Category,
			record.Trip,
			record.Description,
			currency.FromCents(record.Amount).StringFixed(2),
			"",
			record.OriginalCurrency,
			record.User,
			strconv.FormatBool(record.Reconciled),
			strconv.FormatBool(record.Checked),
		}
		if record.OriginalCurrency != "" {
			row[5] = currency.FromCents(record.OriginalAmount).StringFixed(2)
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}
