package expense

import (
	"errors"
	"time"
)

// Sentinel errors shared by the service and the reconciler. Handlers map
// these onto HTTP status codes; everything else is a 500.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyMatched = errors.New("pool entry already matched")
	ErrPoolMismatch   = errors.New("expense and pool entry belong to different pools")
	ErrNotAuthorized  = errors.New("not authorized")
	ErrInvalidInput   = errors.New("invalid input")
)

// Record is a single expense row. Amounts are integer cents in the base
// currency; OriginalAmount/OriginalCurrency keep what the receipt actually
// said when it was not in the base currency.
type Record struct {
	ID               string    `json:"id"`
	Date             string    `json:"date"` // YYYY-MM-DD
	Category         string    `json:"category"`
	Trip             string    `json:"trip,omitempty"`
	Description      string    `json:"description"`
	Amount           int64     `json:"amount"` // base currency cents
	OriginalAmount   int64     `json:"original_amount,omitempty"`
	OriginalCurrency string    `json:"original_currency,omitempty"`
	User             string    `json:"user"`
	Reconciled       bool      `json:"reconciled"`
	Checked          bool      `json:"checked"`
	ImagePath        string    `json:"image_path,omitempty"`
	ContentType      string    `json:"content_type,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PoolEntry is one expected charge in a settlement pool. A pool is keyed by
// (Trip, User). Matched and ExpenseID move together: an entry is matched iff
// it back-references a reconciled expense.
type PoolEntry struct {
	ID               string    `json:"id"`
	Trip             string    `json:"trip"`
	User             string    `json:"user"`
	Amount           int64     `json:"amount"` // base currency cents
	OriginalAmount   int64     `json:"original_amount,omitempty"`
	OriginalCurrency string    `json:"original_currency,omitempty"`
	Matched          bool      `json:"matched"`
	ExpenseID        string    `json:"expense_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Trip is one registered trip tag. Expenses and pool entries carry the tag
// as a plain string; the registry drives the selectable list and can retire
// a tag without touching the rows that already use it.
type Trip struct {
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TripInfo is a Trip plus how many rows currently reference its tag.
type TripInfo struct {
	Trip
	Expenses    int `json:"expenses"`
	PoolEntries int `json:"pool_entries"`
}

// PoolSummary aggregates the pending state of one pool.
type PoolSummary struct {
	Trip          string `json:"trip"`
	User          string `json:"user"`
	Entries       int    `json:"entries"`
	Pending       int    `json:"pending"`
	TotalAmount   int64  `json:"total_amount"`
	PendingAmount int64  `json:"pending_amount"`
}

// Identity is the authenticated caller. The HTTP layer resolves it from
// credentials; the service and reconciler use it for authorization only.
type Identity struct {
	User  string
	Admin bool
}

// CanAccess reports whether the identity may see or modify rows owned by
// user. Admins see everything.
func (i Identity) CanAccess(user string) bool {
	return i.Admin || i.User == user
}
