package expense

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/gastos-dev/gastos/internal/currency"
	"github.com/gastos-dev/gastos/internal/metrics"
)

// matchToleranceCents is the maximum base-cent difference between an expense
// and a pool entry for them to count as a settlement candidate.
const matchToleranceCents = 1

// Reconciler pairs expenses with the pool entries that anticipated them. A
// pool is keyed by (trip, user): entries and expenses only ever match inside
// the same pool. One mutex serializes every mutating operation so a match
// and a concurrent unmatch or delete cannot interleave.
type Reconciler struct {
	mu          sync.Mutex
	db          DB
	converter   *currency.Converter
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewReconciler creates a Reconciler with default ID generator and time source
func NewReconciler(db DB, converter *currency.Converter) *Reconciler {
	return &Reconciler{
		db:          db,
		converter:   converter,
		idGenerator: &uuidGenerator{},
		timeSource:  &realTimeSource{},
	}
}

// NewReconcilerWithDeps creates a Reconciler with custom dependencies for testing
func NewReconcilerWithDeps(db DB, converter *currency.Converter, idGen IDGenerator, timeSrc TimeSource) *Reconciler {
	return &Reconciler{
		db:          db,
		converter:   converter,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// AddPoolEntry records an expected charge in the caller's pool. The amount
// arrives in an arbitrary configured currency and is stored in base cents.
func (r *Reconciler) AddPoolEntry(identity Identity, trip, user string, amount decimal.Decimal, currencyCode string) (*PoolEntry, error) {
	if trip == "" {
		return nil, fmt.Errorf("%w: trip is required", ErrInvalidInput)
	}
	if user == "" {
		user = identity.User
	}
	if !identity.CanAccess(user) {
		return nil, fmt.Errorf("%w: cannot add entries for user %s", ErrNotAuthorized, user)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	entry := &PoolEntry{
		ID:        r.idGenerator.Generate(),
		Trip:      trip,
		User:      user,
		Amount:    r.converter.ToBaseCents(amount, currencyCode),
		CreatedAt: r.timeSource.Now(),
	}
	if currencyCode != "" && currencyCode != r.converter.Base() {
		entry.OriginalAmount = currency.Cents(amount)
		entry.OriginalCurrency = currencyCode
	}

	if err := r.db.SavePoolEntry(entry); err != nil {
		return nil, fmt.Errorf("saving pool entry: %w", err)
	}
	return entry, nil
}

// ListPool returns the entries of one pool, cheapest first and newest among
// equals.
func (r *Reconciler) ListPool(identity Identity, trip, user string) ([]*PoolEntry, error) {
	if user == "" {
		user = identity.User
	}
	if !identity.CanAccess(user) {
		return nil, fmt.Errorf("%w: cannot list pool for user %s", ErrNotAuthorized, user)
	}

	all, err := r.db.ListPoolEntries()
	if err != nil {
		return nil, fmt.Errorf("listing pool entries: %w", err)
	}

	entries := make([]*PoolEntry, 0)
	for _, entry := range all {
		if entry.Trip == trip && entry.User == user {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Amount != entries[j].Amount {
			return entries[i].Amount < entries[j].Amount
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Pools returns every pool key the caller may see that has at least one
// entry, fully squared pools included.
func (r *Reconciler) Pools(identity Identity) ([]PoolSummary, error) {
	return r.summaries(identity, false)
}

// PoolSummaries returns the pools that still have pending entries.
func (r *Reconciler) PoolSummaries(identity Identity) ([]PoolSummary, error) {
	return r.summaries(identity, true)
}

func (r *Reconciler) summaries(identity Identity, pendingOnly bool) ([]PoolSummary, error) {
	all, err := r.db.ListPoolEntries()
	if err != nil {
		return nil, fmt.Errorf("listing pool entries: %w", err)
	}

	type poolKey struct{ trip, user string }
	byPool := make(map[poolKey]*PoolSummary)
	order := make([]poolKey, 0)
	for _, entry := range all {
		if !identity.CanAccess(entry.User) {
			continue
		}
		key := poolKey{entry.Trip, entry.User}
		summary, ok := byPool[key]
		if !ok {
			summary = &PoolSummary{Trip: entry.Trip, User: entry.User}
			byPool[key] = summary
			order = append(order, key)
		}
		summary.Entries++
		summary.TotalAmount += entry.Amount
		if !entry.Matched {
			summary.Pending++
			summary.PendingAmount += entry.Amount
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].trip != order[j].trip {
			return order[i].trip < order[j].trip
		}
		return order[i].user < order[j].user
	})

	summaries := make([]PoolSummary, 0, len(order))
	for _, key := range order {
		summary := byPool[key]
		if pendingOnly && summary.Pending == 0 {
			continue
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

// FindCandidates returns the unmatched entries in the expense's pool whose
// amount is within the match tolerance, newest first. It never matches
// anything itself; an expense without a trip tag has no pool and gets an
// empty list.
func (r *Reconciler) FindCandidates(identity Identity, expenseID string) ([]*PoolEntry, error) {
	record, err := r.db.GetExpense(expenseID)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	if !identity.CanAccess(record.User) {
		return nil, fmt.Errorf("%w: expense belongs to %s", ErrNotAuthorized, record.User)
	}

	candidates := make([]*PoolEntry, 0)
	if record.Trip == "" {
		return candidates, nil
	}

	all, err := r.db.ListPoolEntries()
	if err != nil {
		return nil, fmt.Errorf("listing pool entries: %w", err)
	}
	for _, entry := range all {
		if entry.Matched || entry.Trip != record.Trip || entry.User != record.User {
			continue
		}
		diff := entry.Amount - record.Amount
		if diff < 0 {
			diff = -diff
		}
		if diff <= matchToleranceCents {
			candidates = append(candidates, entry)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates, nil
}

// Match pairs an expense with a pool entry. The entry must be unmatched and
// both rows must live in the same pool; the entry's back-reference and the
// expense's Reconciled flag change together.
func (r *Reconciler) Match(identity Identity, expenseID, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.db.GetExpense(expenseID)
	if err != nil {
		return fmt.Errorf("getting expense: %w", err)
	}
	entry, err := r.db.GetPoolEntry(entryID)
	if err != nil {
		return fmt.Errorf("getting pool entry: %w", err)
	}
	if !identity.CanAccess(record.User) || !identity.CanAccess(entry.User) {
		return fmt.Errorf("%w: cannot match rows owned by another user", ErrNotAuthorized)
	}
	if entry.Matched {
		return fmt.Errorf("pool entry %s: %w", entryID, ErrAlreadyMatched)
	}
	if entry.Trip != record.Trip || entry.User != record.User {
		return fmt.Errorf("expense %s and entry %s: %w", expenseID, entryID, ErrPoolMismatch)
	}

	entry.Matched = true
	entry.ExpenseID = record.ID
	record.Reconciled = true
	record.UpdatedAt = r.timeSource.Now()
	// Both rows commit in one transaction; a failed write pairs nothing.
	if err := r.db.SaveReconciliation(record, entry); err != nil {
		return fmt.Errorf("saving match: %w", err)
	}

	metrics.MatchesTotal.WithLabelValues("match").Inc()
	return nil
}

// Unmatch undoes a pairing from the expense side. It is idempotent: an
// expense with no matched entry is a no-op, not an error.
func (r *Reconciler) Unmatch(identity Identity, expenseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unmatchLocked(identity, expenseID)
}

func (r *Reconciler) unmatchLocked(identity Identity, expenseID string) error {
	record, err := r.db.GetExpense(expenseID)
	if err != nil {
		return fmt.Errorf("getting expense: %w", err)
	}
	if !identity.CanAccess(record.User) {
		return fmt.Errorf("%w: expense belongs to %s", ErrNotAuthorized, record.User)
	}

	all, err := r.db.ListPoolEntries()
	if err != nil {
		return fmt.Errorf("listing pool entries: %w", err)
	}
	released := make([]*PoolEntry, 0, 1)
	for _, entry := range all {
		if entry.ExpenseID != expenseID {
			continue
		}
		entry.Matched = false
		entry.ExpenseID = ""
		released = append(released, entry)
	}
	if len(released) == 0 && !record.Reconciled {
		return nil
	}

	record.Reconciled = false
	record.UpdatedAt = r.timeSource.Now()
	if err := r.db.SaveReconciliation(record, released...); err != nil {
		return fmt.Errorf("saving release: %w", err)
	}

	metrics.MatchesTotal.WithLabelValues("unmatch").Inc()
	return nil
}

// DeletePoolEntry removes an entry. Deleting a matched entry first clears
// the paired expense's Reconciled flag so no state ever dangles.
func (r *Reconciler) DeletePoolEntry(identity Identity, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.db.GetPoolEntry(entryID)
	if err != nil {
		return fmt.Errorf("getting pool entry: %w", err)
	}
	if !identity.CanAccess(entry.User) {
		return fmt.Errorf("%w: entry belongs to %s", ErrNotAuthorized, entry.User)
	}

	if entry.Matched && entry.ExpenseID != "" {
		record, err := r.db.GetExpense(entry.ExpenseID)
		if err == nil && record.Reconciled {
			record.Reconciled = false
			record.UpdatedAt = r.timeSource.Now()
			if err := r.db.SaveExpense(record); err != nil {
				return fmt.Errorf("clearing expense reconciliation: %w", err)
			}
		}
	}

	if err := r.db.DeletePoolEntry(entryID); err != nil {
		return fmt.Errorf("deleting pool entry: %w", err)
	}
	return nil
}

// ReleaseAndDelete removes an expense row after releasing any pairing, all
// under the reconciler's lock so a concurrent Match cannot slip in between
// the release and the row delete and leave an entry dangling.
func (r *Reconciler) ReleaseAndDelete(identity Identity, expenseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.unmatchLocked(identity, expenseID); err != nil {
		return err
	}
	if err := r.db.DeleteExpense(expenseID); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return nil
}
