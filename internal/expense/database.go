package expense

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	expenseBucketName   = "expenses"
	poolEntryBucketName = "pool_entries"
	tripBucketName      = "trips"
)

// DB defines the interface for database operations
type DB interface {
	// SaveExpense saves an expense to the database
	SaveExpense(record *Record) error

	// GetExpense retrieves an expense by ID
	GetExpense(id string) (*Record, error)

	// ListExpenses returns all expenses
	ListExpenses() ([]*Record, error)

	// DeleteExpense removes an expense from the database
	DeleteExpense(id string) error

	// SavePoolEntry saves a pool entry to the database
	SavePoolEntry(entry *PoolEntry) error

	// GetPoolEntry retrieves a pool entry by ID
	GetPoolEntry(id string) (*PoolEntry, error)

	// ListPoolEntries returns all pool entries
	ListPoolEntries() ([]*PoolEntry, error)

	// DeletePoolEntry removes a pool entry from the database
	DeletePoolEntry(id string) error

	// SaveReconciliation persists an expense and the pool entries whose
	// pairing state changed with it in a single transaction
	SaveReconciliation(record *Record, entries ...*PoolEntry) error

	// SaveTrip saves a trip to the registry
	SaveTrip(trip *Trip) error

	// GetTrip retrieves a trip by name
	GetTrip(name string) (*Trip, error)

	// ListTrips returns all registered trips
	ListTrips() ([]*Trip, error)

	// DeleteTrip removes a trip from the registry
	DeleteTrip(name string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(expenseBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(poolEntryBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(tripBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveExpense saves an expense to the database
func (b *BoltDB) SaveExpense(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("expense %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListExpenses returns all expenses
func (b *BoltDB) ListExpenses() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteExpense removes an expense from the database
func (b *BoltDB) DeleteExpense(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		return bucket.Delete([]byte(id))
	})
}

// SavePoolEntry saves a pool entry to the database
func (b *BoltDB) SavePoolEntry(entry *PoolEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(poolEntryBucketName))
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling pool entry: %w", err)
		}
		return bucket.Put([]byte(entry.ID), data)
	})
}

// GetPoolEntry retrieves a pool entry by ID
func (b *BoltDB) GetPoolEntry(id string) (*PoolEntry, error) {
	var entry *PoolEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(poolEntryBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("pool entry %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListPoolEntries returns all pool entries
func (b *BoltDB) ListPoolEntries() ([]*PoolEntry, error) {
	entries := make([]*PoolEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(poolEntryBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var entry PoolEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling pool entry: %w", err)
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeletePoolEntry removes a pool entry from the database
func (b *BoltDB) DeletePoolEntry(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(poolEntryBucketName))
		return bucket.Delete([]byte(id))
	})
}

// SaveReconciliation writes the expense and its pairing-affected pool
// entries in one bolt transaction, so a reader or a crash never observes a
// matched entry without the reconciled expense or the other way round.
func (b *BoltDB) SaveReconciliation(record *Record, entries ...*PoolEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		expenses := tx.Bucket([]byte(expenseBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		if err := expenses.Put([]byte(record.ID), data); err != nil {
			return err
		}

		pool := tx.Bucket([]byte(poolEntryBucketName))
		for _, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshaling pool entry: %w", err)
			}
			if err := pool.Put([]byte(entry.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveTrip saves a trip to the registry
func (b *BoltDB) SaveTrip(trip *Trip) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		data, err := json.Marshal(trip)
		if err != nil {
			return fmt.Errorf("marshaling trip: %w", err)
		}
		return bucket.Put([]byte(trip.Name), data)
	})
}

// GetTrip retrieves a trip by name
func (b *BoltDB) GetTrip(name string) (*Trip, error) {
	var trip *Trip
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		data := bucket.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("trip %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &trip)
	})
	if err != nil {
		return nil, err
	}
	return trip, nil
}

// ListTrips returns all registered trips
func (b *BoltDB) ListTrips() ([]*Trip, error) {
	trips := make([]*Trip, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var trip Trip
			if err := json.Unmarshal(v, &trip); err != nil {
				return fmt.Errorf("unmarshaling trip: %w", err)
			}
			trips = append(trips, &trip)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return trips, nil
}

// DeleteTrip removes a trip from the registry
func (b *BoltDB) DeleteTrip(name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		return bucket.Delete([]byte(name))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
