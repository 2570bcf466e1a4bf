package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"monspark/storage"
)

// FeedLimit is the number of activities retained in the global feed.
const FeedLimit = 100

const (
	userPrefix   = "user/"
	bridgePrefix = "bridge/"
	feedKey      = "feed/activities"
)

var (
	// ErrAddressRequired is returned when an operation is invoked without an address.
	ErrAddressRequired = errors.New("ledger: address required")
	// ErrNotFound is returned when a lookup exhausts every source.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrDuplicateID is returned when a transaction or allocation id is reused for a user.
	ErrDuplicateID = errors.New("ledger: duplicate id")
	// ErrInvalidTransition is returned when a status would move backwards.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
)

// Store persists user records and the activity feed on top of a key/value
// database. Mutations of one address are serialised and committed with a
// single atomic batch.
type Store struct {
	db        storage.Database
	locks     *KeyLock
	feedMu    sync.Mutex
	feedLimit int
	now       func() time.Time
}

// Option customises the store.
type Option func(*Store)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.now = clock }
}

// WithFeedLimit overrides the activity retention window.
func WithFeedLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.feedLimit = limit
		}
	}
}

// New constructs a ledger store over db.
func New(db storage.Database, opts ...Option) *Store {
	s := &Store{
		db:        db,
		locks:     NewKeyLock(),
		feedLimit: FeedLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GenerateID returns a unique, time-ordered identifier (UUIDv7).
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetUser returns the record for address, or nil when the address is unknown.
func (s *Store) GetUser(address string) (*UserRecord, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	return s.load(addr)
}

// View returns the record for address or an empty default view. The default
// view is not persisted.
func (s *Store) View(address string) (*UserRecord, error) {
	rec, err := s.GetUser(address)
	if err != nil || rec != nil {
		return rec, err
	}
	return newRecord(NormalizeAddress(address), s.now().UTC()), nil
}

// CreateUser returns the existing record or creates a fresh one.
func (s *Store) CreateUser(address string) (*UserRecord, error) {
	return s.mutate(address, true, func(*UserRecord, *storage.Batch) (bool, error) {
		return false, nil
	})
}

// UpdateUser applies fn to the record, creating it first when absent. The
// last-active timestamp is always refreshed.
func (s *Store) UpdateUser(address string, fn func(*UserRecord)) (*UserRecord, error) {
	return s.mutate(address, true, func(rec *UserRecord, _ *storage.Batch) (bool, error) {
		if fn != nil {
			fn(rec)
			rec.ensureCollections()
		}
		return true, nil
	})
}

// MarkQuestCompleted sets the local completion flag. Repeated calls are no-ops.
func (s *Store) MarkQuestCompleted(address string, questID uint64) error {
	_, err := s.mutate(address, true, func(rec *UserRecord, _ *storage.Batch) (bool, error) {
		if rec.QuestProgress[questID] {
			return false, nil
		}
		rec.QuestProgress[questID] = true
		return true, nil
	})
	return err
}

// HasCompletedQuest reports the local completion flag.
func (s *Store) HasCompletedQuest(address string, questID uint64) (bool, error) {
	rec, err := s.GetUser(address)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.QuestProgress[questID], nil
}

// AddTransaction appends a transaction. Bridge transactions are indexed by id.
func (s *Store) AddTransaction(address string, tx Transaction) error {
	if strings.TrimSpace(tx.ID) == "" {
		return fmt.Errorf("ledger: transaction id required")
	}
	if tx.Status == "" {
		tx.Status = TxPending
	}
	_, err := s.mutate(address, true, func(rec *UserRecord, batch *storage.Batch) (bool, error) {
		for _, existing := range rec.Transactions {
			if existing.ID == tx.ID {
				return false, fmt.Errorf("%w: transaction %s", ErrDuplicateID, tx.ID)
			}
		}
		rec.Transactions = append(rec.Transactions, tx)
		if tx.Type == TxBridge {
			batch.Put([]byte(bridgePrefix+tx.ID), []byte(rec.Address))
		}
		return true, nil
	})
	return err
}

// UpdateTransaction mutates a transaction in place. Unknown users or ids are
// silently ignored.
func (s *Store) UpdateTransaction(address, id string, update TransactionUpdate) error {
	_, err := s.mutate(address, false, func(rec *UserRecord, _ *storage.Batch) (bool, error) {
		for i := range rec.Transactions {
			tx := &rec.Transactions[i]
			if tx.ID != id {
				continue
			}
			if update.Status != nil && *update.Status != tx.Status {
				if tx.Status.Terminal() || *update.Status == TxPending {
					return false, fmt.Errorf("%w: transaction %s %s -> %s", ErrInvalidTransition, id, tx.Status, *update.Status)
				}
				tx.Status = *update.Status
			}
			if update.TxHash != nil {
				tx.TxHash = *update.TxHash
			}
			return true, nil
		}
		return false, nil
	})
	return err
}

// Transactions returns the transactions of address in insertion order.
func (s *Store) Transactions(address string) ([]Transaction, error) {
	rec, err := s.View(address)
	if err != nil {
		return nil, err
	}
	return rec.Transactions, nil
}

// FindTransaction locates a transaction by id across all users. The bridge
// index is consulted first; records written before the index existed are
// found with a full scan.
func (s *Store) FindTransaction(id string) (*Transaction, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, "", ErrNotFound
	}
	if owner, err := s.db.Get([]byte(bridgePrefix + id)); err == nil {
		rec, err := s.load(string(owner))
		if err != nil {
			return nil, "", err
		}
		if tx := findTx(rec, id); tx != nil {
			return tx, rec.Address, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("ledger: read bridge index: %w", err)
	}

	var (
		found *Transaction
		owner string
	)
	errStop := errors.New("stop")
	err := s.db.Iterate([]byte(userPrefix), func(_, value []byte) error {
		var rec UserRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("ledger: decode user: %w", err)
		}
		if tx := findTx(&rec, id); tx != nil {
			found, owner = tx, rec.Address
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, "", err
	}
	if found == nil {
		return nil, "", ErrNotFound
	}
	return found, owner, nil
}

// AddAllocation appends a gas allocation record.
func (s *Store) AddAllocation(address string, allocation GasAllocation) error {
	if strings.TrimSpace(allocation.AllocationID) == "" {
		return fmt.Errorf("ledger: allocation id required")
	}
	if allocation.Status == "" {
		allocation.Status = AllocationActive
	}
	_, err := s.mutate(address, true, func(rec *UserRecord, _ *storage.Batch) (bool, error) {
		for _, existing := range rec.Allocations {
			if existing.AllocationID == allocation.AllocationID {
				return false, fmt.Errorf("%w: allocation %s", ErrDuplicateID, allocation.AllocationID)
			}
		}
		rec.Allocations = append(rec.Allocations, allocation)
		return true, nil
	})
	return err
}

// UpdateAllocation mutates an allocation in place. Unknown users or ids are
// silently ignored. The only legal status transition is active -> reverted.
func (s *Store) UpdateAllocation(address, allocationID string, update AllocationUpdate) error {
	_, err := s.mutate(address, false, func(rec *UserRecord, _ *storage.Batch) (bool, error) {
		for i := range rec.Allocations {
			alloc := &rec.Allocations[i]
			if alloc.AllocationID != allocationID {
				continue
			}
			changed := false
			if update.Status != nil && *update.Status != alloc.Status {
				if alloc.Status == AllocationReverted {
					return false, fmt.Errorf("%w: allocation %s %s -> %s", ErrInvalidTransition, allocationID, alloc.Status, *update.Status)
				}
				alloc.Status = *update.Status
				changed = true
			}
			if update.TxHash != nil && *update.TxHash != alloc.TxHash {
				alloc.TxHash = *update.TxHash
				changed = true
			}
			return changed, nil
		}
		return false, nil
	})
	return err
}

// Allocation returns the allocation with the given id, or nil.
func (s *Store) Allocation(address, allocationID string) (*GasAllocation, error) {
	rec, err := s.GetUser(address)
	if err != nil || rec == nil {
		return nil, err
	}
	for i := range rec.Allocations {
		if rec.Allocations[i].AllocationID == allocationID {
			alloc := rec.Allocations[i]
			return &alloc, nil
		}
	}
	return nil, nil
}

// Allocations returns the allocations of address in insertion order.
func (s *Store) Allocations(address string) ([]GasAllocation, error) {
	rec, err := s.View(address)
	if err != nil {
		return nil, err
	}
	return rec.Allocations, nil
}

// mutate performs a locked read-modify-write of one user record. fn reports
// whether the record changed; unchanged existing records are not rewritten.
func (s *Store) mutate(address string, create bool, fn func(*UserRecord, *storage.Batch) (bool, error)) (*UserRecord, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	unlock := s.locks.Lock(addr)
	defer unlock()

	rec, err := s.load(addr)
	if err != nil {
		return nil, err
	}
	created := false
	if rec == nil {
		if !create {
			return nil, nil
		}
		rec = newRecord(addr, s.now().UTC())
		created = true
	}
	batch := storage.NewBatch()
	changed, err := fn(rec, batch)
	if err != nil {
		return nil, err
	}
	if !changed && !created {
		return rec, nil
	}
	rec.LastActive = s.now().UTC()
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode user: %w", err)
	}
	batch.Put(userKey(addr), payload)
	if err := s.db.Write(batch); err != nil {
		return nil, fmt.Errorf("ledger: write user %s: %w", addr, err)
	}
	return rec, nil
}

func (s *Store) load(addr string) (*UserRecord, error) {
	raw, err := s.db.Get(userKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read user %s: %w", addr, err)
	}
	var rec UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ledger: decode user %s: %w", addr, err)
	}
	rec.ensureCollections()
	return &rec, nil
}

func userKey(addr string) []byte {
	return []byte(userPrefix + addr)
}

func findTx(rec *UserRecord, id string) *Transaction {
	if rec == nil {
		return nil
	}
	for i := range rec.Transactions {
		if rec.Transactions[i].ID == id {
			tx := rec.Transactions[i]
			return &tx
		}
	}
	return nil
}
