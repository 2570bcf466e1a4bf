package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"monspark/storage"
)

const idempotencyPrefix = "idem/"

// IdempotentResponse is a cached HTTP response replayed for a repeated
// Idempotency-Key.
type IdempotentResponse struct {
	Key       string    `json:"key"`
	RequestID string    `json:"requestId"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoadIdempotent returns the cached response for key, or nil.
func (s *Store) LoadIdempotent(key string) (*IdempotentResponse, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	raw, err := s.db.Get([]byte(idempotencyPrefix + key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read idempotency key: %w", err)
	}
	var rec IdempotentResponse
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ledger: decode idempotency key: %w", err)
	}
	return &rec, nil
}

// SaveIdempotent stores the response for later replay.
func (s *Store) SaveIdempotent(rec IdempotentResponse) error {
	key := strings.TrimSpace(rec.Key)
	if key == "" {
		return fmt.Errorf("ledger: idempotency key required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: encode idempotency key: %w", err)
	}
	return s.db.Put([]byte(idempotencyPrefix+key), payload)
}
