package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"monspark/storage"
)

// AddActivity inserts entry at the head of the global feed and drops entries
// beyond the retention window.
func (s *Store) AddActivity(entry Activity) error {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = GenerateID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	feed, err := s.loadFeed()
	if err != nil {
		return err
	}
	feed = append([]Activity{entry}, feed...)
	if len(feed) > s.feedLimit {
		feed = feed[:s.feedLimit]
	}
	payload, err := json.Marshal(feed)
	if err != nil {
		return fmt.Errorf("ledger: encode feed: %w", err)
	}
	if err := s.db.Put([]byte(feedKey), payload); err != nil {
		return fmt.Errorf("ledger: write feed: %w", err)
	}
	return nil
}

// Activities returns the global feed, newest first.
func (s *Store) Activities() ([]Activity, error) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return s.loadFeed()
}

// UserActivities returns at most limit feed entries belonging to address,
// preserving feed order. A non-positive limit returns every match.
func (s *Store) UserActivities(address string, limit int) ([]Activity, error) {
	feed, err := s.Activities()
	if err != nil {
		return nil, err
	}
	addr := NormalizeAddress(address)
	out := make([]Activity, 0)
	for _, entry := range feed {
		if NormalizeAddress(entry.UserAddress) != addr {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) loadFeed() ([]Activity, error) {
	raw, err := s.db.Get([]byte(feedKey))
	if errors.Is(err, storage.ErrNotFound) {
		return []Activity{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read feed: %w", err)
	}
	var feed []Activity
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("ledger: decode feed: %w", err)
	}
	if feed == nil {
		feed = []Activity{}
	}
	return feed, nil
}
