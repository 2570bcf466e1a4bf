package activity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"monspark/services/sparkd/ledger"
)

const subscriberBuffer = 32

// Feed is the persistence surface used by the recorder.
type Feed interface {
	AddActivity(entry ledger.Activity) error
	Activities() ([]ledger.Activity, error)
	UserActivities(address string, limit int) ([]ledger.Activity, error)
}

// Recorder appends activity entries to the bounded feed and fans them out to
// live subscribers.
type Recorder struct {
	feed Feed
	now  func() time.Time

	// writeMu orders feed writes against backlog snapshots so an entry is
	// delivered either in a backlog or live, never both.
	writeMu sync.Mutex

	mu     sync.RWMutex
	subs   map[uint64]chan ledger.Activity
	nextID uint64
}

// Option customises the recorder.
type Option func(*Recorder)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRecorder wraps feed.
func NewRecorder(feed Feed, opts ...Option) *Recorder {
	r := &Recorder{
		feed: feed,
		now:  time.Now,
		subs: make(map[uint64]chan ledger.Activity),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stamps the entry with an id and timestamp, persists it and publishes
// it to subscribers.
func (r *Recorder) Record(user string, kind ledger.ActivityType, description string, metadata map[string]any) (ledger.Activity, error) {
	entry := ledger.Activity{
		ID:          ledger.GenerateID(),
		UserAddress: strings.TrimSpace(user),
		Type:        kind,
		Description: description,
		Timestamp:   r.now().UTC(),
		Metadata:    metadata,
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.feed.AddActivity(entry); err != nil {
		return ledger.Activity{}, fmt.Errorf("record %s activity: %w", kind, err)
	}
	r.publish(entry)
	return entry, nil
}

// Global returns up to limit of the most recent entries. A non-positive
// limit returns the whole feed.
func (r *Recorder) Global(limit int) ([]ledger.Activity, error) {
	all, err := r.feed.Activities()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ForUser returns up to limit entries belonging to address.
func (r *Recorder) ForUser(address string, limit int) ([]ledger.Activity, error) {
	return r.feed.UserActivities(address, limit)
}

// Subscribe registers a live listener. The returned backlog holds the current
// feed, newest first; updates carries every entry recorded afterwards until
// cancel is called or ctx ends. Slow subscribers drop entries.
func (r *Recorder) Subscribe(ctx context.Context) (<-chan ledger.Activity, func(), []ledger.Activity, error) {
	updates := make(chan ledger.Activity, subscriberBuffer)

	r.writeMu.Lock()
	backlog, err := r.feed.Activities()
	if err != nil {
		r.writeMu.Unlock()
		return nil, nil, nil, err
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = updates
	r.mu.Unlock()
	r.writeMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			if sub, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(sub)
			}
			r.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog, nil
}

// Subscribers reports the number of live listeners.
func (r *Recorder) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Recorder) publish(entry ledger.Activity) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
