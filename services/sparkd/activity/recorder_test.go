package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"monspark/services/sparkd/ledger"
	"monspark/storage"
)

func newRecorder(t *testing.T) (*Recorder, *ledger.Store) {
	t.Helper()
	store := ledger.New(storage.NewMemDB())
	t.Cleanup(func() { _ = store.Close() })
	clock := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewRecorder(store, WithClock(func() time.Time { return clock })), store
}

func TestRecordPersistsAndStamps(t *testing.T) {
	rec, store := newRecorder(t)
	entry, err := rec.Record("0xAbC", ledger.ActivityGasAllocated, "Allocated 0.05 MON gas", map[string]any{"amount": "0.05"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !entry.Timestamp.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %s", entry.Timestamp)
	}
	feed, err := store.Activities()
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(feed) != 1 || feed[0].ID != entry.ID {
		t.Fatalf("entry not persisted: %+v", feed)
	}
	mine, err := rec.ForUser("0xabc", 20)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected user view to contain entry: %v %+v", err, mine)
	}
}

func TestGlobalAppliesLimit(t *testing.T) {
	rec, _ := newRecorder(t)
	for i := 0; i < 30; i++ {
		if _, err := rec.Record(fmt.Sprintf("0x%02d", i), ledger.ActivityTransaction, "tip", nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := rec.Global(20)
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(got))
	}
	if got[0].UserAddress != "0x29" {
		t.Fatalf("expected newest first, got %s", got[0].UserAddress)
	}
	all, _ := rec.Global(0)
	if len(all) != 30 {
		t.Fatalf("expected full feed, got %d", len(all))
	}
}

func TestSubscribeReceivesBacklogAndLiveEntries(t *testing.T) {
	rec, _ := newRecorder(t)
	if _, err := rec.Record("0x01", ledger.ActivityQuestCompleted, "Completed quest: Hello", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	updates, stop, backlog, err := rec.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()
	if len(backlog) != 1 {
		t.Fatalf("expected backlog of 1, got %d", len(backlog))
	}
	live, err := rec.Record("0x02", ledger.ActivityGasReverted, "Gas returned to pool", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	select {
	case got := <-updates:
		if got.ID != live.ID {
			t.Fatalf("unexpected live entry %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live entry")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for rec.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not removed after context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-updates; ok {
		t.Fatalf("expected closed channel")
	}
}

type failingFeed struct{}

func (failingFeed) AddActivity(ledger.Activity) error { return errors.New("disk full") }
func (failingFeed) Activities() ([]ledger.Activity, error) {
	return nil, errors.New("disk full")
}
func (failingFeed) UserActivities(string, int) ([]ledger.Activity, error) {
	return nil, errors.New("disk full")
}

func TestRecordFailureIsNotPublished(t *testing.T) {
	rec := NewRecorder(failingFeed{})
	if _, err := rec.Record("0x01", ledger.ActivityTransaction, "x", nil); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, _, err := rec.Subscribe(context.Background()); err == nil {
		t.Fatalf("expected subscribe error")
	}
	if rec.Subscribers() != 0 {
		t.Fatalf("failed subscription must not leak")
	}
}

// racingFeed records one entry through the recorder while a backlog is being
// read, waiting briefly for that write to land.
type racingFeed struct {
	*ledger.Store
	rec  *Recorder
	once sync.Once
	done chan ledger.Activity
}

func (f *racingFeed) Activities() ([]ledger.Activity, error) {
	f.once.Do(func() {
		go func() {
			entry, _ := f.rec.Record("0x03", ledger.ActivityTransaction, "concurrent", nil)
			f.done <- entry
		}()
		select {
		case entry := <-f.done:
			f.done <- entry
		case <-time.After(50 * time.Millisecond):
		}
	})
	return f.Store.Activities()
}

func TestSubscribeDeliversConcurrentEntryOnce(t *testing.T) {
	store := ledger.New(storage.NewMemDB())
	t.Cleanup(func() { _ = store.Close() })
	feed := &racingFeed{Store: store, done: make(chan ledger.Activity, 1)}
	rec := NewRecorder(feed)
	feed.rec = rec

	updates, stop, backlog, err := rec.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	var entry ledger.Activity
	select {
	case entry = <-feed.done:
	case <-time.After(time.Second):
		t.Fatalf("concurrent record never completed")
	}
	seen := 0
	for _, b := range backlog {
		if b.ID == entry.ID {
			seen++
		}
	}
	select {
	case got := <-updates:
		if got.ID == entry.ID {
			seen++
		}
	case <-time.After(100 * time.Millisecond):
	}
	if seen != 1 {
		t.Fatalf("entry delivered %d times, want exactly once", seen)
	}
}
