package history

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"inboxd/pkg/hooks"
	"inboxd/pkg/models"
	"inboxd/pkg/store"
)

func newStoreWithRecorder(t *testing.T, r *Recorder) *store.Store {
	t.Helper()
	d := hooks.NewDispatcher()
	d.OnMessageUpdate(r)
	s, err := store.Open(t.TempDir(), d)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMessage(t *testing.T, s *store.Store) (*models.User, *models.Message) {
	t.Helper()
	ctx := context.Background()
	alice := &models.User{Username: "alice"}
	bob := &models.User{Username: "bob"}
	for _, u := range []*models.User{alice, bob} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	m := &models.Message{Sender: alice.ID, Receiver: bob.ID, Content: "v1"}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("create message: %v", err)
	}
	return alice, m
}

func TestEditRecordsHistory(t *testing.T) {
	s := newStoreWithRecorder(t, NewRecorder())
	ctx := context.Background()
	alice, m := seedMessage(t, s)

	next, err := s.UpdateMessageContent(ctx, m.ID, alice.ID, "v2")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !next.Edited || next.LastEdited == 0 {
		t.Fatalf("expected edited flag and timestamp, got %+v", next)
	}

	hist, err := s.HistoryFor(ctx, m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected exactly one history row, got %d", len(hist))
	}
	h := hist[0]
	if h.OldContent != "v1" || h.Message != m.ID || h.EditedBy != alice.ID {
		t.Fatalf("unexpected history row %+v", h)
	}
}

func TestNoopEditLeavesNoHistory(t *testing.T) {
	s := newStoreWithRecorder(t, NewRecorder())
	ctx := context.Background()
	alice, m := seedMessage(t, s)

	next, err := s.UpdateMessageContent(ctx, m.ID, alice.ID, "v1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if next.Edited {
		t.Fatalf("no-op edit must not set the edited flag")
	}
	hist, err := s.HistoryFor(ctx, m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("expected no history rows, got %d", len(hist))
	}
}

func TestSequentialEditsNewestFirst(t *testing.T) {
	r := NewRecorder()
	now := time.Now()
	// advance the clock well past the dedup window between edits
	r.now = func() time.Time {
		now = now.Add(DedupWindow * 2)
		return now
	}
	s := newStoreWithRecorder(t, r)
	ctx := context.Background()
	alice, m := seedMessage(t, s)

	for _, c := range []string{"v2", "v3", "v4"} {
		if _, err := s.UpdateMessageContent(ctx, m.ID, alice.ID, c); err != nil {
			t.Fatalf("update to %s: %v", c, err)
		}
	}
	hist, err := s.HistoryFor(ctx, m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(hist))
	}
	want := []string{"v3", "v2", "v1"}
	for i, w := range want {
		if hist[i].OldContent != w {
			t.Fatalf("row %d: expected old content %q, got %q", i, w, hist[i].OldContent)
		}
	}
}

// fakeTx is an ordered in-memory hooks.Tx for driving the recorder
// directly, the way a redelivered hook invocation would.
type fakeTx struct {
	data map[string][]byte
}

func newFakeTx() *fakeTx { return &fakeTx{data: make(map[string][]byte)} }

func (f *fakeTx) Set(key, value []byte) error {
	f.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (f *fakeTx) Delete(key []byte) error {
	delete(f.data, string(key))
	return nil
}

func (f *fakeTx) Get(key []byte) ([]byte, bool, error) {
	v, ok := f.data[string(key)]
	return v, ok, nil
}

func (f *fakeTx) Scan(prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	for _, k := range keys {
		cont, err := fn([]byte(k), f.data[k])
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

func TestRedeliveryWithinWindowDeduped(t *testing.T) {
	r := NewRecorder()
	base := time.Now()
	r.now = func() time.Time { return base }
	tx := newFakeTx()
	ctx := context.Background()

	old := &models.Message{ID: "msg-1", Sender: "user-1", Content: "v1"}
	next := *old
	next.Content = "v2"
	if err := r.BeforeUpdate(ctx, tx, old, &next); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// the same edit delivered again inside the window writes no second row
	// but still marks the message edited
	r.now = func() time.Time { return base.Add(DedupWindow / 2) }
	redo := *old
	redo.Content = "v2"
	if err := r.BeforeUpdate(ctx, tx, old, &redo); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !redo.Edited {
		t.Fatalf("redelivery must still mark the message edited")
	}
	if n := len(tx.data); n != 1 {
		t.Fatalf("expected 1 history row after redelivery, got %d", n)
	}

	// past the window the same shape is a genuine new edit
	r.now = func() time.Time { return base.Add(DedupWindow * 2) }
	again := *old
	again.Content = "v3"
	if err := r.BeforeUpdate(ctx, tx, old, &again); err != nil {
		t.Fatalf("late edit: %v", err)
	}
	if n := len(tx.data); n != 2 {
		t.Fatalf("expected 2 history rows after window elapsed, got %d", n)
	}
}
