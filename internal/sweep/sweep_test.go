package sweep_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"inboxd/internal/sweep"
	"inboxd/pkg/cleanup"
	"inboxd/pkg/history"
	"inboxd/pkg/hooks"
	"inboxd/pkg/models"
	"inboxd/pkg/notify"
	"inboxd/pkg/store"
)

func newEngine(t *testing.T) (*store.Store, *hooks.Dispatcher) {
	t.Helper()
	d := hooks.NewDispatcher()
	s, err := store.Open(t.TempDir(), d)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	d.OnMessageUpdate(history.NewRecorder())
	d.OnMessageCreate(notify.NewManager(s, 50))
	d.OnUserDelete(cleanup.NewCoordinator(s))
	return s, d
}

func TestSweepReclaimsAfterSkippedCleanup(t *testing.T) {
	s, d := newEngine(t)
	ctx := context.Background()
	alice := &models.User{Username: "alice"}
	bob := &models.User{Username: "bob"}
	for _, u := range []*models.User{alice, bob} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	m := &models.Message{Sender: bob.ID, Receiver: alice.ID, Content: "hi"}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("create message: %v", err)
	}
	if _, err := s.UpdateMessageContent(ctx, m.ID, bob.ID, "hi v2"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	// simulate a crashed cleanup hook: the user row disappears but the
	// cascade never runs
	d.Suppress(cleanup.HookName)
	if err := s.DeleteUser(ctx, bob.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := s.GetMessage(ctx, m.ID); err != nil {
		t.Fatalf("orphan message should still exist before sweep: %v", err)
	}

	st, err := sweep.New(s, 50, "").RunImmediate(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if st.OrphanMessages != 1 {
		t.Fatalf("expected 1 orphan message reclaimed, got %d", st.OrphanMessages)
	}
	if _, err := s.GetMessage(ctx, m.ID); !errors.Is(err, models.ErrMessageNotFound) {
		t.Fatalf("orphan message should be gone after sweep, got %v", err)
	}
	hist, err := s.HistoryFor(ctx, m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("expected orphan history reclaimed, got %d rows", len(hist))
	}
	notifs, err := s.NotificationsFor(ctx, alice.ID, false, 0)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notifs) != 0 {
		t.Fatalf("expected notification for deleted message reclaimed, got %d", len(notifs))
	}
	if n, err := s.UnreadCount(ctx, alice.ID); err != nil || n != 0 {
		t.Fatalf("unread = %d, %v; want 0", n, err)
	}
}

func TestSweepReenforcesNotificationCap(t *testing.T) {
	s, _ := newEngine(t)
	ctx := context.Background()
	alice := &models.User{Username: "alice"}
	if err := s.CreateUser(ctx, alice); err != nil {
		t.Fatalf("create user: %v", err)
	}
	// write past the cap directly, as if the cap had been raised and
	// lowered again
	base := time.Now().UTC().UnixNano()
	for i := 0; i < 10; i++ {
		n := &models.Notification{
			User:      alice.ID,
			Content:   fmt.Sprintf("n%02d", i),
			Type:      models.NotificationSystem,
			CreatedAt: base + int64(i),
		}
		if _, err := s.AppendNotification(ctx, n, 0); err != nil {
			t.Fatalf("append notification: %v", err)
		}
	}

	st, err := sweep.New(s, 4, "").RunImmediate(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if st.PrunedNotifs != 6 {
		t.Fatalf("expected 6 pruned, got %d", st.PrunedNotifs)
	}
	notifs, err := s.NotificationsFor(ctx, alice.ID, false, 0)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notifs) != 4 {
		t.Fatalf("expected 4 kept, got %d", len(notifs))
	}
	if notifs[0].Content != "n09" {
		t.Fatalf("expected newest kept first, got %q", notifs[0].Content)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	s, d := newEngine(t)
	ctx := context.Background()
	alice := &models.User{Username: "alice"}
	bob := &models.User{Username: "bob"}
	for _, u := range []*models.User{alice, bob} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	m := &models.Message{Sender: bob.ID, Receiver: alice.ID, Content: "hi"}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("create message: %v", err)
	}
	d.Suppress(cleanup.HookName)
	if err := s.DeleteUser(ctx, bob.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	r := sweep.New(s, 50, "")
	if _, err := r.RunImmediate(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	st, err := r.RunImmediate(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if st != (sweep.Stats{}) {
		t.Fatalf("second sweep should find nothing, got %+v", st)
	}
}

func TestStartRejectsInvalidCron(t *testing.T) {
	s, _ := newEngine(t)
	if _, err := sweep.New(s, 50, "not a cron").Start(context.Background()); err == nil {
		t.Fatalf("expected invalid cron to be rejected")
	}
}
