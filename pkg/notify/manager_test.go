package notify_test

import (
	"context"
	"fmt"
	"testing"

	"inboxd/pkg/hooks"
	"inboxd/pkg/models"
	"inboxd/pkg/notify"
	"inboxd/pkg/store"
)

func newStoreWithManager(t *testing.T, cap int) (*store.Store, *notify.Manager) {
	t.Helper()
	d := hooks.NewDispatcher()
	s, err := store.Open(t.TempDir(), d)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	nm := notify.NewManager(s, cap)
	d.OnMessageCreate(nm)
	return s, nm
}

func mkUsers(t *testing.T, s *store.Store, names ...string) []*models.User {
	t.Helper()
	ctx := context.Background()
	out := make([]*models.User, 0, len(names))
	for _, n := range names {
		u := &models.User{Username: n}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user %s: %v", n, err)
		}
		out = append(out, u)
	}
	return out
}

func TestMessageCreatesNotification(t *testing.T) {
	s, nm := newStoreWithManager(t, 50)
	us := mkUsers(t, s, "alice", "bob")
	alice, bob := us[0], us[1]
	ctx := context.Background()

	m := &models.Message{Sender: alice.ID, Receiver: bob.ID, Content: "hi"}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("create message: %v", err)
	}

	notifs, err := nm.Notifications(ctx, bob.ID, false, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifs))
	}
	n := notifs[0]
	if n.Type != models.NotificationMessage {
		t.Fatalf("expected type %s, got %s", models.NotificationMessage, n.Type)
	}
	if n.Content != "You have a new message from alice" {
		t.Fatalf("unexpected content %q", n.Content)
	}
	if n.Message != m.ID {
		t.Fatalf("notification points at %s, want %s", n.Message, m.ID)
	}
	if n.Read {
		t.Fatalf("fresh notification must be unread")
	}
}

func TestReplyNotificationWording(t *testing.T) {
	s, nm := newStoreWithManager(t, 50)
	us := mkUsers(t, s, "alice", "bob")
	alice, bob := us[0], us[1]
	ctx := context.Background()

	root := &models.Message{Sender: alice.ID, Receiver: bob.ID, Content: "hi"}
	if err := s.CreateMessage(ctx, root); err != nil {
		t.Fatalf("create root: %v", err)
	}
	reply := &models.Message{Sender: bob.ID, Receiver: alice.ID, Content: "yo", Parent: root.ID}
	if err := s.CreateMessage(ctx, reply); err != nil {
		t.Fatalf("create reply: %v", err)
	}

	notifs, err := nm.Notifications(ctx, alice.ID, false, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 1 {
		t.Fatalf("expected 1 notification for alice, got %d", len(notifs))
	}
	if notifs[0].Type != models.NotificationReply {
		t.Fatalf("expected reply type, got %s", notifs[0].Type)
	}
	if notifs[0].Content != "bob replied to your message" {
		t.Fatalf("unexpected content %q", notifs[0].Content)
	}
}

func TestCapKeepsNewest(t *testing.T) {
	s, nm := newStoreWithManager(t, 5)
	us := mkUsers(t, s, "alice", "bob")
	alice, bob := us[0], us[1]
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		m := &models.Message{Sender: alice.ID, Receiver: bob.ID, Content: fmt.Sprintf("m%02d", i)}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}

	notifs, err := nm.Notifications(ctx, bob.ID, false, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != nm.Cap() {
		t.Fatalf("expected %d notifications after pruning, got %d", nm.Cap(), len(notifs))
	}
	// newest first; each must be newer than the next
	for i := 1; i < len(notifs); i++ {
		if notifs[i-1].CreatedAt < notifs[i].CreatedAt {
			t.Fatalf("notifications not newest first at %d", i)
		}
	}
}

func TestSuppressedHookWritesNothing(t *testing.T) {
	d := hooks.NewDispatcher()
	s, err := store.Open(t.TempDir(), d)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	nm := notify.NewManager(s, 50)
	d.OnMessageCreate(nm)
	d.Suppress(notify.HookName)

	us := mkUsers(t, s, "alice", "bob")
	ctx := context.Background()
	m := &models.Message{Sender: us[0].ID, Receiver: us[1].ID, Content: "hi"}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("create message: %v", err)
	}
	notifs, err := nm.Notifications(ctx, us[1].ID, false, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 0 {
		t.Fatalf("suppressed hook still wrote %d notifications", len(notifs))
	}
}

func TestMarkAllReadCounts(t *testing.T) {
	s, nm := newStoreWithManager(t, 50)
	us := mkUsers(t, s, "alice", "bob")
	alice, bob := us[0], us[1]
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := &models.Message{Sender: alice.ID, Receiver: bob.ID, Content: "hi"}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	marked, err := nm.MarkAllRead(ctx, bob.ID)
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if marked != 3 {
		t.Fatalf("expected 3 marked, got %d", marked)
	}
	unread, err := nm.Notifications(ctx, bob.ID, true, 0)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected no unread notifications, got %d", len(unread))
	}
}
