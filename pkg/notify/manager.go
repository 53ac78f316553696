// Package notify derives receiver notifications from message creation
// and enforces the per-user retention cap.
package notify

import (
	"context"
	"fmt"
	"time"

	"inboxd/pkg/logger"
	"inboxd/pkg/models"
	"inboxd/pkg/store"
	"inboxd/pkg/utils"
)

// HookName identifies the manager in the dispatcher, for Suppress.
const HookName = "notifications"

// Manager is the after-create hook that writes a notification for the
// receiver of each new message. Creation failures never fail the
// message; the dispatcher logs them and the sweep reconciles later.
type Manager struct {
	store *store.Store
	cap   int
	now   func() time.Time
}

func NewManager(s *store.Store, cap int) *Manager {
	return &Manager{store: s, cap: cap, now: time.Now}
}

func (m *Manager) Name() string { return HookName }

// Cap returns the retention cap the manager enforces.
func (m *Manager) Cap() int { return m.cap }

// AfterCreate writes the receiver's notification for a freshly created
// message. Replies get reply wording and type.
func (m *Manager) AfterCreate(ctx context.Context, msg *models.Message) error {
	sender, err := m.store.GetUser(ctx, msg.Sender)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}
	typ := models.NotificationMessage
	content := fmt.Sprintf("You have a new message from %s", sender.DisplayName())
	if msg.Parent != "" {
		typ = models.NotificationReply
		content = fmt.Sprintf("%s replied to your message", sender.DisplayName())
	}
	n := &models.Notification{
		ID:        utils.GenNotificationID(),
		User:      msg.Receiver,
		Message:   msg.ID,
		Content:   content,
		Type:      typ,
		CreatedAt: m.now().UTC().UnixNano(),
	}
	if _, err := m.store.AppendNotification(ctx, n, m.cap); err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	logger.Debug("notification_created", "user", n.User, "msg", msg.ID, "type", string(typ))
	return nil
}

// Notifications lists a user's notifications, newest first.
func (m *Manager) Notifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	return m.store.NotificationsFor(ctx, userID, unreadOnly, limit)
}

// MarkRead marks a single notification read.
func (m *Manager) MarkRead(ctx context.Context, userID, notifID string) error {
	return m.store.MarkNotificationRead(ctx, userID, notifID)
}

// MarkAllRead marks every unread notification for userID and returns how
// many changed.
func (m *Manager) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return m.store.MarkAllNotificationsRead(ctx, userID)
}
