package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"inboxd/pkg/logger"
	"inboxd/pkg/models"
	"inboxd/pkg/utils"
)

// MessagesByReceiver lists messages delivered to a user, newest first.
// When unreadOnly is set only messages still flagged unread are
// returned. limit <= 0 means no limit.
func (s *Store) MessagesByReceiver(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.Message, error) {
	return s.messagesByIndex(ctx, RecvIdxPrefix(userID), unreadOnly, limit)
}

// MessagesBySender lists messages a user authored, newest first.
func (s *Store) MessagesBySender(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	return s.messagesByIndex(ctx, SentIdxPrefix(userID), false, limit)
}

func (s *Store) messagesByIndex(ctx context.Context, prefix []byte, unreadOnly bool, limit int) ([]*models.Message, error) {
	var out []*models.Message
	err := s.Scan(ctx, prefix, true, func(_, v []byte) (bool, error) {
		m, err := s.GetMessage(ctx, string(v))
		if err != nil {
			if errors.Is(err, models.ErrMessageNotFound) {
				// stale index entry; the sweep reclaims these
				return true, nil
			}
			return false, err
		}
		if unreadOnly && m.Read {
			return true, nil
		}
		out = append(out, m)
		return limit <= 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChildIDs lists the direct replies to a message.
func (s *Store) ChildIDs(ctx context.Context, parentID string) ([]string, error) {
	var ids []string
	prefix := ChildIdxPrefix(parentID)
	err := s.Scan(ctx, prefix, false, func(k, _ []byte) (bool, error) {
		ids = append(ids, string(k[len(prefix):]))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UnreadCount counts the unread index entries for a receiver. It is a
// live query over the index, never a cached figure.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	n := 0
	err := s.Scan(ctx, UnreadPrefix(userID), false, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// HistoryFor lists the edit history rows for a message, newest first.
func (s *Store) HistoryFor(ctx context.Context, msgID string) ([]*models.MessageHistory, error) {
	var out []*models.MessageHistory
	err := s.Scan(ctx, HistPrefix(msgID), true, func(_, v []byte) (bool, error) {
		var h models.MessageHistory
		if err := json.Unmarshal(v, &h); err != nil {
			return false, fmt.Errorf("invalid history record: %w", err)
		}
		out = append(out, &h)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Notifications ---

// AppendNotification inserts a notification and then enforces the
// per-user retention cap inside the same batch: the newest cap rows are
// kept and everything older is deleted together with its message index
// entry. Returns how many rows were pruned.
func (s *Store) AppendNotification(ctx context.Context, n *models.Notification, cap int) (int, error) {
	if n.ID == "" {
		n.ID = utils.GenNotificationID()
	}
	if n.CreatedAt == 0 {
		return 0, fmt.Errorf("notification missing created_at")
	}
	if n.Seq == 0 {
		n.Seq = s.nextSeq()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal notification: %w", err)
	}
	key := NotifKey(n.User, n.CreatedAt, n.Seq)
	pruned := 0
	err = s.update(func(tx *txn) error {
		if err := tx.Set(key, data); err != nil {
			return err
		}
		if n.Message != "" {
			if err := tx.Set(MsgNotifKey(n.Message, key), nil); err != nil {
				return err
			}
		}
		if cap <= 0 {
			return nil
		}
		// newest first; everything past the cap goes
		kept := 0
		return tx.Scan(NotifPrefix(n.User), true, func(k, v []byte) (bool, error) {
			kept++
			if kept <= cap {
				return true, nil
			}
			var old models.Notification
			if err := json.Unmarshal(v, &old); err == nil && old.Message != "" {
				if err := tx.Delete(MsgNotifKey(old.Message, k)); err != nil {
					return false, err
				}
			}
			if err := tx.Delete(k); err != nil {
				return false, err
			}
			pruned++
			return true, nil
		})
	})
	if err != nil {
		return 0, err
	}
	mutations.WithLabelValues("notification_append").Inc()
	if pruned > 0 {
		notificationsPruned.Add(float64(pruned))
		logger.Info("notifications_pruned", "user", n.User, "count", pruned)
	}
	return pruned, nil
}

// NotificationsFor lists a user's notifications, newest first. limit <= 0
// means no limit.
func (s *Store) NotificationsFor(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	var out []*models.Notification
	err := s.Scan(ctx, NotifPrefix(userID), true, func(_, v []byte) (bool, error) {
		var n models.Notification
		if err := json.Unmarshal(v, &n); err != nil {
			return false, fmt.Errorf("invalid notification record: %w", err)
		}
		if unreadOnly && n.Read {
			return true, nil
		}
		out = append(out, &n)
		return limit <= 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationRead flips the read flag on a single notification.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, notifID string) error {
	found := false
	err := s.update(func(tx *txn) error {
		return tx.Scan(NotifPrefix(userID), false, func(k, v []byte) (bool, error) {
			var n models.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return false, fmt.Errorf("invalid notification record: %w", err)
			}
			if n.ID != notifID {
				return true, nil
			}
			found = true
			if n.Read {
				return false, nil
			}
			n.Read = true
			data, err := json.Marshal(&n)
			if err != nil {
				return false, err
			}
			return false, tx.Set(k, data)
		})
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("notification %s: %w", notifID, models.ErrNotificationNotFound)
	}
	return nil
}

// MarkAllNotificationsRead flips every unread notification for a user
// and returns how many changed.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	count := 0
	err := s.update(func(tx *txn) error {
		return tx.Scan(NotifPrefix(userID), false, func(k, v []byte) (bool, error) {
			var n models.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return false, fmt.Errorf("invalid notification record: %w", err)
			}
			if n.Read {
				return true, nil
			}
			n.Read = true
			data, err := json.Marshal(&n)
			if err != nil {
				return false, err
			}
			if err := tx.Set(k, data); err != nil {
				return false, err
			}
			count++
			return true, nil
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteNotificationsFor removes every notification a user owns, plus
// the message index rows pointing at them. Returns how many were
// removed.
func (s *Store) DeleteNotificationsFor(ctx context.Context, userID string) (int, error) {
	count := 0
	err := s.update(func(tx *txn) error {
		return tx.Scan(NotifPrefix(userID), false, func(k, v []byte) (bool, error) {
			var n models.Notification
			if err := json.Unmarshal(v, &n); err == nil && n.Message != "" {
				if err := tx.Delete(MsgNotifKey(n.Message, k)); err != nil {
					return false, err
				}
			}
			if err := tx.Delete(k); err != nil {
				return false, err
			}
			count++
			return true, nil
		})
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logger.Info("notifications_deleted", "user", userID, "count", count)
	}
	return count, nil
}

// ListUsers returns all user records.
func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	var out []*models.User
	err := s.Scan(ctx, []byte(userPrefix), false, func(_, v []byte) (bool, error) {
		var u models.User
		if err := json.Unmarshal(v, &u); err != nil {
			return false, fmt.Errorf("invalid user record: %w", err)
		}
		out = append(out, &u)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
