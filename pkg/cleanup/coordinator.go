// Package cleanup removes the records a deleted user leaves behind:
// messages they sent or received, the history and notifications hanging
// off those messages, and the user's own notification feed.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"inboxd/pkg/logger"
	"inboxd/pkg/models"
	"inboxd/pkg/store"
)

// HookName identifies the coordinator in the dispatcher, for Suppress.
const HookName = "cleanup"

// Coordinator is the after-user-delete hook. The user row is already
// gone when it runs, so it works from the index entries and keeps going
// past individual failures; whatever it misses the sweep reclaims.
type Coordinator struct {
	store *store.Store
}

func NewCoordinator(s *store.Store) *Coordinator {
	return &Coordinator{store: s}
}

func (c *Coordinator) Name() string { return HookName }

// AfterDelete cascades the user's removal through the message and
// notification records.
func (c *Coordinator) AfterDelete(ctx context.Context, u *models.User) error {
	ids, err := c.messageIDs(ctx, u.ID)
	if err != nil {
		return err
	}
	deleted, failed := 0, 0
	for _, id := range ids {
		if err := c.store.DeleteMessage(ctx, id); err != nil {
			if errors.Is(err, models.ErrMessageNotFound) {
				continue
			}
			failed++
			logger.Error("cleanup_delete_message_failed", "user", u.ID, "msg", id, "error", err)
			continue
		}
		deleted++
	}
	removed, err := c.store.DeleteNotificationsFor(ctx, u.ID)
	if err != nil {
		failed++
		logger.Error("cleanup_delete_notifications_failed", "user", u.ID, "error", err)
	}
	logger.Info("user_cleanup_done", "user", u.ID, "messages", deleted, "notifications", removed, "failures", failed)
	if failed > 0 {
		return fmt.Errorf("cleanup for %s left %d failures", u.ID, failed)
	}
	return nil
}

// messageIDs collects the ids of every message the user sent or
// received, deduplicated.
func (c *Coordinator) messageIDs(ctx context.Context, userID string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	collect := func(prefix []byte) error {
		return c.store.Scan(ctx, prefix, false, func(_, v []byte) (bool, error) {
			id := string(v)
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
			return true, nil
		})
	}
	if err := collect(store.SentIdxPrefix(userID)); err != nil {
		return nil, err
	}
	if err := collect(store.RecvIdxPrefix(userID)); err != nil {
		return nil, err
	}
	return ids, nil
}
