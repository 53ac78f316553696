// Package sweep reconciles derived state on a cron schedule. Fail-open
// hook chains can leave orphans behind (a notification whose message is
// gone, an index entry for a deleted row, messages owned by a deleted
// user); the sweep walks the keyspace and reclaims them, and re-enforces
// the notification retention cap.
package sweep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"inboxd/pkg/logger"
	"inboxd/pkg/models"
	"inboxd/pkg/store"
)

// Stats summarizes one sweep run.
type Stats struct {
	OrphanMessages  int `json:"orphan_messages"`
	DanglingIndexes int `json:"dangling_indexes"`
	OrphanHistory   int `json:"orphan_history"`
	OrphanNotifs    int `json:"orphan_notifications"`
	PrunedNotifs    int `json:"pruned_notifications"`
}

// Runner owns the scheduler goroutine and the reconciliation pass.
type Runner struct {
	store *store.Store
	cap   int
	cron  string
}

func New(s *store.Store, notifCap int, cron string) *Runner {
	return &Runner{store: s, cap: notifCap, cron: cron}
}

// Start launches the cron scheduler. The returned cancel func stops it.
func (r *Runner) Start(ctx context.Context) (context.CancelFunc, error) {
	cronExpr := r.cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweep_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cronExpr)
	}
	logger.Info("sweep_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go r.runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, looping until cancellation.
func (r *Runner) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		default:
		}
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweep_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
			if _, err := r.RunImmediate(ctx); err != nil {
				logger.Error("sweep_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		}
	}
}

// RunImmediate performs one full reconciliation pass. Exposed so tests
// and admin triggers can run the sweep on demand.
func (r *Runner) RunImmediate(ctx context.Context) (Stats, error) {
	start := time.Now()
	var st Stats
	if err := r.sweepOrphanMessages(ctx, &st); err != nil {
		return st, err
	}
	if err := r.sweepIndexes(ctx, &st); err != nil {
		return st, err
	}
	if err := r.sweepHistory(ctx, &st); err != nil {
		return st, err
	}
	if err := r.sweepNotifications(ctx, &st); err != nil {
		return st, err
	}
	if err := r.enforceNotifCap(ctx, &st); err != nil {
		return st, err
	}
	logger.Info("sweep_done",
		"orphan_messages", st.OrphanMessages,
		"dangling_indexes", st.DanglingIndexes,
		"orphan_history", st.OrphanHistory,
		"orphan_notifications", st.OrphanNotifs,
		"pruned_notifications", st.PrunedNotifs,
		"took", time.Since(start).String(),
	)
	return st, nil
}

// sweepOrphanMessages deletes messages whose sender or receiver user no
// longer exists. DeleteMessage cascades replies and derived rows.
func (r *Runner) sweepOrphanMessages(ctx context.Context, st *Stats) error {
	var doomed []string
	users := make(map[string]bool)
	exists := func(id string) (bool, error) {
		if ok, seen := users[id]; seen {
			return ok, nil
		}
		ok, err := r.store.UserExists(ctx, id)
		if err != nil {
			return false, err
		}
		users[id] = ok
		return ok, nil
	}
	err := r.store.Scan(ctx, store.AllMessages(), false, func(_, v []byte) (bool, error) {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return true, nil
		}
		sOK, err := exists(m.Sender)
		if err != nil {
			return false, err
		}
		rOK, err := exists(m.Receiver)
		if err != nil {
			return false, err
		}
		if !sOK || !rOK {
			doomed = append(doomed, m.ID)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, id := range doomed {
		if err := r.store.DeleteMessage(ctx, id); err != nil {
			if errors.Is(err, models.ErrMessageNotFound) {
				continue
			}
			logger.Error("sweep_delete_message_failed", "msg", id, "error", err)
			continue
		}
		st.OrphanMessages++
	}
	return nil
}

// sweepIndexes drops receiver, sender, unread and child index entries
// that no longer point at a live message. Unread entries for messages
// already marked read are dropped too.
func (r *Runner) sweepIndexes(ctx context.Context, st *Stats) error {
	var stale [][]byte

	byValue := func(prefix []byte) error {
		return r.store.Scan(ctx, prefix, false, func(k, v []byte) (bool, error) {
			if _, err := r.store.GetMessage(ctx, string(v)); err != nil {
				if errors.Is(err, models.ErrMessageNotFound) {
					stale = append(stale, k)
					return true, nil
				}
				return false, err
			}
			return true, nil
		})
	}
	if err := byValue(store.AllRecvIdx()); err != nil {
		return err
	}
	if err := byValue(store.AllSentIdx()); err != nil {
		return err
	}

	if err := r.store.Scan(ctx, store.AllUnreadIdx(), false, func(k, _ []byte) (bool, error) {
		rest := string(k[len(store.AllUnreadIdx()):])
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			stale = append(stale, k)
			return true, nil
		}
		m, err := r.store.GetMessage(ctx, parts[1])
		if err != nil {
			if errors.Is(err, models.ErrMessageNotFound) {
				stale = append(stale, k)
				return true, nil
			}
			return false, err
		}
		if m.Read {
			stale = append(stale, k)
		}
		return true, nil
	}); err != nil {
		return err
	}

	if err := r.store.Scan(ctx, store.AllChildIdx(), false, func(k, _ []byte) (bool, error) {
		rest := string(k[len(store.AllChildIdx()):])
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			stale = append(stale, k)
			return true, nil
		}
		for _, id := range parts {
			if _, err := r.store.GetMessage(ctx, id); err != nil {
				if errors.Is(err, models.ErrMessageNotFound) {
					stale = append(stale, k)
					return true, nil
				}
				return false, err
			}
		}
		return true, nil
	}); err != nil {
		return err
	}

	if err := r.store.DeleteKeys(ctx, stale...); err != nil {
		return err
	}
	st.DanglingIndexes += len(stale)
	return nil
}

// sweepHistory drops history rows for messages that no longer exist.
func (r *Runner) sweepHistory(ctx context.Context, st *Stats) error {
	var stale [][]byte
	if err := r.store.Scan(ctx, store.AllHist(), false, func(k, _ []byte) (bool, error) {
		rest := string(k[len(store.AllHist()):])
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			stale = append(stale, k)
			return true, nil
		}
		if _, err := r.store.GetMessage(ctx, parts[0]); err != nil {
			if errors.Is(err, models.ErrMessageNotFound) {
				stale = append(stale, k)
				return true, nil
			}
			return false, err
		}
		return true, nil
	}); err != nil {
		return err
	}
	if err := r.store.DeleteKeys(ctx, stale...); err != nil {
		return err
	}
	st.OrphanHistory += len(stale)
	return nil
}

// sweepNotifications drops notifications whose user or message is gone,
// and message-to-notification index entries that point nowhere.
func (r *Runner) sweepNotifications(ctx context.Context, st *Stats) error {
	var stale [][]byte
	if err := r.store.Scan(ctx, store.AllNotif(), false, func(k, v []byte) (bool, error) {
		var n models.Notification
		if err := json.Unmarshal(v, &n); err != nil {
			stale = append(stale, k)
			return true, nil
		}
		ok, err := r.store.UserExists(ctx, n.User)
		if err != nil {
			return false, err
		}
		gone := !ok
		if !gone && n.Message != "" {
			if _, err := r.store.GetMessage(ctx, n.Message); err != nil {
				if !errors.Is(err, models.ErrMessageNotFound) {
					return false, err
				}
				gone = true
			}
		}
		if gone {
			stale = append(stale, k)
			if n.Message != "" {
				stale = append(stale, store.MsgNotifKey(n.Message, k))
			}
			st.OrphanNotifs++
		}
		return true, nil
	}); err != nil {
		return err
	}

	// msgnotif entries whose notification row is already gone
	if err := r.store.Scan(ctx, store.AllMsgNotif(), false, func(k, _ []byte) (bool, error) {
		rest := string(k[len(store.AllMsgNotif()):])
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			stale = append(stale, k)
			return true, nil
		}
		notifKey := []byte(parts[1])
		found := false
		if err := r.store.Scan(ctx, notifKey, false, func(nk, _ []byte) (bool, error) {
			found = bytes.Equal(nk, notifKey)
			return false, nil
		}); err != nil {
			return false, err
		}
		if !found {
			stale = append(stale, k)
		}
		return true, nil
	}); err != nil {
		return err
	}

	if err := r.store.DeleteKeys(ctx, stale...); err != nil {
		return err
	}
	return nil
}

// enforceNotifCap re-applies the per-user retention cap for every user.
func (r *Runner) enforceNotifCap(ctx context.Context, st *Stats) error {
	if r.cap <= 0 {
		return nil
	}
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		var stale [][]byte
		kept := 0
		if err := r.store.Scan(ctx, store.NotifPrefix(u.ID), true, func(k, v []byte) (bool, error) {
			kept++
			if kept <= r.cap {
				return true, nil
			}
			var n models.Notification
			if err := json.Unmarshal(v, &n); err == nil && n.Message != "" {
				stale = append(stale, store.MsgNotifKey(n.Message, k))
			}
			stale = append(stale, k)
			st.PrunedNotifs++
			return true, nil
		}); err != nil {
			return err
		}
		if err := r.store.DeleteKeys(ctx, stale...); err != nil {
			return err
		}
	}
	return nil
}
