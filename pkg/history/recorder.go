// Package history records message edit history from inside the
// before-update hook point, so a history row and its message edit share
// one commit.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"inboxd/pkg/hooks"
	"inboxd/pkg/logger"
	"inboxd/pkg/models"
	"inboxd/pkg/store"
	"inboxd/pkg/utils"
)

// HookName identifies the recorder in the dispatcher, for Suppress.
const HookName = "history"

// DedupWindow bounds how close together two identical history rows may
// land before the second is treated as a redelivery and skipped.
const DedupWindow = 2 * time.Second

// Recorder is the before-update hook that snapshots the previous content
// of an edited message. No-op edits leave the message untouched.
type Recorder struct {
	now func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

func (r *Recorder) Name() string { return HookName }

// BeforeUpdate marks the message edited and writes a history row holding
// the pre-edit content. When the content did not change nothing is
// written and the edited flag is left as it was.
func (r *Recorder) BeforeUpdate(ctx context.Context, tx hooks.Tx, old, next *models.Message) error {
	if old.Content == next.Content {
		logger.Debug("edit_noop", "msg", old.ID)
		return nil
	}
	editedAt := r.now().UTC().UnixNano()
	dup, err := r.isDuplicate(tx, old, editedAt)
	if err != nil {
		return fmt.Errorf("history dedup check: %w", err)
	}
	next.Edited = true
	next.LastEdited = editedAt
	if dup {
		logger.Warn("history_dedup_skip", "msg", old.ID)
		return nil
	}
	h := models.MessageHistory{
		ID:         utils.GenHistoryID(),
		Message:    old.ID,
		OldContent: old.Content,
		EditedAt:   editedAt,
		EditedBy:   old.Sender,
	}
	data, err := json.Marshal(&h)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := tx.Set(store.HistKey(old.ID, editedAt, utils.NextSeq()), data); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	logger.Info("history_recorded", "msg", old.ID, "editor", old.Sender)
	return nil
}

// isDuplicate reports whether the newest history row for the message
// already captured the same old content within DedupWindow. The read
// goes through tx so redeliveries inside one batch are caught too.
func (r *Recorder) isDuplicate(tx hooks.Tx, old *models.Message, editedAt int64) (bool, error) {
	dup := false
	err := tx.Scan(store.HistPrefix(old.ID), true, func(_, v []byte) (bool, error) {
		var last models.MessageHistory
		if err := json.Unmarshal(v, &last); err != nil {
			return false, fmt.Errorf("invalid history record: %w", err)
		}
		if last.OldContent == old.Content && editedAt-last.EditedAt < DedupWindow.Nanoseconds() {
			dup = true
		}
		return false, nil
	})
	return dup, err
}
