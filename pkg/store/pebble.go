package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"inboxd/pkg/hooks"
	"inboxd/pkg/logger"
	"inboxd/pkg/models"
	"inboxd/pkg/utils"
)

// Store is the entity store: a Pebble database holding users, messages,
// notifications and edit history under the key schema in keys.go. Every
// mutation runs inside a single indexed batch; fail-closed hooks write
// into that batch via the Dispatcher the store owns.
type Store struct {
	db    *pebble.DB
	hooks *hooks.Dispatcher
	path  string
	seq   uint64
}

// Open opens (or creates) a Pebble database at the given path. The
// dispatcher carries the hook chains invoked by the mutation methods.
func Open(path string, d *hooks.Dispatcher) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	if d == nil {
		d = hooks.NewDispatcher()
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db, hooks: d, path: path}, nil
}

// Close closes the underlying pebble DB.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// Hooks returns the dispatcher owned by this store.
func (s *Store) Hooks() *hooks.Dispatcher { return s.hooks }

func (s *Store) nextSeq() uint64 { return atomic.AddUint64(&s.seq, 1) }

// txn wraps an indexed batch; it satisfies hooks.Tx so hook writes share
// the batch's commit-or-abort fate.
type txn struct {
	b *pebble.Batch
}

func (t *txn) Set(key, value []byte) error { return t.b.Set(key, value, nil) }

func (t *txn) Delete(key []byte) error { return t.b.Delete(key, nil) }

func (t *txn) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := t.b.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func (t *txn) Scan(prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	iter, err := t.b.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()
	return iterate(iter, reverse, fn)
}

func iterate(iter *pebble.Iterator, reverse bool, fn func(key, value []byte) (bool, error)) error {
	advance := iter.Next
	ok := iter.First()
	if reverse {
		advance = iter.Prev
		ok = iter.Last()
	}
	for ; ok && iter.Valid(); ok = advance() {
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

// update runs fn inside a fresh indexed batch and commits it durably if
// fn succeeds. Any error from fn discards the batch.
func (s *Store) update(fn func(tx *txn) error) error {
	if s.db == nil {
		return fmt.Errorf("store not opened")
	}
	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(&txn{b: b}); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// get reads a single key from the committed state.
func (s *Store) get(key []byte) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, fmt.Errorf("store not opened")
	}
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

// Scan iterates committed keys under prefix. Exposed for the consistency
// sweep and admin tooling; regular callers use the typed queries.
func (s *Store) Scan(ctx context.Context, prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	if s.db == nil {
		return fmt.Errorf("store not opened")
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()
	return iterate(iter, reverse, func(k, v []byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return fn(k, v)
	})
}

// DeleteKeys removes the given raw keys in one batch. Used by the
// consistency sweep to reclaim dangling index and derived rows.
func (s *Store) DeleteKeys(ctx context.Context, keys ...[]byte) error {
	if len(keys) == 0 {
		return nil
	}
	return s.update(func(tx *txn) error {
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMeta reads a system metadata value.
func (s *Store) GetMeta(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := s.get(MetaKey(name))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(v), true, nil
}

// SetMeta writes a system metadata value.
func (s *Store) SetMeta(ctx context.Context, name, value string) error {
	return s.update(func(tx *txn) error {
		return tx.Set(MetaKey(name), []byte(value))
	})
}

// SeedSeq raises the in-memory sequence counter above the highest
// sequence persisted so far, so keys minted after a restart can never
// collide with existing rows.
func (s *Store) SeedSeq(ctx context.Context) error {
	var max uint64
	if err := s.Scan(ctx, []byte(msgPrefix), false, func(_, v []byte) (bool, error) {
		var m models.Message
		if err := json.Unmarshal(v, &m); err == nil && m.Seq > max {
			max = m.Seq
		}
		return true, nil
	}); err != nil {
		return err
	}
	if err := s.Scan(ctx, []byte(notifPrefix), false, func(_, v []byte) (bool, error) {
		var n models.Notification
		if err := json.Unmarshal(v, &n); err == nil && n.Seq > max {
			max = n.Seq
		}
		return true, nil
	}); err != nil {
		return err
	}
	for {
		cur := atomic.LoadUint64(&s.seq)
		if cur >= max {
			return nil
		}
		if atomic.CompareAndSwapUint64(&s.seq, cur, max) {
			return nil
		}
	}
}

// --- Users ---

// CreateUser persists a new user record, assigning an ID and creation
// timestamp when absent.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = utils.GenUserID()
	}
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UTC().UnixNano()
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := s.update(func(tx *txn) error {
		return tx.Set(UserKey(u.ID), data)
	}); err != nil {
		logger.Error("save_user_failed", "user", u.ID, "error", err)
		return err
	}
	mutations.WithLabelValues("user_create").Inc()
	logger.Info("user_saved", "user", u.ID)
	return nil
}

// GetUser returns the user record or models.ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	v, ok, err := s.get(UserKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrUserNotFound)
	}
	var u models.User
	if err := json.Unmarshal(v, &u); err != nil {
		return nil, fmt.Errorf("invalid user record: %w", err)
	}
	return &u, nil
}

// UserExists reports whether a user record is present.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.get(UserKey(id))
	return ok, err
}

// DeleteUser removes the user row and then runs the after-user-delete
// hook chain fail-open: the deletion itself has already committed, so
// cleanup failures are logged and left to the consistency sweep.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.update(func(tx *txn) error {
		return tx.Delete(UserKey(id))
	}); err != nil {
		logger.Error("delete_user_failed", "user", id, "error", err)
		return err
	}
	mutations.WithLabelValues("user_delete").Inc()
	logger.Info("user_deleted", "user", id)
	if failed := s.hooks.RunAfterUserDelete(ctx, u); failed > 0 {
		hookFailures.WithLabelValues("after_user_delete").Add(float64(failed))
	}
	return nil
}

// --- Messages ---

// CreateMessage validates the referenced users and parent, writes the
// message plus its index entries in one batch, and then runs the
// after-create hook chain fail-open.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	if ok, err := s.UserExists(ctx, m.Sender); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("sender %s: %w", m.Sender, models.ErrUserNotFound)
	}
	if ok, err := s.UserExists(ctx, m.Receiver); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("receiver %s: %w", m.Receiver, models.ErrUserNotFound)
	}
	if m.Parent != "" {
		if _, err := s.GetMessage(ctx, m.Parent); err != nil {
			return fmt.Errorf("parent: %w", err)
		}
	}
	if m.ID == "" {
		m.ID = utils.GenMessageID()
	}
	if m.TS == 0 {
		m.TS = time.Now().UTC().UnixNano()
	}
	m.Seq = s.nextSeq()
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	err = s.update(func(tx *txn) error {
		if err := tx.Set(MsgKey(m.ID), data); err != nil {
			return err
		}
		if err := tx.Set(RecvIdxKey(m.Receiver, m.TS, m.Seq), []byte(m.ID)); err != nil {
			return err
		}
		if err := tx.Set(SentIdxKey(m.Sender, m.TS, m.Seq), []byte(m.ID)); err != nil {
			return err
		}
		if !m.Read {
			if err := tx.Set(UnreadKey(m.Receiver, m.ID), nil); err != nil {
				return err
			}
		}
		if m.Parent != "" {
			if err := tx.Set(ChildIdxKey(m.Parent, m.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("save_message_failed", "msg", m.ID, "error", err)
		return err
	}
	mutations.WithLabelValues("message_create").Inc()
	logger.Info("message_saved", "msg", m.ID, "sender", m.Sender, "receiver", m.Receiver)
	if failed := s.hooks.RunAfterCreate(ctx, m); failed > 0 {
		hookFailures.WithLabelValues("after_create").Add(float64(failed))
	}
	return nil
}

// GetMessage returns the message or models.ErrMessageNotFound.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	v, ok, err := s.get(MsgKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrMessageNotFound)
	}
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("invalid message record: %w", err)
	}
	return &m, nil
}

// UpdateMessageContent applies a content edit. The before-update hook
// chain runs inside the same batch as the row write and is fail-closed:
// a hook error aborts the edit. The current row is re-read inside the
// batch so concurrent edits compare against the freshest content.
func (s *Store) UpdateMessageContent(ctx context.Context, id, editorID, newContent string) (*models.Message, error) {
	cur, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if editorID != cur.Sender {
		return nil, fmt.Errorf("editor %s: %w", editorID, models.ErrNotSender)
	}
	var next models.Message
	err = s.update(func(tx *txn) error {
		v, ok, err := tx.Get(MsgKey(id))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("message %s: %w", id, models.ErrMessageNotFound)
		}
		var old models.Message
		if err := json.Unmarshal(v, &old); err != nil {
			return fmt.Errorf("invalid message record: %w", err)
		}
		next = old
		next.Content = newContent
		if err := s.hooks.RunBeforeUpdate(ctx, tx, &old, &next); err != nil {
			return err
		}
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return tx.Set(MsgKey(id), data)
	})
	if err != nil {
		return nil, err
	}
	mutations.WithLabelValues("message_update").Inc()
	logger.Info("message_updated", "msg", id, "editor", editorID, "edited", next.Edited)
	return &next, nil
}

// DeleteMessage removes a message, its replies (transitively), and every
// derived row owned by them: index entries, edit history, and any
// notifications that reference them. All deletions share one batch.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	root, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	doomed := []*models.Message{root}
	seen := map[string]struct{}{root.ID: {}}
	frontier := []string{root.ID}
	for len(frontier) > 0 {
		var next []string
		for _, pid := range frontier {
			ids, err := s.ChildIDs(ctx, pid)
			if err != nil {
				return err
			}
			for _, cid := range ids {
				if _, ok := seen[cid]; ok {
					continue
				}
				seen[cid] = struct{}{}
				c, err := s.GetMessage(ctx, cid)
				if err != nil {
					if errors.Is(err, models.ErrMessageNotFound) {
						continue
					}
					return err
				}
				doomed = append(doomed, c)
				next = append(next, cid)
			}
		}
		frontier = next
	}
	err = s.update(func(tx *txn) error {
		for _, m := range doomed {
			if err := s.deleteMessageRows(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("delete_message_failed", "msg", id, "error", err)
		return err
	}
	mutations.WithLabelValues("message_delete").Inc()
	logger.Info("message_deleted", "msg", id, "cascaded", len(doomed)-1)
	return nil
}

// deleteMessageRows stages the removal of one message and all rows keyed
// off it into tx.
func (s *Store) deleteMessageRows(tx *txn, m *models.Message) error {
	if err := tx.Delete(MsgKey(m.ID)); err != nil {
		return err
	}
	if err := tx.Delete(RecvIdxKey(m.Receiver, m.TS, m.Seq)); err != nil {
		return err
	}
	if err := tx.Delete(SentIdxKey(m.Sender, m.TS, m.Seq)); err != nil {
		return err
	}
	if err := tx.Delete(UnreadKey(m.Receiver, m.ID)); err != nil {
		return err
	}
	if m.Parent != "" {
		if err := tx.Delete(ChildIdxKey(m.Parent, m.ID)); err != nil {
			return err
		}
	}
	if err := tx.Scan(HistPrefix(m.ID), false, func(k, _ []byte) (bool, error) {
		return true, tx.Delete(k)
	}); err != nil {
		return err
	}
	// notifications referencing this message
	return tx.Scan(MsgNotifPrefix(m.ID), false, func(k, _ []byte) (bool, error) {
		notifKey := k[len(MsgNotifPrefix(m.ID)):]
		if err := tx.Delete(notifKey); err != nil {
			return false, err
		}
		return true, tx.Delete(k)
	})
}

// MarkMessageRead sets the read flag and clears the unread index entry
// in one batch. Marking an already-read message is a no-op. No hooks run
// for this mutation class.
func (s *Store) MarkMessageRead(ctx context.Context, id string) error {
	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if m.Read {
		return nil
	}
	m.Read = true
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	err = s.update(func(tx *txn) error {
		if err := tx.Set(MsgKey(m.ID), data); err != nil {
			return err
		}
		return tx.Delete(UnreadKey(m.Receiver, m.ID))
	})
	if err != nil {
		return err
	}
	mutations.WithLabelValues("message_mark_read").Inc()
	return nil
}

// MarkAllRead marks every unread message for the receiver as read in one
// batch and returns how many were flipped.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int, error) {
	var ids []string
	prefix := UnreadPrefix(userID)
	if err := s.Scan(ctx, prefix, false, func(k, _ []byte) (bool, error) {
		ids = append(ids, string(k[len(prefix):]))
		return true, nil
	}); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	count := 0
	err := s.update(func(tx *txn) error {
		for _, id := range ids {
			v, ok, err := tx.Get(MsgKey(id))
			if err != nil {
				return err
			}
			if !ok {
				// stale index entry; drop it
				if err := tx.Delete(UnreadKey(userID, id)); err != nil {
					return err
				}
				continue
			}
			var m models.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("invalid message record: %w", err)
			}
			if !m.Read {
				m.Read = true
				data, err := json.Marshal(&m)
				if err != nil {
					return err
				}
				if err := tx.Set(MsgKey(id), data); err != nil {
					return err
				}
				count++
			}
			if err := tx.Delete(UnreadKey(userID, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	mutations.WithLabelValues("message_mark_read").Add(float64(count))
	logger.Info("messages_marked_read", "user", userID, "count", count)
	return count, nil
}
