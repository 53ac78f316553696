package hooks

import (
	"context"
	"sync"

	"inboxd/pkg/logger"
	"inboxd/pkg/models"
)

// Tx is the slice of a store write batch exposed to fail-closed hooks so
// their writes commit or abort together with the triggering mutation.
type Tx interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	// Get returns the value and whether the key exists.
	Get(key []byte) ([]byte, bool, error)
	// Scan iterates keys under prefix in key order (reverse when asked)
	// until fn returns false or an error.
	Scan(prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) error
}

// MessageUpdateHook runs before an updated message row is persisted. It
// may mutate next in place and may write derived rows through tx; an
// error aborts the whole mutation.
type MessageUpdateHook interface {
	Name() string
	BeforeUpdate(ctx context.Context, tx Tx, old, next *models.Message) error
}

// MessageCreateHook runs after a new message has been durably written.
// Errors are logged and never fail the creation.
type MessageCreateHook interface {
	Name() string
	AfterCreate(ctx context.Context, m *models.Message) error
}

// UserDeleteHook runs after a user row has been removed. Errors are
// logged; repair is left to the consistency sweep.
type UserDeleteHook interface {
	Name() string
	AfterDelete(ctx context.Context, u *models.User) error
}

// Dispatcher holds the ordered hook chains for the store's mutation
// points. Hooks run synchronously in registration order and can be
// suppressed individually by name, which lets tests exercise the primary
// mutation path without derived-state side effects.
type Dispatcher struct {
	mu           sync.RWMutex
	beforeUpdate []MessageUpdateHook
	afterCreate  []MessageCreateHook
	afterDelete  []UserDeleteHook
	suppressed   map[string]struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{suppressed: make(map[string]struct{})}
}

// OnMessageUpdate appends h to the before-update chain.
func (d *Dispatcher) OnMessageUpdate(h MessageUpdateHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beforeUpdate = append(d.beforeUpdate, h)
}

// OnMessageCreate appends h to the after-create chain.
func (d *Dispatcher) OnMessageCreate(h MessageCreateHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.afterCreate = append(d.afterCreate, h)
}

// OnUserDelete appends h to the after-user-delete chain.
func (d *Dispatcher) OnUserDelete(h UserDeleteHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.afterDelete = append(d.afterDelete, h)
}

// Suppress disables the named hook until Resume is called. Registration
// order is preserved across suppress/resume cycles.
func (d *Dispatcher) Suppress(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suppressed[name] = struct{}{}
}

// Resume re-enables a suppressed hook.
func (d *Dispatcher) Resume(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.suppressed, name)
}

func (d *Dispatcher) isSuppressed(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.suppressed[name]
	return ok
}

// RunBeforeUpdate runs the before-update chain fail-closed: the first
// hook error aborts and is returned to the caller.
func (d *Dispatcher) RunBeforeUpdate(ctx context.Context, tx Tx, old, next *models.Message) error {
	d.mu.RLock()
	chain := append([]MessageUpdateHook(nil), d.beforeUpdate...)
	d.mu.RUnlock()
	for _, h := range chain {
		if d.isSuppressed(h.Name()) {
			continue
		}
		if err := h.BeforeUpdate(ctx, tx, old, next); err != nil {
			return err
		}
	}
	return nil
}

// RunAfterCreate runs the after-create chain fail-open. It returns the
// number of hooks that failed; failures are logged, never propagated.
func (d *Dispatcher) RunAfterCreate(ctx context.Context, m *models.Message) int {
	d.mu.RLock()
	chain := append([]MessageCreateHook(nil), d.afterCreate...)
	d.mu.RUnlock()
	failed := 0
	for _, h := range chain {
		if d.isSuppressed(h.Name()) {
			continue
		}
		if err := h.AfterCreate(ctx, m); err != nil {
			failed++
			logger.Error("hook_failed", "hook", h.Name(), "point", "after_create", "msg", m.ID, "error", err)
		}
	}
	return failed
}

// RunAfterUserDelete runs the after-user-delete chain fail-open.
func (d *Dispatcher) RunAfterUserDelete(ctx context.Context, u *models.User) int {
	d.mu.RLock()
	chain := append([]UserDeleteHook(nil), d.afterDelete...)
	d.mu.RUnlock()
	failed := 0
	for _, h := range chain {
		if d.isSuppressed(h.Name()) {
			continue
		}
		if err := h.AfterDelete(ctx, u); err != nil {
			failed++
			logger.Error("hook_failed", "hook", h.Name(), "point", "after_user_delete", "user", u.ID, "error", err)
		}
	}
	return failed
}
