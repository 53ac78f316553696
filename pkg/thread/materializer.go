// Package thread materializes conversation threads from the parent
// pointers stored on messages. Materialization is a pure read: calling
// it twice yields the same slice and writes nothing.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"inboxd/pkg/models"
	"inboxd/pkg/store"
)

// Materializer resolves any message in a thread to the full conversation
// rooted at its topmost ancestor.
type Materializer struct {
	store    *store.Store
	maxDepth int
}

func NewMaterializer(s *store.Store, maxDepth int) *Materializer {
	return &Materializer{store: s, maxDepth: maxDepth}
}

// Thread returns the thread containing msgID: the root first, then every
// descendant ordered by timestamp (sequence as tiebreak). Chains nested
// past the depth bound fail with models.ErrThreadTooDeep.
func (t *Materializer) Thread(ctx context.Context, msgID string) ([]*models.Message, error) {
	root, err := t.root(ctx, msgID)
	if err != nil {
		return nil, err
	}
	msgs := []*models.Message{root}
	seen := map[string]struct{}{root.ID: {}}
	frontier := []string{root.ID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth > t.maxDepth {
			return nil, fmt.Errorf("thread for %s: %w", msgID, models.ErrThreadTooDeep)
		}
		var next []string
		for _, pid := range frontier {
			ids, err := t.store.ChildIDs(ctx, pid)
			if err != nil {
				return nil, err
			}
			for _, cid := range ids {
				if _, ok := seen[cid]; ok {
					continue
				}
				seen[cid] = struct{}{}
				m, err := t.store.GetMessage(ctx, cid)
				if err != nil {
					if errors.Is(err, models.ErrMessageNotFound) {
						// dangling child index entry
						continue
					}
					return nil, err
				}
				msgs = append(msgs, m)
				next = append(next, cid)
			}
		}
		frontier = next
	}
	tail := msgs[1:]
	sort.SliceStable(tail, func(i, j int) bool {
		if tail[i].TS != tail[j].TS {
			return tail[i].TS < tail[j].TS
		}
		return tail[i].Seq < tail[j].Seq
	})
	return msgs, nil
}

// root walks parent pointers upward to the thread root, bounding the
// walk so a cycle or an over-deep chain fails instead of spinning.
func (t *Materializer) root(ctx context.Context, msgID string) (*models.Message, error) {
	m, err := t.store.GetMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{m.ID: {}}
	for depth := 0; m.Parent != ""; depth++ {
		if depth >= t.maxDepth {
			return nil, fmt.Errorf("thread for %s: %w", msgID, models.ErrThreadTooDeep)
		}
		p, err := t.store.GetMessage(ctx, m.Parent)
		if err != nil {
			if errors.Is(err, models.ErrMessageNotFound) {
				// parent already deleted; treat this message as the root
				return m, nil
			}
			return nil, err
		}
		if _, ok := seen[p.ID]; ok {
			return nil, fmt.Errorf("thread for %s: parent cycle: %w", msgID, models.ErrThreadTooDeep)
		}
		seen[p.ID] = struct{}{}
		m = p
	}
	return m, nil
}
