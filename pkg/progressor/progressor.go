// Package progressor performs upgrade work between binary versions at
// startup. Steps must be idempotent; the stored version marker only
// records the last binary that completed them.
package progressor

import (
	"context"

	"inboxd/pkg/logger"
	"inboxd/pkg/store"
)

const versionKey = "version"

// Sync runs the startup migration steps and records the running version.
func Sync(ctx context.Context, s *store.Store, version string) error {
	from, _, err := s.GetMeta(ctx, versionKey)
	if err != nil {
		return err
	}
	logger.Info("progressor_sync_start", "from", from, "to", version)

	// Re-seed the sequence counter from persisted rows so keys minted by
	// this process never collide with rows written before the restart.
	if err := s.SeedSeq(ctx); err != nil {
		logger.Error("progressor_seed_seq_failed", "error", err)
		return err
	}

	if from != version {
		if err := s.SetMeta(ctx, versionKey, version); err != nil {
			logger.Error("progressor_set_version_failed", "error", err)
			return err
		}
	}
	logger.Info("progressor_sync_done", "version", version)
	return nil
}
