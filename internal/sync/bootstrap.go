package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/miokidk/astra-sync/internal/board"
)

// Bootstrap downloads every remote board and its assets into the local
// store. For new device setup; existing local boards at the same or newer
// version are left untouched.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	owner, ok := c.session.CurrentUserID()
	if !ok {
		return ErrNotSignedIn
	}
	if c.remote == nil {
		return ErrNotConfigured
	}
	c.adoptOwner(owner)

	slog.Info("bootstrapping local boards from remote", "owner", owner)
	start := time.Now()

	rows, err := c.remote.SelectSince(ctx, owner, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to list remote boards: %w", err)
	}
	if len(rows) == 0 {
		slog.Info("no remote boards to pull")
		return nil
	}

	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetDescription("Pulling boards"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
	)

	pulled := 0
	var newest time.Time
	for _, row := range rows {
		bar.Add(1)

		meta, err := c.local.BoardMeta(row.ID)
		if err != nil {
			slog.Warn("failed to read local meta", "board", row.ID, "error", err)
			continue
		}
		if meta != nil && meta.Version >= row.Version {
			continue
		}

		doc, err := board.Decode(row.Payload)
		if err != nil {
			slog.Warn("skipping undecodable remote board", "board", row.ID, "error", err)
			continue
		}
		if _, err := c.local.Save(doc, false, false); err != nil {
			slog.Error("failed to save board", "board", row.ID, "error", err)
			continue
		}
		if err := c.local.SetVersion(row.ID, row.Version); err != nil {
			slog.Error("failed to record version", "board", row.ID, "error", err)
			continue
		}
		c.assets.PullAssets(ctx, owner, doc)
		pulled++
		if row.UpdatedAt.After(newest) {
			newest = row.UpdatedAt
		}
	}
	bar.Finish()

	if !newest.IsZero() {
		c.state.SetLastPull(newest)
		if err := c.state.Save(); err != nil {
			slog.Warn("failed to save sync state", "error", err)
		}
	}

	slog.Info("bootstrap completed",
		"boards", pulled,
		"duration_s", time.Since(start).Seconds())
	return nil
}
