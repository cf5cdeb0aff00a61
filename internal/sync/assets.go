package sync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/miokidk/astra-sync/internal/board"
)

// AssetSynchronizer keeps the binary assets a board references present on
// both sides. Filenames are content-addressed by a random id assigned at
// creation, so a filename that exists anywhere always carries the right
// bytes and transfers are skippable by existence checks alone.
type AssetSynchronizer struct {
	local   LocalStore
	blob    BlobStore
	maxSize int64

	mu        sync.Mutex
	confirmed map[string]bool          // filenames confirmed present remotely
	inflight  map[string]chan struct{} // at most one download task per filename
}

// NewAssetSynchronizer creates an asset synchronizer. maxSizeMB bounds a
// single upload; zero means no bound.
func NewAssetSynchronizer(local LocalStore, blob BlobStore, maxSizeMB int) *AssetSynchronizer {
	return &AssetSynchronizer{
		local:     local,
		blob:      blob,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		confirmed: make(map[string]bool),
		inflight:  make(map[string]chan struct{}),
	}
}

// assetPath is the remote key for an owner's asset.
func assetPath(ownerID, filename string) string {
	return ownerID + "/" + filename
}

// PushAssets ensures every asset the board references exists remotely,
// uploading from the local blob where needed. It runs before the board's row
// is upserted so the row never references assets the remote doesn't have;
// any failed upload fails the board's push. Returns the number of uploads
// performed.
func (a *AssetSynchronizer) PushAssets(ctx context.Context, ownerID string, b *board.Board) (int, error) {
	uploads := 0
	for filename := range b.RequiredAssets() {
		if a.isConfirmed(filename) {
			continue
		}

		path := assetPath(ownerID, filename)
		exists, err := a.blob.Exists(ctx, path)
		if err != nil {
			if isCancellation(err) {
				return uploads, err
			}
			// Unknown state: attempt the upload anyway, it is idempotent.
			slog.Debug("asset existence check failed, uploading", "filename", filename, "error", err)
		}
		if exists {
			a.setConfirmed(filename)
			continue
		}

		if !a.local.AssetExists(filename) {
			// Referenced but never materialized locally; nothing to send.
			slog.Warn("asset referenced but missing locally", "filename", filename, "board", b.ID)
			continue
		}
		data, err := a.local.OpenAsset(filename)
		if err != nil {
			return uploads, err
		}
		if a.maxSize > 0 && int64(len(data)) > a.maxSize {
			slog.Warn("asset too large, skipping upload",
				"filename", filename,
				"size_mb", int64(len(data))/(1024*1024))
			continue
		}

		contentType := http.DetectContentType(data)
		if err := a.blob.Upload(ctx, path, data, contentType); err != nil {
			return uploads, fmt.Errorf("failed to push asset %s: %w", filename, err)
		}
		a.setConfirmed(filename)
		uploads++
		slog.Info("asset uploaded", "filename", filename, "board", b.ID)
	}
	return uploads, nil
}

// PullAssets downloads any referenced asset not yet present locally. A
// failed download is logged and simply retried the next time a cycle touches
// a board referencing the same filename.
func (a *AssetSynchronizer) PullAssets(ctx context.Context, ownerID string, b *board.Board) {
	for filename := range b.RequiredAssets() {
		if a.local.AssetExists(filename) {
			continue
		}
		if err := a.download(ctx, ownerID, filename); err != nil {
			if isCancellation(err) {
				return
			}
			slog.Warn("asset download failed", "filename", filename, "board", b.ID, "error", err)
		}
	}
}

// RequestDownload fetches a single asset on demand, outside the main cycle,
// for lazy loading. Concurrent requests for the same filename share one
// in-flight task.
func (a *AssetSynchronizer) RequestDownload(ctx context.Context, ownerID, filename string) error {
	if a.local.AssetExists(filename) {
		return nil
	}
	return a.download(ctx, ownerID, filename)
}

// download transfers one asset, deduplicating concurrent callers per
// filename: the first caller does the work, the rest wait for it.
func (a *AssetSynchronizer) download(ctx context.Context, ownerID, filename string) error {
	a.mu.Lock()
	if ch, ok := a.inflight[filename]; ok {
		a.mu.Unlock()
		select {
		case <-ch:
			if a.local.AssetExists(filename) {
				return nil
			}
			return fmt.Errorf("download of %s did not complete", filename)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch := make(chan struct{})
	a.inflight[filename] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.inflight, filename)
		a.mu.Unlock()
		close(ch)
	}()

	data, err := a.blob.Download(ctx, assetPath(ownerID, filename))
	if err != nil {
		return err
	}
	if err := a.local.SaveAsset(filename, data); err != nil {
		return err
	}
	a.setConfirmed(filename) // it exists remotely, we just fetched it
	slog.Info("asset downloaded", "filename", filename, "bytes", len(data))
	return nil
}

func (a *AssetSynchronizer) isConfirmed(filename string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.confirmed[filename]
}

func (a *AssetSynchronizer) setConfirmed(filename string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirmed[filename] = true
}
