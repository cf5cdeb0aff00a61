// Package merge combines a local and a remote snapshot of the same board
// into one document. The functions here are pure: no I/O, deterministic for
// a given pair of inputs, safe to call from any goroutine.
package merge

import (
	"github.com/google/uuid"

	"github.com/miokidk/astra-sync/internal/board"
)

// Merge resolves concurrent edits between a local and a remote snapshot of
// the same board.
//
// The result starts from the remote snapshot, so additions made by newer
// schema revisions on other devices survive. Entries are unioned by id; when
// both sides carry an entry, the one with the greater UpdatedAt wins and ties
// go to local (the merge runs in response to a local push attempt). Deletion
// is represented by absence, so an entry removed on one side while untouched
// on the other is resurrected; see ConflictedCopy for the decode-failure
// fallback.
func Merge(local, remote *board.Board) *board.Board {
	merged := *remote
	merged.Entries = make(map[string]board.Entry, len(remote.Entries))

	for id, e := range remote.Entries {
		merged.Entries[id] = e
	}
	for id, le := range local.Entries {
		re, ok := merged.Entries[id]
		if !ok || le.UpdatedAt >= re.UpdatedAt {
			merged.Entries[id] = le
		}
	}

	merged.ZOrder = mergeZOrder(local.ZOrder, remote.ZOrder, merged.Entries)

	merged.CreatedAt = min64(local.CreatedAt, remote.CreatedAt)
	merged.UpdatedAt = max64(local.UpdatedAt, remote.UpdatedAt)

	// Device-local fields are never taken from remote.
	merged.Viewport = local.Viewport
	merged.UI = local.UI

	return &merged
}

// mergeZOrder builds the merged paint order: remote order first (filtered to
// surviving entries), then local-only ids in local order, then any ids still
// unplaced sorted by CreatedAt so concurrent additions land deterministically.
func mergeZOrder(local, remote []string, entries map[string]board.Entry) []string {
	out := make([]string, 0, len(entries))
	placed := make(map[string]bool, len(entries))

	for _, id := range remote {
		if _, ok := entries[id]; ok && !placed[id] {
			placed[id] = true
			out = append(out, id)
		}
	}
	for _, id := range local {
		if _, ok := entries[id]; ok && !placed[id] {
			placed[id] = true
			out = append(out, id)
		}
	}
	// Entries added concurrently on both sides without a recorded order.
	remaining := make(map[string]board.Entry)
	for id, e := range entries {
		if !placed[id] {
			remaining[id] = e
		}
	}
	return append(out, board.NormalizeZOrder(nil, remaining)...)
}

// ConflictedCopy is the last-resort no-data-loss fallback: when the remote
// payload cannot be decoded and a blind overwrite would lose local edits, the
// local document is preserved as a brand-new board. The copy gets a fresh id
// (never reused) and starts at version 0, to be pushed as a new row.
func ConflictedCopy(local *board.Board) *board.Board {
	c := *local
	c.ID = uuid.New()
	c.Title = local.Title + " (Conflicted copy)"
	c.Entries = make(map[string]board.Entry, len(local.Entries))
	for id, e := range local.Entries {
		c.Entries[id] = e
	}
	c.ZOrder = append([]string(nil), local.ZOrder...)
	return &c
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
