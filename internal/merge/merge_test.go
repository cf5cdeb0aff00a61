package merge

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/miokidk/astra-sync/internal/board"
)

func textEntry(id string, created, updated int64, text string) board.Entry {
	return board.Entry{
		ID:        id,
		Kind:      board.KindText,
		CreatedAt: created,
		UpdatedAt: updated,
		Data:      board.EntryData{Text: text},
	}
}

func TestMerge_UnionWithTimestampWinner(t *testing.T) {
	id := uuid.New()

	local := &board.Board{
		ID:    id,
		Title: "Plans",
		Entries: map[string]board.Entry{
			"A": textEntry("A", 1, 10, "local A"),
			"B": textEntry("B", 2, 5, "local B"),
		},
		ZOrder:    []string{"A", "B"},
		CreatedAt: 100,
		UpdatedAt: 110,
	}
	remote := &board.Board{
		ID:    id,
		Title: "Plans",
		Entries: map[string]board.Entry{
			"A": textEntry("A", 1, 8, "remote A"),
			"C": textEntry("C", 3, 12, "remote C"),
		},
		ZOrder:    []string{"A", "C"},
		CreatedAt: 100,
		UpdatedAt: 112,
	}

	merged := Merge(local, remote)

	if len(merged.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(merged.Entries))
	}
	if merged.Entries["A"].Data.Text != "local A" {
		t.Errorf("expected local A to win (10 > 8), got %q", merged.Entries["A"].Data.Text)
	}
	if merged.Entries["B"].Data.Text != "local B" {
		t.Errorf("expected local-only B to survive, got %q", merged.Entries["B"].Data.Text)
	}
	if merged.Entries["C"].Data.Text != "remote C" {
		t.Errorf("expected remote-only C to survive, got %q", merged.Entries["C"].Data.Text)
	}
}

func TestMerge_TieGoesToLocal(t *testing.T) {
	id := uuid.New()
	local := &board.Board{
		ID:      id,
		Entries: map[string]board.Entry{"A": textEntry("A", 1, 10, "local")},
	}
	remote := &board.Board{
		ID:      id,
		Entries: map[string]board.Entry{"A": textEntry("A", 1, 10, "remote")},
	}

	merged := Merge(local, remote)

	if merged.Entries["A"].Data.Text != "local" {
		t.Errorf("expected local to win the tie, got %q", merged.Entries["A"].Data.Text)
	}
}

func TestMerge_ZOrderCoversAllEntriesOnce(t *testing.T) {
	id := uuid.New()
	local := &board.Board{
		ID: id,
		Entries: map[string]board.Entry{
			"A": textEntry("A", 1, 1, ""),
			"B": textEntry("B", 2, 2, ""),
		},
		ZOrder: []string{"A", "B"},
	}
	remote := &board.Board{
		ID: id,
		Entries: map[string]board.Entry{
			"A": textEntry("A", 1, 1, ""),
			"C": textEntry("C", 3, 3, ""),
		},
		ZOrder: []string{"C", "A"},
	}

	merged := Merge(local, remote)

	seen := make(map[string]int)
	for _, eid := range merged.ZOrder {
		seen[eid]++
		if _, ok := merged.Entries[eid]; !ok {
			t.Errorf("z-order references missing entry %q", eid)
		}
	}
	for eid := range merged.Entries {
		if seen[eid] != 1 {
			t.Errorf("entry %q appears %d times in z-order, expected 1", eid, seen[eid])
		}
	}
	// Remote order leads.
	if merged.ZOrder[0] != "C" || merged.ZOrder[1] != "A" {
		t.Errorf("expected remote order [C A ...] first, got %v", merged.ZOrder)
	}
}

func TestMerge_Timestamps(t *testing.T) {
	id := uuid.New()
	local := &board.Board{ID: id, Entries: map[string]board.Entry{}, CreatedAt: 50, UpdatedAt: 200}
	remote := &board.Board{ID: id, Entries: map[string]board.Entry{}, CreatedAt: 40, UpdatedAt: 180}

	merged := Merge(local, remote)

	if merged.CreatedAt != 40 {
		t.Errorf("expected min created_at 40, got %d", merged.CreatedAt)
	}
	if merged.UpdatedAt != 200 {
		t.Errorf("expected max updated_at 200, got %d", merged.UpdatedAt)
	}
}

func TestMerge_DeviceLocalFieldsPinned(t *testing.T) {
	id := uuid.New()
	local := &board.Board{
		ID:       id,
		Entries:  map[string]board.Entry{},
		Viewport: board.Viewport{OffsetX: 10, OffsetY: 20, Zoom: 1.5},
		UI:       json.RawMessage(`{"sidebar":"open"}`),
	}
	remote := &board.Board{
		ID:       id,
		Entries:  map[string]board.Entry{},
		Viewport: board.Viewport{OffsetX: 999, Zoom: 4},
		UI:       json.RawMessage(`{"sidebar":"closed"}`),
	}

	merged := Merge(local, remote)

	if merged.Viewport != local.Viewport {
		t.Errorf("expected local viewport, got %+v", merged.Viewport)
	}
	if string(merged.UI) != `{"sidebar":"open"}` {
		t.Errorf("expected local UI state, got %s", merged.UI)
	}
}

func TestMerge_RemoteTitleWins(t *testing.T) {
	// The remote snapshot is the base, so shared scalar fields like the
	// title follow the remote copy.
	id := uuid.New()
	local := &board.Board{ID: id, Title: "Old Name", Entries: map[string]board.Entry{}}
	remote := &board.Board{ID: id, Title: "New Name", Entries: map[string]board.Entry{}}

	merged := Merge(local, remote)

	if merged.Title != "New Name" {
		t.Errorf("expected remote title, got %q", merged.Title)
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	id := uuid.New()
	local := &board.Board{
		ID:      id,
		Entries: map[string]board.Entry{"A": textEntry("A", 1, 10, "local")},
		ZOrder:  []string{"A"},
	}
	remote := &board.Board{
		ID:      id,
		Entries: map[string]board.Entry{"B": textEntry("B", 2, 5, "remote")},
		ZOrder:  []string{"B"},
	}

	merged := Merge(local, remote)
	merged.Entries["Z"] = textEntry("Z", 9, 9, "new")

	if len(local.Entries) != 1 || len(remote.Entries) != 1 {
		t.Error("merge mutated an input board")
	}
}

func TestConflictedCopy(t *testing.T) {
	orig := &board.Board{
		ID:    uuid.New(),
		Title: "Roadmap",
		Entries: map[string]board.Entry{
			"A": textEntry("A", 1, 1, "keep me"),
		},
		ZOrder: []string{"A"},
	}

	c := ConflictedCopy(orig)

	if c.ID == orig.ID {
		t.Error("expected a fresh id for the conflicted copy")
	}
	if c.Title != "Roadmap (Conflicted copy)" {
		t.Errorf("unexpected title %q", c.Title)
	}
	if c.Entries["A"].Data.Text != "keep me" {
		t.Error("expected entries to be carried over")
	}

	// Deep copies: mutating the copy must not touch the original.
	c.Entries["B"] = textEntry("B", 2, 2, "added")
	c.ZOrder = append(c.ZOrder, "B")
	if len(orig.Entries) != 1 || len(orig.ZOrder) != 1 {
		t.Error("conflicted copy shares storage with the original")
	}
}
