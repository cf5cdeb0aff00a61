package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStateTracker_PersistenceRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	boardsPath := t.TempDir()

	st, err := NewStateTracker(boardsPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pullTime := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	st.SetLastPull(pullTime)

	id := uuid.New()
	st.AddPendingDeletion(id)

	if err := st.Save(); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	// A fresh tracker for the same boards path loads the persisted state
	st2, err := NewStateTracker(boardsPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !st2.LastPull().Equal(pullTime) {
		t.Errorf("expected last pull %v, got %v", pullTime, st2.LastPull())
	}
	pending := st2.PendingDeletions()
	if len(pending) != 1 || pending[0] != id {
		t.Errorf("expected pending deletion %s, got %v", id, pending)
	}
}

func TestStateTracker_FreshState(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	st, err := NewStateTracker(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !st.LastPull().IsZero() {
		t.Errorf("expected zero last pull, got %v", st.LastPull())
	}
	if len(st.PendingDeletions()) != 0 {
		t.Errorf("expected no pending deletions, got %v", st.PendingDeletions())
	}
}

func TestStateTracker_PendingDeletionDedup(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	st, err := NewStateTracker(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id := uuid.New()
	st.AddPendingDeletion(id)
	st.AddPendingDeletion(id)

	if got := st.PendingDeletions(); len(got) != 1 {
		t.Errorf("expected 1 pending deletion, got %d", len(got))
	}

	st.RemovePendingDeletion(id)
	if got := st.PendingDeletions(); len(got) != 0 {
		t.Errorf("expected no pending deletions after removal, got %v", got)
	}

	// Removing an id that was never queued is a no-op
	st.RemovePendingDeletion(uuid.New())
}

func TestStateTracker_OwnerAndClear(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	boardsPath := t.TempDir()

	st, err := NewStateTracker(boardsPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Owner() != "" {
		t.Errorf("expected no owner initially, got %q", st.Owner())
	}

	st.SetOwner("dev-laptop")
	st.SetLastPull(time.Now())
	st.AddPendingDeletion(uuid.New())
	if err := st.Save(); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	st2, err := NewStateTracker(boardsPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st2.Owner() != "dev-laptop" {
		t.Errorf("expected persisted owner, got %q", st2.Owner())
	}

	st2.Clear()
	if st2.Owner() != "" || !st2.LastPull().IsZero() || len(st2.PendingDeletions()) != 0 {
		t.Error("expected Clear to reset owner, last pull, and pending deletions")
	}
}

func TestStateTracker_SeparateStatePerBoardsPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	pathA := t.TempDir()
	pathB := t.TempDir()

	stA, err := NewStateTracker(pathA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stA.SetLastPull(time.Now())
	if err := stA.Save(); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	stB, err := NewStateTracker(pathB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stB.LastPull().IsZero() {
		t.Error("expected state from a different boards path to be empty")
	}
}
