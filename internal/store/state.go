package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miokidk/astra-sync/internal/config"
)

// EngineState is the engine-level sync state persisted across restarts: the
// last successful pull timestamp (so restarts don't re-pull the entire
// history) and the ids still queued for remote deletion.
type EngineState struct {
	BoardsPath       string      `json:"boards_path"`
	OwnerID          string      `json:"owner_id,omitempty"`
	LastPull         *time.Time  `json:"last_pull,omitempty"`
	PendingDeletions []uuid.UUID `json:"pending_deletions,omitempty"`
}

// StateTracker manages persisted engine state
type StateTracker struct {
	state    *EngineState
	filePath string
	mu       sync.RWMutex
	dirty    bool
}

// NewStateTracker creates a state tracker for the given boards directory,
// loading any previously persisted state.
func NewStateTracker(boardsPath string) (*StateTracker, error) {
	stateDir, err := config.GetStateDir()
	if err != nil {
		return nil, err
	}

	// Create a unique state file based on boards path hash
	pathHash := HashString(boardsPath)[:12]
	filePath := filepath.Join(stateDir, "state-"+pathHash+".json")

	st := &StateTracker{
		filePath: filePath,
		state:    &EngineState{BoardsPath: boardsPath},
	}

	// Try to load existing state
	if err := st.load(); err != nil && !os.IsNotExist(err) {
		// Continue with empty state
	}

	// Verify boards path matches
	if st.state.BoardsPath != boardsPath {
		st.state = &EngineState{BoardsPath: boardsPath}
	}

	return st, nil
}

// load reads state from disk
func (st *StateTracker) load() error {
	data, err := os.ReadFile(st.filePath)
	if err != nil {
		return err
	}

	state := &EngineState{}
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}

	st.state = state
	return nil
}

// Save persists state to disk
func (st *StateTracker) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.dirty {
		return nil
	}

	data, err := json.MarshalIndent(st.state, "", "  ")
	if err != nil {
		return err
	}

	if err := writeFileAtomic(st.filePath, data, 0644); err != nil {
		return err
	}

	st.dirty = false
	return nil
}

// Owner returns the user id the persisted state belongs to.
func (st *StateTracker) Owner() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.OwnerID
}

// SetOwner records the user id the state belongs to.
func (st *StateTracker) SetOwner(ownerID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state.OwnerID == ownerID {
		return
	}
	st.state.OwnerID = ownerID
	st.dirty = true
}

// LastPull returns the last successful pull timestamp, zero when no pull has
// succeeded yet.
func (st *StateTracker) LastPull() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.state.LastPull == nil {
		return time.Time{}
	}
	return *st.state.LastPull
}

// SetLastPull updates the last successful pull timestamp
func (st *StateTracker) SetLastPull(t time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.LastPull = &t
	st.dirty = true
}

// PendingDeletions returns the ids still queued for remote deletion.
func (st *StateTracker) PendingDeletions() []uuid.UUID {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]uuid.UUID(nil), st.state.PendingDeletions...)
}

// AddPendingDeletion queues a board id for remote deletion.
func (st *StateTracker) AddPendingDeletion(id uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, existing := range st.state.PendingDeletions {
		if existing == id {
			return
		}
	}
	st.state.PendingDeletions = append(st.state.PendingDeletions, id)
	st.dirty = true
}

// RemovePendingDeletion clears a board id after a confirmed remote delete.
func (st *StateTracker) RemovePendingDeletion(id uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, existing := range st.state.PendingDeletions {
		if existing == id {
			st.state.PendingDeletions = append(st.state.PendingDeletions[:i], st.state.PendingDeletions[i+1:]...)
			st.dirty = true
			return
		}
	}
}

// Clear removes all state except the boards path binding.
func (st *StateTracker) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.OwnerID = ""
	st.state.LastPull = nil
	st.state.PendingDeletions = nil
	st.dirty = true
}
