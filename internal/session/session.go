// Package session tracks the signed-in user. The engine consumes auth as a
// narrow surface: a current user id and signed-in/out events. Session state
// lives in a small JSON file so an external auth flow (or the login/logout
// commands) can flip it while the daemon runs.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventKind distinguishes session transitions.
type EventKind int

const (
	SignedIn EventKind = iota
	SignedOut
)

// Event is one session transition.
type Event struct {
	Kind   EventKind
	UserID string
}

type sessionFile struct {
	UserID string `json:"user_id"`
}

// Manager reads and watches the session file.
type Manager struct {
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu     sync.RWMutex
	userID string
	subs   []chan Event
}

// NewManager creates a manager over the session file in stateDir. The file
// is read immediately; Watch must be called to receive events.
func NewManager(stateDir string) *Manager {
	m := &Manager{
		path:   filepath.Join(stateDir, "session.json"),
		stopCh: make(chan struct{}),
	}
	m.userID = m.readFile()
	return m
}

// CurrentUserID returns the signed-in user id, if any.
func (m *Manager) CurrentUserID() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID, m.userID != ""
}

// Events registers and returns a new subscription to session transitions.
// Each consumer (the daemon, a coordinator) takes one channel and holds it
// for its lifetime; subscriptions are released only by Stop.
func (m *Manager) Events() <-chan Event {
	ch := make(chan Event, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Watch starts observing the session file for external changes.
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create session watcher: %w", err)
	}
	// Watch the directory: the file may not exist yet, and atomic writers
	// replace it by rename.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch session directory: %w", err)
	}
	m.watcher = w

	go m.processEvents()
	return nil
}

// Stop stops watching and closes all subscriber channels.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// SignIn records a user id and emits a SignedIn event.
func (m *Manager) SignIn(userID string) error {
	data, err := json.MarshalIndent(sessionFile{UserID: userID}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	m.apply(userID)
	return nil
}

// SignOut clears the session and emits a SignedOut event.
func (m *Manager) SignOut() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	m.apply("")
	return nil
}

func (m *Manager) processEvents() {
	for {
		select {
		case <-m.stopCh:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(m.path) {
				continue
			}
			m.apply(m.readFile())

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("session watcher error", "error", err)
		}
	}
}

// apply folds a new user id into state, emitting an event on transitions.
func (m *Manager) apply(userID string) {
	m.mu.Lock()
	prev := m.userID
	m.userID = userID
	m.mu.Unlock()

	if prev == userID {
		return
	}
	var ev Event
	if userID == "" {
		ev = Event{Kind: SignedOut, UserID: prev}
		slog.Info("signed out", "user", prev)
	} else {
		ev = Event{Kind: SignedIn, UserID: userID}
		slog.Info("signed in", "user", userID)
	}

	m.mu.RLock()
	subs := append([]chan Event(nil), m.subs...)
	m.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; it will re-read current state anyway.
		}
	}
}

func (m *Manager) readFile() string {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return ""
	}
	sf := sessionFile{}
	if err := json.Unmarshal(data, &sf); err != nil {
		return ""
	}
	return sf.UserID
}
