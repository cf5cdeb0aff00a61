package session

import (
	"testing"
	"time"
)

func TestManager_SignInSignOut(t *testing.T) {
	m := NewManager(t.TempDir())

	if _, ok := m.CurrentUserID(); ok {
		t.Fatal("expected no signed-in user initially")
	}

	if err := m.SignIn("dev-laptop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user, ok := m.CurrentUserID()
	if !ok || user != "dev-laptop" {
		t.Errorf("expected user dev-laptop, got %q (signed in: %v)", user, ok)
	}

	if err := m.SignOut(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.CurrentUserID(); ok {
		t.Error("expected no signed-in user after sign-out")
	}
}

func TestManager_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	m1 := NewManager(dir)
	if err := m1.SignIn("dev-laptop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m2 := NewManager(dir)
	user, ok := m2.CurrentUserID()
	if !ok || user != "dev-laptop" {
		t.Errorf("expected persisted session, got %q (signed in: %v)", user, ok)
	}
}

func TestManager_EventsOnTransition(t *testing.T) {
	m := NewManager(t.TempDir())
	events := m.Events()

	if err := m.SignIn("dev-laptop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != SignedIn || ev.UserID != "dev-laptop" {
			t.Errorf("expected SignedIn for dev-laptop, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SignedIn event")
	}

	// Re-signing in as the same user is not a transition
	if err := m.SignIn("dev-laptop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case ev := <-events:
		t.Errorf("expected no event for a repeated sign-in, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.SignOut(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Kind != SignedOut || ev.UserID != "dev-laptop" {
			t.Errorf("expected SignedOut for dev-laptop, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SignedOut event")
	}
}

func TestManager_EachSubscriberGetsEvents(t *testing.T) {
	m := NewManager(t.TempDir())
	a := m.Events()
	b := m.Events()

	if err := m.SignIn("dev-laptop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Kind != SignedIn {
				t.Errorf("subscriber %s: expected SignedIn, got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Errorf("subscriber %s: timed out waiting for event", name)
		}
	}
}

func TestManager_WatchDetectsExternalWrite(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(dir)
	if err := m.Watch(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Stop()
	events := m.Events()

	// Another process (the login command) writes the session file
	other := NewManager(dir)
	if err := other.SignIn("dev-laptop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != SignedIn || ev.UserID != "dev-laptop" {
			t.Errorf("expected SignedIn for dev-laptop, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watched sign-in")
	}

	user, ok := m.CurrentUserID()
	if !ok || user != "dev-laptop" {
		t.Errorf("expected watcher to update current user, got %q (signed in: %v)", user, ok)
	}
}
