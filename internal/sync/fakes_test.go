package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/miokidk/astra-sync/internal/remote"
	"github.com/miokidk/astra-sync/internal/session"
)

// fakeRemote is an in-memory row store with the same conditional-write
// semantics as the real one.
type fakeRemote struct {
	mu   stdsync.Mutex
	rows map[uuid.UUID]*remote.Row

	upserts        int
	upsertStarts   int
	selectStarts   int
	selectAborts   int
	selectSinceErr error
	failNextUpsert bool
	deleteErr      error

	// Set before the coordinator starts. A non-nil gate blocks the call
	// until the gate closes or the context is cancelled.
	selectGate chan struct{}
	upsertGate chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: make(map[uuid.UUID]*remote.Row)}
}

func (f *fakeRemote) SelectSince(ctx context.Context, ownerID string, since time.Time) ([]*remote.Row, error) {
	f.mu.Lock()
	f.selectStarts++
	gate := f.selectGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.selectAborts++
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectSinceErr != nil {
		return nil, f.selectSinceErr
	}
	var out []*remote.Row
	for _, r := range f.rows {
		if r.OwnerID == ownerID && r.UpdatedAt.After(since) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRemote) SelectOne(ctx context.Context, ownerID string, id uuid.UUID) (*remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || r.OwnerID != ownerID {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRemote) Upsert(ctx context.Context, row *remote.Row) error {
	f.mu.Lock()
	f.upsertStarts++
	gate := f.upsertGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextUpsert {
		f.failNextUpsert = false
		return remote.ErrVersionConflict
	}
	if existing, ok := f.rows[row.ID]; ok {
		if existing.OwnerID != row.OwnerID || existing.Version != row.Version-1 {
			return remote.ErrVersionConflict
		}
	}
	cp := *row
	f.rows[row.ID] = &cp
	f.upserts++
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if r, ok := f.rows[id]; ok && r.OwnerID == ownerID {
		delete(f.rows, id)
	}
	return nil
}

func (f *fakeRemote) ListIDs(ctx context.Context, ownerID string) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for id, r := range f.rows {
		if r.OwnerID == ownerID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeRemote) row(id uuid.UUID) *remote.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (f *fakeRemote) put(r *remote.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	f.rows[cp.ID] = &cp
}

func (f *fakeRemote) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

func (f *fakeRemote) upsertStartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertStarts
}

func (f *fakeRemote) selectStartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectStarts
}

func (f *fakeRemote) selectAbortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectAborts
}

// fakeBlob is an in-memory asset store.
type fakeBlob struct {
	mu        stdsync.Mutex
	objects   map[string][]byte
	uploads   int
	downloads int
	existsErr error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Exists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.objects[path]
	return ok, nil
}

func (f *fakeBlob) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = append([]byte(nil), data...)
	f.uploads++
	return nil
}

func (f *fakeBlob) Download(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", path)
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeBlob) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// fakeSession is a fixed signed-in (or signed-out) user.
type fakeSession struct {
	userID      string
	signedIn    bool
	events      chan session.Event
	eventsCalls int
}

func newFakeSession(userID string) *fakeSession {
	return &fakeSession{
		userID:   userID,
		signedIn: true,
		events:   make(chan session.Event, 4),
	}
}

func (f *fakeSession) CurrentUserID() (string, bool) {
	return f.userID, f.signedIn
}

func (f *fakeSession) Events() <-chan session.Event {
	f.eventsCalls++
	return f.events
}
