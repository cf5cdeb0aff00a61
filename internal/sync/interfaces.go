package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/miokidk/astra-sync/internal/board"
	"github.com/miokidk/astra-sync/internal/remote"
	"github.com/miokidk/astra-sync/internal/session"
)

// LocalStore is the slice of the on-disk store the coordinator depends on.
// *store.Store satisfies it.
type LocalStore interface {
	Load(id uuid.UUID) (*board.Board, error)
	LoadIfExists(id uuid.UUID) (*board.Board, error)
	Save(b *board.Board, markDirty, updateActive bool) (bool, error)
	SaveMerged(b *board.Board, version int64) error
	ListBoards() ([]*board.Meta, error)
	ListDirtyBoards() ([]*board.Meta, error)
	BoardMeta(id uuid.UUID) (*board.Meta, error)
	SetVersion(id uuid.UUID, v int64) error
	NoteExternalWrite(id uuid.UUID) (bool, error)
	Delete(id uuid.UUID) error

	AssetExists(filename string) bool
	SaveAsset(filename string, data []byte) error
	OpenAsset(filename string) ([]byte, error)
}

// RemoteStore is the narrow contract of the remote row store. *remote.Store
// satisfies it. Upsert must be conditional on version and return
// remote.ErrVersionConflict when the write raced another device.
type RemoteStore interface {
	SelectSince(ctx context.Context, ownerID string, since time.Time) ([]*remote.Row, error)
	SelectOne(ctx context.Context, ownerID string, id uuid.UUID) (*remote.Row, error)
	Upsert(ctx context.Context, row *remote.Row) error
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
	ListIDs(ctx context.Context, ownerID string) ([]uuid.UUID, error)
}

// BlobStore is the asset side of the remote store. *blob.Store satisfies it.
type BlobStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// Session supplies the current user and sign-in/out events. *session.Manager
// satisfies it.
type Session interface {
	CurrentUserID() (string, bool)
	Events() <-chan session.Event
}
