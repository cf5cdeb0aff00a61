package remote

import (
	"time"

	"github.com/google/uuid"
)

// Row is the remote-side representation of one board. The payload is the
// serialized document, opaque to the store.
type Row struct {
	ID        uuid.UUID `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Title     string    `db:"title"`
	Payload   []byte    `db:"payload"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Status summarizes the remote store for the status command.
type Status struct {
	Connected    bool
	TotalBoards  int
	LastUpdateAt *time.Time
}
