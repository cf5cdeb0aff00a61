package remote

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrVersionConflict is returned by Upsert when the conditional write
// matched no row: another device already claimed the version the write was
// based on. The caller is expected to re-pull the row and merge.
var ErrVersionConflict = errors.New("board version conflict")

// SelectSince returns all of an owner's rows updated after the given
// timestamp, ordered ascending by updated_at.
func (s *Store) SelectSince(ctx context.Context, ownerID string, since time.Time) ([]*Row, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, owner_id, title, payload, version, updated_at
		FROM boards
		WHERE owner_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC
	`, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r := &Row{}
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Payload, &r.Version, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SelectOne returns a single row by id, or nil when the owner has no such
// board.
func (s *Store) SelectOne(ctx context.Context, ownerID string, id uuid.UUID) (*Row, error) {
	r := &Row{}
	err := s.Pool.QueryRow(ctx, `
		SELECT id, owner_id, title, payload, version, updated_at
		FROM boards
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id).Scan(&r.ID, &r.OwnerID, &r.Title, &r.Payload, &r.Version, &r.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Upsert writes a row whose version must be exactly one greater than the
// stored version (or 1 for a new row). The check and the write are a single
// statement, so two devices racing on the same base version cannot both
// succeed; the loser gets ErrVersionConflict.
func (s *Store) Upsert(ctx context.Context, row *Row) error {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO boards (id, owner_id, title, payload, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			payload = EXCLUDED.payload,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE boards.owner_id = EXCLUDED.owner_id
		  AND boards.version = EXCLUDED.version - 1
	`, row.ID, row.OwnerID, row.Title, row.Payload, row.Version, row.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Delete removes a row. Deleting a row that is already gone is not an error.
func (s *Store) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	_, err := s.Pool.Exec(ctx,
		"DELETE FROM boards WHERE owner_id = $1 AND id = $2", ownerID, id)
	return err
}

// ListIDs returns every board id the owner has remotely. Used to detect
// boards deleted by another device.
func (s *Store) ListIDs(ctx context.Context, ownerID string) ([]uuid.UUID, error) {
	rows, err := s.Pool.Query(ctx,
		"SELECT id FROM boards WHERE owner_id = $1", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
