// Package store is the local durable side of the sync engine: board
// documents as JSON files, per-board sync metadata in sidecar files, and
// asset blobs in a flat content-addressed directory. All writes go through
// write-temp-then-rename so concurrent readers (the editor's own file
// notifier included) never observe a half-written document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/miokidk/astra-sync/internal/board"
)

const (
	boardExt  = ".json"
	metaExt   = ".meta.json"
	assetsDir = "assets"
)

// Store reads and writes boards, metadata, and assets under a single root
// directory.
type Store struct {
	root string
}

// Open prepares a store rooted at dir, creating the assets subdirectory if
// needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, assetsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// BoardPath returns the on-disk path of a board document.
func (s *Store) BoardPath(id uuid.UUID) string {
	return filepath.Join(s.root, id.String()+boardExt)
}

func (s *Store) metaPath(id uuid.UUID) string {
	return filepath.Join(s.root, id.String()+metaExt)
}

// Load reads a board document by id.
func (s *Store) Load(id uuid.UUID) (*board.Board, error) {
	data, err := os.ReadFile(s.BoardPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read board %s: %w", id, err)
	}
	return board.Decode(data)
}

// LoadIfExists reads a board document, returning nil (no error) when the
// board is not present locally.
func (s *Store) LoadIfExists(id uuid.UUID) (*board.Board, error) {
	b, err := s.Load(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// Save writes a board document and updates its metadata. markDirty flags the
// board for the next push; the return value reports whether the flag
// transitioned from clean to dirty by this call. updateActive records the
// board as the most recently touched one.
func (s *Store) Save(b *board.Board, markDirty, updateActive bool) (bool, error) {
	data, err := board.Encode(b)
	if err != nil {
		return false, err
	}
	if err := writeFileAtomic(s.BoardPath(b.ID), data, 0644); err != nil {
		return false, fmt.Errorf("failed to write board %s: %w", b.ID, err)
	}

	meta, err := s.BoardMeta(b.ID)
	if err != nil {
		return false, err
	}
	if meta == nil {
		meta = &board.Meta{ID: b.ID, CreatedAt: b.CreatedAt}
	}
	meta.Title = b.Title
	meta.UpdatedAt = b.UpdatedAt
	meta.Hash = HashContent(data)

	dirtySet := markDirty && !meta.IsDirty
	if markDirty {
		meta.IsDirty = true
	}

	if err := s.writeMeta(meta); err != nil {
		return false, err
	}

	if updateActive {
		s.touchActive(b.ID)
	}
	return dirtySet, nil
}

// BoardMeta returns the sync metadata for a board, or nil when the board has
// no local metadata yet.
func (s *Store) BoardMeta(id uuid.UUID) (*board.Meta, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read board meta %s: %w", id, err)
	}
	meta := &board.Meta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to decode board meta %s: %w", id, err)
	}
	return meta, nil
}

// SetVersion records a confirmed remote version for a board and clears its
// dirty flag. The version may drop below the previous one: the remote row
// can be deleted and recreated at version 1 while this device sat at a
// higher number, and the recreated row is the truth.
func (s *Store) SetVersion(id uuid.UUID, v int64) error {
	meta, err := s.BoardMeta(id)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("no metadata for board %s", id)
	}
	meta.Version = v
	meta.IsDirty = false
	return s.writeMeta(meta)
}

// SaveMerged writes a merge result: the document, then one metadata write
// recording the adopted remote base version with the dirty flag set, so the
// next push ships the merged content as base+1. The version and the flag
// land together; there is no window where the board looks clean at the new
// version while the merged edits are still unpushed.
func (s *Store) SaveMerged(b *board.Board, version int64) error {
	data, err := board.Encode(b)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.BoardPath(b.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write board %s: %w", b.ID, err)
	}

	meta, err := s.BoardMeta(b.ID)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &board.Meta{ID: b.ID, CreatedAt: b.CreatedAt}
	}
	meta.Title = b.Title
	meta.UpdatedAt = b.UpdatedAt
	meta.Hash = HashContent(data)
	meta.Version = version
	meta.IsDirty = true
	return s.writeMeta(meta)
}

// NoteExternalWrite is called when the file watcher sees a board document
// change. It compares the document's content hash against the one recorded
// at the last store write: a mismatch means an external editor wrote the
// file, so the board is marked dirty. The engine's own writes echo back with
// a matching hash and change nothing. Returns whether the board is flagged
// for push.
func (s *Store) NoteExternalWrite(id uuid.UUID) (bool, error) {
	data, err := os.ReadFile(s.BoardPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read board %s: %w", id, err)
	}
	hash := HashContent(data)

	meta, err := s.BoardMeta(id)
	if err != nil {
		return false, err
	}
	if meta != nil && meta.Hash == hash {
		return meta.IsDirty, nil
	}
	if meta == nil {
		// First sight of a board the editor created.
		doc, err := board.Decode(data)
		if err != nil {
			return false, err
		}
		meta = &board.Meta{
			ID:        id,
			Title:     doc.Title,
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		}
	}
	meta.Hash = hash
	meta.IsDirty = true
	if err := s.writeMeta(meta); err != nil {
		return false, err
	}
	return true, nil
}

// ListBoards returns metadata for every board present locally, ordered by id
// so scans are stable across runs.
func (s *Store) ListBoards() ([]*board.Meta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read boards directory: %w", err)
	}

	var metas []*board.Meta
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, metaExt) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, metaExt))
		if err != nil {
			continue
		}
		meta, err := s.BoardMeta(id)
		if err != nil || meta == nil {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].ID.String() < metas[j].ID.String()
	})
	return metas, nil
}

// ListDirtyBoards returns metadata for boards with unsynced local changes.
func (s *Store) ListDirtyBoards() ([]*board.Meta, error) {
	all, err := s.ListBoards()
	if err != nil {
		return nil, err
	}
	dirty := all[:0]
	for _, m := range all {
		if m.IsDirty {
			dirty = append(dirty, m)
		}
	}
	return dirty, nil
}

// Delete removes a board document and its metadata. Asset blobs are left in
// place; other boards may reference the same filenames.
func (s *Store) Delete(id uuid.UUID) error {
	if err := os.Remove(s.BoardPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete board %s: %w", id, err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete board meta %s: %w", id, err)
	}
	return nil
}

// AssetPath returns the local path of an asset blob.
func (s *Store) AssetPath(filename string) string {
	return filepath.Join(s.root, assetsDir, filepath.Base(filename))
}

// AssetExists reports whether an asset blob is present locally.
func (s *Store) AssetExists(filename string) bool {
	info, err := os.Stat(s.AssetPath(filename))
	return err == nil && !info.IsDir()
}

// SaveAsset writes an asset blob atomically.
func (s *Store) SaveAsset(filename string, data []byte) error {
	if err := writeFileAtomic(s.AssetPath(filename), data, 0644); err != nil {
		return fmt.Errorf("failed to write asset %s: %w", filename, err)
	}
	return nil
}

// OpenAsset reads an asset blob.
func (s *Store) OpenAsset(filename string) ([]byte, error) {
	data, err := os.ReadFile(s.AssetPath(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", filename, err)
	}
	return data, nil
}

func (s *Store) writeMeta(meta *board.Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode board meta %s: %w", meta.ID, err)
	}
	if err := writeFileAtomic(s.metaPath(meta.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write board meta %s: %w", meta.ID, err)
	}
	return nil
}

// touchActive records the most recently saved board id. Best effort; the
// editor only uses it to reopen the last board.
func (s *Store) touchActive(id uuid.UUID) {
	path := filepath.Join(s.root, ".active")
	_ = writeFileAtomic(path, []byte(id.String()), 0644)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ParseBoardFilename extracts a board id from a boards-directory filename.
// Returns false for metadata sidecars and anything that is not
// "<uuid>.json".
func ParseBoardFilename(name string) (uuid.UUID, bool) {
	base := filepath.Base(name)
	if strings.HasSuffix(base, metaExt) || !strings.HasSuffix(base, boardExt) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimSuffix(base, boardExt))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
