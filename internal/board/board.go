package board

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryKind identifies the data variant an entry carries.
type EntryKind string

const (
	KindText  EntryKind = "text"
	KindImage EntryKind = "image"
	KindFile  EntryKind = "file"
	KindShape EntryKind = "shape"
	KindLine  EntryKind = "line"
)

// AssetRef points at a binary blob by its content filename. Filenames are
// assigned once at creation time (random id + extension), so the same filename
// always means the same bytes.
type AssetRef struct {
	Filename string `json:"filename"`
}

// Entry is one placed object on a board.
type Entry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
	Data      EntryData `json:"data"`
}

// EntryData holds the variant payload. Only the fields relevant to the
// entry's kind are populated.
type EntryData struct {
	Text   string    `json:"text,omitempty"`
	Asset  *AssetRef `json:"asset,omitempty"`
	Shape  string    `json:"shape,omitempty"`
	Points []Point   `json:"points,omitempty"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	W      float64   `json:"w,omitempty"`
	H      float64   `json:"h,omitempty"`
}

// Point is a vertex of a line entry.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is this device's camera state. Never merged from remote.
type Viewport struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Zoom    float64 `json:"zoom"`
}

// ChatMessage is one turn of a board's chat history. Messages may reference
// uploaded attachments.
type ChatMessage struct {
	Role   string   `json:"role"`
	Text   string   `json:"text"`
	Assets []string `json:"assets,omitempty"`
	At     int64    `json:"at"`
}

// Memory is a persistent note the assistant keeps about a board.
type Memory struct {
	Text   string   `json:"text"`
	Assets []string `json:"assets,omitempty"`
	At     int64    `json:"at"`
}

// Clarification is a pending question the assistant asked about a board.
type Clarification struct {
	Question string   `json:"question"`
	Assets   []string `json:"assets,omitempty"`
}

// Board is a board document's full shared content plus this device's
// local-only view state.
type Board struct {
	ID        uuid.UUID        `json:"id"`
	Title     string           `json:"title"`
	Entries   map[string]Entry `json:"entries"`
	ZOrder    []string         `json:"z_order"`
	Chat      []ChatMessage    `json:"chat,omitempty"`
	Memories  []Memory         `json:"memories,omitempty"`
	Pending   *Clarification   `json:"pending_clarification,omitempty"`
	CreatedAt int64            `json:"created_at"`
	UpdatedAt int64            `json:"updated_at"`

	// Device-local fields. Retained as-is through every merge and pull;
	// they describe this device's window, not shared content.
	Viewport Viewport        `json:"viewport"`
	UI       json.RawMessage `json:"ui,omitempty"`
}

// Meta is the local per-board sync bookkeeping. It lives next to the board
// file and is never shipped to the remote. Hash is the content hash of the
// document as last written through the store, used to tell an external
// editor's write apart from the engine's own file writes.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
	Version   int64     `json:"version"`
	IsDirty   bool      `json:"is_dirty"`
	Hash      string    `json:"hash,omitempty"`
}

// New creates an empty board with fresh timestamps.
func New(title string) *Board {
	now := time.Now().Unix()
	return &Board{
		ID:        uuid.New(),
		Title:     title,
		Entries:   make(map[string]Entry),
		CreatedAt: now,
		UpdatedAt: now,
		Viewport:  Viewport{Zoom: 1},
	}
}

// Encode serializes a board for storage or transport.
func Encode(b *Board) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode board %s: %w", b.ID, err)
	}
	return data, nil
}

// Decode parses a serialized board. Entries and zOrder are normalized so a
// payload written by an older device still satisfies the model invariants.
func Decode(data []byte) (*Board, error) {
	b := &Board{}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("failed to decode board: %w", err)
	}
	if b.ID == uuid.Nil {
		return nil, fmt.Errorf("failed to decode board: missing id")
	}
	if b.Entries == nil {
		b.Entries = make(map[string]Entry)
	}
	b.ZOrder = NormalizeZOrder(b.ZOrder, b.Entries)
	return b, nil
}

// NormalizeZOrder drops ids not present in entries, removes duplicates, and
// appends any entry ids missing from the order (sorted by CreatedAt) so the
// result covers every entry exactly once.
func NormalizeZOrder(order []string, entries map[string]Entry) []string {
	out := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, id := range order {
		if _, ok := entries[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	var missing []string
	for id := range entries {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sortByCreatedAt(missing, entries)
	return append(out, missing...)
}

// sortByCreatedAt orders ids by their entry's CreatedAt, falling back to the
// id itself so the result is stable across devices.
func sortByCreatedAt(ids []string, entries map[string]Entry) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && less(entries[ids[j]], ids[j], entries[ids[j-1]], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

func less(a Entry, aid string, b Entry, bid string) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return aid < bid
}

// RequiredAssets returns the set of asset filenames reachable from the
// board's entries, chat history, pending clarification, and memories. Every
// one of these must exist locally before the board renders its full content.
func (b *Board) RequiredAssets() map[string]bool {
	set := make(map[string]bool)
	for _, e := range b.Entries {
		if e.Data.Asset != nil && e.Data.Asset.Filename != "" {
			set[e.Data.Asset.Filename] = true
		}
	}
	for _, m := range b.Chat {
		for _, f := range m.Assets {
			if f != "" {
				set[f] = true
			}
		}
	}
	for _, m := range b.Memories {
		for _, f := range m.Assets {
			if f != "" {
				set[f] = true
			}
		}
	}
	if b.Pending != nil {
		for _, f := range b.Pending.Assets {
			if f != "" {
				set[f] = true
			}
		}
	}
	return set
}
