// Package storage defines the durable board store interface for sketchroom.
package storage

import (
	"context"

	"github.com/sketchroom/sketchroom/pkg/board"
)

// Record is the persisted form of one session: identifier, creation time in
// millisecond Unix time, and the ordered element sequence (index 0 is the
// bottom of the Z-order). Live subscribers are never persisted.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"createdAt"`
	Elements  []board.Element `json:"elements"`
}

// BoardStore defines the interface for durable session persistence.
type BoardStore interface {
	// Get retrieves the record for a session identifier.
	Get(ctx context.Context, id string) (Record, error)
	// Put durably writes the full record, replacing any previous version.
	Put(ctx context.Context, rec Record) error
	// List returns all persisted records ordered by session identifier.
	List(ctx context.Context) ([]Record, error)
	// Ping verifies the store answers a round trip.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}
