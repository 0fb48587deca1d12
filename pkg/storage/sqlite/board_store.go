// Package sqlite implements storage.BoardStore on an embedded SQLite
// database. Each session is one row; the element sequence is stored as a
// JSONB blob whose array order is the Z-order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/sketchroom/sketchroom/pkg/board"
	"github.com/sketchroom/sketchroom/pkg/storage"
)

// DatabaseFile is the name of the store file inside the data directory.
const DatabaseFile = "sketchroom.db"

// BoardStore implements storage.BoardStore using SQLite.
type BoardStore struct {
	db *sql.DB
}

var _ storage.BoardStore = (*BoardStore)(nil)

// Open creates or opens the board store inside dataDir, applying any pending
// schema migrations.
func Open(ctx context.Context, dataDir string) (*BoardStore, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := "file:" + filepath.Join(dataDir, DatabaseFile) +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite allows a single writer; funnel everything through one
	// connection so concurrent session persists queue instead of failing
	// with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoardStore{db: db}, nil
}

// Get retrieves the record for a session identifier.
func (s *BoardStore) Get(ctx context.Context, id string) (storage.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT created_at, json(elements) FROM boards WHERE id = ?`, id)

	var (
		createdAt int64
		blob      []byte
	)
	if err := row.Scan(&createdAt, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, fmt.Errorf("scanning board row: %w", err)
	}

	elements, err := decodeElements(blob)
	if err != nil {
		return storage.Record{}, err
	}

	return storage.Record{ID: id, CreatedAt: createdAt, Elements: elements}, nil
}

// Put durably writes the full record. The write is committed before Put
// returns, so a crash after a successful Put never loses the mutation.
func (s *BoardStore) Put(ctx context.Context, rec storage.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("cannot store record with empty ID")
	}

	blob, err := encodeElements(rec.Elements)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO boards (id, created_at, elements)
		VALUES (?, ?, jsonb(?))
		ON CONFLICT (id) DO UPDATE SET elements = excluded.elements`,
		rec.ID, rec.CreatedAt, blob,
	)
	if err != nil {
		return fmt.Errorf("upserting board %s: %w", rec.ID, err)
	}
	return nil
}

// List returns all persisted records ordered by session identifier.
func (s *BoardStore) List(ctx context.Context) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, json(elements) FROM boards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying boards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.Record
	for rows.Next() {
		var (
			rec  storage.Record
			blob []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &blob); err != nil {
			return nil, fmt.Errorf("scanning board row: %w", err)
		}
		if rec.Elements, err = decodeElements(blob); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating board rows: %w", err)
	}

	return records, nil
}

// Ping verifies the store answers a round trip.
func (s *BoardStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("pinging store: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *BoardStore) Close() error {
	return s.db.Close()
}

// encodeElements marshals the element sequence for the SQLite jsonb()
// function. A nil sequence is stored as an empty array so that ordering
// semantics survive the round trip.
func encodeElements(elements []board.Element) (string, error) {
	if elements == nil {
		elements = []board.Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return "", fmt.Errorf("marshaling elements: %w", err)
	}
	return string(data), nil
}

func decodeElements(blob []byte) ([]board.Element, error) {
	var elements []board.Element
	if err := json.Unmarshal(blob, &elements); err != nil {
		return nil, fmt.Errorf("unmarshaling elements: %w", err)
	}
	if elements == nil {
		elements = []board.Element{}
	}
	return elements, nil
}
