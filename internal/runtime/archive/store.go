// Package archive records packets in a SQLite database and replays them.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/wire"
)

const (
	// DefaultBatchSize is how many records a Source reads per query.
	DefaultBatchSize = 64
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

const schema = `
CREATE TABLE IF NOT EXISTS packets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	data BLOB NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_packets_stream ON packets(stream_id, id);
`

// Record is one archived packet.
type Record struct {
	ID        int64
	StreamID  string
	CreatedAt time.Time
	Pdu       pdu.Bytes
}

// Store owns the database handle.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the archive at path and ensures the schema.
// ":memory:" gives a private in-memory archive.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("archive: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("archive: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: initialise schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores pdus for streamID in one transaction.
func (s *Store) Append(ctx context.Context, streamID string, pdus ...pdu.Bytes) error {
	if len(pdus) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO packets (stream_id, created_at, data, tags) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("archive: prepare: %w", err)
	}
	defer stmt.Close()

	createdAt := s.now().UTC().UnixNano()
	for _, p := range pdus {
		if len(p.Data) == 0 {
			return fmt.Errorf("archive: %w", errspkg.ErrEmptyPdu)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		tags, err := wire.MarshalTags(p.Tags)
		if err != nil {
			return fmt.Errorf("archive: encode tags: %w", err)
		}
		data := p.Data
		if data == nil {
			data = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, streamID, createdAt, data, string(tags)); err != nil {
			return fmt.Errorf("archive: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Read returns up to limit records with id greater than afterID, oldest
// first. An empty streamID reads every stream.
func (s *Store) Read(ctx context.Context, streamID string, afterID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	query := `SELECT id, stream_id, created_at, data, tags FROM packets WHERE id > ? AND (? = '' OR stream_id = ?) ORDER BY id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, afterID, streamID, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			createdAt int64
			data      []byte
			tags      string
		)
		if err := rows.Scan(&rec.ID, &rec.StreamID, &createdAt, &data, &tags); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		decoded, err := wire.UnmarshalTags([]byte(tags))
		if err != nil {
			return nil, fmt.Errorf("archive: record %d: %w", rec.ID, err)
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		rec.Pdu = pdu.Bytes{Data: data, Tags: decoded}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of records for streamID, or for all streams when
// streamID is empty.
func (s *Store) Count(ctx context.Context, streamID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets WHERE (? = '' OR stream_id = ?)`, streamID, streamID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return n, nil
}

// Streams lists the stream ids present in the archive.
func (s *Store) Streams(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT stream_id FROM packets ORDER BY stream_id`)
	if err != nil {
		return nil, fmt.Errorf("archive: streams: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Prune deletes records created before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM packets WHERE created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("archive: prune: %w", err)
	}
	return res.RowsAffected()
}
