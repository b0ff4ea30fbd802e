// Package tracing records protocol events. Events flow through a Tracer
// front-end to a pluggable backend; the SQLite backend persists them for
// offline queries.
package tracing

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
)

// Event is one traced protocol occurrence.
type Event struct {
	ID        string
	Cycle     uint64
	Component string
	Kind      string
	Address   uint64
	Detail    string
}

// Backend receives events.
type Backend interface {
	Record(e Event) error
	Flush() error
	Close() error
}

// Tracer stamps events with IDs and forwards them to its backend.
type Tracer struct {
	backend Backend
}

// NewTracer creates a tracer over the given backend.
func NewTracer(backend Backend) *Tracer {
	return &Tracer{backend: backend}
}

// Trace records one event.
func (t *Tracer) Trace(cycle uint64, component, kind string, address uint64, detail string) error {
	return t.backend.Record(Event{
		ID:        xid.New().String(),
		Cycle:     cycle,
		Component: component,
		Kind:      kind,
		Address:   address,
		Detail:    detail,
	})
}

// Flush forwards buffered events to stable storage.
func (t *Tracer) Flush() error { return t.backend.Flush() }

// Close releases the backend.
func (t *Tracer) Close() error { return t.backend.Close() }

// SQLiteBackend persists events into a trace table, batched per
// transaction.
type SQLiteBackend struct {
	db      *sql.DB
	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
}

const sqliteBatchSize = 1024

// NewSQLiteBackend opens (and initializes) the trace database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trace (
			id        TEXT PRIMARY KEY,
			cycle     INTEGER NOT NULL,
			component TEXT NOT NULL,
			kind      TEXT NOT NULL,
			address   INTEGER NOT NULL,
			detail    TEXT
		);
		CREATE INDEX IF NOT EXISTS trace_cycle ON trace (cycle);
		CREATE INDEX IF NOT EXISTS trace_address ON trace (address);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) begin() error {
	if b.tx != nil {
		return nil
	}
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		"INSERT INTO trace (id, cycle, component, kind, address, detail) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	b.tx = tx
	b.stmt = stmt
	return nil
}

// Record inserts one event into the current batch.
func (b *SQLiteBackend) Record(e Event) error {
	if err := b.begin(); err != nil {
		return err
	}
	if _, err := b.stmt.Exec(e.ID, int64(e.Cycle), e.Component, e.Kind, int64(e.Address), e.Detail); err != nil {
		return err
	}
	b.pending++
	if b.pending >= sqliteBatchSize {
		return b.Flush()
	}
	return nil
}

// Flush commits the current batch.
func (b *SQLiteBackend) Flush() error {
	if b.tx == nil {
		return nil
	}
	b.stmt.Close()
	err := b.tx.Commit()
	b.tx = nil
	b.stmt = nil
	b.pending = 0
	return err
}

// Close flushes and closes the database.
func (b *SQLiteBackend) Close() error {
	if err := b.Flush(); err != nil {
		b.db.Close()
		return err
	}
	return b.db.Close()
}

// Count returns the number of persisted events, for tests and the
// monitor.
func (b *SQLiteBackend) Count() (int, error) {
	if err := b.Flush(); err != nil {
		return 0, err
	}
	row := b.db.QueryRow("SELECT COUNT(*) FROM trace")
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// EventsForAddress returns the persisted events touching one address in
// cycle order.
func (b *SQLiteBackend) EventsForAddress(address uint64) ([]Event, error) {
	if err := b.Flush(); err != nil {
		return nil, err
	}
	rows, err := b.db.Query(
		"SELECT id, cycle, component, kind, address, detail FROM trace WHERE address = ? ORDER BY cycle",
		int64(address))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		var cycle, addr int64
		if err := rows.Scan(&e.ID, &cycle, &e.Component, &e.Kind, &addr, &e.Detail); err != nil {
			return nil, err
		}
		e.Cycle = uint64(cycle)
		e.Address = uint64(addr)
		events = append(events, e)
	}
	return events, rows.Err()
}

// MemoryBackend keeps events in memory, for tests and short runs.
type MemoryBackend struct {
	Events []Event
}

// Record appends one event.
func (b *MemoryBackend) Record(e Event) error {
	b.Events = append(b.Events, e)
	return nil
}

// Flush is a no-op.
func (b *MemoryBackend) Flush() error { return nil }

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

var _ Backend = (*SQLiteBackend)(nil)
var _ Backend = (*MemoryBackend)(nil)
