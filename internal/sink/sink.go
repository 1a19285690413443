// Package sink persists FinalizedEvents to a local SQLite database for
// ad-hoc querying — a downstream consumer, not part of the finality
// guarantee itself. Grounded directly on geth-17-indexer's own
// transfers-to-sqlite pipeline (database/sql + modernc.org/sqlite,
// one row per decoded event, block/tx/addr columns), adapted here to
// key rows by (tx_hash, log_index) instead of primary-key autoincrement,
// matching the same uniqueness invariant the data model assigns to
// ObservedEvent/FinalizedEvent.
package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/dando385/chainhead/internal/finalizer"
)

// Sink upserts FinalizedEvents into a SQLite table.
type Sink struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and ensures the
// finalized_events table exists.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS finalized_events (
		tx_hash TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		block_number INTEGER NOT NULL,
		writer TEXT NOT NULL,
		cid_hash TEXT NOT NULL,
		cid BLOB NOT NULL,
		PRIMARY KEY (tx_hash, log_index)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: schema: %w", err)
	}
	return &Sink{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Persist upserts a single FinalizedEvent, keyed by (tx_hash, log_index).
// A duplicate insert (the finalizer's own at-most-once guarantee should
// prevent this, but a restarted sink replaying an old tail should not
// error) is a no-op.
func (s *Sink) Persist(ctx context.Context, ev finalizer.FinalizedEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finalized_events (tx_hash, log_index, seq, block_number, writer, cid_hash, cid)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		ev.TxHashHex, ev.LogIndex, ev.Seq, ev.BlockNumber, ev.WriterHex, ev.CIDHashHex, ev.CID,
	)
	if err != nil {
		return fmt.Errorf("sink: persist: %w", err)
	}
	return nil
}

// Run consumes events from ch until it's closed or ctx is cancelled,
// persisting each one. Decode/transport errors have no bearing here —
// by the time an event reaches the sink it has already cleared the
// finalizer's cross-check.
func (s *Sink) Run(ctx context.Context, ch <-chan finalizer.FinalizedEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Persist(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Count returns the number of rows currently persisted, mostly for tests.
func (s *Sink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM finalized_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sink: count: %w", err)
	}
	return n, nil
}
