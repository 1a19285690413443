// Package cursor tracks the indexer's last-processed block number.
//
// The cursor is in-memory only: a restart begins again from the configured
// start block and re-emits already-observed events (the finalizer
// deduplicates downstream). A wrapper process that wants to skip
// re-backfilling on restart may use WriteFile/ReadFile to persist the value
// itself; the core never calls either.
package cursor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Cursor holds the single monotonically non-decreasing last_processed_block
// value described in the data model.
type Cursor struct {
	lastProcessedBlock uint64
}

// New returns a Cursor seeded at lastProcessedBlock.
func New(lastProcessedBlock uint64) *Cursor {
	return &Cursor{lastProcessedBlock: lastProcessedBlock}
}

// LastProcessedBlock returns the current value.
func (c *Cursor) LastProcessedBlock() uint64 {
	return c.lastProcessedBlock
}

// Next is the first block not yet processed.
func (c *Cursor) Next() uint64 {
	return c.lastProcessedBlock + 1
}

// Set assigns the cursor unconditionally. Used after a backfill slice
// completes, where the caller already knows the new value is the slice end.
func (c *Cursor) Set(block uint64) {
	c.lastProcessedBlock = block
}

// Advance moves the cursor forward to max(current, block), never regressing.
func (c *Cursor) Advance(block uint64) {
	if block > c.lastProcessedBlock {
		c.lastProcessedBlock = block
	}
}

// WriteFile writes the cursor as a single decimal line, for an optional
// wrapper that wants cross-restart persistence. Not used by the core.
func WriteFile(path string, lastProcessedBlock uint64) error {
	return os.WriteFile(path, []byte(strconv.FormatUint(lastProcessedBlock, 10)+"\n"), 0o644)
}

// ReadFile reads a cursor value previously written by WriteFile.
func ReadFile(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("cursor: read %s: %w", path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cursor: parse %s: %w", path, err)
	}
	return v, nil
}
