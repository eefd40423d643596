package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tillfloat/tillsync/internal/pos"
)

// SnapshotEntry is one row of the server-reported occupancy snapshot.
type SnapshotEntry struct {
	Table       int
	OrderID     pos.EntityID
	OrderNumber string
}

// ReplaceTableSnapshot swaps the cached server occupancy wholesale.
// The snapshot is only ever replaced, never merged: partial merges of a
// stale snapshot with a fresh one would resurrect freed tables.
func (s *Store) ReplaceTableSnapshot(ctx context.Context, entries []SnapshotEntry, fetchedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace table snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM table_snapshot`); err != nil {
		return fmt.Errorf("replace table snapshot: clear: %w", err)
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO table_snapshot (table_number, order_id, order_number, fetched_at)
			VALUES (?, ?, ?, ?)
		`, e.Table, string(e.OrderID), e.OrderNumber, formatTime(fetchedAt)); err != nil {
			return fmt.Errorf("replace table snapshot: table %d: %w", e.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace table snapshot: commit: %w", err)
	}
	return s.SetMeta(ctx, MetaSnapshotTakenAt, formatTime(fetchedAt))
}

// ListTableSnapshot returns the cached server occupancy, by table number.
func (s *Store) ListTableSnapshot(ctx context.Context) ([]SnapshotEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_number, order_id, order_number
		FROM table_snapshot
		ORDER BY table_number ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list table snapshot: %w", err)
	}
	defer rows.Close()

	entries := []SnapshotEntry{}
	for rows.Next() {
		var (
			e       SnapshotEntry
			orderID string
		)
		if err := rows.Scan(&e.Table, &orderID, &e.OrderNumber); err != nil {
			return nil, fmt.Errorf("scan table snapshot: %w", err)
		}
		e.OrderID = pos.EntityID(orderID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table snapshot: %w", err)
	}
	return entries, nil
}
