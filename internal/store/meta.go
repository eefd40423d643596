package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Well-known sync_meta keys.
const (
	MetaLastSyncAt      = "last_sync_at"
	MetaLocalOrderSeq   = "local_order_seq"
	MetaSnapshotTakenAt = "snapshot_taken_at"
)

// GetMeta returns the value for a metadata key, or "" when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a metadata key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// NextLocalOrderNumber increments the local order counter and returns the
// next provisional order number ("L-7"). Atomic: two concurrent intents on
// the same device can never mint the same number.
func (s *Store) NextLocalOrderNumber(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("next local order number: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, MetaLocalOrderSeq).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("next local order number: %w", err)
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, MetaLocalOrderSeq, strconv.FormatInt(next, 10)); err != nil {
		return "", fmt.Errorf("next local order number: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("next local order number: commit: %w", err)
	}
	return fmt.Sprintf("L-%d", next), nil
}

// SetLastSyncAt records the completion time of the latest drain pass.
func (s *Store) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return s.SetMeta(ctx, MetaLastSyncAt, formatTime(t))
}

// LastSyncAt returns the completion time of the latest drain pass, zero if
// the device has never synced.
func (s *Store) LastSyncAt(ctx context.Context) (time.Time, error) {
	v, err := s.GetMeta(ctx, MetaLastSyncAt)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return parseTime(v)
}
