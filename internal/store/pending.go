package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tillfloat/tillsync/internal/pos"
)

const pendingColumns = `id, kind, method, path, payload, entity_id, created_at, disposition`

// AppendPendingOp appends an operation to the pending log and returns its
// store-assigned identifier. The AUTOINCREMENT id is the queue's FIFO
// position; nothing ever renumbers or reorders rows.
func (s *Store) AppendPendingOp(ctx context.Context, op pos.PendingOp) (int64, error) {
	payload := string(op.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_operations
		(kind, method, path, payload, entity_id, created_at, disposition)
		VALUES (?, ?, ?, ?, ?, ?, '')
	`,
		string(op.Kind), op.Method, op.Path, payload,
		string(op.EntityID), formatTime(op.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("append pending op: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append pending op: last insert id: %w", err)
	}
	return id, nil
}

// OldestPendingOp returns the unprocessed head of the log.
// Returns ok=false when the queue is empty.
func (s *Store) OldestPendingOp(ctx context.Context) (pos.PendingOp, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_operations
		WHERE disposition = ''
		ORDER BY id ASC
		LIMIT 1
	`)
	op, err := scanPendingOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.PendingOp{}, false, nil
	}
	if err != nil {
		return pos.PendingOp{}, false, err
	}
	return op, true, nil
}

// GetPendingOp retrieves one log entry by id. Returns ErrNotFound if absent.
func (s *Store) GetPendingOp(ctx context.Context, id int64) (pos.PendingOp, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_operations WHERE id = ?`, id)
	op, err := scanPendingOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.PendingOp{}, fmt.Errorf("pending op %d: %w", id, ErrNotFound)
	}
	return op, err
}

// ListPendingOps returns all unprocessed entries in FIFO order.
func (s *Store) ListPendingOps(ctx context.Context) ([]pos.PendingOp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_operations
		WHERE disposition = ''
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending ops: %w", err)
	}
	defer rows.Close()

	ops := []pos.PendingOp{}
	for rows.Next() {
		op, err := scanPendingOp(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending ops: %w", err)
	}
	return ops, nil
}

// CountPendingOps returns the number of unprocessed entries.
func (s *Store) CountPendingOps(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_operations WHERE disposition = ''`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending ops: %w", err)
	}
	return n, nil
}

// SettlePendingOp marks an entry processed with the given disposition
// (confirmed or rejected). Settled entries leave the queue but stay in the
// log for diagnostics until retention pruning removes them.
func (s *Store) SettlePendingOp(ctx context.Context, id int64, disposition string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET disposition = ? WHERE id = ? AND disposition = ''`,
		disposition, id)
	if err != nil {
		return fmt.Errorf("settle pending op %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle pending op %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("settle pending op %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeletePendingOps removes log entries outright. Used when an order is
// cancelled before any of its operations were ever submitted.
func (s *Store) DeletePendingOps(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete pending ops: %w", err)
	}
	return nil
}

// RewritePendingLinkage replaces every reference to oldID with newID across
// unprocessed entries: the entity_id linkage column and any quoted
// occurrence inside the JSON payload. Runs in one transaction so a crash
// cannot leave the queue half-rewritten. Returns the number of entries
// touched.
func (s *Store) RewritePendingLinkage(ctx context.Context, oldID, newID pos.EntityID) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("rewrite linkage: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rows, err := tx.QueryContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_operations
		WHERE disposition = ''
		ORDER BY id ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("rewrite linkage: query: %w", err)
	}

	var touched []pos.PendingOp
	for rows.Next() {
		op, err := scanPendingOp(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("rewrite linkage: %w", err)
		}
		if op.References(oldID) {
			touched = append(touched, op)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("rewrite linkage: iterate: %w", err)
	}
	rows.Close()

	for _, op := range touched {
		entity := op.EntityID
		if entity == oldID {
			entity = newID
		}
		payload := strings.ReplaceAll(string(op.Payload),
			`"`+string(oldID)+`"`, `"`+string(newID)+`"`)
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_operations SET entity_id = ?, payload = ? WHERE id = ?`,
			string(entity), payload, op.ID); err != nil {
			return 0, fmt.Errorf("rewrite linkage: op %d: %w", op.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("rewrite linkage: commit: %w", err)
	}
	return len(touched), nil
}

func scanPendingOp(sc scanner) (pos.PendingOp, error) {
	var (
		op                      pos.PendingOp
		kind, payload, entityID string
		createdAt               string
	)
	err := sc.Scan(&op.ID, &kind, &op.Method, &op.Path, &payload,
		&entityID, &createdAt, &op.Disposition)
	if err != nil {
		return pos.PendingOp{}, err
	}
	op.Kind = pos.OpKind(kind)
	op.Payload = []byte(payload)
	op.EntityID = pos.EntityID(entityID)
	if op.CreatedAt, err = parseTime(createdAt); err != nil {
		return pos.PendingOp{}, fmt.Errorf("pending op %d: %w", op.ID, err)
	}
	return op, nil
}
