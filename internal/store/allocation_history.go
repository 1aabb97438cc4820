package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// AppendAllocationTarget appends one generation to allocation_history.
func (db *DB) AppendAllocationTarget(ctx context.Context, t domain.AllocationTarget) error {
	weightsBytes, err := json.Marshal(t.Weights)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO allocation_history (computed_at, algorithm, weights_json) VALUES (?, ?, ?)
	`, t.ComputedAt.Unix(), t.Algorithm, string(weightsBytes))
	return err
}

// LatestAllocationTarget is the snapshot-consistent read used to restore
// the Capital Allocator's current target across a restart.
func (db *DB) LatestAllocationTarget(ctx context.Context) (domain.AllocationTarget, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT computed_at, algorithm, weights_json FROM allocation_history ORDER BY seq DESC LIMIT 1
	`)
	var (
		computedAt int64
		weightsStr string
		t          domain.AllocationTarget
	)
	if err := row.Scan(&computedAt, &t.Algorithm, &weightsStr); err != nil {
		return domain.AllocationTarget{}, err
	}
	t.ComputedAt = time.Unix(computedAt, 0).UTC()
	if err := json.Unmarshal([]byte(weightsStr), &t.Weights); err != nil {
		return domain.AllocationTarget{}, fmt.Errorf("decode weights: %w", err)
	}
	return t, nil
}

// AllocationHistoryBetween is the range-by-time query over past targets.
func (db *DB) AllocationHistoryBetween(ctx context.Context, from, to time.Time) ([]domain.AllocationTarget, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT computed_at, algorithm, weights_json FROM allocation_history
		WHERE computed_at >= ? AND computed_at < ? ORDER BY computed_at ASC
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AllocationTarget
	for rows.Next() {
		var (
			computedAt int64
			weightsStr string
			t          domain.AllocationTarget
		)
		if err := rows.Scan(&computedAt, &t.Algorithm, &weightsStr); err != nil {
			return nil, err
		}
		t.ComputedAt = time.Unix(computedAt, 0).UTC()
		if err := json.Unmarshal([]byte(weightsStr), &t.Weights); err != nil {
			return nil, fmt.Errorf("decode weights: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
