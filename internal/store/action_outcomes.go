package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// AppendActionOutcome records the result of one executed action.
// One row per TaskInstance: the scheduler retries an attempt
// under the same TaskInstance id, so a retry's outcome replaces the
// previous attempt's row and only the latest attempt's outcome is kept.
func (db *DB) AppendActionOutcome(ctx context.Context, o domain.ActionOutcome) error {
	txHashesBytes, err := json.Marshal(o.TxHashes)
	if err != nil {
		return fmt.Errorf("encode tx_hashes: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO action_outcomes (task_instance_id, success, tx_hashes_json, error_kind, realized_notional, realized_gas_gwei, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_instance_id) DO UPDATE SET
			success=excluded.success, tx_hashes_json=excluded.tx_hashes_json, error_kind=excluded.error_kind,
			realized_notional=excluded.realized_notional, realized_gas_gwei=excluded.realized_gas_gwei, timestamp=excluded.timestamp
	`, o.TaskInstanceID, o.Success, string(txHashesBytes), string(o.ErrorKind), o.RealizedNotional, o.RealizedGasGwei, o.Timestamp.Unix())
	return err
}

// ActionOutcome is the point-lookup operation by task instance id.
func (db *DB) ActionOutcome(ctx context.Context, taskInstanceID string) (domain.ActionOutcome, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT task_instance_id, success, tx_hashes_json, error_kind, realized_notional, realized_gas_gwei, timestamp
		FROM action_outcomes WHERE task_instance_id=?
	`, taskInstanceID)

	var (
		o            domain.ActionOutcome
		txHashesStr  string
		errorKind    string
		timestampU   int64
	)
	err := row.Scan(&o.TaskInstanceID, &o.Success, &txHashesStr, &errorKind, &o.RealizedNotional, &o.RealizedGasGwei, &timestampU)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ActionOutcome{}, ErrNotFound
	}
	if err != nil {
		return domain.ActionOutcome{}, err
	}
	o.ErrorKind = domain.OutcomeErrorKind(errorKind)
	o.Timestamp = time.Unix(timestampU, 0).UTC()
	if err := json.Unmarshal([]byte(txHashesStr), &o.TxHashes); err != nil {
		return domain.ActionOutcome{}, fmt.Errorf("decode tx_hashes: %w", err)
	}
	return o, nil
}

// ActionOutcomesBetween is the range-by-time query over realized outcomes,
// used for rolling P&L/failure-rate reconstruction on restart and for
// operator reporting.
func (db *DB) ActionOutcomesBetween(ctx context.Context, from, to time.Time) ([]domain.ActionOutcome, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT task_instance_id, success, tx_hashes_json, error_kind, realized_notional, realized_gas_gwei, timestamp
		FROM action_outcomes WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ActionOutcome
	for rows.Next() {
		var (
			o           domain.ActionOutcome
			txHashesStr string
			errorKind   string
			timestampU  int64
		)
		if err := rows.Scan(&o.TaskInstanceID, &o.Success, &txHashesStr, &errorKind, &o.RealizedNotional, &o.RealizedGasGwei, &timestampU); err != nil {
			return nil, err
		}
		o.ErrorKind = domain.OutcomeErrorKind(errorKind)
		o.Timestamp = time.Unix(timestampU, 0).UTC()
		if err := json.Unmarshal([]byte(txHashesStr), &o.TxHashes); err != nil {
			return nil, fmt.Errorf("decode tx_hashes: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
