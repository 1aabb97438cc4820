package store

import (
	"context"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// AppendRiskState appends a new RiskState row — risk_state_history is
// append-only, one row per transition the Risk Manager makes.
func (db *DB) AppendRiskState(ctx context.Context, s domain.RiskState) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO risk_state_history (kind, reason, activated_at) VALUES (?, ?, ?)
	`, string(s.Kind), s.Reason, s.ActivatedAt.Unix())
	return err
}

// LatestRiskState is the snapshot-consistent read: the most recently
// activated RiskState, used to reconstruct the circuit breaker's position
// across a restart.
func (db *DB) LatestRiskState(ctx context.Context) (domain.RiskState, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT kind, reason, activated_at FROM risk_state_history ORDER BY seq DESC LIMIT 1
	`)
	var (
		s           domain.RiskState
		kind        string
		activatedAt int64
	)
	if err := row.Scan(&kind, &s.Reason, &activatedAt); err != nil {
		return domain.RiskState{}, err
	}
	s.Kind = domain.RiskStateKind(kind)
	s.ActivatedAt = time.Unix(activatedAt, 0).UTC()
	return s, nil
}

// RiskStateHistoryBetween is the range-by-time query over risk state
// transitions, for operator forensics.
func (db *DB) RiskStateHistoryBetween(ctx context.Context, from, to time.Time) ([]domain.RiskState, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT kind, reason, activated_at FROM risk_state_history
		WHERE activated_at >= ? AND activated_at < ? ORDER BY activated_at ASC
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RiskState
	for rows.Next() {
		var (
			s           domain.RiskState
			kind        string
			activatedAt int64
		)
		if err := rows.Scan(&kind, &s.Reason, &activatedAt); err != nil {
			return nil, err
		}
		s.Kind = domain.RiskStateKind(kind)
		s.ActivatedAt = time.Unix(activatedAt, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
