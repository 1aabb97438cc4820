package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// ErrNotFound is returned by point-lookup operations when no row matches.
var ErrNotFound = errors.New("store: not found")

// AppendTaskInstance inserts a new TaskInstance row. TaskInstances are
// append-then-update: this is only ever called once per instance id.
func (db *DB) AppendTaskInstance(ctx context.Context, ti domain.TaskInstance) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO task_instances (id, definition_id, correlation_id, scheduled_for, attempt, state, last_error, cancel_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ti.ID, ti.DefinitionID, ti.CorrelationID, ti.ScheduledFor.Unix(), ti.Attempt, string(ti.State),
		ti.LastError, ti.CancelReason, ti.CreatedAt.Unix(), ti.UpdatedAt.Unix())
	return err
}

// UpdateTaskInstanceState transitions an existing TaskInstance in place —
// the state machine itself (CanTransition) is enforced by the scheduler,
// not by this layer, which only persists whatever transition it is told.
func (db *DB) UpdateTaskInstanceState(ctx context.Context, id string, next domain.TaskState, lastError, cancelReason string, attempt int, updatedAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE task_instances SET state=?, last_error=?, cancel_reason=?, attempt=?, updated_at=? WHERE id=?
	`, string(next), lastError, cancelReason, attempt, updatedAt.Unix(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: task instance %s", ErrNotFound, id)
	}
	return nil
}

// TaskInstance is the point-lookup operation by instance id.
func (db *DB) TaskInstance(ctx context.Context, id string) (domain.TaskInstance, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, definition_id, correlation_id, scheduled_for, attempt, state, last_error, cancel_reason, created_at, updated_at
		FROM task_instances WHERE id=?
	`, id)
	return scanTaskInstance(row)
}

// TaskInstancesByState is the range-by-state query restart recovery and
// the scheduler's due-task scan use: e.g. every RUNNING instance to
// reclassify on restart, or every PENDING instance due before a cutoff.
func (db *DB) TaskInstancesByState(ctx context.Context, state domain.TaskState) ([]domain.TaskInstance, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, definition_id, correlation_id, scheduled_for, attempt, state, last_error, cancel_reason, created_at, updated_at
		FROM task_instances WHERE state=? ORDER BY scheduled_for ASC
	`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskInstances(rows)
}

// TaskInstancesScheduledBetween is the range-by-time query: every instance
// whose scheduled_for falls within [from, to).
func (db *DB) TaskInstancesScheduledBetween(ctx context.Context, from, to time.Time) ([]domain.TaskInstance, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, definition_id, correlation_id, scheduled_for, attempt, state, last_error, cancel_reason, created_at, updated_at
		FROM task_instances WHERE scheduled_for >= ? AND scheduled_for < ? ORDER BY scheduled_for ASC
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskInstances(rows)
}

func scanTaskInstance(row *sql.Row) (domain.TaskInstance, error) {
	var (
		ti                      domain.TaskInstance
		state                   string
		scheduledFor, createdAt, updatedAt int64
	)
	err := row.Scan(&ti.ID, &ti.DefinitionID, &ti.CorrelationID, &scheduledFor, &ti.Attempt, &state, &ti.LastError, &ti.CancelReason, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskInstance{}, ErrNotFound
	}
	if err != nil {
		return domain.TaskInstance{}, err
	}
	ti.State = domain.TaskState(state)
	ti.ScheduledFor = time.Unix(scheduledFor, 0).UTC()
	ti.CreatedAt = time.Unix(createdAt, 0).UTC()
	ti.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return ti, nil
}

func scanTaskInstances(rows *sql.Rows) ([]domain.TaskInstance, error) {
	var out []domain.TaskInstance
	for rows.Next() {
		var (
			ti                                 domain.TaskInstance
			state                              string
			scheduledFor, createdAt, updatedAt int64
		)
		if err := rows.Scan(&ti.ID, &ti.DefinitionID, &ti.CorrelationID, &scheduledFor, &ti.Attempt, &state, &ti.LastError, &ti.CancelReason, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		ti.State = domain.TaskState(state)
		ti.ScheduledFor = time.Unix(scheduledFor, 0).UTC()
		ti.CreatedAt = time.Unix(createdAt, 0).UTC()
		ti.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, ti)
	}
	return out, rows.Err()
}
