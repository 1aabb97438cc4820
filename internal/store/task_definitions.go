package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// triggerJSON is the on-disk shape of domain.Trigger; time.Duration and
// time.Time need explicit (de)serialization to round-trip cleanly.
type triggerJSON struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	IntervalNS int64  `json:"interval_ns,omitempty"`
	JitterNS   int64  `json:"jitter_ns,omitempty"`
	AtUnix     int64  `json:"at_unix,omitempty"`
}

func encodeTrigger(t domain.Trigger) triggerJSON {
	tj := triggerJSON{Kind: string(t.Kind), CronExpr: t.CronExpr, Timezone: t.Timezone, IntervalNS: int64(t.Interval), JitterNS: int64(t.Jitter)}
	if !t.At.IsZero() {
		tj.AtUnix = t.At.Unix()
	}
	return tj
}

func decodeTrigger(tj triggerJSON) domain.Trigger {
	t := domain.Trigger{
		Kind:     domain.TriggerKind(tj.Kind),
		CronExpr: tj.CronExpr,
		Timezone: tj.Timezone,
		Interval: time.Duration(tj.IntervalNS),
		Jitter:   time.Duration(tj.JitterNS),
	}
	if tj.AtUnix != 0 {
		t.At = time.Unix(tj.AtUnix, 0).UTC()
	}
	return t
}

// UpsertTaskDefinition appends (or replaces, by id) a TaskDefinition. Task
// definitions are versioned but kept as a single current row per id — the
// version column lets callers detect a stale in-memory copy.
func (db *DB) UpsertTaskDefinition(ctx context.Context, def domain.TaskDefinition) error {
	triggerBytes, err := json.Marshal(encodeTrigger(def.Trigger))
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	dependsBytes, err := json.Marshal(def.DependsOn)
	if err != nil {
		return fmt.Errorf("encode depends_on: %w", err)
	}
	paramsBytes, err := json.Marshal(def.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO task_definitions (id, version, action_kind, protocol_id, trigger_json, priority, max_retries, timeout_ns, depends_on_json, params_json, disabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version=excluded.version, action_kind=excluded.action_kind, protocol_id=excluded.protocol_id,
			trigger_json=excluded.trigger_json, priority=excluded.priority, max_retries=excluded.max_retries,
			timeout_ns=excluded.timeout_ns, depends_on_json=excluded.depends_on_json, params_json=excluded.params_json,
			disabled=excluded.disabled, updated_at=excluded.updated_at
	`, def.ID, def.Version, string(def.ActionKind), def.ProtocolID, string(triggerBytes), int(def.Priority),
		def.MaxRetries, int64(def.Timeout), string(dependsBytes), string(paramsBytes), def.Disabled, time.Now().Unix())
	return err
}

// TaskDefinitions returns every task definition, including disabled ones —
// callers filter as needed (the Task Registry filters disabled defs itself).
func (db *DB) TaskDefinitions(ctx context.Context) ([]domain.TaskDefinition, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, version, action_kind, protocol_id, trigger_json, priority, max_retries, timeout_ns, depends_on_json, params_json, disabled
		FROM task_definitions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.TaskDefinition
	for rows.Next() {
		var (
			d                                       domain.TaskDefinition
			actionKind, triggerStr, dependsStr, paramsStr string
			priority, timeoutNS                     int64
		)
		if err := rows.Scan(&d.ID, &d.Version, &actionKind, &d.ProtocolID, &triggerStr, &priority, &d.MaxRetries, &timeoutNS, &dependsStr, &paramsStr, &d.Disabled); err != nil {
			return nil, err
		}
		d.ActionKind = domain.ActionKind(actionKind)
		d.Priority = domain.Priority(priority)
		d.Timeout = time.Duration(timeoutNS)

		var tj triggerJSON
		if err := json.Unmarshal([]byte(triggerStr), &tj); err != nil {
			return nil, fmt.Errorf("decode trigger for %s: %w", d.ID, err)
		}
		d.Trigger = decodeTrigger(tj)

		if err := json.Unmarshal([]byte(dependsStr), &d.DependsOn); err != nil {
			return nil, fmt.Errorf("decode depends_on for %s: %w", d.ID, err)
		}
		if err := json.Unmarshal([]byte(paramsStr), &d.Params); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", d.ID, err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}
