package store

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: "file::memory:?cache=shared", Profile: ProfileStandard, Name: "test"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTaskDefinitionRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	def := domain.TaskDefinition{
		ID:         "claim-rewards",
		Version:    1,
		ActionKind: "claim",
		ProtocolID: "aave",
		Trigger:    domain.Trigger{Kind: domain.TriggerInterval, Interval: time.Hour, Jitter: time.Minute},
		Priority:   domain.PriorityHigh,
		MaxRetries: 3,
		Timeout:    30 * time.Second,
		DependsOn:  []string{"refresh-portfolio"},
		Params:     map[string]any{"min_claim_usd": 10.0},
	}
	require.NoError(t, db.UpsertTaskDefinition(ctx, def))

	defs, err := db.TaskDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, def.ID, defs[0].ID)
	require.Equal(t, def.Trigger.Kind, defs[0].Trigger.Kind)
	require.Equal(t, def.Trigger.Interval, defs[0].Trigger.Interval)
	require.Equal(t, def.DependsOn, defs[0].DependsOn)
	require.Equal(t, 10.0, defs[0].Params["min_claim_usd"])

	def.Disabled = true
	require.NoError(t, db.UpsertTaskDefinition(ctx, def))
	defs, err = db.TaskDefinitions(ctx)
	require.NoError(t, err)
	require.True(t, defs[0].Disabled)
}

func TestTaskInstanceLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	// task_instances.definition_id references task_definitions(id).
	require.NoError(t, db.UpsertTaskDefinition(ctx, domain.TaskDefinition{ID: "claim-rewards", Version: 1, ActionKind: "claim", ProtocolID: "aave"}))

	ti := domain.TaskInstance{
		ID:            "ti-1",
		DefinitionID:  "claim-rewards",
		CorrelationID: "corr-1",
		ScheduledFor:  now,
		Attempt:       1,
		State:         domain.TaskPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, db.AppendTaskInstance(ctx, ti))

	got, err := db.TaskInstance(ctx, "ti-1")
	require.NoError(t, err)
	require.Equal(t, domain.TaskPending, got.State)

	require.NoError(t, db.UpdateTaskInstanceState(ctx, "ti-1", domain.TaskRunning, "", "", 1, now.Add(time.Second)))
	got, err = db.TaskInstance(ctx, "ti-1")
	require.NoError(t, err)
	require.Equal(t, domain.TaskRunning, got.State)

	running, err := db.TaskInstancesByState(ctx, domain.TaskRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)

	_, err = db.TaskInstance(ctx, "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRiskStateHistoryLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	t1 := time.Now().Truncate(time.Second)

	require.NoError(t, db.AppendRiskState(ctx, domain.RiskState{Kind: domain.RiskNormal, ActivatedAt: t0}))
	require.NoError(t, db.AppendRiskState(ctx, domain.RiskState{Kind: domain.RiskHalted, Reason: "daily_loss", ActivatedAt: t1}))

	latest, err := db.LatestRiskState(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RiskHalted, latest.Kind)
	require.Equal(t, "daily_loss", latest.Reason)
}

func TestAllocationHistoryLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	target := domain.AllocationTarget{ComputedAt: now, Weights: map[string]float64{"aave": 0.6, "compound": 0.4}, Algorithm: "equal_weight"}
	require.NoError(t, db.AppendAllocationTarget(ctx, target))

	got, err := db.LatestAllocationTarget(ctx)
	require.NoError(t, err)
	require.Equal(t, "equal_weight", got.Algorithm)
	require.InDelta(t, 0.6, got.Weights["aave"], 1e-9)
}

func TestActionOutcomeRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	outcome := domain.ActionOutcome{
		TaskInstanceID:   "ti-1",
		Success:          true,
		TxHashes:         []string{"0xabc"},
		RealizedNotional: 2000,
		RealizedGasGwei:  15,
		Timestamp:        now,
	}
	require.NoError(t, db.AppendActionOutcome(ctx, outcome))

	got, err := db.ActionOutcome(ctx, "ti-1")
	require.NoError(t, err)
	require.True(t, got.Success)
	require.Equal(t, []string{"0xabc"}, got.TxHashes)

	between, err := db.ActionOutcomesBetween(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, between, 1)
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.HealthCheck(context.Background()))
}
