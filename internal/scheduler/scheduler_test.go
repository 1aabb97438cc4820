package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aristath/farmd/internal/adapter"
	"github.com/aristath/farmd/internal/domain"
	"github.com/aristath/farmd/internal/tasks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRisk struct {
	mu         sync.Mutex
	state      domain.RiskState
	sweepCalls int
}

func newFakeRisk() *fakeRisk {
	return &fakeRisk{state: domain.RiskState{Kind: domain.RiskNormal}}
}

func (r *fakeRisk) Evaluate(ctx context.Context, proposal domain.ActionProposal) domain.Decision {
	return domain.Decision{Kind: domain.DecisionAllow, ReservationID: "resv-1"}
}

func (r *fakeRisk) IngestOutcome(outcome domain.ActionOutcome, reservationID string) {}

func (r *fakeRisk) SweepReservations() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepCalls++
}

func (r *fakeRisk) sweeps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepCalls
}

func (r *fakeRisk) State() domain.RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeRisk) setHalted(halted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if halted {
		r.state = domain.RiskState{Kind: domain.RiskHalted, Reason: "test"}
	} else {
		r.state = domain.RiskState{Kind: domain.RiskNormal}
	}
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.EventData
}

func (b *fakeBus) Publish(data domain.EventData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, data)
}

func (b *fakeBus) snapshot() []domain.EventData {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventData, len(b.events))
	copy(out, b.events)
	return out
}

type fakeStore struct {
	mu        sync.Mutex
	instances map[string]domain.TaskInstance
	outcomes  []domain.ActionOutcome
}

func newFakeStore() *fakeStore {
	return &fakeStore{instances: make(map[string]domain.TaskInstance)}
}

func (s *fakeStore) AppendTaskInstance(ctx context.Context, ti domain.TaskInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[ti.ID] = ti
	return nil
}

func (s *fakeStore) UpdateTaskInstanceState(ctx context.Context, id string, next domain.TaskState, lastError, cancelReason string, attempt int, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti, ok := s.instances[id]
	if !ok {
		return ErrTestNotFound
	}
	ti.State = next
	ti.LastError = lastError
	ti.CancelReason = cancelReason
	ti.Attempt = attempt
	ti.UpdatedAt = updatedAt
	s.instances[id] = ti
	return nil
}

func (s *fakeStore) TaskInstance(ctx context.Context, id string) (domain.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti, ok := s.instances[id]
	if !ok {
		return domain.TaskInstance{}, ErrTestNotFound
	}
	return ti, nil
}

func (s *fakeStore) TaskInstancesByState(ctx context.Context, state domain.TaskState) ([]domain.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TaskInstance
	for _, ti := range s.instances {
		if ti.State == state {
			out = append(out, ti)
		}
	}
	return out, nil
}

func (s *fakeStore) AppendActionOutcome(ctx context.Context, o domain.ActionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *fakeStore) byDefinition(defID string) []domain.TaskInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TaskInstance
	for _, ti := range s.instances {
		if ti.DefinitionID == defID {
			out = append(out, ti)
		}
	}
	return out
}

// errTestNotFound mirrors store.ErrNotFound without importing the store
// package (which pulls in the sqlite driver for a pure in-memory test).
type testNotFoundErr struct{}

func (testNotFoundErr) Error() string { return "scheduler test: not found" }

var ErrTestNotFound error = testNotFoundErr{}

// scriptedAdapter is a adapter.Protocol whose Execute result is driven by
// a caller-supplied function, so each test can script success/failure.
type scriptedAdapter struct {
	id      string
	execute func(ctx context.Context, kind domain.ActionKind, params map[string]any) (domain.ActionOutcome, error)
}

func (a *scriptedAdapter) ID() string                               { return a.id }
func (a *scriptedAdapter) Capabilities() []domain.ActionKind        { return []domain.ActionKind{"claim"} }
func (a *scriptedAdapter) Estimate(ctx context.Context, kind domain.ActionKind, params map[string]any) (adapter.Estimate, error) {
	return adapter.Estimate{}, nil
}
func (a *scriptedAdapter) Execute(ctx context.Context, kind domain.ActionKind, params map[string]any, deadline time.Time) (domain.ActionOutcome, error) {
	return a.execute(ctx, kind, params)
}

func alwaysSucceeds(id string) *scriptedAdapter {
	return &scriptedAdapter{id: id, execute: func(ctx context.Context, kind domain.ActionKind, params map[string]any) (domain.ActionOutcome, error) {
		return domain.ActionOutcome{Success: true}, nil
	}}
}

func alwaysFailsPermanent(id string) *scriptedAdapter {
	return &scriptedAdapter{id: id, execute: func(ctx context.Context, kind domain.ActionKind, params map[string]any) (domain.ActionOutcome, error) {
		return domain.ActionOutcome{Success: false, ErrorKind: domain.ErrReverted}, nil
	}}
}

func alwaysFailsTransient(id string) *scriptedAdapter {
	return &scriptedAdapter{id: id, execute: func(ctx context.Context, kind domain.ActionKind, params map[string]any) (domain.ActionOutcome, error) {
		return domain.ActionOutcome{Success: false, ErrorKind: domain.ErrTransientRpc}, nil
	}}
}

func defaultBuildProposal(ctx context.Context, def domain.TaskDefinition) (domain.ActionProposal, error) {
	wallet, _ := def.Params["wallet"].(string)
	return domain.ActionProposal{Wallet: wallet, Protocol: def.ProtocolID, ActionKind: def.ActionKind, NotionalUSD: 100}, nil
}

func baseDef(id, protocolID string, deps ...string) domain.TaskDefinition {
	return domain.TaskDefinition{
		ID:         id,
		ActionKind: "claim",
		ProtocolID: protocolID,
		Trigger:    domain.Trigger{Kind: domain.TriggerInterval, Interval: time.Minute},
		MaxRetries: 1,
		Timeout:    time.Second,
		DependsOn:  deps,
	}
}

func newTestScheduler(t *testing.T, clk *fakeClock, risk *fakeRisk, bus *fakeBus, st *fakeStore, reg *tasks.Registry, adapters *adapter.Registry, cfg Config) *Scheduler {
	t.Helper()
	return New(reg, st, risk, adapters, bus, clk, defaultBuildProposal, cfg, zerolog.Nop())
}

// --- tests ---

func TestBackoffDurationBounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 20; i++ {
			d := backoffDuration(base, attempt, max)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, max)
		}
	}
}

func TestClassifyDenyReason(t *testing.T) {
	require.Equal(t, ClassPermanent, ClassifyDenyReason("wallet_unhealthy"))
	require.Equal(t, ClassTransient, ClassifyDenyReason("gas_too_high"))
	require.Equal(t, ClassTransient, ClassifyDenyReason(""))
}

// TestSucceedLaunchesReadySuccessor covers the DAG-reactive launch: B
// depends on A and never fires from its own Trigger, only once A
// succeeds within the same correlation id.
func TestSucceedLaunchesReadySuccessor(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	bus := &fakeBus{}
	st := newFakeStore()

	reg := tasks.NewRegistry()
	require.NoError(t, reg.Register(baseDef("a", "proto")))
	require.NoError(t, reg.Register(baseDef("b", "proto", "a")))

	adapters := adapter.NewRegistry()
	adapters.Register(alwaysSucceeds("proto"))

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, cfg)

	defA, _ := reg.Get("a")
	s.launch(context.Background(), defA, "corr-1", clk.Now())

	require.Eventually(t, func() bool {
		return len(st.byDefinition("b")) == 1
	}, time.Second, 5*time.Millisecond)

	bInstances := st.byDefinition("b")
	require.Len(t, bInstances, 1)
	require.Equal(t, "corr-1", bInstances[0].CorrelationID)
}

// TestCascadeCancelOnPermanentFailure covers S3: A->B->C, A fails
// permanently, both B and C reach CANCELLED with no adapter invocation.
func TestCascadeCancelOnPermanentFailure(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	bus := &fakeBus{}
	st := newFakeStore()

	reg := tasks.NewRegistry()
	require.NoError(t, reg.Register(baseDef("a", "proto")))
	require.NoError(t, reg.Register(baseDef("b", "proto", "a")))
	require.NoError(t, reg.Register(baseDef("c", "proto", "b")))

	adapters := adapter.NewRegistry()
	adapters.Register(alwaysFailsPermanent("proto"))

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, cfg)

	// Pre-launch B and C within the same correlation id, as the reactive
	// DAG launcher would have done had A succeeded, so cascade-cancel has
	// live instances to act on.
	defA, _ := reg.Get("a")

	corrID := "corr-cascade"
	s.mu.Lock()
	r := &run{succeeded: make(map[string]bool), instances: make(map[string]string)}
	s.runs[corrID] = r
	s.mu.Unlock()

	bTI := domain.TaskInstance{ID: "b-1", DefinitionID: "b", CorrelationID: corrID, State: domain.TaskPending, Attempt: 1}
	cTI := domain.TaskInstance{ID: "c-1", DefinitionID: "c", CorrelationID: corrID, State: domain.TaskPending, Attempt: 1}
	require.NoError(t, st.AppendTaskInstance(context.Background(), bTI))
	require.NoError(t, st.AppendTaskInstance(context.Background(), cTI))
	r.mu.Lock()
	r.instances["b"] = bTI.ID
	r.instances["c"] = cTI.ID
	r.mu.Unlock()

	s.launch(context.Background(), defA, corrID, clk.Now())

	require.Eventually(t, func() bool {
		b, errB := st.TaskInstance(context.Background(), bTI.ID)
		c, errC := st.TaskInstance(context.Background(), cTI.ID)
		return errB == nil && errC == nil && b.State == domain.TaskCancelled && c.State == domain.TaskCancelled
	}, time.Second, 5*time.Millisecond)

	bFinal, err := st.TaskInstance(context.Background(), bTI.ID)
	require.NoError(t, err)
	require.Equal(t, "upstream_failed", bFinal.CancelReason)
	cFinal, err := st.TaskInstance(context.Background(), cTI.ID)
	require.NoError(t, err)
	require.Equal(t, "upstream_failed", cFinal.CancelReason)

	aInstances := st.byDefinition("a")
	require.Len(t, aInstances, 1)
	require.Equal(t, domain.TaskFailedPermanent, aInstances[0].State)
}

// TestFailTransientExhaustsRetryBudget covers I5: attempts never exceed
// max_retries+1 before promoting to FAILED_PERMANENT.
func TestFailTransientExhaustsRetryBudget(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	bus := &fakeBus{}
	st := newFakeStore()

	reg := tasks.NewRegistry()
	def := baseDef("a", "proto")
	def.MaxRetries = 1
	require.NoError(t, reg.Register(def))

	adapters := adapter.NewRegistry()
	adapters.Register(alwaysFailsTransient("proto"))

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, cfg)

	s.launch(context.Background(), def, "corr-budget", clk.Now())

	require.Eventually(t, func() bool {
		insts := st.byDefinition("a")
		if len(insts) == 0 {
			return false
		}
		return insts[0].State == domain.TaskFailedPermanent
	}, 2*time.Second, 5*time.Millisecond)

	insts := st.byDefinition("a")
	require.Len(t, insts, 1)
	require.LessOrEqual(t, insts[0].Attempt, def.MaxRetries+1)
}

// TestHaltedNeverRuns covers I3: a HALTED risk state must never let an
// attempt transition to RUNNING.
func TestHaltedNeverRuns(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	risk.setHalted(true)
	bus := &fakeBus{}
	st := newFakeStore()

	reg := tasks.NewRegistry()
	def := baseDef("a", "proto")
	require.NoError(t, reg.Register(def))

	invoked := false
	adapters := adapter.NewRegistry()
	adapters.Register(&scriptedAdapter{id: "proto", execute: func(ctx context.Context, kind domain.ActionKind, params map[string]any) (domain.ActionOutcome, error) {
		invoked = true
		return domain.ActionOutcome{Success: true}, nil
	}})

	cfg := DefaultConfig()
	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, cfg)

	s.launch(context.Background(), def, "corr-halted", clk.Now())
	time.Sleep(50 * time.Millisecond)

	require.False(t, invoked)
	insts := st.byDefinition("a")
	require.Len(t, insts, 1)
	require.Equal(t, domain.TaskPending, insts[0].State)
}

// TestTickSweepsReservations covers the reservation-TTL open question:
// every tick (not a separate ticker) must sweep expired reservations so
// an adapter that never returns doesn't leak a reservation forever.
func TestTickSweepsReservations(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	bus := &fakeBus{}
	st := newFakeStore()
	reg := tasks.NewRegistry()
	adapters := adapter.NewRegistry()

	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, DefaultConfig())

	require.Equal(t, 0, risk.sweeps())
	s.tick(context.Background())
	require.Equal(t, 1, risk.sweeps())

	s.tick(context.Background())
	require.Equal(t, 2, risk.sweeps())

	risk.setHalted(true)
	s.tick(context.Background())
	require.Equal(t, 3, risk.sweeps(), "sweep must still run even while HALTED")
}

// TestPerWalletConcurrencyCap covers I7: two tasks on the same wallet
// never run concurrently when MaxConcurrentPerWallet is 1.
func TestPerWalletConcurrencyCap(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	bus := &fakeBus{}
	st := newFakeStore()

	reg := tasks.NewRegistry()
	defA := baseDef("a", "proto")
	defA.Params = map[string]any{"wallet": "w1"}
	defB := baseDef("b2", "proto")
	defB.Params = map[string]any{"wallet": "w1"}
	require.NoError(t, reg.Register(defA))
	require.NoError(t, reg.Register(defB))

	var mu sync.Mutex
	inFlight := 0
	maxObserved := 0
	adapters := adapter.NewRegistry()
	adapters.Register(&scriptedAdapter{id: "proto", execute: func(ctx context.Context, kind domain.ActionKind, params map[string]any) (domain.ActionOutcome, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxObserved {
			maxObserved = inFlight
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return domain.ActionOutcome{Success: true}, nil
	}})

	cfg := DefaultConfig()
	cfg.MaxConcurrentPerWallet = 1
	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, cfg)

	s.launch(context.Background(), defA, "corr-w1-a", clk.Now())
	s.launch(context.Background(), defB, "corr-w1-b", clk.Now())

	require.Eventually(t, func() bool {
		instsA := st.byDefinition("a")
		instsB := st.byDefinition("b2")
		return len(instsA) == 1 && len(instsB) == 1 &&
			instsA[0].State == domain.TaskSucceeded && instsB[0].State == domain.TaskSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxObserved)
}

// TestRecoverReclassifiesRunningInstances covers S6: a RUNNING instance
// found at startup is reclassified as FAILED_TRANSIENT(restart), never
// re-emitted as SUCCEEDED, and re-queued subject to its retry budget.
func TestRecoverReclassifiesRunningInstances(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	bus := &fakeBus{}
	st := newFakeStore()

	reg := tasks.NewRegistry()
	def := baseDef("a", "proto")
	def.MaxRetries = 2
	require.NoError(t, reg.Register(def))

	adapters := adapter.NewRegistry()
	adapters.Register(alwaysSucceeds("proto"))

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, cfg)

	stuck := domain.TaskInstance{
		ID:            "stuck-1",
		DefinitionID:  "a",
		CorrelationID: "corr-restart",
		Attempt:       1,
		State:         domain.TaskRunning,
		CreatedAt:     clk.Now(),
		UpdatedAt:     clk.Now(),
	}
	require.NoError(t, st.AppendTaskInstance(context.Background(), stuck))

	require.NoError(t, s.Recover(context.Background()))

	for _, e := range bus.snapshot() {
		if failed, ok := e.(domain.TaskFailedData); ok {
			require.NotEqual(t, domain.TaskSucceeded, failed.State)
		}
	}

	require.Eventually(t, func() bool {
		ti, err := st.TaskInstance(context.Background(), "stuck-1")
		return err == nil && ti.State == domain.TaskSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	succCount := 0
	for _, e := range bus.snapshot() {
		if _, ok := e.(domain.TaskSucceededData); ok {
			succCount++
		}
	}
	require.Equal(t, 1, succCount)
}

// TestRecoverRedispatchesPending covers the second half of S6: PENDING
// instances found at startup are dispatched immediately, without waiting
// for backoff.
func TestRecoverRedispatchesPending(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	bus := &fakeBus{}
	st := newFakeStore()

	reg := tasks.NewRegistry()
	def := baseDef("a", "proto")
	require.NoError(t, reg.Register(def))

	adapters := adapter.NewRegistry()
	adapters.Register(alwaysSucceeds("proto"))

	cfg := DefaultConfig()
	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, cfg)

	pending := domain.TaskInstance{
		ID:            "pending-1",
		DefinitionID:  "a",
		CorrelationID: "corr-pending",
		Attempt:       1,
		State:         domain.TaskPending,
		CreatedAt:     clk.Now(),
		UpdatedAt:     clk.Now(),
	}
	require.NoError(t, st.AppendTaskInstance(context.Background(), pending))

	require.NoError(t, s.Recover(context.Background()))

	require.Eventually(t, func() bool {
		ti, err := st.TaskInstance(context.Background(), "pending-1")
		return err == nil && ti.State == domain.TaskSucceeded
	}, time.Second, 5*time.Millisecond)
}

// TestMaybeFireRootCoalescesMissedFires covers the missed-fire
// coalescing policy: a single catch-up fire per definition, never one
// per missed interval.
func TestMaybeFireRootCoalescesMissedFires(t *testing.T) {
	clk := newFakeClock(time.Now())
	risk := newFakeRisk()
	bus := &fakeBus{}
	st := newFakeStore()

	reg := tasks.NewRegistry()
	def := baseDef("a", "proto")
	def.Trigger = domain.Trigger{Kind: domain.TriggerInterval, Interval: time.Second}
	require.NoError(t, reg.Register(def))

	adapters := adapter.NewRegistry()
	adapters.Register(alwaysSucceeds("proto"))

	cfg := DefaultConfig()
	s := newTestScheduler(t, clk, risk, bus, st, reg, adapters, cfg)

	s.maybeFireRoot(context.Background(), def, clk.Now())
	// Simulate 10 missed intervals of downtime in a single jump.
	clk.Advance(10 * time.Second)
	s.maybeFireRoot(context.Background(), def, clk.Now())

	require.Eventually(t, func() bool {
		return len(st.byDefinition("a")) == 2
	}, time.Second, 5*time.Millisecond)

	// Exactly one catch-up launch for the whole gap, not ten.
	require.Len(t, st.byDefinition("a"), 2)
}
