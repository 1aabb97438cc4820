// Package scheduler implements the Central Scheduler (C6): a single
// logical loop that owns task timing and TaskInstance state transitions,
// backed by a bounded worker pool for the I/O-bound attempt work itself —
// the loop never blocks on an adapter call. Grounded on this project's
// work processor (trigger/done/stop channel shape, FIFO-with-retry-queue
// pattern) generalized from ad hoc work types to DAG-aware TaskDefinitions.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aristath/farmd/internal/adapter"
	"github.com/aristath/farmd/internal/domain"
	"github.com/aristath/farmd/internal/tasks"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Clock is the narrow time source the scheduler needs.
type Clock interface {
	Now() time.Time
}

// RiskEvaluator is the slice of the Risk Manager the scheduler calls.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, proposal domain.ActionProposal) domain.Decision
	IngestOutcome(outcome domain.ActionOutcome, reservationID string)
	State() domain.RiskState
	SweepReservations()
}

// EventPublisher is the narrow Event Bus slice the scheduler needs.
type EventPublisher interface {
	Publish(data domain.EventData)
}

// Store is the persistence slice the scheduler depends on; satisfied by
// *store.DB.
type Store interface {
	AppendTaskInstance(ctx context.Context, ti domain.TaskInstance) error
	UpdateTaskInstanceState(ctx context.Context, id string, next domain.TaskState, lastError, cancelReason string, attempt int, updatedAt time.Time) error
	TaskInstance(ctx context.Context, id string) (domain.TaskInstance, error)
	TaskInstancesByState(ctx context.Context, state domain.TaskState) ([]domain.TaskInstance, error)
	AppendActionOutcome(ctx context.Context, o domain.ActionOutcome) error
}

// ProposalBuilder constructs an ActionProposal from a TaskDefinition's
// parameter template plus whatever current sizing source (Capital
// Allocator, portfolio view) the composition root wires in. Kept outside
// the scheduler so the loop stays domain-sizing-agnostic.
type ProposalBuilder func(ctx context.Context, def domain.TaskDefinition) (domain.ActionProposal, error)

// ErrorClassification tells the scheduler whether a DENY reason or
// adapter error counts toward a TaskInstance's retry budget.
type ErrorClassification int

const (
	ClassTransient ErrorClassification = iota
	ClassPermanent
)

// ClassifyDenyReason maps a risk DENY reason code to a retry
// classification, per §7's "risk denial" error kind: gas/staleness/
// cap denials are transient, a wallet with an exhausted health budget is
// permanent.
func ClassifyDenyReason(reason string) ErrorClassification {
	switch reason {
	case "wallet_unhealthy":
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// Config tunes the scheduler's concurrency and backoff behavior.
type Config struct {
	PollInterval             time.Duration
	MaxConcurrentTasks       int
	MaxConcurrentPerWallet   int
	BackoffBase              time.Duration
	MaxBackoff               time.Duration
	ShutdownGrace            time.Duration
}

// DefaultConfig returns sane scheduler defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:           time.Second,
		MaxConcurrentTasks:     8,
		MaxConcurrentPerWallet: 1,
		BackoffBase:            time.Second,
		MaxBackoff:             5 * time.Minute,
		ShutdownGrace:          30 * time.Second,
	}
}

// run tracks one correlation id's in-flight DAG execution: which
// definitions have succeeded, and whether a permanent failure has
// occurred (which cascades CANCELLED to not-yet-terminal descendants).
type run struct {
	mu        sync.Mutex
	succeeded map[string]bool
	failed    bool
	instances map[string]string // definition id -> task instance id, for this run
}

// Scheduler is the production Central Scheduler.
type Scheduler struct {
	registry  *tasks.Registry
	store     Store
	risk      RiskEvaluator
	adapters  *adapter.Registry
	bus       EventPublisher
	clock     Clock
	buildProp ProposalBuilder
	cfg       Config
	log       zerolog.Logger

	mu          sync.Mutex
	nextFire    map[string]time.Time // definition id -> next due time
	runs        map[string]*run      // correlation id -> run
	walletSlots map[string]int       // wallet -> in-flight RUNNING count
	workerSem   chan struct{}

	trigger chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Scheduler. Callers should call Recover before Run on a
// restarted process to reclassify RUNNING instances per S6.
func New(registry *tasks.Registry, store Store, risk RiskEvaluator, adapters *adapter.Registry, bus EventPublisher, clk Clock, buildProp ProposalBuilder, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Scheduler{
		registry:    registry,
		store:       store,
		risk:        risk,
		adapters:    adapters,
		bus:         bus,
		clock:       clk,
		buildProp:   buildProp,
		cfg:         cfg,
		log:         log.With().Str("component", "scheduler").Logger(),
		nextFire:    make(map[string]time.Time),
		runs:        make(map[string]*run),
		walletSlots: make(map[string]int),
		workerSem:   make(chan struct{}, cfg.MaxConcurrentTasks),
		trigger:     make(chan struct{}, 1),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Run drives the scheduler loop until Stop is called. Blocks.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			done := make(chan struct{})
			go func() {
				s.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(s.cfg.ShutdownGrace):
				s.log.Warn().Dur("grace", s.cfg.ShutdownGrace).Msg("shutdown grace elapsed, abandoning in-flight attempts")
			}
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.trigger:
			s.tick(ctx)
		}
	}
}

// Stop halts the loop. In-flight attempts are allowed ShutdownGrace to
// finish before the process abandons them (the caller's context should
// be cancelled separately to actually interrupt adapter calls).
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}

// Trigger wakes the loop to re-scan for due work without waiting for the
// next poll tick. Non-blocking.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// tick scans every enabled definition for due root tasks (empty
// DependsOn — dependent definitions fire reactively, from a predecessor's
// success, never from their own Trigger) and launches a new instance for
// each one that is due. Retries and recovered PENDING instances are
// dispatched by their own paths, not by tick.
func (s *Scheduler) tick(ctx context.Context) {
	// Release any reservation an adapter never settled (spec.md §9's
	// reservation-TTL open question) on the same cadence as everything
	// else the loop does — no separate ticker needed.
	s.risk.SweepReservations()

	// I3: re-read RiskState every tick before launching anything new.
	if s.risk.State().Kind == domain.RiskHalted {
		return
	}

	now := s.clock.Now()
	for _, def := range s.registry.ByPriority() {
		if len(def.DependsOn) > 0 {
			continue // reactive: launched by predecessor success, not by Trigger
		}
		s.maybeFireRoot(ctx, def, now)
	}
}

func (s *Scheduler) maybeFireRoot(ctx context.Context, def domain.TaskDefinition, now time.Time) {
	s.mu.Lock()
	due, ok := s.nextFire[def.ID]
	if !ok {
		if def.Trigger.Kind == domain.TriggerInterval {
			// First sight of an interval definition (fresh start or after
			// downtime) is due at once; later fires follow the interval.
			due = now
		} else {
			next, err := tasks.NextFire(def.Trigger, now.Add(-time.Nanosecond))
			if err != nil {
				s.mu.Unlock()
				return
			}
			due = next
		}
		s.nextFire[def.ID] = due
	}
	if due.After(now) {
		s.mu.Unlock()
		return
	}
	// Coalesce missed fires during downtime to a single catch-up fire:
	// advance nextFire past now without queuing one launch per missed tick.
	next, err := tasks.NextFire(def.Trigger, now)
	if err == nil {
		s.nextFire[def.ID] = next
	} else {
		delete(s.nextFire, def.ID)
	}
	s.mu.Unlock()

	correlationID := uuid.NewString()
	s.launch(ctx, def, correlationID, now)
}

// launch creates a new TaskInstance for def within correlationID and
// dispatches it to the worker pool, subject to the global and per-wallet
// concurrency caps.
func (s *Scheduler) launch(ctx context.Context, def domain.TaskDefinition, correlationID string, scheduledFor time.Time) {
	s.mu.Lock()
	r, ok := s.runs[correlationID]
	if !ok {
		r = &run{succeeded: make(map[string]bool), instances: make(map[string]string)}
		s.runs[correlationID] = r
	}
	s.mu.Unlock()

	ti := domain.TaskInstance{
		ID:            uuid.NewString(),
		DefinitionID:  def.ID,
		CorrelationID: correlationID,
		ScheduledFor:  scheduledFor,
		Attempt:       1,
		State:         domain.TaskPending,
		CreatedAt:     scheduledFor,
		UpdatedAt:     scheduledFor,
	}
	if err := s.store.AppendTaskInstance(ctx, ti); err != nil {
		s.log.Error().Err(err).Str("task", def.ID).Msg("failed to journal task instance")
		return
	}
	r.mu.Lock()
	r.instances[def.ID] = ti.ID
	r.mu.Unlock()

	s.bus.Publish(domain.TaskScheduledData{TaskInstanceID: ti.ID, DefinitionID: def.ID, ScheduledFor: scheduledFor})
	s.dispatch(ctx, def, ti)
}

// dispatch acquires a worker slot (global + per-wallet) and runs one
// attempt in the background.
func (s *Scheduler) dispatch(ctx context.Context, def domain.TaskDefinition, ti domain.TaskInstance) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		wallet := proposalWallet(def)
		if !s.acquireWalletSlot(wallet) {
			// Saturated: wait briefly, then re-dispatch until a slot for
			// this wallet frees up.
			time.Sleep(50 * time.Millisecond)
			s.dispatch(ctx, def, ti)
			return
		}
		defer s.releaseWalletSlot(wallet)

		s.workerSem <- struct{}{}
		defer func() { <-s.workerSem }()

		s.runAttempt(ctx, def, ti)
	}()
}

func proposalWallet(def domain.TaskDefinition) string {
	if w, ok := def.Params["wallet"].(string); ok {
		return w
	}
	return ""
}

// acquireWalletSlot enforces I7: per-wallet concurrent RUNNING count <=
// MaxConcurrentPerWallet. An empty wallet id (tasks with no wallet
// affinity) is never rate-limited.
func (s *Scheduler) acquireWalletSlot(wallet string) bool {
	if wallet == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.walletSlots[wallet] >= s.cfg.MaxConcurrentPerWallet {
		return false
	}
	s.walletSlots[wallet]++
	return true
}

func (s *Scheduler) releaseWalletSlot(wallet string) {
	if wallet == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.walletSlots[wallet] > 0 {
		s.walletSlots[wallet]--
	}
}

// backoffDuration computes exponential backoff with full jitter, capped
// at max — base * 2^(attempt-1), then a uniform random draw in [0, cap).
func backoffDuration(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	capped := base * time.Duration(1<<uint(attempt-1))
	if capped <= 0 || capped > max {
		capped = max
	}
	if capped <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(capped)))
}
