package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// runAttempt executes the per-attempt protocol (§4.6 steps 1-6) for one
// TaskInstance: build proposal, evaluate risk, invoke the adapter,
// record the outcome, and drive the DAG cascade on terminal states.
func (s *Scheduler) runAttempt(ctx context.Context, def domain.TaskDefinition, ti domain.TaskInstance) {
	now := s.clock.Now()

	if s.risk.State().Kind == domain.RiskHalted {
		// I3: never transition to RUNNING while HALTED; stay PENDING.
		return
	}

	proposal, err := s.buildProp(ctx, def)
	if err != nil {
		s.failTransient(ctx, def, ti, fmt.Sprintf("build_proposal: %v", err))
		return
	}

	decision := s.risk.Evaluate(ctx, proposal)
	switch decision.Kind {
	case domain.DecisionDeny:
		if ClassifyDenyReason(decision.Reason) == ClassPermanent {
			s.failPermanent(ctx, def, ti, decision.Reason)
		} else {
			// Transient denials retry after backoff without consuming the
			// retry budget: the attempt number is carried over unchanged.
			if err := s.transition(ctx, ti, domain.TaskFailedTransient, decision.Reason, "", ti.Attempt, now); err != nil {
				s.log.Error().Err(err).Str("instance", ti.ID).Msg("failed to persist FAILED_TRANSIENT transition")
			}
			s.bus.Publish(domain.TaskFailedData{TaskInstanceID: ti.ID, DefinitionID: def.ID, State: domain.TaskFailedTransient, Reason: decision.Reason})
			delay := backoffDuration(s.cfg.BackoffBase, ti.Attempt, s.cfg.MaxBackoff)
			s.bus.Publish(domain.TaskRetryingData{TaskInstanceID: ti.ID, DefinitionID: def.ID, Attempt: ti.Attempt, BackoffFor: delay, Reason: decision.Reason})
			s.scheduleRetry(ctx, def, ti, delay)
		}
		return
	case domain.DecisionDownsize:
		proposal.NotionalUSD = decision.NewNotional
	}

	if err := s.transition(ctx, ti, domain.TaskRunning, "", "", ti.Attempt, now); err != nil {
		s.log.Error().Err(err).Str("instance", ti.ID).Msg("failed to persist RUNNING transition")
		return
	}
	s.bus.Publish(domain.TaskStartedData{TaskInstanceID: ti.ID, DefinitionID: def.ID, Attempt: ti.Attempt})

	a, ok := s.adapters.Get(def.ProtocolID)
	if !ok {
		s.failPermanent(ctx, def, ti, "unknown_protocol")
		return
	}

	deadline := now.Add(def.Timeout)
	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	outcome, execErr := a.Execute(attemptCtx, def.ActionKind, def.Params, deadline)
	cancel()

	outcome.TaskInstanceID = ti.ID
	if execErr != nil && outcome.ErrorKind == "" {
		outcome.ErrorKind = classifyExecErr(execErr)
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = s.clock.Now()
	}

	if err := s.store.AppendActionOutcome(ctx, outcome); err != nil {
		s.log.Error().Err(err).Str("instance", ti.ID).Msg("failed to journal action outcome")
	}
	s.risk.IngestOutcome(outcome, decision.ReservationID)

	if outcome.Success {
		s.succeed(ctx, def, ti, outcome)
		return
	}

	if isPermanentOutcome(outcome.ErrorKind) {
		s.failPermanent(ctx, def, ti, string(outcome.ErrorKind))
	} else {
		s.failTransient(ctx, def, ti, string(outcome.ErrorKind))
	}
}

func classifyExecErr(err error) domain.OutcomeErrorKind {
	type kinded interface{ Kind() domain.OutcomeErrorKind }
	if k, ok := err.(kinded); ok {
		return k.Kind()
	}
	return domain.ErrTransientRpc
}

func isPermanentOutcome(kind domain.OutcomeErrorKind) bool {
	switch kind {
	case domain.ErrInsufficientBal, domain.ErrReverted, domain.ErrPermanentConfig:
		return true
	default:
		return false
	}
}

// transition persists a TaskInstance state change.
func (s *Scheduler) transition(ctx context.Context, ti domain.TaskInstance, next domain.TaskState, lastErr, cancelReason string, attempt int, at time.Time) error {
	return s.store.UpdateTaskInstanceState(ctx, ti.ID, next, lastErr, cancelReason, attempt, at)
}

// succeed marks the instance SUCCEEDED and launches any successor
// definitions within the same correlation id now ready per the DAG.
func (s *Scheduler) succeed(ctx context.Context, def domain.TaskDefinition, ti domain.TaskInstance, outcome domain.ActionOutcome) {
	now := s.clock.Now()
	if err := s.transition(ctx, ti, domain.TaskSucceeded, "", "", ti.Attempt, now); err != nil {
		s.log.Error().Err(err).Str("instance", ti.ID).Msg("failed to persist SUCCEEDED transition")
	}
	s.bus.Publish(domain.TaskSucceededData{TaskInstanceID: ti.ID, DefinitionID: def.ID, Outcome: outcome})

	s.mu.Lock()
	r, ok := s.runs[ti.CorrelationID]
	s.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.succeeded[def.ID] = true
	succeededSnapshot := make(map[string]bool, len(r.succeeded))
	for k, v := range r.succeeded {
		succeededSnapshot[k] = v
	}
	failed := r.failed
	r.mu.Unlock()
	if failed {
		return
	}

	for _, succID := range s.registry.ReadySuccessors(def.ID, succeededSnapshot) {
		succDef, ok := s.registry.Get(succID)
		if !ok || succDef.Disabled {
			continue
		}
		s.launch(ctx, succDef, ti.CorrelationID, now)
	}
}

// failTransient moves the instance to FAILED_TRANSIENT and, if the retry
// budget allows, schedules a backoff-delayed retry back to PENDING;
// otherwise promotes to FAILED_PERMANENT (I5: attempts <= max_retries+1).
func (s *Scheduler) failTransient(ctx context.Context, def domain.TaskDefinition, ti domain.TaskInstance, reason string) {
	now := s.clock.Now()
	if err := s.transition(ctx, ti, domain.TaskFailedTransient, reason, "", ti.Attempt, now); err != nil {
		s.log.Error().Err(err).Str("instance", ti.ID).Msg("failed to persist FAILED_TRANSIENT transition")
	}
	s.bus.Publish(domain.TaskFailedData{TaskInstanceID: ti.ID, DefinitionID: def.ID, State: domain.TaskFailedTransient, Reason: reason})

	if ti.Attempt >= def.MaxRetries+1 {
		s.failPermanent(ctx, def, ti, reason)
		return
	}

	delay := backoffDuration(s.cfg.BackoffBase, ti.Attempt, s.cfg.MaxBackoff)
	next := ti
	next.Attempt++
	s.bus.Publish(domain.TaskRetryingData{TaskInstanceID: ti.ID, DefinitionID: def.ID, Attempt: next.Attempt, BackoffFor: delay, Reason: reason})
	s.scheduleRetry(ctx, def, next, delay)
}

// failPermanent moves the instance to FAILED_PERMANENT and cascades
// CANCELLED(upstream_failed) to every not-yet-terminal descendant in the
// same correlation id (S3).
func (s *Scheduler) failPermanent(ctx context.Context, def domain.TaskDefinition, ti domain.TaskInstance, reason string) {
	now := s.clock.Now()
	if err := s.transition(ctx, ti, domain.TaskFailedPermanent, reason, "", ti.Attempt, now); err != nil {
		s.log.Error().Err(err).Str("instance", ti.ID).Msg("failed to persist FAILED_PERMANENT transition")
	}
	s.bus.Publish(domain.TaskFailedData{TaskInstanceID: ti.ID, DefinitionID: def.ID, State: domain.TaskFailedPermanent, Reason: reason})

	s.mu.Lock()
	r, ok := s.runs[ti.CorrelationID]
	s.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()

	s.cancelDescendants(ctx, def.ID, ti.CorrelationID)
}

// cancelDescendants walks the DAG forward from a failed definition and
// cancels every dependent definition's instance within the same
// correlation id — transitively, so C in A->B->C is cancelled too.
func (s *Scheduler) cancelDescendants(ctx context.Context, failedDefID, correlationID string) {
	s.mu.Lock()
	r, ok := s.runs[correlationID]
	s.mu.Unlock()
	if !ok {
		return
	}

	queue := []string{failedDefID}
	visited := map[string]bool{failedDefID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, depID := range s.registry.Dependents(id) {
			if visited[depID] {
				continue
			}
			visited[depID] = true
			queue = append(queue, depID)

			r.mu.Lock()
			instanceID, launched := r.instances[depID]
			r.mu.Unlock()
			if !launched {
				continue // never scheduled; nothing to cancel
			}

			inst, err := s.store.TaskInstance(ctx, instanceID)
			if err != nil || inst.State.IsTerminal() {
				continue
			}
			now := s.clock.Now()
			if err := s.transition(ctx, inst, domain.TaskCancelled, "", "upstream_failed", inst.Attempt, now); err != nil {
				s.log.Error().Err(err).Str("instance", instanceID).Msg("failed to persist CANCELLED transition")
				continue
			}
			s.bus.Publish(domain.TaskFailedData{TaskInstanceID: instanceID, DefinitionID: depID, State: domain.TaskCancelled, Reason: "upstream_failed"})
		}
	}
}
