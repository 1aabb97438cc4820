package scheduler

import (
	"context"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// Recover reconstructs outstanding work after a restart (S6): every
// instance still RUNNING in the journal was interrupted mid-attempt and
// is reclassified as FAILED_TRANSIENT(restart), subject to the normal
// retry budget — never re-emitted as SUCCEEDED, since no outcome was
// ever recorded for it. Call once, before Run.
func (s *Scheduler) Recover(ctx context.Context) error {
	running, err := s.store.TaskInstancesByState(ctx, domain.TaskRunning)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, ti := range running {
		def, ok := s.registry.Get(ti.DefinitionID)
		if !ok {
			continue
		}
		if err := s.transition(ctx, ti, domain.TaskFailedTransient, "restart", "", ti.Attempt, now); err != nil {
			s.log.Error().Err(err).Str("instance", ti.ID).Msg("failed to reclassify RUNNING instance on restart")
			continue
		}
		s.bus.Publish(domain.TaskFailedData{TaskInstanceID: ti.ID, DefinitionID: ti.DefinitionID, State: domain.TaskFailedTransient, Reason: "restart"})

		s.mu.Lock()
		r, ok := s.runs[ti.CorrelationID]
		if !ok {
			r = &run{succeeded: make(map[string]bool), instances: make(map[string]string)}
			s.runs[ti.CorrelationID] = r
		}
		s.mu.Unlock()
		r.mu.Lock()
		r.instances[ti.DefinitionID] = ti.ID
		r.mu.Unlock()

		if ti.Attempt >= def.MaxRetries+1 {
			s.failPermanent(ctx, def, ti, "restart")
			continue
		}

		retried := ti
		retried.Attempt++
		delay := backoffDuration(s.cfg.BackoffBase, ti.Attempt, s.cfg.MaxBackoff)
		s.scheduleRetry(ctx, def, retried, delay)
	}

	pending, err := s.store.TaskInstancesByState(ctx, domain.TaskPending)
	if err != nil {
		return err
	}
	for _, ti := range pending {
		def, ok := s.registry.Get(ti.DefinitionID)
		if !ok || def.Disabled {
			continue
		}
		s.dispatch(ctx, def, ti)
	}

	return nil
}

// scheduleRetry persists the PENDING transition after delay and dispatches it.
func (s *Scheduler) scheduleRetry(ctx context.Context, def domain.TaskDefinition, ti domain.TaskInstance, delay time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.stop:
			return
		}
		if err := s.transition(ctx, ti, domain.TaskPending, "", "", ti.Attempt, s.clock.Now()); err != nil {
			s.log.Error().Err(err).Str("instance", ti.ID).Msg("failed to persist retry PENDING transition")
			return
		}
		s.dispatch(ctx, def, ti)
	}()
}
