// Package risk implements the Risk Manager (C3): real-time gating of
// outbound actions against portfolio, volatility, gas, and circuit-
// breaker policies, plus the circuit breaker itself.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/farmd/internal/clock"
	"github.com/aristath/farmd/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PortfolioSource is the read-only view the Risk Manager consults for
// current exposure and total value; satisfied by *portfolio.View.
type PortfolioSource interface {
	Current(ctx context.Context) (domain.PortfolioSnapshot, error)
}

// WalletHealth reports native-token balance for gas-reserve checks.
type WalletHealth interface {
	NativeBalance(wallet string) (float64, error)
}

// EventPublisher is the narrow slice of the Event Bus the Risk Manager
// needs: publish a typed payload under its tag.
type EventPublisher interface {
	Publish(data domain.EventData)
}

// Manager is the production Risk Manager. evaluate is safe for many
// concurrent callers: it takes a consistent read of (RiskState, exposure
// counters, latest MarketSnapshot) under its own lock rather than
// blocking on the components it reads from.
type Manager struct {
	clock     clock.Clock
	portfolio PortfolioSource
	caps      map[string]ProtocolCaps // protocol id -> caps
	cfg       Config
	bus       EventPublisher
	wallets   WalletHealth
	log       zerolog.Logger

	gates *gasGate
	res   *reservationBook
	pnl   *rollingPnL
	fail  *rollingFailureRate

	mu           sync.RWMutex
	state        domain.RiskState
	preHaltState domain.RiskState // remembered so reset(trip(reason)) round-trips, per L1
	operatorToken string
}

// NewManager constructs a Risk Manager starting in NORMAL state.
func NewManager(clk clock.Clock, portfolioSrc PortfolioSource, caps map[string]ProtocolCaps, cfg Config, bus EventPublisher, wallets WalletHealth, operatorToken string, log zerolog.Logger) *Manager {
	now := clk.Now()
	initial := domain.RiskState{Kind: domain.RiskNormal, Reason: "startup", ActivatedAt: now}
	return &Manager{
		clock: clk, portfolio: portfolioSrc, caps: caps, cfg: cfg, bus: bus, wallets: wallets,
		log: log.With().Str("component", "risk_manager").Logger(),
		gates: newGasGate(), res: newReservationBook(),
		pnl:  newRollingPnL(24 * time.Hour),
		fail: newRollingFailureRate(cfg.FailureRateWindow),
		state: initial, preHaltState: initial,
		operatorToken: operatorToken,
	}
}

// State returns the current RiskState.
func (m *Manager) State() domain.RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Trip forces HALTED, emitting CircuitTripped. Used both by the internal
// rule engine (daily loss breach, repeated critical errors) and by
// operator command.
func (m *Manager) Trip(reason string) {
	m.mu.Lock()
	prev := m.state
	if prev.Kind != domain.RiskHalted {
		m.preHaltState = prev
	}
	now := m.clock.Now()
	m.state = domain.RiskState{Kind: domain.RiskHalted, Reason: reason, ActivatedAt: now}
	m.mu.Unlock()

	m.log.Error().Str("reason", reason).Msg("circuit tripped to HALTED")
	m.publish(domain.CircuitTrippedData{Reason: reason})
	m.publish(domain.RiskStateChangedData{From: prev.Kind, To: domain.RiskHalted, Reason: reason})
}

// Reset returns state to NORMAL (or the pre-halt state per L1) given a
// matching operator token. HALTED only ever clears via explicit reset —
// never automatically.
func (m *Manager) Reset(operatorToken string) error {
	if operatorToken != m.operatorToken {
		return fmt.Errorf("risk: invalid operator token")
	}
	m.mu.Lock()
	prev := m.state
	if prev.Kind != domain.RiskHalted {
		m.mu.Unlock()
		return nil
	}
	restored := m.preHaltState
	if restored.Kind == domain.RiskHalted {
		restored = domain.RiskState{Kind: domain.RiskNormal, Reason: "reset", ActivatedAt: m.clock.Now()}
	}
	restored.ActivatedAt = m.clock.Now()
	m.state = restored
	m.mu.Unlock()

	m.log.Info().Str("to", string(restored.Kind)).Msg("circuit reset")
	m.publish(domain.RiskStateChangedData{From: prev.Kind, To: restored.Kind, Reason: "operator_reset"})
	return nil
}

// degrade transitions NORMAL -> DEGRADED if not already beyond it.
func (m *Manager) degrade(reason string) {
	m.mu.Lock()
	prev := m.state
	if prev.Kind != domain.RiskNormal {
		m.mu.Unlock()
		return
	}
	m.state = domain.RiskState{Kind: domain.RiskDegraded, Reason: reason, ActivatedAt: m.clock.Now()}
	m.mu.Unlock()

	m.log.Warn().Str("reason", reason).Msg("circuit degraded")
	m.publish(domain.RiskStateChangedData{From: prev.Kind, To: domain.RiskDegraded, Reason: reason})
}

func (m *Manager) publish(data domain.EventData) {
	if m.bus != nil {
		m.bus.Publish(data)
	}
}

// IngestOutcome updates exposure counters and the rolling P&L/failure
// windows from a settled ActionOutcome. Exposure counters are updated
// only here, never from proposals, to avoid double-counting between
// proposal and settlement (§4.3 concurrency).
func (m *Manager) IngestOutcome(outcome domain.ActionOutcome, reservationID string) {
	m.res.release(reservationID)

	now := m.clock.Now()
	m.fail.record(now, !outcome.Success)
	if m.cfg.FailureRateThreshold > 0 && m.fail.rate(now) >= m.cfg.FailureRateThreshold {
		m.degrade("failure_rate")
	}
	m.pnl.record(now, outcome.RealizedNotional)
	if cum := m.pnl.sum(now); cum <= -m.cfg.DailyLossCapUSD {
		m.Trip("daily_loss")
	}
}

// RecordPnL feeds a realized P&L sample (negative = loss) into the
// rolling 24h window and trips HALTED if the daily loss cap is breached.
func (m *Manager) RecordPnL(usd float64) {
	now := m.clock.Now()
	m.pnl.record(now, usd)
	if cum := m.pnl.sum(now); cum <= -m.cfg.DailyLossCapUSD {
		m.Trip("daily_loss")
	}
}

// SweepReservations releases reservations past their TTL and publishes
// ReservationExpired for each — resolves the reservation-TTL open
// question (spec.md §9).
func (m *Manager) SweepReservations() {
	for _, e := range m.res.sweepExpired(m.clock.Now()) {
		m.publish(e)
	}
}

// newReservationID returns a fresh random reservation id.
func newReservationID() string { return uuid.NewString() }
