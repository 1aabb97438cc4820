package risk

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/farmd/internal/clock"
	"github.com/aristath/farmd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakePortfolio struct {
	snap domain.PortfolioSnapshot
}

func (f *fakePortfolio) Current(ctx context.Context) (domain.PortfolioSnapshot, error) {
	return f.snap, nil
}

type fakeWallets struct{ balance float64 }

func (f *fakeWallets) NativeBalance(wallet string) (float64, error) { return f.balance, nil }

type noopBus struct{}

func (noopBus) Publish(domain.EventData) {}

func newTestManager(t *testing.T, caps map[string]ProtocolCaps, cfg Config, snapV float64, protoExposure float64) (*Manager, *clock.Virtual) {
	t.Helper()
	vc := clock.NewVirtual(time.Now())
	vc.SetSnapshot(domain.MarketSnapshot{
		Time:         vc.Now(),
		GasPriceGwei: map[string]float64{"scroll": 40},
	})
	snap := domain.PortfolioSnapshot{
		Time:     vc.Now(),
		TotalUSD: snapV,
		Positions: []domain.Position{
			{Protocol: "scroll", Asset: "ETH", USDValue: protoExposure},
		},
	}
	m := NewManager(vc, &fakePortfolio{snap: snap}, caps, cfg, noopBus{}, &fakeWallets{balance: 1}, "secret", zerolog.Nop())
	return m, vc
}

// S1 — gas gate defers a task, then re-opens once gas drops below the
// hysteresis reopen threshold.
func TestGasGateHysteresis_S1(t *testing.T) {
	caps := map[string]ProtocolCaps{
		"scroll": {ProtocolID: "scroll", ExposureCap: 1, GasCeilingGwei: map[string]float64{"swap": 30}},
	}
	cfg := DefaultConfig()
	cfg.GasHysteresis = 0.2
	m, vc := newTestManager(t, caps, cfg, 100000, 0)

	proposal := domain.ActionProposal{Wallet: "w1", Protocol: "scroll", ActionKind: "swap", NotionalUSD: 1000, Context: map[string]any{"chain": "scroll"}}

	// t=0: gas = 40 > 30 -> DENY(gas_high)
	d := m.Evaluate(context.Background(), proposal)
	require.Equal(t, domain.DecisionDeny, d.Kind)
	require.Equal(t, "gas_high", d.Reason)

	// t=120s: gas drops to 20 < 30*0.8=24 -> ALLOW
	vc.Advance(120 * time.Second)
	vc.SetSnapshot(domain.MarketSnapshot{Time: vc.Now(), GasPriceGwei: map[string]float64{"scroll": 20}})
	d = m.Evaluate(context.Background(), proposal)
	require.Equal(t, domain.DecisionAllow, d.Kind)
}

// S2 — downsizing to protocol cap.
func TestProtocolCapDownsize_S2(t *testing.T) {
	caps := map[string]ProtocolCaps{"scroll": {ProtocolID: "scroll", ExposureCap: 0.20}}
	cfg := DefaultConfig()
	cfg.MinNotionalUSD = 500
	m, _ := newTestManager(t, caps, cfg, 100000, 18000)

	proposal := domain.ActionProposal{Wallet: "w1", Protocol: "scroll", ActionKind: "claim", NotionalUSD: 5000}
	d := m.Evaluate(context.Background(), proposal)
	require.Equal(t, domain.DecisionDownsize, d.Kind)
	require.Equal(t, "protocol_cap", d.Reason)
	require.InDelta(t, 2000, d.NewNotional, 0.01)
}

// S4 — circuit trip on daily loss.
func TestDailyLossTripsHalted_S4(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossCapUSD = 1000
	m, _ := newTestManager(t, map[string]ProtocolCaps{}, cfg, 100000, 0)

	m.RecordPnL(-600)
	require.Equal(t, domain.RiskNormal, m.State().Kind)
	m.RecordPnL(-450)
	require.Equal(t, domain.RiskHalted, m.State().Kind)

	d := m.Evaluate(context.Background(), domain.ActionProposal{Wallet: "w1", Protocol: "scroll", NotionalUSD: 100})
	require.Equal(t, domain.DecisionDeny, d.Kind)
	require.Equal(t, "circuit_open", d.Reason)
}

// TestIngestOutcomeDrivesDailyLossTrip exercises rule 6 through the real
// settlement path (IngestOutcome), not RecordPnL called directly, since
// that's the only path actual ActionOutcomes from the scheduler take.
func TestIngestOutcomeDrivesDailyLossTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossCapUSD = 1000
	m, _ := newTestManager(t, map[string]ProtocolCaps{}, cfg, 100000, 0)

	m.IngestOutcome(domain.ActionOutcome{Success: true, RealizedNotional: -600}, "resv-1")
	require.Equal(t, domain.RiskNormal, m.State().Kind)

	m.IngestOutcome(domain.ActionOutcome{Success: true, RealizedNotional: -450}, "resv-2")
	require.Equal(t, domain.RiskHalted, m.State().Kind)
}

// L1 — reset(trip(reason)) returns to the pre-trip state.
func TestResetRoundTrips_L1(t *testing.T) {
	m, _ := newTestManager(t, map[string]ProtocolCaps{}, DefaultConfig(), 100000, 0)
	require.Equal(t, domain.RiskNormal, m.State().Kind)

	m.Trip("operator_drill")
	require.Equal(t, domain.RiskHalted, m.State().Kind)

	require.NoError(t, m.Reset("secret"))
	require.Equal(t, domain.RiskNormal, m.State().Kind)
}

func TestResetRejectsWrongToken(t *testing.T) {
	m, _ := newTestManager(t, map[string]ProtocolCaps{}, DefaultConfig(), 100000, 0)
	m.Trip("x")
	require.Error(t, m.Reset("wrong"))
	require.Equal(t, domain.RiskHalted, m.State().Kind)
}

func TestHaltedNeverAutoResets(t *testing.T) {
	m, _ := newTestManager(t, map[string]ProtocolCaps{}, DefaultConfig(), 100000, 0)
	m.Trip("x")
	for i := 0; i < 5; i++ {
		m.SweepReservations()
	}
	require.Equal(t, domain.RiskHalted, m.State().Kind)
}
