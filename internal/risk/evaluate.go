package risk

import (
	"context"

	"github.com/aristath/farmd/internal/domain"
)

// Evaluate runs the rule engine against proposal in the order fixed by
// spec.md §4.3: first blocking rule wins, but downsizing rules compose.
// Any internal error is treated as DENY(internal_error) and fails closed.
func (m *Manager) Evaluate(ctx context.Context, proposal domain.ActionProposal) (decision domain.Decision) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("risk evaluation panicked, failing closed")
			decision = deny("internal_error")
		}
	}()

	notional := proposal.NotionalUSD
	now := m.clock.Now()

	// 1. Global state gate.
	state := m.State()
	if state.Kind == domain.RiskHalted {
		return deny("circuit_open")
	}
	if state.Kind == domain.RiskDegraded {
		scale := m.cfg.DegradedScale
		if scale <= 0 || scale > 1 {
			scale = 1
		}
		notional *= scale
	}

	// 2. Freshness gate.
	snapshot, err := m.portfolio.Current(ctx)
	if err != nil {
		return deny("stale_data")
	}
	market, err := m.clock.Snapshot()
	if err != nil {
		return deny("stale_data")
	}

	v := snapshot.TotalUSD
	if v <= 0 {
		return m.internalError("portfolio value is zero or negative")
	}

	downsizeReason := ""

	// 3. Per-protocol exposure cap.
	caps, ok := m.caps[proposal.Protocol]
	if ok && caps.ExposureCap > 0 {
		eP := snapshot.ExposureUSD(proposal.Protocol) + m.res.outstandingByProtocol(proposal.Protocol, now)
		if (eP+notional)/v > caps.ExposureCap {
			maxNotional := caps.ExposureCap*v - eP
			if maxNotional < 0 {
				maxNotional = 0
			}
			notional = maxNotional
			downsizeReason = "protocol_cap"
			if notional < m.cfg.MinNotionalUSD {
				return deny("protocol_cap")
			}
		}
	}

	// 4. Per-asset concentration (best-effort: asset derived from context).
	if asset, _ := proposal.Context["asset"].(string); asset != "" && m.cfg.AssetConcentrationCap > 0 {
		eA := snapshot.ExposureByAsset(asset) + m.res.outstandingByAsset(asset, now)
		if (eA+notional)/v > m.cfg.AssetConcentrationCap {
			maxNotional := m.cfg.AssetConcentrationCap*v - eA
			if maxNotional < 0 {
				maxNotional = 0
			}
			if maxNotional < notional {
				notional = maxNotional
				downsizeReason = "asset_concentration"
			}
			if notional < m.cfg.MinNotionalUSD {
				return deny("asset_concentration")
			}
		}
	}

	// 5. Per-transaction cap.
	if txCapUSD := m.cfg.TxCapPct * v; notional > txCapUSD {
		notional = txCapUSD
		downsizeReason = "tx_cap"
		if notional < m.cfg.MinNotionalUSD {
			return deny("tx_cap")
		}
	}

	// 6. Daily loss cap.
	if cum := m.pnl.sum(now); cum <= -m.cfg.DailyLossCapUSD {
		m.Trip("daily_loss")
		return deny("daily_loss")
	}

	// 7. Gas gate with hysteresis.
	if caps.GasCeilingGwei != nil {
		if ceiling, ok := caps.GasCeilingGwei[string(proposal.ActionKind)]; ok {
			chain := proposal.Context["chain"]
			chainStr, _ := chain.(string)
			gasPrice := market.GasPriceGwei[chainStr]
			if !m.gates.Allow(string(proposal.ActionKind), gasPrice, ceiling, m.cfg.GasHysteresis) {
				return deny("gas_high")
			}
		}
	}

	// 8. Volatility gate.
	band := market.Band(m.cfg.VolMedThreshold, m.cfg.VolHighThreshold, m.cfg.VolExtremeThreshold)
	if band == domain.VolExtreme {
		m.degrade("volatility_extreme")
		return deny("volatility_extreme")
	}
	if mult, ok := m.cfg.VolMultiplier[string(band)]; ok && mult < 1 {
		notional *= mult
		downsizeReason = "volatility_" + string(band)
		if notional < m.cfg.MinNotionalUSD {
			return deny("volatility_" + string(band))
		}
	}
	if band == domain.VolHigh {
		m.degrade("volatility_high")
	}

	// 9. Wallet health.
	if m.wallets != nil {
		balance, err := m.wallets.NativeBalance(proposal.Wallet)
		if err != nil {
			return deny("wallet_unhealthy")
		}
		if balance < m.cfg.MinGasReserveNative {
			return deny("wallet_unhealthy")
		}
	}

	asset, _ := proposal.Context["asset"].(string)
	expiresAt := now.Add(m.cfg.ReservationTTL)
	resID := m.res.hold(proposal.Wallet, proposal.Protocol, asset, notional, expiresAt)

	if downsizeReason != "" {
		return domain.Decision{Kind: domain.DecisionDownsize, Reason: downsizeReason, NewNotional: notional, ReservationID: resID}
	}
	return domain.Decision{Kind: domain.DecisionAllow, ReservationID: resID}
}

func deny(reason string) domain.Decision {
	return domain.Decision{Kind: domain.DecisionDeny, Reason: reason}
}

func (m *Manager) internalError(msg string) domain.Decision {
	m.log.Error().Str("error", msg).Msg("risk evaluation internal error")
	return deny("internal_error")
}
