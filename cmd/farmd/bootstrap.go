package main

import (
	"time"

	"github.com/aristath/farmd/internal/adapter"
	"github.com/aristath/farmd/internal/domain"
)

// claimTaskDefinitions builds one claim-action TaskDefinition per
// (wallet, protocol) pair; with no wallets configured, one per protocol
// with an unscoped wallet slot.
func claimTaskDefinitions(protocols []domain.Protocol, wallets []string) []domain.TaskDefinition {
	if len(wallets) == 0 {
		wallets = []string{""}
	}
	defs := make([]domain.TaskDefinition, 0, len(protocols)*len(wallets))
	for _, p := range protocols {
		for _, w := range wallets {
			id := p.ID + "-claim"
			if w != "" {
				id += "-" + w
			}
			defs = append(defs, domain.TaskDefinition{
				ID:         id,
				ProtocolID: p.ID,
				ActionKind: "claim",
				Trigger:    domain.Trigger{Kind: domain.TriggerInterval, Interval: time.Hour},
				MaxRetries: 3,
				Timeout:    2 * time.Minute,
				Params:     map[string]any{"wallet": w},
			})
		}
	}
	return defs
}

// adapterRegistry returns an empty Protocol Adapter registry. Concrete
// adapters are protocol-specific (bridging, staking, claiming) and out
// of this repo's scope; operators register theirs at startup by calling
// Register on this same registry from their own build.
func adapterRegistry() *adapter.Registry {
	return adapter.NewRegistry()
}

// staticMarketSource is a fixed-reading clock.Source used until an
// operator wires a real gas/price feed adapter. It never errors, so the
// Oracle always has a fresh snapshot, and it exists purely so the
// composition root has something concrete to poll — no ecosystem
// library targets "read one constant number" and the spec names no
// external market data provider to integrate against.
type staticMarketSource struct {
	gasGwei     float64
	assetUSD    float64
	volatility  float64
}

func (s staticMarketSource) GasPriceGwei(chain string) (float64, error)  { return s.gasGwei, nil }
func (s staticMarketSource) AssetPriceUSD(asset string) (float64, error) { return s.assetUSD, nil }
func (s staticMarketSource) VolatilityIndex() (float64, error)           { return s.volatility, nil }

// noopWalletHealth reports ample native gas reserve for every wallet
// until an operator wires a real on-chain balance reader; this repo
// ships the risk/allocation/scheduling core, not a chain RPC client
// (see spec's "no smart-contract code" non-goal).
type noopWalletHealth struct{ reserve float64 }

func (w noopWalletHealth) NativeBalance(wallet string) (float64, error) { return w.reserve, nil }

// noopROISource reports zero trailing ROI for every protocol until an
// operator wires real realized-PnL history into the momentum algorithm.
type noopROISource struct{}

func (noopROISource) TrailingROI(protocol string, window time.Duration) (float64, error) {
	return 0, nil
}

// defaultProtocols seeds a single placeholder protocol so the Capital
// Allocator and Task Registry have something to compute weights and
// schedule against out of the box. Operators add real protocols (and
// register the matching adapter.Protocol implementations) via their own
// deployment config.
func defaultProtocols() []domain.Protocol {
	return []domain.Protocol{
		{
			ID:          "placeholder",
			ChainFamily: "evm",
			ActionKinds: []domain.ActionKind{"claim"},
			MinWeight:   0,
			MaxWeight:   1,
			Enabled:     true,
		},
	}
}
