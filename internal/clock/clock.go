// Package clock supplies monotonic time plus gas/price/volatility
// snapshots to the rest of the control plane (C1 Clock & Market Oracle).
package clock

import (
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// StaleDataError is returned by Snapshot when the cached MarketSnapshot
// has exceeded its configured max age. Consumers must treat this as
// risk-positive: it is not safe to permit new risky actions on stale data.
type StaleDataError struct {
	Age    time.Duration
	MaxAge time.Duration
}

func (e *StaleDataError) Error() string {
	return "market snapshot is stale: age=" + e.Age.String() + " max_age=" + e.MaxAge.String()
}

// Clock provides monotonic now() plus a cached, consistent MarketSnapshot.
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
	Snapshot() (domain.MarketSnapshot, error)
}

// Source is the read-only external collaborator the production Clock
// polls: gas price per chain, asset prices, and a volatility index.
// Abstracted per spec.md §6 ("Portfolio/Market sources"); any of its
// methods may fail with SourceUnavailable.
type Source interface {
	GasPriceGwei(chain string) (float64, error)
	AssetPriceUSD(asset string) (float64, error)
	VolatilityIndex() (float64, error)
}

// SourceUnavailable wraps a failure from a Source method.
type SourceUnavailable struct {
	Method string
	Cause  error
}

func (e *SourceUnavailable) Error() string {
	return "market source unavailable: " + e.Method + ": " + e.Cause.Error()
}

func (e *SourceUnavailable) Unwrap() error { return e.Cause }
