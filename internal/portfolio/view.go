// Package portfolio aggregates wallet balances across protocols into the
// read-only PortfolioSnapshot the rest of the control plane reasons about
// (C2 Portfolio View).
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/rs/zerolog"
)

// PortfolioUnavailable is returned by Refresh when a required balance
// source failed and the View is running in strict mode.
type PortfolioUnavailable struct {
	Failures []error
}

func (e *PortfolioUnavailable) Error() string {
	return fmt.Sprintf("portfolio unavailable: %d source(s) failed", len(e.Failures))
}

// Source reads a single (wallet, protocol) pair's positions. Protocol
// adapters implement this alongside their execute/estimate surface.
type Source interface {
	Protocol() string
	Positions(ctx context.Context, wallet domain.Wallet) ([]domain.Position, error)
}

// PriceSource converts position quantities to USD, used when a Source
// returns quantities without valuations already attached.
type PriceSource interface {
	AssetPriceUSD(asset string) (float64, error)
}

// Config controls freshness and concurrency behavior of the View.
type Config struct {
	FreshnessWindow time.Duration // current() may serve a cached snapshot within this window
	MaxConcurrency  int           // bounded fan-out across (wallet, protocol) pairs
	Strict          bool          // Refresh fails closed if any source errors
}

// View aggregates balances into PortfolioSnapshots. Within one snapshot
// every Position shares a single timestamp; across snapshots timestamps
// strictly increase.
type View struct {
	wallets []domain.Wallet
	sources map[string]Source // keyed by protocol id
	cfg     Config
	log     zerolog.Logger

	mu       sync.RWMutex
	current  domain.PortfolioSnapshot
	hasSnap  bool
}

// NewView constructs a View over the given wallets and protocol sources.
func NewView(wallets []domain.Wallet, sources []Source, cfg Config, log zerolog.Logger) *View {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	byProtocol := make(map[string]Source, len(sources))
	for _, s := range sources {
		byProtocol[s.Protocol()] = s
	}
	return &View{
		wallets: wallets,
		sources: byProtocol,
		cfg:     cfg,
		log:     log.With().Str("component", "portfolio_view").Logger(),
	}
}

// Current returns the cached snapshot if within the freshness window,
// otherwise performs a synchronous Refresh.
func (v *View) Current(ctx context.Context) (domain.PortfolioSnapshot, error) {
	v.mu.RLock()
	snap, fresh := v.current, v.hasSnap && time.Since(v.current.Time) <= v.cfg.FreshnessWindow
	v.mu.RUnlock()
	if fresh {
		return snap, nil
	}
	return v.Refresh(ctx)
}

// job is one (wallet, protocol) pair of work dispatched to the bounded
// fan-out pool inside Refresh.
type job struct {
	wallet domain.Wallet
	source Source
}

// Refresh forces reconciliation across every wallet/protocol pair,
// fanning out with bounded concurrency. In strict mode any source
// failure fails the whole refresh closed with PortfolioUnavailable;
// otherwise failed pairs are skipped and logged.
func (v *View) Refresh(ctx context.Context) (domain.PortfolioSnapshot, error) {
	jobs := make([]job, 0, len(v.wallets)*len(v.sources))
	for _, w := range v.wallets {
		for _, s := range v.sources {
			jobs = append(jobs, job{wallet: w, source: s})
		}
	}

	type result struct {
		positions []domain.Position
		err       error
	}

	results := make([]result, len(jobs))
	sem := make(chan struct{}, v.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			positions, err := j.source.Positions(ctx, j.wallet)
			results[i] = result{positions: positions, err: err}
		}(i, j)
	}
	wg.Wait()

	now := time.Now()
	v.mu.RLock()
	if !v.current.Time.IsZero() && !now.After(v.current.Time) {
		now = v.current.Time.Add(time.Nanosecond)
	}
	v.mu.RUnlock()

	var failures []error
	var positions []domain.Position
	var total float64
	for i, r := range results {
		if r.err != nil {
			v.log.Warn().Err(r.err).
				Str("wallet", jobs[i].wallet.ID).
				Str("protocol", jobs[i].source.Protocol()).
				Msg("position read failed")
			failures = append(failures, r.err)
			continue
		}
		positions = append(positions, r.positions...)
		for _, p := range r.positions {
			total += p.USDValue
		}
	}

	if len(failures) > 0 && v.cfg.Strict {
		return domain.PortfolioSnapshot{}, &PortfolioUnavailable{Failures: failures}
	}

	snap := domain.PortfolioSnapshot{Time: now, Positions: positions, TotalUSD: total}

	v.mu.Lock()
	v.current = snap
	v.hasSnap = true
	v.mu.Unlock()

	return snap, nil
}
