package clock

import (
	"sync"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/rs/zerolog"
)

// Config controls the production Oracle's polling behavior.
type Config struct {
	Chains       []string
	Assets       []string
	PollInterval time.Duration // how often a background poll refreshes the cache
	MaxAge       time.Duration // Snapshot() fails with StaleDataError beyond this
}

// Oracle is the production Clock: it polls a Source on an interval and
// serves Snapshot() from a cached, mutex-guarded MarketSnapshot, mirroring
// the cache-behind-RWMutex idiom used elsewhere for expensive external
// reads in this codebase.
type Oracle struct {
	source Source
	cfg    Config
	log    zerolog.Logger

	mu       sync.RWMutex
	cached   domain.MarketSnapshot
	lastPoll time.Time

	stop    chan struct{}
	stopped chan struct{}
}

// NewOracle constructs an Oracle. Call Start to begin background polling;
// Snapshot works immediately but returns StaleDataError until the first
// successful poll.
func NewOracle(source Source, cfg Config, log zerolog.Logger) *Oracle {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * cfg.PollInterval
	}
	return &Oracle{
		source:  source,
		cfg:     cfg,
		log:     log.With().Str("component", "market_oracle").Logger(),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Now returns the wall-clock time. Exists as an interface seam so
// production code and tests both go through Clock rather than calling
// time.Now() directly.
func (o *Oracle) Now() time.Time { return time.Now() }

// Start launches the background poll loop. It returns once the first
// poll attempt (successful or not) has completed, so callers can log
// startup failures before serving traffic.
func (o *Oracle) Start() {
	o.poll()
	go o.loop()
}

// Stop halts the background poll loop and waits for it to exit.
func (o *Oracle) Stop() {
	close(o.stop)
	<-o.stopped
}

func (o *Oracle) loop() {
	defer close(o.stopped)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.poll()
		}
	}
}

func (o *Oracle) poll() {
	snap := domain.MarketSnapshot{
		Time:           time.Now(),
		GasPriceGwei:   make(map[string]float64, len(o.cfg.Chains)),
		AssetPricesUSD: make(map[string]float64, len(o.cfg.Assets)),
	}
	failed := false

	for _, chain := range o.cfg.Chains {
		gas, err := o.source.GasPriceGwei(chain)
		if err != nil {
			o.log.Warn().Err(err).Str("chain", chain).Msg("gas price poll failed")
			failed = true
			continue
		}
		snap.GasPriceGwei[chain] = gas
	}
	for _, asset := range o.cfg.Assets {
		price, err := o.source.AssetPriceUSD(asset)
		if err != nil {
			o.log.Warn().Err(err).Str("asset", asset).Msg("asset price poll failed")
			failed = true
			continue
		}
		snap.AssetPricesUSD[asset] = price
	}
	if vol, err := o.source.VolatilityIndex(); err != nil {
		o.log.Warn().Err(err).Msg("volatility index poll failed")
		failed = true
	} else {
		snap.VolatilityIndex = vol
	}

	// A poll with any failed read keeps the previous snapshot and its age.
	if failed {
		return
	}

	o.mu.Lock()
	o.cached = snap
	o.lastPoll = snap.Time
	o.mu.Unlock()
}

// Snapshot returns the cached MarketSnapshot, or StaleDataError if the
// last successful poll exceeded MaxAge.
func (o *Oracle) Snapshot() (domain.MarketSnapshot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.lastPoll.IsZero() {
		return domain.MarketSnapshot{}, &StaleDataError{Age: 0, MaxAge: o.cfg.MaxAge}
	}
	age := time.Since(o.lastPoll)
	if age > o.cfg.MaxAge {
		return domain.MarketSnapshot{}, &StaleDataError{Age: age, MaxAge: o.cfg.MaxAge}
	}
	return o.cached, nil
}
