// Command farmd is the airdrop farming control plane: Risk Manager,
// Capital Allocator, and Central Scheduler composed around a Clock &
// Market Oracle, Portfolio View, Task Registry, and Event Bus, with an
// operator HTTP surface for status, circuit control, and manual
// overrides.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/farmd/internal/allocator"
	"github.com/aristath/farmd/internal/clock"
	"github.com/aristath/farmd/internal/config"
	"github.com/aristath/farmd/internal/domain"
	"github.com/aristath/farmd/internal/events"
	"github.com/aristath/farmd/internal/portfolio"
	"github.com/aristath/farmd/internal/risk"
	"github.com/aristath/farmd/internal/scheduler"
	"github.com/aristath/farmd/internal/server"
	"github.com/aristath/farmd/internal/store"
	"github.com/aristath/farmd/internal/store/backup"
	"github.com/aristath/farmd/internal/tasks"
	"github.com/aristath/farmd/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting farmd")

	db, err := store.New(store.Config{
		Path:    cfg.DataDir + "/farmd.db",
		Profile: store.ProfileStandard,
		Name:    "farmd",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open embedded store")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate embedded store")
	}

	bus := events.NewBus(256, log)

	oracle := clock.NewOracle(
		staticMarketSource{gasGwei: 20, assetUSD: 2000, volatility: 0.1},
		clock.Config{Chains: cfg.MarketChains, Assets: cfg.MarketAssets, PollInterval: cfg.MarketPollInterval, MaxAge: cfg.MarketMaxAge},
		log,
	)
	oracle.Start()
	defer oracle.Stop()

	wallets := make([]domain.Wallet, 0, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		wallets = append(wallets, domain.Wallet{ID: w, ChainFamily: "evm", Address: w})
	}
	view := portfolio.NewView(wallets, nil, portfolio.Config{
		FreshnessWindow: cfg.MarketMaxAge,
		MaxConcurrency:  cfg.SchedulerMaxWorkers,
	}, log)

	protocols := defaultProtocols()
	caps := make(map[string]risk.ProtocolCaps, len(protocols))
	for _, p := range protocols {
		caps[p.ID] = risk.ProtocolCaps{
			ProtocolID:     p.ID,
			ExposureCap:    p.MaxWeight,
			GasCeilingGwei: map[string]float64{"claim": 500},
		}
	}

	riskCfg := risk.DefaultConfig()
	riskCfg.DailyLossCapUSD = cfg.DailyLossCapUSD
	riskCfg.DegradedScale = cfg.DegradedScale
	riskCfg.AssetConcentrationCap = cfg.AssetConcentrationCap
	riskCfg.TxCapPct = cfg.TxCapPct
	riskCfg.ReservationTTL = cfg.ReservationTTL

	riskMgr := risk.NewManager(oracle, view, caps, riskCfg, bus, noopWalletHealth{reserve: 1.0}, cfg.OperatorToken, log)

	allocCfg := allocator.DefaultConfig()
	allocCfg.Algorithm = cfg.AllocatorAlgorithm
	allocCfg.DriftThreshold = cfg.AllocatorDriftThreshold
	allocCfg.PerTxCapPct = cfg.AllocatorPerTxCapPct
	alloc, err := allocator.NewAllocator(protocols, allocCfg, noopROISource{}, bus, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct capital allocator")
	}
	if _, err := alloc.ComputeTargets(oracle.Now()); err != nil {
		log.Warn().Err(err).Msg("initial allocation target computation failed")
	}

	registry := tasks.NewRegistry()
	for _, def := range claimTaskDefinitions(protocols, cfg.Wallets) {
		if err := registry.Register(def); err != nil {
			log.Fatal().Err(err).Str("task", def.ID).Msg("failed to register task definition")
		}
		if err := db.UpsertTaskDefinition(context.Background(), def); err != nil {
			log.Fatal().Err(err).Str("task", def.ID).Msg("failed to persist task definition")
		}
	}

	adapters := adapterRegistry()

	buildProposal := func(ctx context.Context, def domain.TaskDefinition) (domain.ActionProposal, error) {
		snap, err := view.Current(ctx)
		notional := cfg.AllocatorPerTxCapPct * 1000
		if err == nil {
			notional = cfg.TxCapPct * snap.TotalUSD
		}
		wallet, _ := def.Params["wallet"].(string)
		return domain.ActionProposal{
			Wallet:      wallet,
			Protocol:    def.ProtocolID,
			ActionKind:  def.ActionKind,
			NotionalUSD: notional,
		}, nil
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.MaxConcurrentPerWallet = cfg.SchedulerMaxConcurrentPerWallet
	schedCfg.MaxConcurrentTasks = cfg.SchedulerMaxWorkers
	sched := scheduler.New(registry, db, riskMgr, adapters, bus, oracle, buildProposal, schedCfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("failed to recover in-flight task instances from prior run")
	}
	go sched.Run(ctx)

	if cfg.BackupBucket != "" {
		uploader, err := backup.New(ctx, backup.Config{Bucket: cfg.BackupBucket, Prefix: cfg.BackupPrefix, Region: cfg.BackupRegion}, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to construct backup uploader, periodic backups disabled")
		} else {
			go runBackupLoop(ctx, uploader, cfg.DataDir+"/farmd.db", log)
		}
	}

	srv := server.New(server.Config{
		Log:       log,
		Cfg:       cfg,
		Registry:  registry,
		Adapters:  adapters,
		Risk:      riskMgr,
		Allocator: alloc,
		Scheduler: sched,
		Bus:       bus,
		Portfolio: view,
		Clock:     oracle,
		DevMode:   cfg.LogPretty,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("operator HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("operator HTTP server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("operator HTTP server forced to shutdown")
	}

	log.Info().Msg("farmd stopped")
}

// runBackupLoop periodically snapshots the embedded database to object
// storage until ctx is cancelled, mirroring the scheduler's own
// ticker-driven loop shape.
func runBackupLoop(ctx context.Context, uploader *backup.Uploader, dbPath string, log zerolog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			key, err := uploader.BackupDatabase(ctx, dbPath, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("periodic backup upload failed")
				continue
			}
			log.Info().Str("key", key).Msg("periodic backup uploaded")
		}
	}
}
