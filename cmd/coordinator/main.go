package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tiangong-vis/coordinator/internal/adaptation"
	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/classify"
	"github.com/tiangong-vis/coordinator/internal/config"
	"github.com/tiangong-vis/coordinator/internal/metadata"
	"github.com/tiangong-vis/coordinator/internal/recovery"
	"github.com/tiangong-vis/coordinator/internal/sched"
	"github.com/tiangong-vis/coordinator/internal/seed"
	"github.com/tiangong-vis/coordinator/internal/store"
)

// #region main

func main() {
	cfgPath := flag.String("config", envOr("COORDINATOR_CONFIG", ""), "path to coordinator.yaml")
	dbPath := flag.String("db", "", "override the store path from the config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v (continuing with defaults)\n", err)
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("coordinator exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	st, err := openStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	router := bus.NewRouter(cfg.Bus, log)
	defer router.Close()
	scheduler := sched.New(log)
	defer scheduler.Close()

	seedMgr := seed.NewManager(cfg.SeedPool, cfg.Bias, st, router, scheduler, log)
	if err := seedMgr.Init(); err != nil {
		return fmt.Errorf("seed manager: %w", err)
	}
	defer seedMgr.Close()

	recoveryMgr := recovery.NewManager(cfg.Recovery, seedMgr, st, router, scheduler, log)
	if err := recoveryMgr.Init(); err != nil {
		return fmt.Errorf("recovery manager: %w", err)
	}
	defer recoveryMgr.Close()

	// Recovery only hands back state; adoption into the live pool is the
	// host's call.
	router.Subscribe(bus.NamespaceRecovery, "state_recovered", func(e bus.Event) {
		if sr, ok := e.Data.(recovery.StateRecovered); ok {
			seedMgr.Adopt(sr.Backup.State)
		}
	})

	emotion := classify.NewEmotionDetector(cfg.Emotion, router, log)
	emotion.Attach()
	defer emotion.Close()
	segment := classify.NewSegmentDetector(cfg.Segment, router, log)
	segment.Attach()
	defer segment.Close()

	engine := adaptation.NewEngine(cfg.Adaptation, adaptation.DefaultMapping(), seedMgr, router, scheduler, log)
	if err := engine.Init(); err != nil {
		return fmt.Errorf("adaptation engine: %w", err)
	}
	defer engine.Close()

	meta := metadata.NewClient(cfg.Metadata, router, scheduler, log)
	if err := meta.Start(); err != nil {
		return fmt.Errorf("metadata poller: %w", err)
	}
	defer meta.Stop()

	log.Info("coordinator ready",
		zap.String("store", cfg.Store.Path),
		zap.Int64("seed", seedMgr.State().CurrentSeed),
		zap.Int("backups", len(recoveryMgr.Backups())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	})
	return g.Wait()
}

// #endregion main

// #region helpers

// openStore falls back to the in-memory store when the path is empty.
func openStore(cfg config.StoreConfig, log *zap.Logger) (store.Store, error) {
	if cfg.Path == "" {
		log.Warn("no store path configured, state will not survive restarts")
		return store.NewMemory(), nil
	}
	st, err := store.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Path, err)
	}
	return st, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
