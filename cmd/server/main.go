package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/markbook/markbook/params"
	"github.com/markbook/markbook/pkg/api"
	"github.com/markbook/markbook/pkg/app/core"
	"github.com/markbook/markbook/pkg/app/core/engine"
	"github.com/markbook/markbook/pkg/app/core/ledger"
	"github.com/markbook/markbook/pkg/app/core/market"
	"github.com/markbook/markbook/pkg/app/core/newsfeed"
	"github.com/markbook/markbook/pkg/app/core/pricehist"
	"github.com/markbook/markbook/pkg/app/core/user"
	"github.com/markbook/markbook/pkg/metrics"
	"github.com/markbook/markbook/pkg/storage"
	"github.com/markbook/markbook/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	// ---------------- Logger ----------------

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.Level, cfg.Log.File)
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// ---------------- Storage ----------------

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.Fatal("create data dir", zap.Error(err))
	}
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Storage.DataDir, "markbook.db"))
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	// ---------------- Markets ----------------

	registry := market.NewRegistry()
	persisted, err := store.ListMarkets()
	if err != nil {
		logger.Fatal("list markets", zap.Error(err))
	}
	if len(persisted) == 0 {
		for _, entry := range cfg.Seed.Markets {
			id, display, ok := params.ParseMarketSeed(entry)
			if !ok {
				continue
			}
			m := &core.Market{MarketID: id, DisplayName: display}
			if err := store.InsertMarket(m); err != nil {
				logger.Fatal("seed market", zap.String("market", id), zap.Error(err))
			}
			persisted = append(persisted, m)
		}
		logger.Info("markets seeded", zap.Int("count", len(persisted)))
	}
	for _, m := range persisted {
		if err := registry.Register(m); err != nil {
			logger.Fatal("register market", zap.String("market", m.MarketID), zap.Error(err))
		}
	}
	if registry.Count() == 0 {
		logger.Warn("no markets configured; set MARKETS to seed the catalog")
	}

	// ---------------- Users ----------------

	users := user.NewManager(store)
	if err := users.Seed(cfg.Seed.Users); err != nil {
		logger.Fatal("seed users", zap.Error(err))
	}

	// ---------------- Engine ----------------

	monitor := metrics.New("markbook")
	policy := engine.NewAllowListPolicy(cfg.Engine.SelfTradeAllow)

	eng := engine.New(store, registry, policy, logger, util.RealClock{}, monitor)
	if err := eng.Hydrate(); err != nil {
		logger.Fatal("hydrate books", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Engine.SelfTradeAllowFile != "" {
		if ids, err := engine.ReadAllowListFile(cfg.Engine.SelfTradeAllowFile); err == nil {
			policy.Reload(ids)
		} else {
			logger.Warn("allow-list file unreadable", zap.Error(err))
		}
		watcher, err := engine.NewAllowListWatcher(cfg.Engine.SelfTradeAllowFile, policy, logger)
		if err != nil {
			logger.Warn("allow-list watcher disabled", zap.Error(err))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("allow-list watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	// ---------------- Services ----------------

	led := ledger.New(store)
	deriver := pricehist.NewDeriver(led)
	feed := newsfeed.New(store, util.RealClock{})

	// ---------------- Metrics ----------------

	go func() {
		if err := monitor.Serve(cfg.API.MetricsAddr); err != nil {
			logger.Warn("metrics server exited", zap.Error(err))
		}
	}()

	// ---------------- API ----------------

	server := api.NewServer(eng, registry, led, deriver, feed, users, logger, api.Config{
		AllowedOrigins: cfg.API.AllowedOrigins,
		SessionTTL:     cfg.API.SessionTTL,
		Telemetry:      monitor,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.API.ListenAddr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Fatal("api server exited", zap.Error(err))
	}
}
