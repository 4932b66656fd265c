// Command quoteengine wires the quoting engine's core components and
// registers its metrics collectors. It has no HTTP server of its own
// (spec §1's Non-goals exclude the outer framework); a caller embeds
// this package's Orchestrator behind whatever transport it needs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/plsx-router/quoteengine/internal/config"
	"github.com/plsx-router/quoteengine/internal/domain"
	"github.com/plsx-router/quoteengine/internal/multicall"
	"github.com/plsx-router/quoteengine/internal/orchestrator"
	"github.com/plsx-router/quoteengine/internal/priceoracle"
	"github.com/plsx-router/quoteengine/internal/reservecache"
	"github.com/plsx-router/quoteengine/internal/rpcpool"
	"github.com/plsx-router/quoteengine/internal/simulator"
	"github.com/plsx-router/quoteengine/internal/stableswap"
	"github.com/plsx-router/quoteengine/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "config file location (optional; env vars and defaults apply otherwise)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zapLogger.Sync()
	logger := telemetry.NewLogger(zapLogger)

	metrics := telemetry.NewMetrics()
	metrics.Register(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := build(ctx, cfg, logger, metrics)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	logger.Info("quoteengine initialized", zap.Int64("chain-id", cfg.ChainID))

	exitChan := make(chan os.Signal, 1)
	signal.Notify(exitChan, os.Interrupt, syscall.SIGTERM)
	<-exitChan
	cancel()

	_ = engine // held by an embedding process; quoting happens through engine.Quote
}

// build performs the full wiring of spec §2's process composition:
// RPC pool -> multicall client -> reserve cache -> stable quoter ->
// price oracle -> simulator -> orchestrator.
func build(ctx context.Context, cfg domain.Config, logger telemetry.Logger, metrics *telemetry.Metrics) (*orchestrator.Orchestrator, error) {
	pool := rpcpool.New(cfg.RPC, rpcpool.DialEthclient, logger, metrics)
	if err := pool.Initialize(ctx, cfg.ChainID); err != nil {
		return nil, fmt.Errorf("rpc pool: %w", err)
	}

	caller, err := pool.Get()
	if err != nil {
		return nil, fmt.Errorf("rpc pool get: %w", err)
	}

	var mc *multicall.Client
	if cfg.Multicall.Enabled {
		mc = multicall.New(cfg.Multicall, caller, logger, metrics)
	}

	reserves := reservecache.New(cfg, caller, mc, logger, metrics)

	var stableQuoter *stableswap.Quoter
	if cfg.StableRouting.Enabled && cfg.StablePool != (common.Address{}) {
		stableQuoter = stableswap.New(cfg.StablePool, caller, cfg.CacheTTL.StableIndex)
	}

	prices := priceoracle.New(cfg, caller, mc, logger, metrics)

	// stableQuoter may be a nil *stableswap.Quoter; only assign it to the
	// narrowed interfaces when non-nil, so simulator/orchestrator see a
	// true nil interface (their "stable routing disabled" check) rather
	// than a non-nil interface wrapping a nil pointer.
	var stableForSim simulator.StableQuoter
	var stableLoader orchestrator.StableIndexLoader
	if stableQuoter != nil {
		stableForSim = stableQuoter
		stableLoader = stableQuoter
	}

	sim := simulator.New(cfg, reserves, stableForSim)

	return orchestrator.New(cfg, reserves, stableLoader, sim, prices, caller, logger, metrics), nil
}
