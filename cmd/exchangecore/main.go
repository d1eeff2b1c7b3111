package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efreitasn/exchangecore/internal/config"
	"github.com/efreitasn/exchangecore/internal/logging"
	"github.com/efreitasn/exchangecore/internal/service"
	"github.com/efreitasn/exchangecore/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "exchangecore",
	Short:         "Order matching and risk core",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime is what every subcommand that runs the pipeline needs.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  store.SnapshotStore
	close  func() error
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, close: func() error { return nil }}
	if cfg.DataDir == "" {
		rt.store = store.NewMemoryStore()
		logger.Info("using in-memory snapshot store")
		return rt, nil
	}
	pebbleStore, err := store.OpenPebble(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}
	rt.store = pebbleStore
	rt.close = pebbleStore.Close
	logger.Info("using pebble snapshot store", zap.String("dir", cfg.DataDir))
	return rt, nil
}

func (rt *runtime) options() service.Options {
	return service.Options{
		RiskShards:     rt.cfg.RiskShards,
		MatchingShards: rt.cfg.MatchingShards,
		Bucket:         rt.cfg.BucketImpl,
		L2Depth:        rt.cfg.L2Depth,
	}
}

func (rt *runtime) shutdown() {
	if err := rt.close(); err != nil {
		rt.logger.Error("close snapshot store", zap.Error(err))
	}
	_ = rt.logger.Sync()
}
