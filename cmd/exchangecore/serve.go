package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efreitasn/exchangecore/internal/config"
	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/handler"
	"github.com/efreitasn/exchangecore/internal/metrics"
	"github.com/efreitasn/exchangecore/internal/service"
	"github.com/efreitasn/exchangecore/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Restore or bootstrap the core and serve the ops HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.shutdown()
		return serve(cmd.Context(), rt)
	},
}

func serve(ctx context.Context, rt *runtime) error {
	logger := rt.logger
	m := metrics.New()

	exchange, err := startExchange(ctx, rt, m)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", rt.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(exchange, m, logger),
		ReadTimeout:  rt.cfg.ReadTimeout,
		WriteTimeout: rt.cfg.WriteTimeout,
		IdleTimeout:  rt.cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	if rt.cfg.SnapshotOnShutdown && exchange.Halted() == nil {
		mf, err := exchange.Checkpoint(shutdownCtx, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("snapshot on shutdown: %w", err)
		}
		logger.Info("snapshot on shutdown stored", zap.Int64("snapshot_id", mf.SnapshotID), zap.Int64("seq", mf.Seq))
	}

	logger.Info("server stopped")
	return nil
}

// startExchange restores the latest complete checkpoint when the store has
// one and otherwise starts empty, applying the bootstrap file if configured.
func startExchange(ctx context.Context, rt *runtime, m *metrics.Collector) (*service.Exchange, error) {
	if catalog, ok := rt.store.(store.Catalog); ok {
		mf, err := catalog.LatestManifest()
		switch {
		case err == nil:
			if mf.RiskShards != rt.cfg.RiskShards || mf.MatchingShards != rt.cfg.MatchingShards {
				return nil, fmt.Errorf("%w: snapshot %d has %d risk and %d matching shards, configured %d and %d",
					domain.ErrShardMismatch, mf.SnapshotID, mf.RiskShards, mf.MatchingShards, rt.cfg.RiskShards, rt.cfg.MatchingShards)
			}
			return service.Restore(mf.SnapshotID, rt.options(), rt.store, m, rt.logger)
		case !errors.Is(err, domain.ErrSnapshotNotFound):
			return nil, err
		}
	}

	exchange, err := service.NewExchange(rt.options(), rt.store, m, rt.logger)
	if err != nil {
		return nil, err
	}
	if rt.cfg.BootstrapFile == "" {
		return exchange, nil
	}
	b, err := config.LoadBootstrap(rt.cfg.BootstrapFile)
	if err != nil {
		return nil, err
	}
	if err := exchange.Bootstrap(ctx, b); err != nil {
		return nil, err
	}
	return exchange, nil
}
