package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/invasions/internal/app"
	"github.com/celerix-dev/invasions/internal/config"
	"github.com/celerix-dev/invasions/internal/metrics"
	"github.com/celerix-dev/invasions/internal/queue"
)

func main() {
	configPath := flag.String("config", os.Getenv("INVASIONS_CONFIG"), "path to a YAML config file")
	metricsAddr := flag.String("metrics-addr", os.Getenv("INVASIONS_WORKER_METRICS_ADDR"), "listen address for /metrics, empty to disable")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		app.NewLogger(config.Default().Log, os.Stderr).Error("load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Log, os.Stderr).With("service", "analytics-worker")
	if err := run(cfg, *metricsAddr, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := &app.Deps{}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("close dependencies", "error", err)
		}
	}()

	m := metrics.New()
	q, err := deps.OpenQueue(ctx, cfg, cfg.Queue.Name, logger)
	if err != nil {
		return err
	}
	consumer, err := deps.NewConsumer(ctx, cfg, q, m, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		logger.Info("consuming analytics events", "queue", q.Name(), "dead_letter", cfg.Queue.DeadLetter)
		err := consumer.Run(gctx)
		if gctx.Err() != nil && errors.Is(err, queue.ErrClosed) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("worker stopped cleanly")
	return nil
}
