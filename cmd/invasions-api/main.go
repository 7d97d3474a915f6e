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

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/invasions/internal/analytics"
	"github.com/celerix-dev/invasions/internal/api"
	"github.com/celerix-dev/invasions/internal/app"
	"github.com/celerix-dev/invasions/internal/config"
	"github.com/celerix-dev/invasions/internal/metrics"
	"github.com/celerix-dev/invasions/internal/service"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("INVASIONS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		app.NewLogger(config.Default().Log, os.Stderr).Error("load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Log, os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting invasions api", "version", version, "cache", cfg.Cache.Backend, "queue", cfg.Queue.Backend)

	m := metrics.New()
	// Redis or NATS being down must not keep the API from serving store reads.
	deps := &app.Deps{BestEffortQueue: true}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("close dependencies", "error", err)
		}
	}()

	st, err := deps.OpenStore(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	c, err := deps.OpenCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	q, err := deps.OpenQueue(ctx, cfg, cfg.Queue.Name, logger)
	if err != nil {
		return err
	}

	dispatcher := analytics.NewDispatcher(q,
		analytics.WithBuffer(cfg.Analytics.Buffer),
		analytics.WithPushTimeout(cfg.Queue.PushTimeout),
		analytics.WithDispatcherLogger(logger),
		analytics.WithDispatcherMetrics(m),
	)

	svc := service.New(st, c, dispatcher,
		service.WithTTL(cfg.Cache.TTL),
		service.WithMetrics(m),
		service.WithLogger(logger),
	)

	health := &api.Health{
		Service:  "invasions-api",
		Version:  version,
		Database: st,
		Cache:    c,
		Startup: api.PingFunc(func(ctx context.Context) error {
			_, err := st.CountCities(ctx)
			return err
		}),
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(&api.Handler{Service: svc, Logger: logger}, health, m.Handler(), logger)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return deps.Sweep(gctx, time.Minute, logger)
	})

	if cfg.Analytics.EmbeddedWorker {
		consumer, err := deps.NewConsumer(gctx, cfg, q, m, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			err := consumer.Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		// Requests are finished; flush the events they published.
		if derr := dispatcher.Close(shutdownCtx); derr != nil {
			logger.Warn("analytics events left in buffer", "error", derr)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}
