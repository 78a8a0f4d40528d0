package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpapi "github.com/yourorg/rental-discovery/http"
	"github.com/yourorg/rental-discovery/internal/app"
	"github.com/yourorg/rental-discovery/internal/config"
	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/dispatch"
	"github.com/yourorg/rental-discovery/internal/events"
	"github.com/yourorg/rental-discovery/internal/hydrator"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/monitor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("config")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("rental-discovery stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, _, closeSource, err := app.ListingSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()
	hyd := hydrator.New(src)
	initial, err := hyd.Load(ctx)
	if err != nil {
		return err
	}
	reloader := hydrator.NewReloader(hyd, cfg.Snapshot.ReloadInterval, initial)

	maps, closeMaps := app.MapsService(ctx, cfg)
	defer closeMaps()

	pool := dispatch.New(cfg.Dispatch.Capacity, cfg.Dispatch.Workers, cfg.Session.CallTimeout+time.Second)
	defer pool.Close()
	broker := events.NewBroker()
	defer broker.Close()

	registry := httpapi.NewRegistry(ctx, httpapi.RegistryConfig{
		Options: discovery.Options{
			Limits:     app.Limits(cfg),
			Geocoder:   maps,
			Router:     maps,
			Prices:     app.PriceEstimator(cfg),
			Dispatcher: pool,
			Timeout:    cfg.Session.CallTimeout,
		},
		Snapshot:    reloader.Current,
		Listener:    broker.Listener,
		MaxSessions: cfg.Session.MaxSessions,
		IdleTimeout: cfg.Session.IdleTimeout,
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: BuildRouter(RouterDeps{
			Registry: registry,
			Broker:   broker,
			Reloader: reloader,
			Geocoder: maps,
			Server:   cfg.Server,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().Str("addr", srv.Addr).Int("listings", initial.Len()).Msg("rental-discovery listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return reloader.Run(gctx) })
	g.Go(func() error { return monitor.NewRecorder(broker).Run(gctx) })
	g.Go(func() error { return registry.Run(gctx) })
	return g.Wait()
}
