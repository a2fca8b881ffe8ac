package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	router "github.com/dkeye/muc/internal/adapters/http"
	wsignal "github.com/dkeye/muc/internal/adapters/signal"
	"github.com/dkeye/muc/internal/app"
	"github.com/dkeye/muc/internal/app/orch"
	"github.com/dkeye/muc/internal/config"
	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/history"
	"github.com/dkeye/muc/internal/storage"
	"github.com/dkeye/muc/internal/storage/memory"
	"github.com/dkeye/muc/internal/storage/mongostore"
	"github.com/dkeye/muc/internal/storage/sqlstore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	dao, closeDAO, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer closeDAO()

	defaults, err := cfg.DefaultRoomConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid default room config")
	}

	ghosts := app.NewGhostbuster()
	opts := core.Options{
		Mode:          core.ParseBroadcastMode(cfg.MUC.Broadcast),
		MultiItem:     cfg.MUC.MultiItem,
		HistoryReplay: cfg.MUC.HistoryReplay,
		History:       history.NewMemory(cfg.MUC.HistorySize),
		Sessions:      ghosts,
	}
	repo, err := app.NewInMemoryRepository(ctx, dao, defaults, opts, cfg.MUC.BootstrapWorkers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap rooms")
	}

	hub := wsignal.NewHub()
	o := orch.New(repo, ghosts, hub, app.SimplePolicy{MaxDropped: cfg.MUC.MaxDropped}, cfg.MUC.Domain, cfg.MUC.UniqueNameAttempts)
	limiter := wsignal.NewRateLimiter(cfg.MUC.RateLimit, cfg.MUC.RateInterval)
	ctl := wsignal.NewSignalWSController(o, hub, limiter, cfg.ReadLimit, cfg.PingPeriod)

	r := router.SetupRouter(ctx, cfg, o, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		log.Info().Str("addr", addr).Str("domain", cfg.MUC.Domain).Msg("MUC server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	})
	wg.Go(func() { sweep(ctx, o, cfg.MUC.SweepPeriod, cfg.MUC.GhostIdle) })

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()
	log.Info().Msg("Server exited gracefully")
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.DAO, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "sqlite", "postgres":
		s, err := sqlstore.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("close sql storage")
			}
		}, nil
	case "mongo":
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		s, err := mongostore.Connect(cctx, cfg.DSN, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			dctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			if err := s.Close(dctx); err != nil {
				log.Error().Err(err).Msg("close mongo storage")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// sweep evicts sessions that went silent without leaving.
func sweep(ctx context.Context, o *orch.Orchestrator, period, maxIdle time.Duration) {
	if period <= 0 || maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.SweepGhosts(ctx, maxIdle); n > 0 {
				log.Info().Str("module", "app.ghostbuster").Int("evicted", n).Msg("ghost sweep")
			}
		}
	}
}
