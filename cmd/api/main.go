package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modmarket.org/internal/config"
	"modmarket.org/internal/httpapi"
	"modmarket.org/internal/ledger"
	"modmarket.org/internal/market"
	"modmarket.org/internal/obs"
	"modmarket.org/internal/store/memory"
	"modmarket.org/internal/store/pg"
	"modmarket.org/internal/sweep"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}

	var (
		st    market.Store
		probe httpapi.ReadyProbe
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "err", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		st = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Warn("no database configured, using in-memory store")
		st = memory.New()
	}

	// Background reconciliation of expired entitlements and subscriptions.
	sweeper := sweep.New(st, ledger.New(st, log), log)
	runner := sweep.NewRunner(sweeper, log, cfg.SweepSchedule)
	if err := runner.Start(); err != nil {
		log.Error("start sweep runner", "err", err)
		os.Exit(1)
	}

	api := httpapi.New(probe, version, st, log, cfg.TokenTTL)
	api.SetRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting modmarket-api", "version", version, "addr", srv.Addr, "sweep_schedule", cfg.SweepSchedule)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	<-runner.Stop().Done()
	log.Info("stopped")
}
