package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/rfd-deal-digest/internal/config"
	"github.com/pauljones0/rfd-deal-digest/internal/digest"
	"github.com/pauljones0/rfd-deal-digest/internal/notifier"
	"github.com/pauljones0/rfd-deal-digest/internal/processor"
	"github.com/pauljones0/rfd-deal-digest/internal/scraper"
	"github.com/pauljones0/rfd-deal-digest/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(config.NewLogger(cfg, os.Stdout))
	slog.Info("Starting RFD deal digest server...")
	if !cfg.AdminConfigured() {
		slog.Warn("ADMIN_USERNAME or ADMIN_PASSWORD not set, admin routes will reject every request")
	}
	if cfg.SchedulerToken == "" {
		slog.Warn("SCHEDULER_TOKEN not set, /process-digest only accepts admin credentials")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		slog.Error("Critical error opening subscriber store", "error", err, "backend", cfg.SubscriberBackend)
		os.Exit(1)
	}
	defer store.Close()

	fetcher, err := scraper.NewFetcher(cfg)
	if err != nil {
		slog.Error("Critical error building fetcher", "error", err)
		os.Exit(1)
	}

	p := processor.New(
		fetcher,
		scraper.NewParser(scraper.LoadConfig()),
		digest.New(cfg.MaxDeals, cfg.HotDealsURL),
		store,
		notifier.NewFromConfig(cfg),
		cfg.HotDealsURL,
	)
	srv := NewServer(p, store, Options{
		AdminUsername:  cfg.AdminUsername,
		AdminPassword:  cfg.AdminPassword,
		SchedulerToken: cfg.SchedulerToken,
		ManualEvery:    cfg.ManualTriggerRate,
		ScheduledEvery: cfg.ScheduledTriggerRate,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening on port", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		srv.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server exited with error", "error", err)
		store.Close()
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}
