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

	"golang.org/x/sync/errgroup"

	"checkpoint/internal/platform/config"
	"checkpoint/internal/platform/httpserver"
	"checkpoint/internal/platform/logger"
)

// main wires dependencies and runs the HTTP server alongside the background
// workers until SIGINT or SIGTERM. Business logic lives in internal/processing.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	srv := httpserver.New(cfg.Addr, app.router, cfg.Timeouts.Analysis)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting checkpoint", "addr", cfg.Addr, "env", cfg.Environment, "simulated_gateways", app.simulated)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	for _, work := range app.workers {
		g.Go(func() error { return work(gctx) })
	}
	return g.Wait()
}
