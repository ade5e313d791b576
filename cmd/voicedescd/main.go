// Command voicedescd runs the capture pipeline headless and serves it over
// HTTP with a websocket event stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"voicedesc/internal/bootstrap"
	"voicedesc/internal/config"
	"voicedesc/internal/logger"
	"voicedesc/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voicedescd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	hub := server.NewHub(logger.New(cfg.Log, "voicedesc"))
	services, err := bootstrap.BuildWithConfig(cfg, hub)
	if err != nil {
		return err
	}
	log := services.Logger

	srv := server.New(cfg.Server, services.Pipeline, hub, log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		_ = services.Shutdown(context.Background())
		return err
	}
	log.Info("voicedescd ready", map[string]interface{}{
		"addr":    srv.Addr(),
		"storage": cfg.Storage.Provider,
	})

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var failed bool
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("http shutdown failed", map[string]interface{}{"error": err.Error()})
		failed = true
	}
	if err := services.Shutdown(shutdownCtx); err != nil {
		log.Error("service shutdown failed", map[string]interface{}{"error": err.Error()})
		failed = true
	}
	if failed {
		return fmt.Errorf("shutdown incomplete")
	}
	return nil
}
