package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/filegate/filegate/internal/config"
	"github.com/filegate/filegate/internal/registry"
	"github.com/filegate/filegate/internal/server"
	"github.com/filegate/filegate/internal/source"
	"github.com/filegate/filegate/internal/stream"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("filegate exited")
	}
}

func run() error {
	ctx := context.Background()

	cfg := config.Default()
	if path := os.Getenv("FILEGATE_CONFIG"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return err
		}
		cfg = loaded
		log.Info().Str("path", path).Msg("loaded config file")
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sources := source.LoadFromEnv(ctx, log.Logger)
	if sources.Len() == 0 {
		return errors.New("no chunk sources configured; set SOURCES")
	}
	log.Info().Int("count", sources.Len()).Msg("chunk sources enabled")

	var reg registry.Registry
	switch cfg.Registry {
	case "postgres":
		pg, err := registry.NewPostgresRegistry(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		reg = pg
	case "scan":
		// The scan registry needs a chat history backend, which only
		// embedders (the bot process) can provide.
		return fmt.Errorf("scan registry requires an embedded history backend; run with FILEGATE_REGISTRY=postgres")
	}

	engine := stream.NewEngine(reg, sources, stream.Config{
		Ceiling:      cfg.Ceiling,
		ChunkSize:    cfg.ChunkSize,
		CallSize:     cfg.CallSize,
		Prefetch:     cfg.Prefetch,
		BufferCap:    cfg.BufferCap,
		Retries:      cfg.Retry.Attempts,
		RetryBackoff: cfg.Retry.Backoff,
		MaxBackoff:   cfg.Retry.MaxBackoff,
		ReadTimeout:  cfg.ReadTimeout,
		DrainTimeout: cfg.DrainTimeout,
		MaxDuration:  cfg.SessionTimeout,
	}, log.Logger)

	srv := server.New(engine, reg, log.Logger)
	httpServer := &http.Server{
		Addr:              cfg.Bind,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Bind).Msg("filegate HTTP listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
