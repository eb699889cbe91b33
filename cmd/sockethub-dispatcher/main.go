package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sockethub/dispatcher/internal/config"
	"github.com/sockethub/dispatcher/internal/dispatcher"
	"github.com/sockethub/dispatcher/internal/queue"
	"github.com/sockethub/dispatcher/internal/registry"
	"github.com/sockethub/dispatcher/internal/server"
	"github.com/sockethub/dispatcher/internal/session"
)

func main() {
	// Set up logging
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, lErr := zerolog.ParseLevel(cfg.LogLevel); lErr == nil {
		log = log.Level(level)
	}
	if cfg.SockethubID == "" {
		cfg.SockethubID = uuid.NewString()
		log.Info().Str("sockethub_id", cfg.SockethubID).Msg("generated sockethub id")
	}

	ctx := context.Background()

	// Connect to the shared queue
	q, err := queue.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer func() { _ = q.Close() }()

	// Build the platform catalog
	reg := registry.New()
	if cfg.CatalogPath != "" {
		if err := reg.LoadCatalogFile(cfg.CatalogPath); err != nil {
			log.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("failed to load platform catalog")
		}
	}

	// Session manager and dispatcher core
	sessions, err := session.NewManager(ctx, q, cfg.SockethubID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start session manager")
	}

	d, err := dispatcher.New(ctx, cfg, reg, q, sessions, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create dispatcher")
	}

	// Liveness readiness is advisory: requests to platforms that never
	// answered are rejected at ingress, but the dispatcher stays up.
	if err := d.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("dispatcher started degraded")
	}

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down...")
		d.Shutdown()
		os.Exit(0)
	}()

	// Run server
	srv := server.New(cfg.ListenAddr, d, log)
	if err := srv.Run(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
