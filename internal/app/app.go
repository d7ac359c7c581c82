// Package app wires the store, auth, media backend, engine, and transport
// into one runnable server.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/atrium-space/atrium-server/internal/auth"
	"github.com/atrium-space/atrium-server/internal/config"
	"github.com/atrium-space/atrium-server/internal/core"
	"github.com/atrium-space/atrium-server/internal/mediaengine"
	"github.com/atrium-space/atrium-server/internal/mediaengine/livekit"
	"github.com/atrium-space/atrium-server/internal/mediaengine/loopback"
	"github.com/atrium-space/atrium-server/internal/store"
	"github.com/atrium-space/atrium-server/internal/store/sqlite"
	transporthttp "github.com/atrium-space/atrium-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	engine          *core.Engine
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	backend := mediaBackend(cfg, logger)
	engine := core.NewEngine(st, authService, backend, engineSettings(cfg.Engine), logger)
	server := transporthttp.NewServer(engine, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		engine:          engine,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.engine.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

// mediaBackend picks LiveKit when credentials are configured, the in-process
// loopback backend otherwise.
func mediaBackend(cfg *config.Config, logger *zerolog.Logger) mediaengine.Backend {
	if cfg.LiveKitAPIKey != "" {
		logger.Info().Str("url", cfg.LiveKitURL).Msg("using livekit media backend")
		return livekit.New(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.LiveKitURL, cfg.Engine.MaxMediaRooms)
	}
	logger.Info().Msg("using loopback media backend")
	return loopback.New(cfg.Engine.MaxMediaRooms)
}

func engineSettings(ec config.EngineConfig) core.Settings {
	settings := core.DefaultSettings()
	if ec.HeartbeatInterval > 0 {
		settings.HeartbeatInterval = ec.HeartbeatInterval
	}
	if ec.HeartbeatTimeout > 0 {
		settings.HeartbeatTimeout = ec.HeartbeatTimeout
	}
	if ec.SnapshotInterval > 0 {
		settings.SnapshotInterval = ec.SnapshotInterval
	}
	if ec.StatsInterval > 0 {
		settings.StatsInterval = ec.StatsInterval
	}
	if ec.VideoChannelCeiling > 0 {
		settings.Channels.VideoCeiling = ec.VideoChannelCeiling
	}
	if ec.ChatChannelCeiling > 0 {
		settings.Channels.ChatCeiling = ec.ChatChannelCeiling
	}
	if ec.MessageRetention > 0 {
		settings.Channels.MessageRetention = ec.MessageRetention
	}
	return settings
}
