// Package app assembles the server: storage, session service, event buses,
// presence tracking and the HTTP surface, with ordered startup and reverse
// teardown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/internal/api"
	"github.com/SorenPirat/matematik-platform/internal/bus"
	"github.com/SorenPirat/matematik-platform/internal/config"
	"github.com/SorenPirat/matematik-platform/internal/database"
	"github.com/SorenPirat/matematik-platform/internal/relay"
	"github.com/SorenPirat/matematik-platform/internal/session"
)

const migrationsDir = "migrations"

// Application owns every long-lived component of the server process.
type Application struct {
	cfg *config.Config
	log *zap.Logger

	store    *database.Manager
	stream   *bus.StreamBus
	channel  *bus.ChannelBus
	sessions *session.Service
	presence *relay.PresenceWatchdog
	server   *http.Server

	stopOnce  sync.Once
	sweepStop chan struct{}
	wg        sync.WaitGroup
}

// New wires the application in dependency order: database first, then the
// session service and buses, then the HTTP surface on top.
func New(cfg *config.Config, log *zap.Logger) (*Application, error) {
	store, err := database.NewManager(&database.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	migrator := database.NewMigrationManager(store.GetDB(), migrationsDir)
	if err := migrator.ApplyMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	stream := bus.NewStreamBus(log)
	channel := bus.NewChannelBus(log)

	// Kicks from the service must reach students on either transport.
	sessions := session.NewService(store, bus.NewFanout(stream, channel), session.Policy{
		SessionTTL:     cfg.Policy.SessionTTL,
		CodeLength:     cfg.Policy.CodeLength,
		CodeRetries:    cfg.Policy.CodeRetries,
		AliasFreshness: cfg.Policy.AliasFreshness,
	}, log)

	presence := relay.NewPresenceWatchdog(cfg.Policy.PresenceTimeout, log)

	server := api.NewServer(sessions, store, stream, channel, presence, cfg.Policy.KeepAliveInterval, log)

	return &Application{
		cfg:      cfg,
		log:      log,
		store:    store,
		stream:   stream,
		channel:  channel,
		sessions: sessions,
		presence: presence,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
			Handler:      server.Routes(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
		sweepStop: make(chan struct{}),
	}, nil
}

// Start serves HTTP and runs the background workers. It blocks until the
// listener fails or is shut down.
func (a *Application) Start() error {
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.presence.Run()
	}()
	go func() {
		defer a.wg.Done()
		a.sweepLoop()
	}()

	a.log.Info("server starting",
		zap.String("addr", a.server.Addr),
		zap.String("database", a.cfg.Database.Path))

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// sweepLoop deletes expired sessions on a fixed cadence. The same sweep is
// available out of process via the sweep subcommand.
func (a *Application) sweepLoop() {
	ticker := time.NewTicker(a.cfg.Policy.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.sweepStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := a.sessions.DeleteExpired(ctx); err != nil {
				a.log.Warn("expired session sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Stop tears down in reverse order: HTTP listener, background workers, then
// the store last so in-flight requests can still reach it.
func (a *Application) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.log.Info("server shutting down")

		if shutdownErr := a.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("HTTP shutdown failed: %w", shutdownErr)
		}

		close(a.sweepStop)
		a.presence.Stop()
		a.wg.Wait()

		if closeErr := a.store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("database close failed: %w", closeErr)
		}

		a.log.Info("server stopped")
	})
	return err
}
