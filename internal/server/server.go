/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/carbonwise/internal/api"
	"github.com/friendsincode/carbonwise/internal/archive"
	"github.com/friendsincode/carbonwise/internal/config"
	"github.com/friendsincode/carbonwise/internal/db"
	"github.com/friendsincode/carbonwise/internal/eventbus"
	"github.com/friendsincode/carbonwise/internal/events"
	"github.com/friendsincode/carbonwise/internal/executor"
	"github.com/friendsincode/carbonwise/internal/footprint"
	"github.com/friendsincode/carbonwise/internal/leadership"
	"github.com/friendsincode/carbonwise/internal/queue"
	"github.com/friendsincode/carbonwise/internal/scheduler"
	"github.com/friendsincode/carbonwise/internal/store"
	"github.com/friendsincode/carbonwise/internal/telemetry"
)

// Server wires HTTP, the scheduler and their collaborators.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db                   *gorm.DB
	bus                  events.Broker
	forecasts            *Forecasts
	snapshots            *store.SnapshotStore
	archive              *archive.Archive
	api                  *api.API
	scheduler            *scheduler.Service
	leaderAwareScheduler *scheduler.LeaderAwareScheduler
	local                *executor.Local

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("carbonwise-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Zero write timeout for the event stream; the middleware bounds the rest.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.snapshots = store.NewSnapshotStore(database, s.logger)

	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NodeID()
	}
	bus, closeBus := NewBroker(s.cfg, nodeID, s.logger)
	s.bus = bus
	s.DeferClose(closeBus)

	forecasts, err := NewForecasts(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.forecasts = forecasts
	s.DeferClose(forecasts.Close)

	exec, err := s.newExecutor(nodeID)
	if err != nil {
		return err
	}

	opts := []scheduler.Option{
		scheduler.WithEvents(bus),
		scheduler.WithMeter(footprint.EstimateMeter{}),
		scheduler.WithSnapshotSaver(s.snapshots),
	}
	objects, err := NewObjectStore(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	if objects != nil {
		s.archive = archive.New(objects, s.logger)
		opts = append(opts, scheduler.WithReporter(s.archive))
	}

	s.scheduler = scheduler.New(queue.New(), forecasts.Provider, exec, Policy(s.cfg), s.logger, opts...)
	if err := s.scheduler.BindExecutor(); err != nil {
		return fmt.Errorf("bind executor: %w", err)
	}
	if err := s.restore(ctx); err != nil {
		return err
	}

	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.DefaultConfig()
		electionConfig.RedisAddr = s.cfg.RedisAddr
		electionConfig.RedisPassword = s.cfg.RedisPassword
		electionConfig.RedisDB = s.cfg.RedisDB
		electionConfig.InstanceID = nodeID

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.leaderAwareScheduler = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
		s.DeferClose(s.leaderAwareScheduler.Stop)

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", nodeID).
			Msg("leader election enabled for scheduler")
	}

	s.api = api.New(database, []byte(s.cfg.JWTSigningKey), s.scheduler, bus, s.logger)
	if s.archive != nil {
		s.api.SetArchive(s.archive)
	}
	if forecasts.Cached != nil {
		s.api.SetForecastInvalidator(forecasts.Cached)
	}
	return nil
}

// newExecutor builds the configured executor behind a pool so further
// members can join without touching the scheduler.
func (s *Server) newExecutor(nodeID string) (executor.Executor, error) {
	pool := executor.NewPool(s.logger)
	switch s.cfg.ExecutorKind {
	case config.ExecutorNATS:
		conn, err := ConnectNATS(s.cfg, "carbonwise-executor-"+nodeID, s.logger)
		if err != nil {
			return nil, err
		}
		s.DeferClose(func() error { conn.Close(); return nil })
		remote := executor.NewNATS(conn, executor.DefaultSubjects(), s.cfg.DispatchTimeout, s.logger)
		s.DeferClose(remote.Close)
		if err := pool.AddMember("nats", remote); err != nil {
			return nil, err
		}
	default:
		s.local = executor.NewLocal(s.cfg.ExecutorSlots, s.cfg.ExecutorScale, s.logger)
		s.DeferClose(s.local.Close)
		if err := pool.AddMember("local", s.local); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// restore reloads the last snapshot so deferred jobs keep their windows
// across restarts.
func (s *Server) restore(ctx context.Context) error {
	snap, err := s.snapshots.Load(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	return s.scheduler.Restore(snap)
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	started := s.bgCancel != nil
	s.stopBackgroundWorkers()
	// A server that never started must not overwrite the stored snapshot.
	if started {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.scheduler.SaveSnapshot(ctx); err != nil {
			s.logger.Error().Err(err).Msg("final snapshot failed")
		}
		cancel()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.leaderAwareScheduler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAwareScheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware scheduler exited")
			}
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("scheduler loop exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runForecastListener(ctx)
	}()
}

// runForecastListener re-evaluates as soon as any instance reports a fresh
// forecast.
func (s *Server) runForecastListener(ctx context.Context) {
	updated := s.bus.Subscribe(events.EventForecastUpdated)
	defer s.bus.Unsubscribe(events.EventForecastUpdated, updated)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-updated:
			if !ok {
				return
			}
			region, _ := payload["region"].(string)
			s.logger.Debug().Str("region", region).Msg("forecast updated, triggering evaluation")
			s.scheduler.Trigger()
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`
		if s.leaderAwareScheduler != nil {
			if s.leaderAwareScheduler.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
