// Package service runs the long-lived gateway process: the state sync
// endpoint, scheduled maintenance jobs, and metrics persistence.
package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/llm"
	. "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/server"
	"github.com/modelgate/modelgate/internal/state"
)

const (
	// Cron schedules for maintenance jobs.
	blacklistSweepSpec = "*/10 * * * *" // every 10 minutes
	metricsFlushSpec   = "0 * * * *"    // hourly
)

// Service ties the gateway, sync server, metrics manager, and scheduler
// together for the long-running process.
type Service struct {
	cfg     *config.Config
	gateway *llm.Gateway
	store   *state.Store
	server  *server.Server
	manager *metrics.Manager
	cron    *cron.Cron
}

// New wires a service from configuration.
func New(cfg *config.Config) (*Service, error) {
	gateway, err := llm.NewGateway(cfg)
	if err != nil {
		return nil, err
	}

	store, err := state.NewDefaultStore()
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:     cfg,
		gateway: gateway,
		store:   store,
		server:  server.New(&server.Config{Listen: cfg.Server.Listen}, store),
		manager: metrics.NewManager(gateway.Stats),
		cron:    cron.New(),
	}, nil
}

// Gateway returns the wired gateway for in-process callers.
func (s *Service) Gateway() *llm.Gateway {
	return s.gateway
}

// Run starts the service and blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	s.manager.InitPersistence()

	if err := s.scheduleJobs(); err != nil {
		return err
	}
	s.cron.Start()

	if err := s.server.Start(); err != nil {
		return err
	}

	// Ensure the shared record exists before the front-end asks for it.
	if rec, source, err := s.store.Load(); err != nil {
		L_warn("service: initial state load failed", "error", err)
	} else {
		L_info("service: state ready", "provider", rec.Provider, "model", rec.ModelID, "source", source)
	}

	L_info("service: running", "listen", s.server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	L_info("service: signal received", "signal", sig.String())

	return s.shutdown()
}

// scheduleJobs registers the periodic maintenance jobs.
func (s *Service) scheduleJobs() error {
	if _, err := s.cron.AddFunc(blacklistSweepSpec, func() {
		if swept := s.gateway.Tracker.SweepExpired(); swept > 0 {
			L_info("service: swept expired blacklist entries", "count", swept)
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(metricsFlushSpec, func() {
		if err := s.manager.Save(); err != nil {
			L_warn("service: metrics flush failed", "error", err)
		}
	}); err != nil {
		return err
	}

	return nil
}

// shutdown stops components in reverse start order.
func (s *Service) shutdown() error {
	SetShuttingDown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_warn("service: server shutdown error", "error", err)
	}

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		L_warn("service: cron jobs did not finish before deadline")
	}

	if err := s.manager.Close(); err != nil {
		L_warn("service: metrics close error", "error", err)
	}

	L_info("service: stopped")
	return nil
}
