// Package supervisor wires the controller components, owns their lifetimes,
// and is the single cancellation root.
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drip-org/drip/internal/clock"
	"github.com/drip-org/drip/internal/config"
	"github.com/drip-org/drip/internal/executor"
	"github.com/drip-org/drip/internal/host"
	"github.com/drip-org/drip/internal/logger"
	"github.com/drip-org/drip/internal/manual"
	"github.com/drip-org/drip/internal/metrics"
	"github.com/drip-org/drip/internal/scheduler"
	"github.com/drip-org/drip/internal/store"
)

// Supervisor owns the component tree: clock, host client, config store,
// scheduler, and the pump executor registry.
type Supervisor struct {
	cfg   *config.Config
	clk   clock.Clock
	hc    host.Client
	store *store.Store
	reg   *executor.Registry
	sched *scheduler.Scheduler
	man   *manual.Controller
	mets  *metrics.Metrics
	preg  *prometheus.Registry
}

// New builds the component tree from the process configuration.
func New(cfg *config.Config) (*Supervisor, error) {
	st, err := store.New(cfg.StoreFile())
	if err != nil {
		return nil, err
	}

	preg := prometheus.NewRegistry()
	mets := metrics.New(preg)

	clk := clock.New()
	hc := host.New(cfg.Host.BaseURL, cfg.Host.Token)
	reg := executor.NewRegistry(hc, clk, st.Snapshot, mets)
	sched := scheduler.New(st, hc, clk, reg, mets)
	man := manual.New(st, reg, clk)

	return &Supervisor{
		cfg:   cfg,
		clk:   clk,
		hc:    hc,
		store: st,
		reg:   reg,
		sched: sched,
		man:   man,
		mets:  mets,
		preg:  preg,
	}, nil
}

// Manual returns the manual override surface for the CRUD layer.
func (s *Supervisor) Manual() *manual.Controller {
	return s.man
}

// Run starts all workers and blocks until the context is cancelled, then
// shuts down: global cancel, wait for executor quiescence bounded by twice
// the stuck-lock timeout, force-release of any still-held locks.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.reg.Start(runCtx)

	go func() {
		if err := s.store.Watch(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(runCtx, "config watcher exited", "err", err)
		}
	}()

	var metricsSrv *http.Server
	if s.cfg.MetricsAddr != "" {
		metricsSrv = s.serveMetrics(runCtx)
	}

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- s.sched.Start(runCtx)
	}()

	logger.Info(ctx, "controller started", "dataDir", s.cfg.DataDir)

	select {
	case <-ctx.Done():
	case err := <-schedDone:
		if err != nil {
			logger.Error(ctx, "scheduler exited", "err", err)
		}
	}

	logger.Info(ctx, "shutting down")
	cancel()

	// Shutdown writes must not inherit the tripped cancellation.
	shutdownCtx := context.WithoutCancel(ctx)
	grace := 2 * s.store.Snapshot().Settings().StuckLockTimeout()
	s.reg.Shutdown(shutdownCtx, grace)

	if metricsSrv != nil {
		stopCtx, stopCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		defer stopCancel()
		_ = metricsSrv.Shutdown(stopCtx)
	}

	logger.Info(ctx, "controller stopped")
	return nil
}

func (s *Supervisor) serveMetrics(ctx context.Context) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(s.preg))
	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(ctx, "metrics listener started", "addr", s.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics listener failed", "err", err)
		}
	}()
	return srv
}
