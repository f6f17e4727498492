// Package daemon runs texbuild in long-lived mode: a small HTTP surface for
// health/status/metrics, optional scheduled full compiles, and an optional
// source watcher for preview rebuilds.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/texbuild/internal/compile"
	"git.home.luguber.info/inful/texbuild/internal/metrics"
	"git.home.luguber.info/inful/texbuild/internal/statusstore"
	"git.home.luguber.info/inful/texbuild/internal/watch"
)

// Options configures the daemon.
type Options struct {
	Listen   string
	Schedule string // cron expression; empty disables scheduled compiles
	DocType  string // document type for scheduled full compiles

	Orchestrator *compile.Orchestrator
	Status       *statusstore.Store
	Registry     *prom.Registry // nil disables the /metrics endpoint
	Watcher      *watch.Watcher // nil disables watch mode
}

// Daemon composes the HTTP surface, scheduler, and watcher.
type Daemon struct {
	opts   Options
	router *chi.Mux
	server *http.Server
}

// New creates a daemon. Orchestrator and Status are required.
func New(opts Options) (*Daemon, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("daemon: orchestrator is required")
	}
	if opts.Status == nil {
		return nil, errors.New("daemon: status store is required")
	}
	if opts.Listen == "" {
		opts.Listen = ":8787"
	}

	d := &Daemon{opts: opts, router: chi.NewRouter()}
	d.setupRoutes()

	d.server = &http.Server{
		Addr:         opts.Listen,
		Handler:      d.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return d, nil
}

func (d *Daemon) setupRoutes() {
	d.router.Use(middleware.RequestID)
	d.router.Use(middleware.RealIP)
	d.router.Use(middleware.Recoverer)
	d.router.Use(middleware.Timeout(30 * time.Second))

	d.router.Get("/health", d.handleHealth)
	d.router.Get("/status", d.handleStatus)
	if d.opts.Registry != nil {
		d.router.Method(http.MethodGet, "/metrics", metrics.HTTPHandler(d.opts.Registry))
	}
}

// Run starts the HTTP server, scheduler, and watcher, and blocks until the
// context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	scheduler, err := startScheduler(d.opts)
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				slog.Warn("Scheduler shutdown failed", "err", err)
			}
		}()
	}

	if d.opts.Watcher != nil {
		go func() {
			if err := d.opts.Watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Watcher stopped", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Daemon listening", "addr", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router (tests).
func (d *Daemon) Handler() http.Handler {
	return d.router
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// handleStatus serves the raw persisted status slot plus whether a compile
// is currently in flight.
func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		Status    statusstore.Status `json:"status"`
		Label     string             `json:"label"`
		Timestamp int64              `json:"timestamp,omitempty"`
		Active    bool               `json:"active"`
		Mode      string             `json:"mode,omitempty"`
	}

	resp := statusResponse{Status: statusstore.StatusIdle, Label: "Ready"}
	if rec, ok := d.opts.Status.Snapshot(); ok {
		resp.Status = rec.Status
		resp.Label = rec.Label
		resp.Timestamp = rec.Timestamp
	}
	if mode, active := d.opts.Orchestrator.Active(); active {
		resp.Active = true
		resp.Mode = string(mode)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "err", err)
	}
}
