package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
)

const shutdownGrace = 5 * time.Second

// Handler returns the status server's routes:
//
//	GET  /metrics        Prometheus scrape endpoint
//	GET  /healthz        liveness, with the orchestrator state
//	GET  /readyz         readiness
//	POST /history/clear  forget the conversation so far
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.readinessChecks(), health.WithInfo(a.info)).Register(mux)
	mux.HandleFunc("POST /history/clear", a.clearHistory)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) info() map[string]string {
	return map[string]string{
		"state":   a.orch.State().String(),
		"turns":   strconv.Itoa(a.history.Len()),
		"speech":  strconv.FormatBool(a.cfg.Agent.SpeechEnabled()),
		"bargein": strconv.FormatBool(a.cfg.Agent.BargeInEnabled()),
	}
}

func (a *App) readinessChecks() []health.Checker {
	checks := []health.Checker{{
		Name: "orchestrator",
		Check: func(context.Context) error {
			if !a.orch.Running() {
				return fmt.Errorf("state is %s", a.orch.State())
			}
			return nil
		},
	}}
	if a.journal != nil {
		checks = append(checks, health.Checker{Name: "journal", Check: a.journal.Ping})
	}
	return append(checks, a.providers.Checks...)
}

func (a *App) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.orch.ClearHistory(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	slog.Info("conversation history cleared")
	w.WriteHeader(http.StatusNoContent)
}

// serve runs the status server until ctx is cancelled or the orchestrator
// stops.
func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errc <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errc <- srv.ListenAndServe()
	}()
	slog.Info("status server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: status server: %w", err)
	case <-ctx.Done():
	case <-a.orch.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("status server shutdown", "err", err)
	}
	return nil
}
