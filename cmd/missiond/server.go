package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"missiond/internal/health"
	"missiond/internal/metrics"
	"missiond/internal/overlay"
	"missiond/internal/plugin"
	"missiond/internal/rollup"
)

func newMux(p *plugin.Plugin, registry *metrics.Registry, checker *health.Checker, hub *overlay.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", registry.Handler())
	mux.Handle("GET /healthz", checker.HealthHandler())
	mux.Handle("GET /livez", checker.LivenessHandler())
	mux.Handle("GET /readyz", checker.ReadinessHandler())
	mux.HandleFunc("GET /dashboard", func(w http.ResponseWriter, r *http.Request) {
		d := p.Dashboard()
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			var lines []string
			for _, s := range d.Summaries() {
				lines = append(lines, s.Lines(time.Now(), rollup.TextOptions{Total: true, Stats: true})...)
				lines = append(lines, "")
			}
			_, _ = w.Write([]byte(strings.Join(lines, "\n")))
			return
		}
		writeJSON(w, d)
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, p.Version())
	})
	mux.Handle("/overlay", hub)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newServer(addr string, p *plugin.Plugin, registry *metrics.Registry, checker *health.Checker, hub *overlay.Hub) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newMux(p, registry, checker, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx ends, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
