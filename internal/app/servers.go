package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/brollyhub/screenrec/internal/control"
	"go.uber.org/zap"
)

// StartServers starts the control and health servers the configuration
// enables. The returned function shuts them down.
func (r *Recorder) StartServers() func(context.Context) {
	cfg := r.app.Config
	var stops []func(context.Context)

	if cfg.Control.Enabled {
		server := control.NewServer(control.ServerConfig{
			Config:   cfg.Control,
			Recorder: r,
			Logger:   r.logger,
		})
		go func() {
			if err := server.Start(); err != nil {
				r.logger.Warn("Control server unavailable", zap.Error(err))
			}
		}()
		stops = append(stops, func(ctx context.Context) {
			if err := server.Stop(ctx); err != nil {
				r.logger.Warn("Control server shutdown error", zap.Error(err))
			}
		})
	}

	if cfg.Health.Enabled {
		addr := net.JoinHostPort(cfg.Control.Host, fmt.Sprint(cfg.Health.Port))
		srv := r.startHealthServer(addr)
		stops = append(stops, func(ctx context.Context) {
			if err := srv.Shutdown(ctx); err != nil {
				r.logger.Warn("Health server shutdown error", zap.Error(err))
			}
		})
	}

	return func(ctx context.Context) {
		for _, stop := range stops {
			stop(ctx)
		}
	}
}

// HealthHandler serves /health and /metrics.
func (r *Recorder) HealthHandler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		health := map[string]interface{}{
			"healthy":      true,
			"state":        snap.State.String(),
			"session_id":   snap.SessionID,
			"remaining_ms": snap.Remaining.Milliseconds(),
			"recorded_ms":  snap.Recorded.Milliseconds(),
		}

		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		if err := r.app.ArchiveHealth(ctx); err != nil {
			health["healthy"] = false
			health["archive_error"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if !health["healthy"].(bool) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle("/metrics", r.app.Metrics.Handler())
	return mux
}

func (r *Recorder) startHealthServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.HealthHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		r.logger.Info("Health server starting", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("Health server error", zap.Error(err))
		}
	}()

	return srv
}
