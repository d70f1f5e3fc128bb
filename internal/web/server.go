// Package web is the control surface: a small JSON API over the bridge,
// the mapping store and the runtime configuration, plus a WebSocket status
// feed and the Prometheus endpoint.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"artnet2ha/internal/bridge"
	"artnet2ha/internal/config"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/mapping"
	"artnet2ha/internal/metrics"
	"github.com/gorilla/websocket"
)

// Server serves the HTTP API.
type Server struct {
	logger     logger.Logger
	bridge     *bridge.Bridge
	store      *mapping.Store
	cfg        *config.Config
	cfgPath    string
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer wires the API to its collaborators. cfgPath is where config
// updates are persisted; empty disables persistence.
func NewServer(log logger.Logger, b *bridge.Bridge, store *mapping.Store, cfg *config.Config, cfgPath string) *Server {
	return &Server{
		logger:  log,
		bridge:  b,
		store:   store,
		cfg:     cfg,
		cfgPath: cfgPath,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start serves on addr until Stop. It blocks, call it from a goroutine.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.With(logger.Fields{"module": "web"}).Infof("API listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	return nil
}

// RegisterRoutes attaches every endpoint to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleUpdateConfig)
	mux.HandleFunc("GET /api/entities", s.handleEntities)
	mux.HandleFunc("POST /api/entities/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/entities/{id}/channel", s.handleSetChannel)
	mux.HandleFunc("POST /api/entities/{id}/type", s.handleSetType)
	mux.HandleFunc("DELETE /api/entities/{id}", s.handleRemoveEntity)
	mux.HandleFunc("GET /ws", s.handleStatusSocket)
	mux.Handle("GET /metrics", metrics.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
