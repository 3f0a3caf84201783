package www

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/angas/omie-go/config"
	"github.com/angas/omie-go/sensor"
)

// Server exposes the sensor states as a small read-only JSON API plus a
// WebSocket channel that pushes every refreshed state.
type Server struct {
	logger  *slog.Logger
	config  config.AppConfigApi
	sensors []*sensor.Sensor
	hub     *Hub
	version string
}

func StartServer(sensors []*sensor.Sensor, cnfg config.AppConfigApi, version string) *Server {
	logger := slog.Default().With("module", "www")

	s := &Server{
		logger:  logger,
		config:  cnfg,
		sensors: sensors,
		hub:     NewHub(logger),
		version: version,
	}

	go s.hub.Run()
	return s
}

// BroadcastState pushes one sensor state to all connected clients.
func (s *Server) BroadcastState(state sensor.State) {
	payload, err := json.Marshal(state)
	if err != nil {
		s.logger.Error("failed to marshal sensor state", slog.Any("error", err))
		return
	}
	s.hub.Broadcast <- payload
}

func (s *Server) Run(ctx context.Context) {
	logReqMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("url", r.URL.String()),
				slog.String("remoteAddr", r.RemoteAddr))
			next.ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/sensors", logReqMW(http.HandlerFunc(s.handleSensors)))
	mux.Handle("GET /api/sensors/{key}", logReqMW(http.HandlerFunc(s.handleSensor)))
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(s.logger, w, map[string]string{"version": s.version})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		name := r.Header.Get("User-Agent")
		client, err := NewClient(s.hub, w, r, name)
		if err != nil {
			s.logger.Error("new websocket client failed", slog.Any("error", err))
			return
		}
		s.hub.Register <- client
		go client.WritePump()
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown error", slog.Any("error", err))
		}
	}()

	s.logger.Info("starting server", slog.String("address", server.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("server error", slog.Any("error", err))
	}
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	states := make([]sensor.State, 0, len(s.sensors))
	for _, sn := range s.sensors {
		states = append(states, sn.State())
	}
	writeJSON(s.logger, w, states)
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	for _, sn := range s.sensors {
		if sn.Key() == key {
			writeJSON(s.logger, w, sn.State())
			return
		}
	}
	http.Error(w, "unknown sensor", http.StatusNotFound)
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", slog.Any("error", err))
	}
}
