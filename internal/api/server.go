// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/swim-mobility/internal/engine"
	"github.com/talgya/swim-mobility/internal/occupancy"
	"github.com/talgya/swim-mobility/internal/persistence"
)

const (
	maxStreamConns = 8
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// Server serves the simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Sched    *engine.Scheduler
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	streamConns int32
	upgrader    websocket.Upgrader
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	snapshotLimiter := NewRateLimiter(6, time.Minute)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/locations", s.handleLocations)
	mux.HandleFunc("/api/v1/nodes", s.handleNodes)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/deltas", s.handleDeltas)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(RateLimitMiddleware(snapshotLimiter, s.handleSnapshot)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server can
// be shut down by the caller.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// SWIMSIM_CORS_ORIGINS holds a comma-separated list of extra origins.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("SWIMSIM_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no SWIMSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.Sim.CurrentTime()
	status := map[string]any{
		"run_id":      s.Sim.RunID,
		"time":        now,
		"sim_time":    engine.SimTime(now),
		"nodes":       s.Sim.NodeCount(),
		"locations":   s.Sim.Registry.Len(),
		"attributed":  s.Sim.Registry.Total(),
		"stats":       s.Sim.Stats(),
		"dropped":     s.Sim.Broadcaster.Dropped(),
		"persistence": s.DB != nil,
	}
	if s.Sched != nil {
		status["running"] = s.Sched.Running()
		status["processed"] = s.Sched.Processed()
		status["pending"] = s.Sched.Len()
	}
	writeJSON(w, status)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	locs := s.Sim.Registry.Locations()
	if r.URL.Query().Get("occupied") == "true" {
		occupied := locs[:0]
		for _, l := range locs {
			if l.Occupancy > 0 {
				occupied = append(occupied, l)
			}
		}
		locs = occupied
	}
	writeJSON(w, locs)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	views := s.Sim.Nodes(s.Sim.CurrentTime())
	if idStr := r.URL.Query().Get("id"); idStr != "" {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			http.Error(w, "invalid node id", http.StatusBadRequest)
			return
		}
		for _, v := range views {
			if v.ID == id {
				writeJSON(w, v)
				return
			}
		}
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, views)
}

func parseLimit(r *http.Request) int {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.Sim.RecentEvents(parseLimit(r))
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := make([]engine.Event, 0, len(events))
		for _, e := range events {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	writeJSON(w, events)
}

func (s *Server) handleDeltas(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	deltas, err := s.DB.RecentDeltas(parseLimit(r))
	if err != nil {
		slog.Error("delta query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, deltas)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.DB.SaveSnapshot(s.Sim); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"time":    s.Sim.CurrentTime(),
		"message": "snapshot saved",
	})
}

// streamMessage is one applied occupancy delta as sent to stream clients.
type streamMessage struct {
	occupancy.Delta
	Outcome string `json:"outcome"`
}

// handleStream upgrades to a websocket and forwards every applied occupancy
// delta until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.streamConns, 1)
	defer atomic.AddInt32(&s.streamConns, -1)
	if current > maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID, ch := s.Sim.Broadcaster.Subscribe()
	defer s.Sim.Broadcaster.Unsubscribe(subID)
	slog.Info("stream client connected", "sub_id", subID)

	// Reads only detect the close; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case a, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(streamMessage{Delta: a.Delta, Outcome: a.Outcome.String()}); err != nil {
				slog.Info("stream client write failed", "sub_id", subID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			slog.Info("stream client disconnected", "sub_id", subID)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
