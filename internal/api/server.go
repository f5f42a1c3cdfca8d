// Package api provides the HTTP bridge to a running crisis simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/crisis-world/internal/engine"
	"github.com/talgya/crisis-world/internal/persistence"
)

const (
	maxSSEConns   = 4
	sseCatchUp    = 50
	sseBuffer     = 256
	maxAdminBody  = 64 << 10
	defaultEvents = 50
	maxEvents     = 500
)

// Server serves the simulation over HTTP.
type Server struct {
	Eng       *engine.Engine
	DB        *persistence.DB // nil disables /save and stored snapshots
	Config    []byte          // YAML stored alongside each save
	Port      int
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey  string // Bearer token for the SSE stream. Empty = streaming disabled.
	AdminRate int    // admin requests per minute per client; 0 = unlimited

	// Active SSE connection count (atomic).
	sseConns int32
	http     *http.Server
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	adminLimiter := NewRateLimiter(s.AdminRate, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", getOnly(s.handleStatus))
	mux.HandleFunc("/api/v1/snapshot", getOnly(s.handleSnapshot))
	mux.HandleFunc("/api/v1/events", getOnly(s.handleEvents))
	mux.HandleFunc("/api/v1/alerts", getOnly(s.handleAlerts))

	// SSE streaming endpoint (GET, requires the relay key).
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/admin", s.adminOnly(RateLimitMiddleware(adminLimiter, s.handleAdmin)))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(RateLimitMiddleware(adminLimiter, s.handleSpeed)))
	mux.HandleFunc("/api/v1/save", s.adminOnly(RateLimitMiddleware(adminLimiter, s.handleSave)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	s.http = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
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

func bearer(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	return key != "" && strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no CRISISSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !bearer(r, s.AdminKey) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st engine.Status
	s.Eng.Do(func(sim *engine.Simulation) { st = sim.Status() })
	writeJSON(w, map[string]any{
		"name":    "crisis-world",
		"speed":   s.Eng.Speed(),
		"driving": s.Eng.Running(),
		"status":  st,
	})
}

// handleSnapshot returns the live snapshot, or a stored one with ?tick=N.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if t := r.URL.Query().Get("tick"); t != "" {
		tick, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			http.Error(w, "invalid tick", http.StatusBadRequest)
			return
		}
		if s.DB == nil {
			http.Error(w, "database not available", http.StatusServiceUnavailable)
			return
		}
		snap, err := s.DB.LoadSnapshot(tick)
		if errors.Is(err, persistence.ErrNoSnapshot) {
			http.Error(w, "snapshot not found", http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("snapshot load failed", "tick", tick, "error", err)
			http.Error(w, "snapshot load failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, snap)
		return
	}

	var snap engine.Snapshot
	s.Eng.Do(func(sim *engine.Simulation) { snap = sim.Snapshot() })
	writeJSON(w, snap)
}

// handleEvents lists recent events. Query: limit, kind, since (sequence number).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEvents
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxEvents {
			limit = n
		}
	}
	var since uint64
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}

	var events []engine.Event
	s.Eng.Do(func(sim *engine.Simulation) { events = sim.EventsSince(since) })

	if kind := q.Get("kind"); kind != "" {
		filtered := make([]engine.Event, 0, len(events))
		for _, e := range events {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	out := events[start:]
	if out == nil {
		out = []engine.Event{}
	}
	writeJSON(w, out)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var snap engine.Snapshot
	var alerts []engine.Alert
	s.Eng.Do(func(sim *engine.Simulation) {
		alerts = sim.Alerts()
		snap = sim.Snapshot()
	})
	if alerts == nil {
		alerts = []engine.Alert{}
	}
	writeJSON(w, map[string]any{
		"tick":           snap.Tick,
		"composite_risk": snap.CompositeRisk,
		"risk_level":     snap.RiskLevel,
		"alerts":         alerts,
		"early_warnings": snap.EarlyWarnings,
	})
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	cmd, err := engine.DecodeCommand(body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	res, err := s.Eng.Admin(cmd)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	slog.Info("admin command applied", "command", res.Command, "event", res.EventID)
	writeJSON(w, res)
}

// statusFor maps admin failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyActive),
		errors.Is(err, engine.ErrNotActive),
		errors.Is(err, engine.ErrNoCapacity),
		errors.Is(err, engine.ErrStopped):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.Eng.SetSpeed(req.Speed); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	var tick uint64
	var err error
	s.Eng.Do(func(sim *engine.Simulation) {
		tick = sim.CurrentTick()
		err = s.DB.SaveState(sim, s.Config)
	})
	if err != nil {
		slog.Error("state save failed", "error", err)
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    tick,
		"message": "state saved",
	})
}

// handleStream relays events and snapshots as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Auth check uses the relay key, not the admin key.
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	if !bearer(r, s.RelayKey) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	kind := r.URL.Query().Get("kind")
	sink := engine.NewChannelSink(sseBuffer)
	var subID int
	var recent []engine.Event
	s.Eng.Do(func(sim *engine.Simulation) {
		subID = sim.Subscribe(kind, sink)
		recent = sim.Events()
	})
	defer s.Eng.Do(func(sim *engine.Simulation) { sim.Unsubscribe(subID) })

	// Catch-up.
	start := len(recent) - sseCatchUp
	if start < 0 {
		start = 0
	}
	for _, e := range recent[start:] {
		if kind == "" || kind == engine.AllEvents || e.Kind == kind {
			writeSSE(w, e.Kind, e)
		}
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID, "kind", kind)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case msg := <-sink.C:
			switch {
			case msg.Event != nil:
				writeSSE(w, msg.Event.Kind, msg.Event)
			case msg.Snapshot != nil:
				writeSSE(w, "snapshot", msg.Snapshot)
			}
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID, "dropped", sink.Dropped())
			return
		}
	}
}

// writeSSE writes a single message in SSE format.
func writeSSE(w io.Writer, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
