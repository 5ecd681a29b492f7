package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zokiio/ovc-sub005/internal/config"
	"github.com/Zokiio/ovc-sub005/internal/metrics"
	"github.com/Zokiio/ovc-sub005/internal/position"
	"github.com/Zokiio/ovc-sub005/internal/session"
	"github.com/Zokiio/ovc-sub005/internal/voicegroup"
)

// HTTPServer exposes monitoring endpoints and the facts API the game
// process pushes position and group membership updates through.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	cfg       *config.Config
	metrics   *metrics.Metrics
	sessions  *session.Registry
	positions *position.Tracker
	groups    *voicegroup.Store
	udpServer *UDPServer
	startTime time.Time
}

// NewHTTPServer creates the monitoring/facts API server.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics,
	sessions *session.Registry, positions *position.Tracker,
	groups *voicegroup.Store, udpServer *UDPServer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		cfg:       cfg,
		metrics:   m,
		sessions:  sessions,
		positions: positions,
		groups:    groups,
		udpServer: udpServer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Facts pushed by the game process.
	mux.HandleFunc("/positions", h.withMetrics("/positions", h.handlePositions))
	mux.HandleFunc("/groups", h.withMetrics("/groups", h.handleGroups))
	mux.HandleFunc("/groups/join", h.withMetrics("/groups/join", h.handleGroupJoin))
	mux.HandleFunc("/groups/leave", h.withMetrics("/groups/leave", h.handleGroupLeave))

	mux.Handle("/metrics", promhttp.Handler())
}

// withMetrics wraps a handler with request metrics collection.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)
		h.metrics.RecordHTTPRequest(r.Method, endpoint,
			fmt.Sprintf("%d", ww.statusCode), time.Since(start).Seconds())
	}
}

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start launches the HTTP server in the background.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := h.udpServer.GetStatistics()
	h.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"components": map[string]any{
			"udp_relay": map[string]any{
				"status":            "running",
				"packets_received":  stats.PacketsReceived,
				"packets_processed": stats.PacketsProcessed,
				"parse_errors":      stats.ParseErrors,
			},
			"sessions":  map[string]any{"active": stats.ActiveSessions},
			"positions": map[string]any{"tracked": h.positions.Len()},
			"groups":    map[string]any{"count": len(h.groups.Groups())},
		},
	})
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, h.udpServer.GetStatistics())
}

func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessions := h.sessions.Snapshot()
	infos := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	h.writeJSON(w, map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, map[string]any{
		"udp_port":         h.cfg.Server.UDPPort,
		"proximity_radius": h.cfg.Relay.ProximityRadius,
		"idle_timeout":     h.cfg.Relay.IdleTimeout,
		"expected_loss":    h.cfg.Audio.ExpectedLoss,
		"workers":          h.cfg.Server.Workers,
	})
}

// positionUpdate is one entry of the batched position feed.
type positionUpdate struct {
	ClientID string  `json:"client_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	World    string  `json:"world"`
}

// handlePositions ingests a batch of position facts, last write wins.
func (h *HTTPServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var updates []positionUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, fmt.Sprintf("invalid position batch: %v", err), http.StatusBadRequest)
		return
	}
	accepted, rejected := 0, 0
	for _, u := range updates {
		id, err := uuid.Parse(u.ClientID)
		if err != nil || u.World == "" {
			rejected++
			continue
		}
		h.positions.Update(id, u.X, u.Y, u.Z, u.World)
		accepted++
	}
	h.writeJSON(w, map[string]any{"accepted": accepted, "rejected": rejected})
}

type groupRequest struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id,omitempty"`
	Password  string `json:"password,omitempty"`
	Isolated  bool   `json:"isolated,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`
}

func (h *HTTPServer) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, map[string]any{"groups": h.groups.Groups()})
	case http.MethodPost:
		var req groupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid group request: %v", err), http.StatusBadRequest)
			return
		}
		if err := h.groups.Create(req.ID, req.Password, req.Isolated, req.Permanent); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
		h.writeJSON(w, map[string]any{"created": req.ID})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) handleGroupJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid join request: %v", err), http.StatusBadRequest)
		return
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}
	if !h.sessions.Has(clientID) {
		http.Error(w, "no session for client", http.StatusNotFound)
		return
	}
	if err := h.groups.Join(req.ID, clientID, req.Password); err != nil {
		status := http.StatusNotFound
		if err == voicegroup.ErrWrongPassword {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}
	h.writeJSON(w, map[string]any{"joined": req.ID})
}

func (h *HTTPServer) handleGroupLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid leave request: %v", err), http.StatusBadRequest)
		return
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}
	h.groups.Leave(clientID)
	h.writeJSON(w, map[string]any{"left": true})
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode HTTP response", slog.String("error", err.Error()))
	}
}
