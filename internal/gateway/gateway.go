// Package gateway is the daemon's websocket front door. Agents connect,
// perform the handshake, then stream heartbeats and task traffic. A
// small read-only HTTP surface exposes health and queue state.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/swarmctl/internal/bus"
	"github.com/basket/swarmctl/internal/dispatch"
	"github.com/basket/swarmctl/internal/handshake"
	"github.com/basket/swarmctl/internal/otel"
	"github.com/basket/swarmctl/internal/roster"
	"github.com/basket/swarmctl/internal/swarm"
)

type Config struct {
	Manager *dispatch.Manager
	Roster  *roster.Roster
	Bus     *bus.Bus
	Logger  *slog.Logger
	Metrics *otel.Metrics

	// DaemonID is the identity this gateway answers handshakes as.
	DaemonID string

	// Handshake configures the responder side: what we speak and what
	// connecting agents must advertise.
	Handshake handshake.Options

	// AllowOrigins controls accepted Origin headers for browser WS
	// connections. Empty means same-origin only.
	AllowOrigins []string

	ConfigFingerprint string
}

type Server struct {
	cfg Config

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex

	handshaken bool
	agentID    string
}

func (c *client) write(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, v)
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DaemonID == "" {
		cfg.DaemonID = "swarmd"
	}
	return &Server{
		cfg:     cfg,
		clients: map[*client]struct{}{},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/api/tasks", s.handleAPITasks)
	mux.HandleFunc("/api/tasks/", s.handleAPITaskByID)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	summary := s.cfg.Manager.Summary()
	payload := map[string]any{
		"healthy":            true,
		"agent_count":        s.cfg.Roster.Size(),
		"open_tasks":         summary.Open,
		"terminal_tasks":     summary.Terminal,
		"config_fingerprint": s.cfg.ConfigFingerprint,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	summary := s.cfg.Manager.Summary()
	payload := map[string]any{
		"agent_count": s.cfg.Roster.Size(),
		"by_status":   summary.ByStatus,
		"open_tasks":  summary.Open,
		"approvals":   summary.PendingApprovals,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleAPITasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records := s.cfg.Manager.Snapshot()
	out := make([]swarm.TaskRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tasks": out})
}

func (s *Server) handleAPITaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	taskID := r.URL.Path[len("/api/tasks/"):]
	rec, ok := s.cfg.Manager.Record(taskID)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.cfg.Logger.Info("ws: client connected")
	defer func() {
		s.removeClient(c)
		s.cfg.Logger.Info("ws: client disconnecting", "agent_id", c.agentID)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var raw json.RawMessage
		if err := wsjson.Read(r.Context(), conn, &raw); err != nil {
			return
		}
		reply := s.handleMessage(r.Context(), c, raw)
		if reply == nil {
			continue
		}
		if err := c.write(r.Context(), reply); err != nil {
			s.cfg.Logger.Error("ws: write error", "error", err)
			return
		}
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}
