// Package console is the local JSON API used by operators to inspect the
// running session: status, retained room history, recent logs, config.
// It binds to the loopback health listener only.
package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lancerdesk/chatlink/internal/config"
	"github.com/lancerdesk/chatlink/internal/logring"
	"github.com/lancerdesk/chatlink/internal/security"
	"github.com/lancerdesk/chatlink/internal/session"
	"github.com/lancerdesk/chatlink/internal/store"
)

// Dependencies holds everything the console serves from.
type Dependencies struct {
	Manager   *session.Manager
	RoomStore *store.RoomStore
	Ring      *logring.RingBuffer
	GetConfig func() *config.Config
	// Reconnect tears the session down and brings it back as identity,
	// restoring the store listener and the configured room joins that
	// Disconnect clears. Wired by the daemon, which owns that plumbing.
	Reconnect func(ctx context.Context, identity string) (string, error)
	Version   string
	BuildTime string
	GitCommit string
	StartTime time.Time
}

// Console provides the /api/v1 handlers.
type Console struct {
	deps Dependencies
}

// New creates a Console.
func New(deps Dependencies) *Console {
	return &Console{deps: deps}
}

// Handler returns the routed and (optionally) token-protected handler.
func (c *Console) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", c.handleStatus)
	mux.HandleFunc("GET /api/v1/rooms", c.handleRooms)
	mux.HandleFunc("GET /api/v1/rooms/{id}/messages", c.handleRoomMessages)
	mux.HandleFunc("GET /api/v1/logs", c.handleLogs)
	mux.HandleFunc("GET /api/v1/config", c.handleConfig)
	mux.HandleFunc("POST /api/v1/reconnect", c.handleReconnect)
	return c.requireToken(mux)
}

// requireToken enforces the console auth token when one is configured.
func (c *Console) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := c.deps.GetConfig().Console.AuthToken
		if expected != "" {
			token := security.ExtractBearerToken(r.Header.Get("Authorization"))
			if !security.TokenMatch(token, expected) {
				slog.Warn("console: rejected invalid token", "remote_addr", r.RemoteAddr)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	Uptime        string `json:"uptime"`
	Connected     bool   `json:"connected"`
	Identity      string `json:"identity"`
	ConnectionID  string `json:"connection_id"`
	RoomsRetained int    `json:"rooms_retained"`
	Version       string `json:"version"`
	BuildTime     string `json:"build_time"`
	GitCommit     string `json:"git_commit"`
}

func (c *Console) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := c.deps.Manager.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Uptime:        time.Since(c.deps.StartTime).Round(time.Second).String(),
		Connected:     st.Connected,
		Identity:      st.Identity,
		ConnectionID:  st.ConnectionID,
		RoomsRetained: len(c.deps.RoomStore.Rooms()),
		Version:       c.deps.Version,
		BuildTime:     c.deps.BuildTime,
		GitCommit:     c.deps.GitCommit,
	})
}

type roomEntry struct {
	RoomID    string `json:"room_id"`
	Messages  int    `json:"messages"`
	Listeners int    `json:"listeners"`
}

func (c *Console) handleRooms(w http.ResponseWriter, r *http.Request) {
	reg := c.deps.Manager.Registry()
	rooms := c.deps.RoomStore.Rooms()
	entries := make([]roomEntry, 0, len(rooms))
	for _, id := range rooms {
		entries = append(entries, roomEntry{
			RoomID:    id,
			Messages:  c.deps.RoomStore.Count(id),
			Listeners: reg.RoomListenerCount(id),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (c *Console) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	limit := intQuery(r, "limit", 100)
	msgs := c.deps.RoomStore.History(roomID, limit)
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (c *Console) handleLogs(w http.ResponseWriter, r *http.Request) {
	minLevel := parseLevel(r.URL.Query().Get("level"))
	entries := c.deps.Ring.SnapshotAtLevel(minLevel)
	if limit := intQuery(r, "limit", 0); limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, entries)
}

// configView is the config with credentials redacted.
type configView struct {
	Chat       config.ChatConfig       `json:"chat"`
	Logging    config.LoggingConfig    `json:"logging"`
	Health     config.HealthConfig     `json:"health"`
	Monitoring config.MonitoringConfig `json:"monitoring"`
	Identity   string                  `json:"identity"`
}

func (c *Console) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := c.deps.GetConfig()
	writeJSON(w, http.StatusOK, configView{
		Chat:       cfg.Chat,
		Logging:    cfg.Logging,
		Health:     cfg.Health,
		Monitoring: cfg.Monitoring,
		Identity:   cfg.Auth.Identity,
	})
}

func (c *Console) handleReconnect(w http.ResponseWriter, r *http.Request) {
	st := c.deps.Manager.Status()
	identity := st.Identity
	if identity == "" {
		identity = c.deps.GetConfig().Auth.Identity
	}
	if identity == "" {
		http.Error(w, "no identity to reconnect as", http.StatusConflict)
		return
	}

	connID, err := c.deps.Reconnect(r.Context(), identity)
	if err != nil {
		slog.Error("console: reconnect failed", "error", err)
		http.Error(w, "reconnect failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"connection_id": connID})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("console: response encode failed", "error", err)
	}
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
