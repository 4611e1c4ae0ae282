package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/lancerdesk/chatlink/internal/restapi"
	"github.com/lancerdesk/chatlink/internal/session"
	"github.com/lancerdesk/chatlink/internal/store"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status       string   `json:"status"`
	Uptime       string   `json:"uptime"`
	Connected    bool     `json:"connected"`
	APIReachable bool     `json:"api_reachable"`
	Version      string   `json:"version,omitempty"`
	Timestamp    string   `json:"timestamp"`
	Details      *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	Identity      string  `json:"identity"`
	ConnectionID  string  `json:"connection_id"`
	RoomsRetained int     `json:"rooms_retained"`
	MemoryMB      float64 `json:"memory_mb"`
	Goroutines    int     `json:"goroutines"`
}

// Handler serves the health check endpoint on the local listener.
type Handler struct {
	startTime time.Time
	manager   *session.Manager
	roomStore *store.RoomStore
	api       *restapi.Client
	version   string
	detailed  bool
}

// NewHandler creates a health check handler.
func NewHandler(mgr *session.Manager, rs *store.RoomStore, api *restapi.Client, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		manager:   mgr,
		roomStore: rs,
		api:       api,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests. The session is allowed to be down
// (the admin UI degrades to REST-only behavior), so a disconnected session
// reports "degraded", not a hard failure; only an unreachable REST API does.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiOK := h.checkAPI(r.Context())
	st := h.manager.Status()

	status := "ok"
	httpCode := http.StatusOK
	switch {
	case !apiOK:
		status = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case !st.Connected:
		status = "degraded"
	}

	resp := Response{
		Status:       status,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Connected:    st.Connected,
		APIReachable: apiOK,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			Identity:      st.Identity,
			ConnectionID:  st.ConnectionID,
			RoomsRetained: len(h.roomStore.Rooms()),
			MemoryMB:      float64(memStats.Alloc) / 1024 / 1024,
			Goroutines:    runtime.NumGoroutine(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) checkAPI(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.api.Ping(pingCtx); err != nil {
		slog.Debug("chat API unreachable", "error", err)
		return false
	}
	return true
}
