package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lancerdesk/chatlink/internal/config"
	"github.com/lancerdesk/chatlink/internal/logring"
	"github.com/lancerdesk/chatlink/internal/session"
	"github.com/lancerdesk/chatlink/internal/store"
	"github.com/lancerdesk/chatlink/internal/wire"
)

func newTestConsole(t *testing.T, mutate func(*config.Config)) (*Console, *store.RoomStore, *logring.RingBuffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.Identity = "admin-1"
	if mutate != nil {
		mutate(cfg)
	}

	mgr := session.NewManager(config.ChatConfig{
		ServerURL:        "ws://127.0.0.1:1/socket",
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
		RejoinDelay:      time.Second,
		MaxMessageSize:   1 << 20,
	})
	t.Cleanup(mgr.Close)

	rs := store.NewRoomStore(10)
	ring := logring.NewRingBuffer(100)

	con := New(Dependencies{
		Manager:   mgr,
		RoomStore: rs,
		Ring:      ring,
		GetConfig: func() *config.Config { return cfg },
		Reconnect: daemonReconnect(mgr, rs, func() *config.Config { return cfg }),
		Version:   "1.2.3",
		BuildTime: "now",
		GitCommit: "abc123",
		StartTime: time.Now(),
	})
	return con, rs, ring
}

// daemonReconnect mirrors the wiring the daemon hands the console: tear the
// session down, connect again, rebind the store, rejoin the configured rooms.
func daemonReconnect(mgr *session.Manager, rs *store.RoomStore, getConfig func() *config.Config) func(context.Context, string) (string, error) {
	return func(ctx context.Context, identity string) (string, error) {
		mgr.Disconnect()
		connID, err := mgr.Connect(ctx, identity)
		if err != nil {
			return "", err
		}
		if _, err := rs.Bind(mgr); err != nil {
			return "", err
		}
		for _, roomID := range getConfig().Chat.JoinRooms {
			if err := mgr.JoinRoom(roomID); err != nil {
				return "", err
			}
		}
		return connID, nil
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	con, _, _ := newTestConsole(t, nil)
	rec := get(t, con.Handler(), "/api/v1/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Connected {
		t.Error("connected = true for a fresh manager")
	}
	if resp.Version != "1.2.3" || resp.GitCommit != "abc123" {
		t.Errorf("build info = %+v", resp)
	}
}

func TestRoomsAndMessagesEndpoints(t *testing.T) {
	con, rs, _ := newTestConsole(t, nil)
	rs.Append(store.Message{ID: "m1", RoomID: "room-1", SenderID: "user-9", Body: "hi"})
	rs.Append(store.Message{ID: "m2", RoomID: "room-1", SenderID: "user-9", Body: "again"})

	rec := get(t, con.Handler(), "/api/v1/rooms")
	var rooms []roomEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decoding rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].RoomID != "room-1" || rooms[0].Messages != 2 {
		t.Errorf("rooms = %+v", rooms)
	}

	rec = get(t, con.Handler(), "/api/v1/rooms/room-1/messages?limit=1")
	var msgs []store.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decoding messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Errorf("messages = %+v, want the newest one", msgs)
	}

	// Unknown room returns an empty list, not null or an error.
	rec = get(t, con.Handler(), "/api/v1/rooms/room-none/messages")
	if rec.Code != http.StatusOK || rec.Body.String() == "null\n" {
		t.Errorf("unknown room: code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestLogsEndpoint(t *testing.T) {
	con, _, ring := newTestConsole(t, nil)
	ring.Add(logring.Entry{Level: slog.LevelDebug, Message: "dbg"})
	ring.Add(logring.Entry{Level: slog.LevelInfo, Message: "inf"})
	ring.Add(logring.Entry{Level: slog.LevelError, Message: "err"})

	rec := get(t, con.Handler(), "/api/v1/logs?level=error")
	var entries []logring.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding logs: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "err" {
		t.Errorf("entries = %+v", entries)
	}

	// Default level hides debug records.
	rec = get(t, con.Handler(), "/api/v1/logs")
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding logs: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("default level returned %d entries, want 2", len(entries))
	}
}

func TestConfigEndpointRedactsCredentials(t *testing.T) {
	con, _, _ := newTestConsole(t, func(cfg *config.Config) {
		cfg.Auth.RESTToken = "super-secret"
		cfg.Console.AuthToken = ""
	})

	rec := get(t, con.Handler(), "/api/v1/config")
	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if strings.Contains(body, "super-secret") {
		t.Error("config view must not leak the REST token")
	}
	if !strings.Contains(body, "admin-1") {
		t.Error("config view should include the identity")
	}
}

func TestTokenRequired(t *testing.T) {
	con, _, _ := newTestConsole(t, func(cfg *config.Config) {
		cfg.Console.AuthToken = "console-secret"
	})
	h := con.Handler()

	rec := get(t, h, "/api/v1/status")
	if rec.Code != http.StatusForbidden {
		t.Errorf("without token: code = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("with wrong token: code = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer console-secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with valid token: code = %d, want 200", rec.Code)
	}
}

// fakeChat is a chat endpoint that records client events and lets the test
// push messages down the most recent connection.
type fakeChat struct {
	t      *testing.T
	srv    *httptest.Server
	events chan wire.Envelope

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeChat(t *testing.T) *fakeChat {
	t.Helper()
	fc := &fakeChat{t: t, events: make(chan wire.Envelope, 64)}
	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		fc.mu.Lock()
		fc.conns = append(fc.conns, conn)
		fc.mu.Unlock()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if env, err := wire.Decode(data); err == nil {
				fc.events <- env
			}
		}
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeChat) url() string {
	return "ws" + strings.TrimPrefix(fc.srv.URL, "http")
}

func (fc *fakeChat) push(event string, payload any) {
	fc.t.Helper()
	fc.mu.Lock()
	if len(fc.conns) == 0 {
		fc.mu.Unlock()
		fc.t.Fatal("push: no client connection")
	}
	conn := fc.conns[len(fc.conns)-1]
	fc.mu.Unlock()

	b, err := wire.Encode(event, payload)
	if err != nil {
		fc.t.Fatalf("push: encode: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fc.t.Fatalf("push: write: %v", err)
	}
}

func (fc *fakeChat) expect(event string) {
	fc.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-fc.events:
			if env.Event == event {
				return
			}
		case <-deadline:
			fc.t.Fatalf("timed out waiting for event %q", event)
		}
	}
}

func waitForCount(t *testing.T, rs *store.RoomStore, roomID string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rs.Count(roomID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store count for %s = %d, want %d", roomID, rs.Count(roomID), want)
}

func TestReconnectRestoresStoreMirror(t *testing.T) {
	fc := newFakeChat(t)

	cfg := config.DefaultConfig()
	cfg.Auth.Identity = "admin-1"
	cfg.Chat.JoinRooms = []string{"room-42"}

	mgr := session.NewManager(config.ChatConfig{
		ServerURL:        fc.url(),
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		RejoinDelay:      time.Second,
		MaxMessageSize:   1 << 20,
	})
	t.Cleanup(mgr.Close)

	if _, err := mgr.Connect(context.Background(), "admin-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fc.expect(wire.EventAuthenticate)

	rs := store.NewRoomStore(10)
	if _, err := rs.Bind(mgr); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	getConfig := func() *config.Config { return cfg }
	con := New(Dependencies{
		Manager:   mgr,
		RoomStore: rs,
		Ring:      logring.NewRingBuffer(100),
		GetConfig: getConfig,
		Reconnect: daemonReconnect(mgr, rs, getConfig),
		StartTime: time.Now(),
	})

	fc.push(wire.EventRoomMessage, wire.RoomMessage{ID: "m1", RoomID: "room-42", SenderID: "user-9", Message: "before"})
	waitForCount(t, rs, "room-42", 1)

	rec := httptest.NewRecorder()
	con.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reconnect", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reconnect code = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The new session authenticates and rejoins the configured room.
	fc.expect(wire.EventAuthenticate)
	fc.expect(wire.EventJoinRoom)

	// Messages pushed over the new transport must still reach the store.
	fc.push(wire.EventRoomMessage, wire.RoomMessage{ID: "m2", RoomID: "room-42", SenderID: "user-9", Message: "after"})
	waitForCount(t, rs, "room-42", 2)
}

func TestReconnectWithoutIdentity(t *testing.T) {
	con, _, _ := newTestConsole(t, func(cfg *config.Config) {
		cfg.Auth.Identity = ""
	})

	rec := httptest.NewRecorder()
	con.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reconnect", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("code = %d, want 409 when no identity is known", rec.Code)
	}
}
