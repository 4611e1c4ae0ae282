// Package session implements the realtime chat session: one authenticated
// WebSocket connection per manager, a room/global listener registry, and a
// synchronous dispatch router for inbound room messages.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lancerdesk/chatlink/internal/config"
	"github.com/lancerdesk/chatlink/internal/metrics"
	"github.com/lancerdesk/chatlink/internal/security"
	"github.com/lancerdesk/chatlink/internal/wire"
)

// ErrNotConnected is returned by operations that need a live session.
var ErrNotConnected = errors.New("session: not connected")

// ErrThrottled is returned when an outbound send exceeds the per-room rate.
var ErrThrottled = errors.New("session: send throttled")

// Status is a read-only snapshot of the session state. Safe to request at any
// time, including before the first connect.
type Status struct {
	Connected    bool   `json:"connected"`
	Identity     string `json:"identity"`
	ConnectionID string `json:"connection_id"`
}

// Manager owns the single live transport handle for one admin session.
// Construct one instance per process (or per test) with NewManager; there is
// deliberately no package-level instance.
type Manager struct {
	cfg        config.ChatConfig
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *metrics.Metrics       // optional, nil if metrics disabled
	throttle   *security.KeyedLimiter // optional, nil if unthrottled

	mu          sync.Mutex
	conn        *websocket.Conn
	connID      string
	identity    string
	connected   bool
	readCancel  context.CancelFunc
	rejoinTimer *time.Timer
}

// NewManager creates a disconnected session manager.
func NewManager(cfg config.ChatConfig) *Manager {
	reg := NewRegistry()
	m := &Manager{
		cfg:      cfg,
		registry: reg,
	}
	m.dispatcher = NewDispatcher(reg, nil)
	if cfg.MessagesPerSecond > 0 {
		m.throttle = security.NewKeyedLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessagesPerSecond)
	}
	return m
}

// SetMetrics attaches optional Prometheus metrics. Must be called before
// Connect; the read loop reads the pointer without holding the lock.
func (m *Manager) SetMetrics(mx *metrics.Metrics) {
	m.mu.Lock()
	m.metrics = mx
	m.dispatcher.metrics = mx
	m.mu.Unlock()
}

// Registry exposes the listener registry for consumers that bind listeners
// directly (the store, tests).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect opens the transport and sends the authenticate request. It is
// idempotent while connected: the existing connection id is returned and no
// second transport handle is created. The authenticate request is
// fire-and-forget; acceptance or rejection arrives later as an
// auth_success/auth_error event. The dial itself is bounded by the configured
// handshake timeout and its error is returned; there is no automatic retry.
func (m *Manager) Connect(ctx context.Context, identity string) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("session: identity is required")
	}

	m.mu.Lock()
	if m.connected && m.conn != nil {
		id := m.connID
		m.mu.Unlock()
		slog.Debug("connect: already connected", "connection_id", id)
		return id, nil
	}
	m.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, m.cfg.ServerURL, nil)
	if err != nil {
		if m.metrics != nil {
			m.metrics.ErrorsTotal.WithLabelValues("dial_failure").Inc()
		}
		return "", fmt.Errorf("dialing chat server: %w", err)
	}
	conn.SetReadLimit(m.cfg.MaxMessageSize)

	connID := uuid.NewString()
	readCtx, readCancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.connected && m.conn != nil {
		// Lost a connect race; keep the established handle.
		id := m.connID
		m.mu.Unlock()
		readCancel()
		conn.Close(websocket.StatusNormalClosure, "duplicate connect")
		return id, nil
	}
	m.conn = conn
	m.connID = connID
	m.identity = identity
	m.connected = true
	m.readCancel = readCancel
	m.mu.Unlock()

	go m.readLoop(readCtx, conn, connID)
	if m.cfg.PingInterval > 0 {
		go m.keepAlive(readCtx, conn)
	}

	if m.metrics != nil {
		m.metrics.ConnectsTotal.Inc()
		m.metrics.Connected.Set(1)
	}
	slog.Info("session connected", "connection_id", connID, "identity", identity, "server", m.cfg.ServerURL)

	if err := m.emit(wire.EventAuthenticate, wire.AuthPayload{UserID: identity}); err != nil {
		// Asynchronous by contract: the caller of Connect is not told.
		slog.Warn("authenticate send failed", "error", err)
	}
	return connID, nil
}

// Disconnect tears the session down: transport closed, pending rejoin timer
// cancelled, every room and global listener released, identity cleared.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	cancel := m.readCancel
	timer := m.rejoinTimer
	m.conn = nil
	m.readCancel = nil
	m.rejoinTimer = nil
	m.connected = false
	m.identity = ""
	m.connID = ""
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	m.registry.Clear()

	if m.metrics != nil {
		m.metrics.Connected.Set(0)
	}
	slog.Info("session disconnected")
}

// Status returns a snapshot of the session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connected:    m.connected,
		Identity:     m.identity,
		ConnectionID: m.connID,
	}
}

// OnRoomMessage registers a listener for one room and returns its disposer.
func (m *Manager) OnRoomMessage(roomID string, fn Listener) (func(), error) {
	if roomID == "" {
		return nil, fmt.Errorf("session: roomID is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("session: listener is required")
	}
	return m.registry.OnRoomMessage(roomID, fn), nil
}

// OnAnyMessage registers a listener for every inbound message.
func (m *Manager) OnAnyMessage(fn Listener) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("session: listener is required")
	}
	return m.registry.OnAnyMessage(fn), nil
}

// RemoveRoomListeners clears all listeners for a room (room-leave, teardown).
func (m *Manager) RemoveRoomListeners(roomID string) {
	m.registry.RemoveRoomListeners(roomID)
}

// JoinRoom emits a join_room control event. Server-side membership is advisory
// and independent of local listener registration. If the session is
// disconnected, one reconnect is attempted immediately and the join is retried
// once after the configured delay; the retry no-ops if the session is still
// down and is cancelled entirely by Disconnect. Best effort, not guaranteed
// delivery.
func (m *Manager) JoinRoom(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("session: roomID is required")
	}

	m.mu.Lock()
	connected := m.connected
	identity := m.identity
	m.mu.Unlock()

	if connected {
		return m.emit(wire.EventJoinRoom, wire.RoomPayload{RoomID: roomID, UserID: identity})
	}

	if identity == "" {
		// Never connected; there is no identity to reconnect as.
		return ErrNotConnected
	}

	slog.Info("join requested while disconnected, reconnecting", "room_id", roomID)
	if m.metrics != nil {
		m.metrics.RejoinRetriesTotal.Inc()
	}
	if _, err := m.Connect(context.Background(), identity); err != nil {
		slog.Warn("reconnect for join failed", "room_id", roomID, "error", err)
	}

	m.mu.Lock()
	if m.rejoinTimer != nil {
		m.rejoinTimer.Stop()
	}
	m.rejoinTimer = time.AfterFunc(m.cfg.RejoinDelay, func() {
		m.retryJoin(roomID)
	})
	m.mu.Unlock()
	return nil
}

// retryJoin is the one-shot delayed join attempt scheduled by JoinRoom.
func (m *Manager) retryJoin(roomID string) {
	m.mu.Lock()
	connected := m.connected
	identity := m.identity
	m.rejoinTimer = nil
	m.mu.Unlock()

	if !connected {
		slog.Debug("join retry skipped: still disconnected", "room_id", roomID)
		return
	}
	if err := m.emit(wire.EventJoinRoom, wire.RoomPayload{RoomID: roomID, UserID: identity}); err != nil {
		slog.Warn("join retry failed", "room_id", roomID, "error", err)
	}
}

// LeaveRoom emits a leave_room control event. Local listeners are untouched;
// callers pair this with RemoveRoomListeners when closing a room.
func (m *Manager) LeaveRoom(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("session: roomID is required")
	}
	m.mu.Lock()
	connected := m.connected
	identity := m.identity
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return m.emit(wire.EventLeaveRoom, wire.RoomPayload{RoomID: roomID, UserID: identity})
}

// SendRoomMessage emits a live broadcast of a message composed locally.
// The durable send goes through the REST API; this only feeds other parties'
// open sessions. Sends are throttled per room when configured.
func (m *Manager) SendRoomMessage(roomID, message string) error {
	if roomID == "" {
		return fmt.Errorf("session: roomID is required")
	}
	if message == "" {
		return fmt.Errorf("session: message is required")
	}

	m.mu.Lock()
	connected := m.connected
	identity := m.identity
	throttle := m.throttle
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	if throttle != nil && !throttle.Allow(roomID) {
		if m.metrics != nil {
			m.metrics.SendsThrottledTotal.Inc()
		}
		return ErrThrottled
	}
	return m.emit(wire.EventSendRoomMessage, wire.SendPayload{RoomID: roomID, Message: message, UserID: identity})
}

// SetSendRate adjusts the per-room outbound throttle. perSecond <= 0 disables
// throttling. Used by config hot-reload.
func (m *Manager) SetSendRate(perSecond int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if perSecond <= 0 {
		if m.throttle != nil {
			m.throttle.Stop()
			m.throttle = nil
		}
		return
	}
	if m.throttle == nil {
		m.throttle = security.NewKeyedLimiter(rate.Limit(perSecond), perSecond)
		return
	}
	m.throttle.UpdateRate(rate.Limit(perSecond), perSecond)
}

// Close releases background resources (throttle eviction goroutine) in
// addition to Disconnect's teardown.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	throttle := m.throttle
	m.throttle = nil
	m.mu.Unlock()
	if throttle != nil {
		throttle.Stop()
	}
}

// emit encodes and writes one outbound event with the configured write timeout.
func (m *Manager) emit(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	b, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, b); err != nil {
		if m.metrics != nil {
			m.metrics.ErrorsTotal.WithLabelValues("write_failure").Inc()
		}
		return fmt.Errorf("emitting %s: %w", event, err)
	}
	return nil
}

// readLoop consumes inbound events until the transport closes or the context
// is cancelled. Delivery order matches transport arrival order; there is no
// reordering or batching.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, connID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("read loop stopped", "connection_id", connID, "reason", err)
			m.markDisconnected(connID)
			return
		}

		env, err := wire.Decode(data)
		if err != nil {
			if m.metrics != nil {
				m.metrics.ErrorsTotal.WithLabelValues("decode_failure").Inc()
			}
			slog.Warn("dropping undecodable event", "error", err)
			continue
		}
		m.handleEvent(env)
	}
}

// handleEvent routes one decoded inbound event.
func (m *Manager) handleEvent(env wire.Envelope) {
	if m.metrics != nil {
		m.metrics.EventsTotal.WithLabelValues(env.Event).Inc()
	}

	switch env.Event {
	case wire.EventRoomMessage:
		var msg wire.RoomMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			slog.Warn("dropping malformed room message", "error", err)
			return
		}
		m.dispatcher.Dispatch(msg)

	case wire.EventAuthSuccess:
		slog.Info("session authenticated")

	case wire.EventAuthError:
		// Connection stays open but unauthenticated; later joins will be
		// rejected server-side and surface as join_room_error.
		slog.Warn("authentication rejected", "reason", errorReason(env.Data))

	case wire.EventJoinRoomSuccess:
		slog.Debug("room joined", "room_id", roomID(env.Data))

	case wire.EventJoinRoomError:
		slog.Warn("room join rejected", "room_id", roomID(env.Data), "reason", errorReason(env.Data))

	case wire.EventLeaveRoomSuccess:
		slog.Debug("room left", "room_id", roomID(env.Data))

	case wire.EventLeaveRoomError:
		slog.Warn("room leave rejected", "room_id", roomID(env.Data), "reason", errorReason(env.Data))

	case wire.EventMessageError:
		slog.Warn("message delivery failed", "room_id", roomID(env.Data), "reason", errorReason(env.Data))

	default:
		slog.Debug("unhandled event", "event", env.Event)
	}
}

// markDisconnected flips the session to disconnected if connID is still the
// live connection. Listeners survive a transport loss; only Disconnect clears
// them.
func (m *Manager) markDisconnected(connID string) {
	m.mu.Lock()
	if m.connID != connID {
		m.mu.Unlock()
		return
	}
	cancel := m.readCancel
	m.conn = nil
	m.readCancel = nil
	m.connected = false
	m.connID = ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if m.metrics != nil {
		m.metrics.Connected.Set(0)
	}
	slog.Info("transport closed")
}

// keepAlive sends periodic pings to detect dead transports. On failure the
// connection is closed, which makes the read loop return and mark the session
// disconnected.
func (m *Manager) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PongTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing transport", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				return
			}
		}
	}
}

func roomID(data json.RawMessage) string {
	var p wire.RoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.RoomID
}

func errorReason(data json.RawMessage) string {
	var p wire.ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.Reason
}
