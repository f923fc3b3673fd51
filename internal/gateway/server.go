/*
Copyright 2025 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/altairalabs/vaultchat/internal/auth"
	"github.com/altairalabs/vaultchat/internal/chat"
	"github.com/altairalabs/vaultchat/pkg/logctx"
)

// ServerConfig holds the WebSocket transport's tunables.
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  64 * 1024,
	}
}

// Server is the Realtime Session Gateway's WebSocket transport. It
// authenticates the connect handshake via C1, registers the session with
// C2, auto-subscribes it to every room the user participates in, and
// dispatches each inbound event to internal/chat, fanning out the result
// through C6.
type Server struct {
	config   ServerConfig
	upgrader websocket.Upgrader

	verifier   *auth.Verifier
	engine     *chat.Engine
	registry   *Registry
	dispatcher *Dispatcher
	metrics    ServerMetrics
	log        logr.Logger

	mu          sync.RWMutex
	connections map[string]*Connection
	shutdown    bool
}

// NewServer constructs the gateway's WebSocket server. The server builds
// its own Registry and Dispatcher and wires itself as the Dispatcher's
// Transport.
func NewServer(cfg ServerConfig, verifier *auth.Verifier, engine *chat.Engine, log logr.Logger) *Server {
	s := &Server{
		config:      cfg,
		verifier:    verifier,
		engine:      engine,
		registry:    NewRegistry(),
		metrics:     NoOpMetrics{},
		log:         log.WithName("gateway"),
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.dispatcher = NewDispatcher(s.registry, s, log)
	return s
}

// WithMetrics installs a metrics collector.
func (s *Server) WithMetrics(m ServerMetrics) *Server {
	s.metrics = m
	return s
}

// Dispatcher returns the server's Event Dispatcher so callers can install an
// EventRelay for cross-process fan-out.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Shutdown marks the server as draining and closes every live connection
// with a going-away close frame.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Send implements Transport by writing an envelope to one session's
// connection, if still live.
func (s *Server) Send(sessionID string, env *OutboundEnvelope) error {
	s.mu.RLock()
	conn, ok := s.connections[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	err := conn.writeJSON(s.config.WriteTimeout, env)
	if err == nil {
		s.metrics.MessageSent()
	}
	return err
}

// bearerToken extracts the access token from the connect handshake. Per
// spec.md §6 the handshake conveys "{token: Bearer <access-token>}"; the
// WebSocket upgrade request carries it as a query parameter since the
// upgrade has no JSON body.
func bearerToken(r *http.Request) string {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = r.Header.Get("Authorization")
	}
	return strings.TrimPrefix(raw, "Bearer ")
}

// ServeHTTP handles the WebSocket upgrade and the connect handshake.
// Per spec.md §6, an absent or invalid token disconnects immediately with
// no explanatory event — rejected before the upgrade completes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	down := s.shutdown
	s.mu.RUnlock()
	if down {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing access token", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "failed to upgrade connection")
		return
	}

	sessionID := uuid.NewString()
	conn := newConnection(sessionID, wsConn)

	s.mu.Lock()
	s.connections[sessionID] = conn
	s.mu.Unlock()

	s.registry.Attach(sessionID, identity.UserID, identity.Username)
	s.metrics.ConnectionOpened()

	connCtx := logctx.WithSessionID(context.Background(), sessionID)
	connCtx = logctx.WithRequestID(connCtx, uuid.NewString())
	connCtx = logctx.WithUserID(connCtx, identity.UserID)
	log := logctx.LoggerWithContext(s.log, connCtx)
	log.Info("session connected")

	go s.handleConnection(connCtx, conn, sessionID, identity, log)
}

func (s *Server) handleConnection(ctx context.Context, conn *Connection, sessionID string, identity *auth.Verified, log logr.Logger) {
	defer s.cleanupConnection(conn, sessionID, log)

	conn.conn.SetReadLimit(s.config.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout)); err != nil {
		log.Error(err, "failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.runPingLoop(pingCtx, conn)

	s.onConnected(ctx, sessionID, identity, log)
	s.readLoop(ctx, conn, sessionID, log)
}

func (s *Server) cleanupConnection(conn *Connection, sessionID string, log logr.Logger) {
	s.mu.Lock()
	delete(s.connections, sessionID)
	s.mu.Unlock()

	s.registry.Detach(sessionID)
	s.dispatcher.UnsubscribeAll(sessionID)
	conn.markClosed()
	s.metrics.ConnectionClosed()

	if err := conn.conn.Close(); err != nil {
		log.V(1).Info("error closing connection", "err", err.Error())
	}
	log.Info("session disconnected")
}

func (s *Server) runPingLoop(ctx context.Context, conn *Connection) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !conn.writePing(s.config.WriteTimeout) {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *Connection, sessionID string, log logr.Logger) {
	for {
		_, message, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure,
			) {
				log.Error(err, "unexpected close error")
			}
			return
		}

		s.metrics.MessageReceived()
		s.handleInbound(ctx, sessionID, message, log)
	}
}

func (s *Server) handleInbound(ctx context.Context, sessionID string, raw []byte, log logr.Logger) {
	var env InboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.dispatcher.ToSession(sessionID, EventError, ErrorPayload{Message: "invalid message format"})
		return
	}

	userID, ok := s.registry.ResolveUser(sessionID)
	if !ok {
		s.dispatcher.ToSession(sessionID, EventError, ErrorPayload{Message: "not authenticated"})
		return
	}

	start := time.Now()
	err := s.dispatch(ctx, sessionID, userID, &env, log)
	duration := time.Since(start).Seconds()

	status := "ok"
	if err != nil {
		status = "error"
		s.dispatcher.ToSession(sessionID, EventError, ErrorPayload{Message: errMessage(err)})
	}
	s.metrics.EventHandled(env.Event, status, duration)
}

// dispatch routes one inbound event to its handler. Unknown events are a
// local validation failure per spec.md §7. Every event but create_room
// names an existing room, so the handler's log is enriched with that
// room id before the call; create_room has none yet to attach.
func (s *Server) dispatch(ctx context.Context, sessionID string, userID int64, env *InboundEnvelope, log logr.Logger) error {
	if roomID, ok := peekRoomID(env.Data); ok {
		log = logctx.LoggerWithContext(log, logctx.WithRoomID(ctx, roomID))
	}

	switch env.Event {
	case EventCreateRoom:
		return s.handleCreateRoom(ctx, sessionID, userID, env.Data, log)
	case EventInvite:
		return s.handleInvite(ctx, sessionID, userID, env.Data, log)
	case EventLeave:
		return s.handleLeave(ctx, sessionID, userID, env.Data, log)
	case EventRotateKey:
		return s.handleRotateKey(ctx, sessionID, userID, env.Data, log)
	case EventSendMessage:
		return s.handleSendMessage(ctx, sessionID, userID, env.Data, log)
	case EventGetMessages:
		return s.handleGetMessages(ctx, sessionID, userID, env.Data)
	case "rename_room":
		return s.handleRenameRoom(ctx, sessionID, userID, env.Data)
	default:
		return unknownEventError(env.Event)
	}
}
