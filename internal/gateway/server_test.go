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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/altairalabs/vaultchat/internal/auth"
	"github.com/altairalabs/vaultchat/internal/chat"
	"github.com/altairalabs/vaultchat/internal/store"
)

type gatewayUserLookup struct {
	s *fakeGatewayStore
}

func (l gatewayUserLookup) GetUserByID(ctx context.Context, id int64) (*auth.Identity, error) {
	u, err := l.s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &auth.Identity{ID: u.ID, Username: u.Username, Active: u.Active}, nil
}

func wsURL(httpURL string) string {
	return strings.Replace(httpURL, "http://", "ws://", 1)
}

type testHarness struct {
	t      *testing.T
	store  *fakeGatewayStore
	codec  auth.TokenCodec
	server *Server
	ts     *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	s := newFakeGatewayStore()
	codec := auth.NewJWTCodec([]byte("test-secret"))
	verifier := auth.NewVerifier(codec, gatewayUserLookup{s: s})
	engine := chat.NewEngine(s)

	cfg := DefaultServerConfig()
	cfg.PingInterval = 100 * time.Millisecond
	cfg.PongTimeout = 500 * time.Millisecond

	server := NewServer(cfg, verifier, engine, logr.Discard())
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return &testHarness{t: t, store: s, codec: codec, server: server, ts: ts}
}

func (h *testHarness) addUser(id int64, username string) {
	h.store.addUser(&store.User{ID: id, Username: username, Active: true})
}

func (h *testHarness) accessToken(userID int64, username string) string {
	h.t.Helper()
	token, _, err := h.codec.Mint(userID, username, auth.TokenKindAccess, time.Hour)
	if err != nil {
		h.t.Fatalf("Mint() error = %v", err)
	}
	return token
}

func (h *testHarness) dial(token string) *websocket.Conn {
	h.t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(h.ts.URL)+"?token="+token, nil)
	if err != nil {
		h.t.Fatalf("Dial() error = %v", err)
	}
	h.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) OutboundEnvelope {
	t.Helper()
	var env OutboundEnvelope
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return env
}

func TestServer_RejectsMissingToken(t *testing.T) {
	h := newTestHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(h.ts.URL), nil)
	if err == nil {
		t.Fatal("Dial() without a token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestServer_RejectsInvalidToken(t *testing.T) {
	h := newTestHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(h.ts.URL)+"?token=garbage", nil)
	if err == nil {
		t.Fatal("Dial() with an invalid token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestServer_ConnectSendsConnectedEvent(t *testing.T) {
	h := newTestHarness(t)
	h.addUser(1, "alice")

	ws := h.dial(h.accessToken(1, "alice"))
	env := readEvent(t, ws)
	if env.Event != EventConnected {
		t.Fatalf("first event = %q, want %q", env.Event, EventConnected)
	}
}

// TestServer_TwoPartyBootstrap exercises spec.md §8's two-party bootstrap:
// alice creates a room naming bob, bob (already connected) receives the
// room_created fan-out.
func TestServer_TwoPartyBootstrap(t *testing.T) {
	h := newTestHarness(t)
	h.addUser(1, "alice")
	h.addUser(2, "bob")

	bobWS := h.dial(h.accessToken(2, "bob"))
	readEvent(t, bobWS) // connected

	aliceWS := h.dial(h.accessToken(1, "alice"))
	readEvent(t, aliceWS) // connected

	req := map[string]any{
		"event": EventCreateRoom,
		"data": CreateRoomRequest{
			Name:           "dm",
			Group:          false,
			ParticipantIDs: []int64{2},
			EncryptedKeys: []WrapEntry{
				{UserID: 1, Wrapped: "w1"},
				{UserID: 2, Wrapped: "w2"},
			},
		},
	}
	if err := aliceWS.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	aliceEvent := readEvent(t, aliceWS)
	if aliceEvent.Event != EventRoomCreated {
		t.Fatalf("alice's event = %q, want %q", aliceEvent.Event, EventRoomCreated)
	}

	bobEvent := readEvent(t, bobWS)
	if bobEvent.Event != EventRoomCreated {
		t.Fatalf("bob's event = %q, want %q", bobEvent.Event, EventRoomCreated)
	}
}

func TestServer_SendMessageFansOutToAllParticipants(t *testing.T) {
	h := newTestHarness(t)
	h.addUser(1, "alice")
	h.addUser(2, "bob")

	aliceWS := h.dial(h.accessToken(1, "alice"))
	readEvent(t, aliceWS)
	bobWS := h.dial(h.accessToken(2, "bob"))
	readEvent(t, bobWS)

	createReq := map[string]any{
		"event": EventCreateRoom,
		"data": CreateRoomRequest{
			Name:           "dm",
			ParticipantIDs: []int64{2},
			EncryptedKeys: []WrapEntry{
				{UserID: 1, Wrapped: "w1"},
				{UserID: 2, Wrapped: "w2"},
			},
		},
	}
	if err := aliceWS.WriteJSON(createReq); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	readEvent(t, aliceWS) // room_created
	readEvent(t, bobWS)   // room_created

	sendReq := map[string]any{
		"event": EventSendMessage,
		"data": SendMessageRequest{
			Room:       1,
			Ciphertext: "hello",
			IV:         "iv",
			KeyVersion: 1,
		},
	}
	if err := aliceWS.WriteJSON(sendReq); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	aliceEvent := readEvent(t, aliceWS)
	if aliceEvent.Event != EventNewMessage {
		t.Fatalf("alice's event = %q, want %q", aliceEvent.Event, EventNewMessage)
	}

	bobEvent := readEvent(t, bobWS)
	if bobEvent.Event != EventNewMessage {
		t.Fatalf("bob's event = %q, want %q", bobEvent.Event, EventNewMessage)
	}
}

func TestServer_UnknownEventReturnsError(t *testing.T) {
	h := newTestHarness(t)
	h.addUser(1, "alice")

	ws := h.dial(h.accessToken(1, "alice"))
	readEvent(t, ws)

	if err := ws.WriteJSON(map[string]any{"event": "not_a_real_event", "data": map[string]any{}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	env := readEvent(t, ws)
	if env.Event != EventError {
		t.Fatalf("event = %q, want %q", env.Event, EventError)
	}
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	h := newTestHarness(t)
	h.addUser(1, "alice")

	ws := h.dial(h.accessToken(1, "alice"))
	readEvent(t, ws)

	if got := h.server.ConnectionCount(); got != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1", got)
	}

	if err := h.server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("ReadMessage() after Shutdown() should fail once the server closes the connection")
	}
}
