// Package testhelpers provides common utilities and helper functions for
// testing the Relay server.
//
// This package contains reusable test utilities that are shared across unit
// and integration tests: starting wired test servers, dialing WebSocket
// connections, exchanging protocol events, and asserting response properties.
package testhelpers

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relay/internal/chat"
	"github.com/relaychat/relay/internal/idgen"
	"github.com/relaychat/relay/internal/server"
)

// StartChatServer starts a fully wired test server: fresh stores, a running
// hub, and an httptest server exposing the real routes. The server URL is
// added to the allowed origins. Everything is torn down via t.Cleanup.
func StartChatServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	registry := chat.NewRegistry()
	directory := chat.NewDirectory(idgen.NewRoomID)
	history := chat.NewHistory(0, idgen.NewMessageID, directory.Exists)
	hub := server.NewHub(registry, directory, history)
	go hub.Run()

	ts := httptest.NewServer(server.SetupRoutes(hub))

	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{ts.URL}, cfg.AllowedOrigins...)
	server.SetConfig(cfg)

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
		server.SetConfig(nil)
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return ts, wsURL
}

// DialWebSocket opens a client connection with the given Origin header.
func DialWebSocket(t *testing.T, wsURL, origin string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one framed client event.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal %s payload: %v", event, err)
	}
	frame, err := json.Marshal(server.Envelope{Event: event, Payload: raw})
	if err != nil {
		t.Fatalf("Failed to marshal %s envelope: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to send %s event: %v", event, err)
	}
}

// WaitForEvent reads frames until one carries the wanted event name and
// decodes its payload into out, skipping unrelated events along the way.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Gave up waiting for %q event: %v", event, err)
		}
		var env server.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("Failed to decode envelope %s: %v", frame, err)
		}
		if env.Event != event {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(env.Payload, out); err != nil {
				t.Fatalf("Failed to decode %q payload: %v", event, err)
			}
		}
		return
	}
}

// ExpectNoEvent asserts that no frame with the given event name arrives
// within the timeout. Unrelated events are ignored.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.Fatalf("Unexpected error while waiting for absence of %q: %v", event, err)
		}
		var env server.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("Failed to decode envelope %s: %v", frame, err)
		}
		if env.Event == event {
			t.Fatalf("Expected no %q event, but received one: %s", event, frame)
		}
	}
}

// CreateTestServer creates a test HTTP server with the given handler.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}
