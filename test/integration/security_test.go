package integration

import (
	"net/http"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relay/internal/server"
	"github.com/relaychat/relay/test/testhelpers"
)

func dialExpectingRejection(t *testing.T, wsURL, origin string) {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("Expected the handshake to be rejected for origin %q", origin)
	}
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected status 403 for origin %q, got %d", origin, resp.StatusCode)
		}
	}
}

// TestDisallowedOriginBlocked verifies that a handshake from an origin not on
// the allowlist is rejected.
func TestDisallowedOriginBlocked(t *testing.T) {
	_, wsURL := testhelpers.StartChatServer(t)

	dialExpectingRejection(t, wsURL, "http://evil.example.com")
}

// TestMissingOriginBlocked verifies that a handshake without an Origin header
// is rejected.
func TestMissingOriginBlocked(t *testing.T) {
	_, wsURL := testhelpers.StartChatServer(t)

	dialExpectingRejection(t, wsURL, "")
}

// TestWildcardOriginAllowsEveryone verifies that the "*" configuration
// disables origin filtering.
func TestWildcardOriginAllowsEveryone(t *testing.T) {
	_, wsURL := testhelpers.StartChatServer(t)

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	server.SetConfig(cfg)
	t.Cleanup(func() { server.SetConfig(nil) })

	conn := testhelpers.DialWebSocket(t, wsURL, "http://anywhere.example.com")
	testhelpers.WaitForEvent(t, conn, server.EventInitialRooms, nil)
}

// TestOriginMatchingIsCaseInsensitiveOnHost verifies origin normalization:
// scheme and host casing do not matter.
func TestOriginMatchingIsCaseInsensitiveOnHost(t *testing.T) {
	ts, wsURL := testhelpers.StartChatServer(t)

	// ts.URL is http://127.0.0.1:port; uppercase the scheme portion.
	upper := "HTTP" + ts.URL[4:]
	conn := testhelpers.DialWebSocket(t, wsURL, upper)
	testhelpers.WaitForEvent(t, conn, server.EventInitialRooms, nil)
}
