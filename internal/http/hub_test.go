package http

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"groovecast/internal/core"
)

func dialHub(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid event JSON %s: %v", data, err)
	}
	return out
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()
	server := httptest.NewServer(setupRoutes(Routes{Hub: hub}, zap.NewNop()))
	defer server.Close()

	all := dialHub(t, server, "")
	onlyB := dialHub(t, server, "?chat=b")
	waitForClients(t, hub, 2)

	track := core.NewTrackDescriptor(core.PlatformYouTube, "x", "Song", "Band", "", 0)
	hub.Publish(core.NowPlaying("a", track))
	hub.Publish(core.TrackFailed("b", track, core.ErrFetchFailed))

	first := readEvent(t, all)
	if first["type"] != "now_playing" || first["chat_id"] != "a" {
		t.Errorf("first event = %v", first)
	}
	second := readEvent(t, all)
	if second["type"] != "track_failed" || second["reason"] != "fetch_failed" {
		t.Errorf("second event = %v", second)
	}

	// The filtered subscriber only sees chat b.
	got := readEvent(t, onlyB)
	if got["chat_id"] != "b" {
		t.Errorf("filtered subscriber got %v", got)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Publishing with nobody listening is harmless.
	hub.Publish(core.QueueEnded("a"))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(zap.NewNop())
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Close()
	if hub.Clients() != 0 {
		t.Errorf("Clients() after Close = %d", hub.Clients())
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}
