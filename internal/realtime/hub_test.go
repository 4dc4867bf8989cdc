package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mindmap/api/internal/observability"
	"mindmap/api/internal/presence"
)

type outbound struct {
	Event   string          `json:"event"`
	MapID   string          `json:"mapId"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T, auth AuthFunc) (*Hub, *presence.Registry, string) {
	t.Helper()
	hub := NewHub(auth, "", nil, observability.NewMetrics())
	registry := presence.NewRegistry(hub, nil, nil)
	hub.Bind(registry)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, registry, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg outbound
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if msg.Event == event {
			return msg
		}
	}
}

func contributorIDs(t *testing.T, msg outbound) []string {
	t.Helper()
	var update presence.ContributorsUpdate
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	ids := []string{}
	for _, c := range update.Contributors {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestJoinBroadcastsToRoom(t *testing.T) {
	_, _, url := startHub(t, nil)
	a := dial(t, url)
	b := dial(t, url)

	send(t, a, map[string]any{"event": "join-map", "mapId": "m1", "user": map[string]string{"id": "u1", "name": "Avery"}})
	if ids := contributorIDs(t, readEvent(t, a, presence.EventContributorsUpdated)); len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("a saw %v", ids)
	}

	send(t, b, map[string]any{"event": "join-map", "mapId": "m1", "user": map[string]string{"id": "u2"}})
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readEvent(t, conn, presence.EventContributorsUpdated)
		if ids := contributorIDs(t, msg); strings.Join(ids, ",") != "u1,u2" {
			t.Fatalf("contributors = %v", ids)
		}
		if msg.MapID != "m1" {
			t.Fatalf("mapId = %q", msg.MapID)
		}
	}

	b.Close()
	if ids := contributorIDs(t, readEvent(t, a, presence.EventContributorsUpdated)); strings.Join(ids, ",") != "u1" {
		t.Fatalf("after disconnect a saw %v", ids)
	}
}

func TestAuthenticatedUserOverridesClaim(t *testing.T) {
	auth := func(r *http.Request) *presence.User {
		if r.URL.Query().Get("token") == "good" {
			return &presence.User{ID: "real", Name: "Verified"}
		}
		return nil
	}
	_, registry, url := startHub(t, auth)
	conn := dial(t, url+"?token=good")

	send(t, conn, map[string]any{"event": "join-map", "mapId": "m1", "user": map[string]string{"id": "spoofed"}})
	if ids := contributorIDs(t, readEvent(t, conn, presence.EventContributorsUpdated)); strings.Join(ids, ",") != "real" {
		t.Fatalf("contributors = %v", ids)
	}
	if got := registry.Contributors("m1"); len(got) != 1 || got[0].Name != "Verified" {
		t.Fatalf("registry = %+v", got)
	}
}

func TestPingAndMalformedFrames(t *testing.T) {
	hub, registry, url := startHub(t, nil)
	conn := dial(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	send(t, conn, map[string]any{"event": "unknown"})
	send(t, conn, map[string]any{"event": "join-map"})
	send(t, conn, map[string]any{"event": "ping"})
	readEvent(t, conn, eventPong)

	if hub.Connections() != 1 {
		t.Fatalf("connections = %d", hub.Connections())
	}
	if len(registry.Members("")) != 0 {
		t.Fatal("join without a map id must be ignored")
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	_, registry, url := startHub(t, nil)
	conn := dial(t, url)
	send(t, conn, map[string]any{"event": "join-map", "mapId": "m1"})
	readEvent(t, conn, presence.EventContributorsUpdated)

	registry.Publish("m1", presence.EventMapUpdated, map[string]string{"id": "m1"})
	msg := readEvent(t, conn, presence.EventMapUpdated)
	if !strings.Contains(string(msg.Payload), `"m1"`) {
		t.Fatalf("payload = %s", msg.Payload)
	}
}

func TestOriginCheck(t *testing.T) {
	hub := NewHub(nil, "https://maps.example.com", nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected foreign origin to be rejected")
	}
	header.Set("Origin", "https://maps.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
