package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lobbysim/server"
)

func newTestStack(t *testing.T) (*server.Hub, *Handler) {
	t.Helper()

	sessions := NewSessions(server.ProtocolVersion, nil)
	cfg := server.DefaultHubConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "scene.json")
	cfg.Transport = sessions
	hub := server.NewHub(cfg)

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	t.Cleanup(func() {
		close(stop)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Close(ctx)
	})

	return hub, NewHandler(hub, sessions, HandlerConfig{})
}

func dialTest(t *testing.T, handler *Handler, clientID string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL, clientID), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	return frame
}

func websocketURL(t *testing.T, baseURL, clientID string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/"
	if clientID != "" {
		query := parsed.Query()
		query.Set("id", clientID)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

func TestHandleSendsHelloWithChannelContract(t *testing.T) {
	_, handler := newTestStack(t)
	conn := dialTest(t, handler, "client-a")

	frame := readFrame(t, conn)
	if frame["type"] != "hello" {
		t.Fatalf("expected hello frame, got %v", frame["type"])
	}
	if frame["clientId"] != "client-a" {
		t.Fatalf("expected clientId client-a, got %v", frame["clientId"])
	}
	channel, ok := frame["channel"].(map[string]any)
	if !ok {
		t.Fatalf("expected channel object, got %T", frame["channel"])
	}
	if channel["ordering"] != "ordered" || channel["reliability"] != "reliable" || channel["direction"] != "server-to-client" {
		t.Fatalf("unexpected channel contract %v", channel)
	}
}

func TestHandleMintsClientIDWhenAbsent(t *testing.T) {
	_, handler := newTestStack(t)
	conn := dialTest(t, handler, "")

	frame := readFrame(t, conn)
	if frame["type"] != "hello" {
		t.Fatalf("expected hello frame, got %v", frame["type"])
	}
	if id, ok := frame["clientId"].(string); !ok || id == "" {
		t.Fatalf("expected minted client id, got %v", frame["clientId"])
	}
}

func TestSpawnedEntityReplicatesOverSession(t *testing.T) {
	_, handler := newTestStack(t)
	conn := dialTest(t, handler, "client-a")

	if frame := readFrame(t, conn); frame["type"] != "hello" {
		t.Fatalf("expected hello frame, got %v", frame["type"])
	}

	spawn, _ := json.Marshal(clientMessage{Ver: server.ProtocolVersion, Type: "spawn", Payload: 2, Label: "Replicated entity"})
	if err := conn.WriteMessage(websocket.TextMessage, spawn); err != nil {
		t.Fatalf("failed to send spawn: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "replication" {
		t.Fatalf("expected replication frame, got %v", frame["type"])
	}
	directive, ok := frame["directive"].(map[string]any)
	if !ok {
		t.Fatalf("expected directive object, got %T", frame["directive"])
	}
	if directive["kind"] != "start" {
		t.Fatalf("expected start directive, got %v", directive["kind"])
	}
	components, ok := directive["components"].(map[string]any)
	if !ok {
		t.Fatalf("expected full component bundle on start, got %T", directive["components"])
	}
	if _, ok := components["core.payload"]; !ok {
		t.Fatalf("expected payload component in start bundle, got %v", components)
	}
}

func TestHeartbeatEchoesClientTime(t *testing.T) {
	_, handler := newTestStack(t)
	conn := dialTest(t, handler, "client-a")

	if frame := readFrame(t, conn); frame["type"] != "hello" {
		t.Fatalf("expected hello frame, got %v", frame["type"])
	}

	beat, _ := json.Marshal(clientMessage{Ver: server.ProtocolVersion, Type: "heartbeat", SentAt: 123})
	if err := conn.WriteMessage(websocket.TextMessage, beat); err != nil {
		t.Fatalf("failed to send heartbeat: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "heartbeat" {
		t.Fatalf("expected heartbeat ack, got %v", frame["type"])
	}
	if got, ok := frame["clientTime"].(float64); !ok || int64(got) != 123 {
		t.Fatalf("expected clientTime 123, got %v", frame["clientTime"])
	}
}
