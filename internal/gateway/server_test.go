package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestServer(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return m
}

func TestHandshake_RejectsInvalidToken(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("handshake should fail with an invalid token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}
	if s.reg.Len() != 0 {
		t.Error("rejected connection must not appear in the registry")
	}
}

func TestHandshake_RejectsMissingToken(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("handshake should fail without a token")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}
}

func TestSocketLifecycle(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s)
	defer ts.Close()

	token1, err := s.verifier.Mint("u1", "t1", "authenticated", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	token2, err := s.verifier.Mint("u2", "t1", "authenticated", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	c1 := dialTestServer(t, ts, token1)
	c2 := dialTestServer(t, ts, token2)

	hello1 := readFrame(t, c1)
	if hello1["type"] != "connected" || hello1["connectionId"] == nil {
		t.Fatalf("unexpected hello frame: %v", hello1)
	}
	readFrame(t, c2)

	// subscribe / ack
	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","channel":"room1"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readFrame(t, c1); ack["event"] != "subscribed" || ack["channel"] != "room1" {
		t.Fatalf("unexpected ack: %v", ack)
	}

	// ping / pong
	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if pong := readFrame(t, c1); pong["type"] != "pong" {
		t.Fatalf("unexpected pong: %v", pong)
	}

	// broadcast from c2 reaches c1 but not c2
	if err := c2.WriteMessage(websocket.TextMessage, []byte(`{"type":"broadcast","payload":{"event":"hello","data":{"n":1}}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readFrame(t, c2); ack["event"] != "broadcast_sent" {
		t.Fatalf("unexpected broadcast ack: %v", ack)
	}
	if bcast := readFrame(t, c1); bcast["type"] != "broadcast" || bcast["from"] != "u2" {
		t.Fatalf("unexpected broadcast: %v", bcast)
	}

	// disconnect triggers synchronous cleanup
	c2.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.reg.Len() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if s.reg.Len() != 1 {
		t.Errorf("registry len = %d after disconnect, want 1", s.reg.Len())
	}
}
