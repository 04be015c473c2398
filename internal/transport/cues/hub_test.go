package cues

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mapkit/internal/protocol"
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/host"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn, v any) protocol.BaseMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v != nil {
		if err := json.Unmarshal(b, v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	}
	return base
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers=%d want %d", h.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubStreamsFilteredCuesAndEvents(t *testing.T) {
	h := NewHub(nil)
	h.Tick = func() uint64 { return 77 }
	h.Welcome = func(w *protocol.WelcomeMsg) { w.TickRateHz = 20 }
	srv := httptest.NewServer(h.WSHandler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Actor: "p1", Events: true}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if base := readMsg(t, conn, &welcome); base.Type != protocol.TypeWelcome {
		t.Fatalf("first message %q", base.Type)
	}
	if welcome.Tick != 77 || welcome.TickRateHz != 20 || welcome.SessionID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}
	waitSubscribers(t, h, 1)

	h.Cue(host.Cue{Kind: host.CueSound, Actor: "p2", Name: "other"})
	h.Cue(host.Cue{Kind: host.CueSound, Actor: "p1", Name: "teleport_block"})
	var cue protocol.CueMsg
	if base := readMsg(t, conn, &cue); base.Type != protocol.TypeCue {
		t.Fatalf("got %q", base.Type)
	}
	if cue.Cue.Name != "teleport_block" || cue.Tick != 77 {
		t.Fatalf("cue=%+v", cue)
	}

	if err := h.WriteEvent(engine.Event{Tick: 9, Kind: engine.EventTeleported, Actor: "p1"}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	var ev protocol.EventMsg
	if base := readMsg(t, conn, &ev); base.Type != protocol.TypeEvent || ev.Event.Kind != engine.EventTeleported {
		t.Fatalf("event=%+v", ev)
	}

	conn.Close()
	waitSubscribers(t, h, 0)
}

func TestHubRejectsBadHandshake(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h.WSHandler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("rejected client registered")
	}
}

func TestHubForbidsRemote(t *testing.T) {
	h := NewHub(nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/cues", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rw := httptest.NewRecorder()
	h.WSHandler()(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("code=%d", rw.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:9000":   true,
		"::1":          true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	}
	for addr, want := range cases {
		if got := IsLoopbackRemote(addr); got != want {
			t.Fatalf("IsLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
