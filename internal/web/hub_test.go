package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hpungsan/eidon/internal/scheduler"
)

type chanSource struct {
	ch chan scheduler.Status
}

func (s *chanSource) Subscribe() (<-chan scheduler.Status, func()) {
	return s.ch, func() {}
}

func dialHub(t *testing.T, hub *Hub, initial *scheduler.Status) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, initial)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) statusMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg statusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func TestHub_SendsInitialThenUpdates(t *testing.T) {
	hub := NewHub(nil)
	src := &chanSource{ch: make(chan scheduler.Status)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, src)

	conn := dialHub(t, hub, &scheduler.Status{State: scheduler.StatePaused})

	msg := readStatus(t, conn)
	if msg.Type != "status" || msg.Status.State != scheduler.StatePaused {
		t.Fatalf("initial = %+v, want paused status", msg)
	}
	if n := hub.Count(); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}

	src.ch <- scheduler.Status{State: scheduler.StateActive, CaptureCount: 3}
	msg = readStatus(t, conn)
	if msg.Status.State != scheduler.StateActive || msg.Status.CaptureCount != 3 {
		t.Errorf("update = %+v, want active with 3 captures", msg.Status)
	}
}

func TestHub_ClosesClientsOnCancel(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, nil)
		close(done)
	}()

	conn := dialHub(t, hub, &scheduler.Status{State: scheduler.StateIdle})
	readStatus(t, conn)

	cancel()
	<-done

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close after cancel")
	}
	if n := hub.Count(); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestHub_RejectsPlainHTTP(t *testing.T) {
	hub := NewHub(nil)
	rec := httptest.NewRecorder()
	hub.Serve(rec, httptest.NewRequest("GET", "/ws/status", nil), nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if hub.Count() != 0 {
		t.Error("plain request must not register a client")
	}
}
