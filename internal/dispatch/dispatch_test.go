package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-session/internal/logging"
)

type note struct {
	Kind string `json:"kind"`
}

func newHubServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, err := h.Add(conn); err != nil {
			conn.Close()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Len())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub(logging.Discard())
	srv := newHubServer(t, h)
	a, b := dial(t, srv), dial(t, srv)
	waitClients(t, h, 2)

	if sent := h.Broadcast(note{Kind: "eta"}); sent != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sent)
	}
	for _, c := range []*websocket.Conn{a, b} {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got note
		if err := c.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Kind != "eta" {
			t.Fatalf("unexpected payload %+v", got)
		}
	}
}

func TestHubDropsBrokenClients(t *testing.T) {
	h := NewHub(logging.Discard())
	srv := newHubServer(t, h)
	dial(t, srv)
	waitClients(t, h, 1)

	h.mu.RLock()
	for _, c := range h.clients {
		c.conn.Close()
	}
	h.mu.RUnlock()

	if sent := h.Broadcast(note{Kind: "state"}); sent != 0 {
		t.Fatalf("expected no deliveries, got %d", sent)
	}
	if h.Len() != 0 {
		t.Fatalf("broken client not removed")
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub(logging.Discard())
	srv := newHubServer(t, h)
	c := dial(t, srv)
	waitClients(t, h, 1)

	h.Close()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if _, err := h.Add(nil); err != ErrHubClosed {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []note
}

func (r *recordingNotifier) Notify(_ context.Context, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, v.(note))
	return nil
}

func TestForwardNotifiesSelectedUpdates(t *testing.T) {
	h := NewHub(logging.Discard())
	updates := make(chan note, 3)
	updates <- note{Kind: "eta"}
	updates <- note{Kind: "rating_prompt"}
	updates <- note{Kind: "state"}
	close(updates)

	n := &recordingNotifier{}
	Forward(context.Background(), h, updates, Notifier(n), func(u note) bool { return u.Kind == "rating_prompt" })

	if len(n.seen) != 1 || n.seen[0].Kind != "rating_prompt" {
		t.Fatalf("unexpected notifications %+v", n.seen)
	}
}

func TestWebhookNotify(t *testing.T) {
	var (
		gotAuth string
		got     note
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "secret")
	if err := wh.Notify(context.Background(), note{Kind: "payment_error"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotAuth != "Bearer secret" || got.Kind != "payment_error" {
		t.Fatalf("unexpected request auth=%q body=%+v", gotAuth, got)
	}
}

func TestWebhookRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, "").Notify(context.Background(), note{}); err == nil {
		t.Fatalf("expected error on 502")
	}
}
