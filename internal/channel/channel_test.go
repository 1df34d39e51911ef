package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-session/internal/logging"
)

// fakeBroker speaks just enough STOMP for the channel tests.
type fakeBroker struct {
	t         *testing.T
	srv       *httptest.Server
	subscribe chan string
	sends     chan Frame

	mu    sync.Mutex
	conns []*websocket.Conn
	// dropFirst closes the first connection right after it subscribes.
	dropFirst bool
	accepted  int
	// greeting is delivered on every subscription.
	greeting string
}

func newFakeBroker(t *testing.T) *fakeBroker {
	b := &fakeBroker{t: t, subscribe: make(chan string, 16), sends: make(chan Frame, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.accepted++
		n := b.accepted
		b.mu.Unlock()
		b.serve(conn, n)
	}))
	t.Cleanup(b.close)
	return b
}

func (b *fakeBroker) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") }

func (b *fakeBroker) close() {
	b.mu.Lock()
	for _, c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	b.srv.Close()
}

func (b *fakeBroker) serve(conn *websocket.Conn, n int) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := DecodeFrame(data)
		if err != nil || f.IsHeartbeat() {
			continue
		}
		switch f.Command {
		case cmdConnect:
			_ = conn.WriteMessage(websocket.TextMessage, NewFrame(cmdConnected, "version", "1.2").Encode())
		case cmdSubscribe:
			dest := f.Header("destination")
			b.subscribe <- dest
			b.mu.Lock()
			drop := b.dropFirst && n == 1
			greeting := b.greeting
			b.mu.Unlock()
			if drop {
				return
			}
			if greeting != "" {
				msg := NewFrame(cmdMessage, "destination", dest, "subscription", f.Header("id"), "message-id", "m-1")
				msg.Body = []byte(greeting)
				_ = conn.WriteMessage(websocket.TextMessage, msg.Encode())
			}
		case cmdSend:
			b.sends <- f
		case cmdDisconnect:
			return
		}
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting")
	}
	var zero T
	return zero
}

func TestChannelSubscribesAndDelivers(t *testing.T) {
	b := newFakeBroker(t)
	b.greeting = `{"message":"Ride ended"}`

	ch := New(Options{Endpoint: b.url(), DriverID: "42", RetryDelay: 10 * time.Millisecond}, logging.Discard())
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	if got := waitFor(t, b.subscribe); got != "/topic/driver/42" {
		t.Fatalf("subscribed to %q", got)
	}
	msg := waitFor(t, ch.Messages())
	if msg.Destination != "/topic/driver/42" || string(msg.Body) != `{"message":"Ride ended"}` {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestChannelPublish(t *testing.T) {
	b := newFakeBroker(t)
	ch := New(Options{Endpoint: b.url(), DriverID: "7", RetryDelay: 10 * time.Millisecond}, logging.Discard())
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()
	waitFor(t, b.subscribe)

	if err := ch.Publish(DestAccept, map[string]bool{"accepted": true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sent := waitFor(t, b.sends)
	if sent.Header("destination") != DestAccept {
		t.Fatalf("destination = %q", sent.Header("destination"))
	}
	if string(sent.Body) != `{"accepted":true}` {
		t.Fatalf("body = %q", sent.Body)
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	ch := New(Options{Endpoint: "ws://127.0.0.1:1/ws", DriverID: "1"}, logging.Discard())
	if err := ch.Publish(DestEndTrip, struct{}{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	_ = ch.Disconnect()
	if err := ch.Publish(DestEndTrip, struct{}{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if _, ok := <-ch.Messages(); ok {
		t.Fatalf("messages should be closed after disconnect")
	}
}

func TestChannelResubscribesAfterDrop(t *testing.T) {
	b := newFakeBroker(t)
	b.dropFirst = true

	ch := New(Options{Endpoint: b.url(), DriverID: "9", RetryDelay: 10 * time.Millisecond}, logging.Discard())
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	first := waitFor(t, b.subscribe)
	second := waitFor(t, b.subscribe)
	if first != second || second != "/topic/driver/9" {
		t.Fatalf("subscriptions = %q, %q", first, second)
	}
}

func TestConnectTwice(t *testing.T) {
	b := newFakeBroker(t)
	ch := New(Options{Endpoint: b.url(), DriverID: "3"}, logging.Discard())
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()
	if err := ch.Connect(context.Background()); !errors.Is(err, ErrStarted) {
		t.Fatalf("second connect err = %v", err)
	}
}

func TestDisconnectDuringHandshake(t *testing.T) {
	upgraded := make(chan struct{}, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		upgraded <- struct{}{}
		// never answers CONNECT
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := New(Options{Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"), DriverID: "9"}, logging.Discard())
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, upgraded)

	done := make(chan struct{})
	go func() {
		_ = ch.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect blocked on the pending handshake")
	}
}
