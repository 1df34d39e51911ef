package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-session/internal/observability"
)

// Outbound application destinations and the per-driver inbound topic.
// These strings are part of the backend contract.
const (
	DestCreateTrip = "/app/createTripDriver"
	DestAccept     = "/app/driverAccept"
	DestReject     = "/app/driverReject"
	DestEndTrip    = "/app/endTripDriver"
)

func DriverTopic(driverID string) string { return "/topic/driver/" + driverID }

var (
	ErrNotConnected = errors.New("channel not connected")
	ErrClosed       = errors.New("channel closed")
	ErrStarted      = errors.New("channel already connecting")
)

// RawMessage is the untouched body of one inbound MESSAGE frame.
type RawMessage struct {
	Destination string
	Body        []byte
	ReceivedAt  time.Time
}

type Options struct {
	Endpoint   string
	DriverID   string
	Login      string
	Passcode   string
	RetryDelay time.Duration
	Dialer     *websocket.Dialer
	// Buffer is the inbound queue length; delivery blocks when it is full
	// so transport order is kept.
	Buffer       int
	PingInterval time.Duration
}

// Channel owns the pub/sub connection for one driver. It reconnects on a
// fixed delay until Disconnect and re-subscribes every known topic after
// each successful connect.
type Channel struct {
	opts    Options
	logger  *slog.Logger
	inbound chan RawMessage

	mu      sync.Mutex
	conn    *websocket.Conn
	topics  []string
	nextSub int
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(opts Options, logger *slog.Logger) *Channel {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Subprotocols: []string{"v12.stomp"}}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		opts:    opts,
		logger:  logger.With("component", "channel", "driver_id", opts.DriverID),
		inbound: make(chan RawMessage, opts.Buffer),
		topics:  []string{DriverTopic(opts.DriverID)},
		done:    make(chan struct{}),
	}
}

// Messages is closed once the channel has been disconnected.
func (c *Channel) Messages() <-chan RawMessage { return c.inbound }

// Connect starts the connect/reconnect loop and returns immediately.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrStarted
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
	return nil
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe adds a topic to the inbound stream. It is sent right away when
// connected and replayed on every reconnect.
func (c *Channel) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, t := range c.topics {
		if t == topic {
			return nil
		}
	}
	c.topics = append(c.topics, topic)
	if c.conn == nil {
		return nil
	}
	return c.subscribeLocked(c.conn, topic)
}

// Publish is fire-and-forget: nothing waits for a receipt. Not being
// connected is reported as ErrNotConnected for the caller to log.
func (c *Channel) Publish(destination string, payload any) error {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload for %s: %w", destination, err)
		}
		body = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		observability.PublishFailures.WithLabelValues(destination).Inc()
		return ErrClosed
	}
	if c.conn == nil {
		observability.PublishFailures.WithLabelValues(destination).Inc()
		return ErrNotConnected
	}
	f := NewFrame(cmdSend, "destination", destination, "content-type", "application/json")
	f.Body = body
	if err := c.conn.WriteMessage(websocket.TextMessage, f.Encode()); err != nil {
		observability.PublishFailures.WithLabelValues(destination).Inc()
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	return nil
}

// Disconnect stops the reconnect loop, says goodbye to the broker and
// waits for the reader to exit.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.TextMessage, NewFrame(cmdDisconnect, "receipt", "bye").Encode())
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	if started {
		<-c.done
	} else {
		close(c.inbound)
	}
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.inbound)

	attempt := 0
	for {
		attempt++
		if attempt > 1 {
			observability.ChannelReconnects.Inc()
		}
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("channel connect failed", "attempt", attempt, "retry_in", c.opts.RetryDelay.String(), "error", err)
			if !sleepCtx(ctx, c.opts.RetryDelay) {
				return
			}
			continue
		}

		if !c.attach(conn) {
			_ = conn.Close()
			return
		}
		c.logger.Info("channel connected", "endpoint", c.opts.Endpoint, "attempt", attempt)
		observability.ChannelConnected.Set(1)

		pingDone := make(chan struct{})
		go c.keepalive(conn, pingDone)
		err = c.readLoop(ctx, conn)
		close(pingDone)

		c.detach(conn)
		observability.ChannelConnected.Set(0)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("channel lost", "retry_in", c.opts.RetryDelay.String(), "error", err)
		if !sleepCtx(ctx, c.opts.RetryDelay) {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.Endpoint, http.Header{})
	if err != nil {
		return nil, err
	}
	// Closing the conn unblocks the handshake read when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	connect := NewFrame(cmdConnect, "accept-version", "1.2", "host", hostOf(c.opts.Endpoint), "heart-beat", "0,0")
	if c.opts.Login != "" {
		connect.Headers["login"] = c.opts.Login
		connect.Headers["passcode"] = c.opts.Passcode
	}
	if err := conn.WriteMessage(websocket.TextMessage, connect.Encode()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		f, err := DecodeFrame(data)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if f.IsHeartbeat() {
			continue
		}
		switch f.Command {
		case cmdConnected:
			if !stop() {
				return nil, ctx.Err()
			}
			_ = conn.SetReadDeadline(time.Time{})
			return conn, nil
		case cmdError:
			_ = conn.Close()
			return nil, fmt.Errorf("broker refused connect: %s", f.Header("message"))
		default:
			_ = conn.Close()
			return nil, fmt.Errorf("%w: expected CONNECTED, got %s", ErrBadFrame, f.Command)
		}
	}
}

// attach publishes conn for writers and replays subscriptions.
func (c *Channel) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	for _, t := range c.topics {
		if err := c.subscribeLocked(conn, t); err != nil {
			c.logger.Warn("subscribe failed", "topic", t, "error", err)
		}
	}
	return true
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Channel) subscribeLocked(conn *websocket.Conn, topic string) error {
	c.nextSub++
	id := "sub-" + strconv.Itoa(c.nextSub)
	f := NewFrame(cmdSubscribe, "id", id, "destination", topic, "ack", "auto")
	return conn.WriteMessage(websocket.TextMessage, f.Encode())
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "bytes", len(data), "error", err)
			continue
		}
		switch f.Command {
		case "":
		case cmdMessage:
			msg := RawMessage{Destination: f.Header("destination"), Body: f.Body, ReceivedAt: time.Now()}
			select {
			case c.inbound <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case cmdError:
			return fmt.Errorf("broker error: %s", f.Header("message"))
		default:
			c.logger.Debug("ignoring frame", "command", f.Command)
		}
	}
}

func (c *Channel) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "/"
	}
	return u.Hostname()
}
