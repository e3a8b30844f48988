package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	protocolVersion        = 7
	defaultActivityTimeout = 120 * time.Second
	writeTimeout           = 10 * time.Second
)

var ErrClosed = errors.New("push connection closed")

type Config struct {
	Key              string
	Host             string
	Port             int
	TLS              bool
	AuthEndpoint     string // used for private- channels
	Token            string // bearer token sent to AuthEndpoint
	HandshakeTimeout time.Duration
}

// URL is the websocket endpoint of a Pusher-protocol server.
func (c Config) URL() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("protocol", strconv.Itoa(protocolVersion))
	q.Set("client", "go")
	q.Set("version", "1.0")
	q.Set("flash", "false")
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/app/" + c.Key,
		RawQuery: q.Encode(),
	}
	return u.String()
}

type message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client is one connection to the push server. It is owned by whoever
// dialed it and must be closed by them.
type Client struct {
	cfg             Config
	conn            *websocket.Conn
	http            *http.Client
	logger          *slog.Logger
	socketID        string
	activityTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]*Channel
	pending  map[string]chan error

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects and waits for the server to assign a socket id.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment}
	conn, _, err := dialer.DialContext(ctx, cfg.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial push server: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.HandshakeTimeout))
	var m message
	if err := conn.ReadJSON(&m); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read connection handshake: %w", err)
	}
	if m.Event != "pusher:connection_established" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected handshake event %q: %s", m.Event, unwrapData(m.Data))
	}
	var est struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	if err := json.Unmarshal(unwrapData(m.Data), &est); err != nil || est.SocketID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("bad connection_established payload: %s", unwrapData(m.Data))
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		cfg:             cfg,
		conn:            conn,
		http:            &http.Client{Timeout: cfg.HandshakeTimeout},
		logger:          logger,
		socketID:        est.SocketID,
		activityTimeout: defaultActivityTimeout,
		channels:        make(map[string]*Channel),
		pending:         make(map[string]chan error),
		done:            make(chan struct{}),
	}
	if est.ActivityTimeout > 0 {
		c.activityTimeout = time.Duration(est.ActivityTimeout) * time.Second
	}
	logger.Info("push connected", "socket_id", c.socketID, "activity_timeout", c.activityTimeout.String())

	go c.readLoop()
	go c.keepalive()
	return c, nil
}

func (c *Client) SocketID() string { return c.socketID }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, nil while it is alive or after Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Subscribe joins channel, authorising it first when it is private.
func (c *Client) Subscribe(ctx context.Context, name string) (*Channel, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}
	c.mu.Lock()
	if ch, ok := c.channels[name]; ok {
		c.mu.Unlock()
		return ch, nil
	}
	ch := newChannel(name)
	ack := make(chan error, 1)
	c.channels[name] = ch
	c.pending[name] = ack
	c.mu.Unlock()

	fail := func(err error) (*Channel, error) {
		c.mu.Lock()
		delete(c.channels, name)
		delete(c.pending, name)
		c.mu.Unlock()
		return nil, err
	}

	payload := map[string]string{"channel": name}
	if strings.HasPrefix(name, "private-") || strings.HasPrefix(name, "presence-") {
		auth, err := c.authorize(ctx, name)
		if err != nil {
			return fail(err)
		}
		payload["auth"] = auth
	}
	data, _ := json.Marshal(payload)
	if err := c.send(message{Event: "pusher:subscribe", Data: data}); err != nil {
		select {
		case <-c.done:
			return fail(ErrClosed)
		default:
		}
		return fail(err)
	}

	select {
	case err := <-ack:
		if err != nil {
			return fail(err)
		}
		c.logger.Info("push subscribed", "channel", name)
		return ch, nil
	case <-ctx.Done():
		return fail(ctx.Err())
	case <-c.done:
		return fail(ErrClosed)
	}
}

// Unsubscribe unbinds every handler of channel and leaves it.
func (c *Client) Unsubscribe(name string) error {
	c.mu.Lock()
	ch, ok := c.channels[name]
	delete(c.channels, name)
	delete(c.pending, name)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	ch.UnbindAll()

	select {
	case <-c.done:
		return nil
	default:
	}
	data, _ := json.Marshal(map[string]string{"channel": name})
	return c.send(message{Event: "pusher:unsubscribe", Data: data})
}

// Listen subscribes to channel and routes every event on it to handler.
// stop unbinds the handler and leaves the channel.
func (c *Client) Listen(ctx context.Context, channel string, handler func(event string, data []byte)) (func() error, error) {
	ch, err := c.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	ch.BindGlobal(handler)
	c.logger.Debug("push handler bound", "channel", ch.Name())
	return func() error { return c.Unsubscribe(ch.Name()) }, nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		_ = c.conn.Close()
		c.logger.Error("push connection lost", "error", err)
	})
}

func (c *Client) authorize(ctx context.Context, channel string) (string, error) {
	if c.cfg.AuthEndpoint == "" {
		return "", fmt.Errorf("channel %s needs an auth endpoint", channel)
	}
	form := url.Values{}
	form.Set("socket_id", c.socketID)
	form.Set("channel_name", channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize %s: %w", channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authorize %s: status %d", channel, resp.StatusCode)
	}
	var out struct {
		Auth string `json:"auth"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if out.Auth == "" {
		return "", fmt.Errorf("authorize %s: empty signature", channel)
	}
	return out.Auth, nil
}

func (c *Client) send(m message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		// the server answers our pings, so silence past two periods means a dead link
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.activityTimeout))
		var m message
		if err := c.conn.ReadJSON(&m); err != nil {
			select {
			case <-c.done:
			default:
				c.fail(err)
			}
			return
		}
		c.handle(m)
	}
}

func (c *Client) handle(m message) {
	switch m.Event {
	case "pusher:ping":
		if err := c.send(message{Event: "pusher:pong", Data: json.RawMessage(`{}`)}); err != nil {
			c.logger.Warn("push pong failed", "error", err)
		}
	case "pusher:pong":
	case "pusher_internal:subscription_succeeded":
		c.resolve(m.Channel, nil)
	case "pusher:subscription_error":
		c.resolve(m.Channel, fmt.Errorf("subscribe %s: %s", m.Channel, unwrapData(m.Data)))
	case "pusher:error":
		c.logger.Warn("push server error", "data", string(unwrapData(m.Data)))
	default:
		if strings.HasPrefix(m.Event, "pusher:") || strings.HasPrefix(m.Event, "pusher_internal:") {
			return
		}
		c.mu.Lock()
		ch := c.channels[m.Channel]
		c.mu.Unlock()
		if ch != nil {
			ch.dispatch(m.Event, unwrapData(m.Data))
		}
	}
}

func (c *Client) resolve(channel string, err error) {
	c.mu.Lock()
	ack, ok := c.pending[channel]
	delete(c.pending, channel)
	c.mu.Unlock()
	if ok {
		ack <- err
	}
}

func (c *Client) keepalive() {
	t := time.NewTicker(c.activityTimeout)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.send(message{Event: "pusher:ping", Data: json.RawMessage(`{}`)}); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// unwrapData returns the inner JSON when data was sent as a JSON string,
// which is how most Pusher servers encode event payloads.
func unwrapData(data json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return trimmed
	}
	return []byte(s)
}
