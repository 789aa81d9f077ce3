// Package channel maintains the duplex WebSocket link to the speech backend.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/protocol"
)

// Config tunes connection upkeep. Zero values fall back to defaults.
type Config struct {
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	Header            http.Header
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectDelay < 0 {
		c.ReconnectDelay = 0
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// DefaultConfig returns the production upkeep settings.
func DefaultConfig() Config {
	return Config{ReconnectDelay: 2 * time.Second}.withDefaults()
}

// Handlers receive inbound traffic. Any of them may be nil.
type Handlers struct {
	OnOpen       func()
	OnTranscript func(text string)
	OnAudio      func(b64 string)
	// OnConnectError reports a failed initial handshake.
	OnConnectError func(err error)
	// OnFatal fires when the single reconnect attempt after a drop fails.
	OnFatal func(err error)
}

// Params scope a connection to one agent.
type Params struct {
	VoiceID  string
	AgentID  string
	Identity string
}

// BuildURL appends the session-scoping query parameters to base.
func BuildURL(base string, p Params) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("channel url scheme %q not supported", u.Scheme)
	}
	q := u.Query()
	if p.VoiceID != "" {
		q.Set("voice_id", p.VoiceID)
	}
	if p.AgentID != "" {
		q.Set("agent_id", p.AgentID)
	}
	if p.Identity != "" {
		q.Set("identity", p.Identity)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type Option func(*Channel)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Channel) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.log = l
		}
	}
}

// Channel is a single logical connection. Frames sent while no socket is
// open are dropped, not queued.
type Channel struct {
	cfg      Config
	isActive func() bool
	dialer   *websocket.Dialer
	metrics  *observability.Metrics
	log      *slog.Logger

	mu       sync.Mutex
	handlers Handlers
	url      string
	conn     *websocket.Conn
	gen      uint64
	closed   bool
	lastPong time.Time
	cancel   context.CancelFunc

	writeMu sync.Mutex
}

// New builds a Channel. isActive reports whether the owning session is still
// active; a dropped connection is only re-dialed while it returns true.
func New(cfg Config, isActive func() bool, h Handlers, opts ...Option) *Channel {
	cfg = cfg.withDefaults()
	if isActive == nil {
		isActive = func() bool { return false }
	}
	c := &Channel{
		cfg:      cfg,
		isActive: isActive,
		handlers: h,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observability.NewMetrics("voxline")
	}
	if c.log == nil {
		c.log = observability.Logger()
	}
	c.log = c.log.With("component", "channel")
	return c
}

// Connect starts the handshake in the background and returns immediately.
func (c *Channel) Connect(ctx context.Context, rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("channel url is required")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("channel closed")
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("channel already connecting")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.url = rawURL
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		if err := c.dial(runCtx); err != nil {
			c.metrics.ChannelEvents.WithLabelValues("connect_failed").Inc()
			c.log.Error("channel connect failed", "error", err)
			if h := c.handlersSnapshot(); h.OnConnectError != nil && !c.isClosed() {
				h.OnConnectError(err)
			}
		}
	}()
	return nil
}

// IsOpen reports whether a socket is currently established.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Send writes one frame. It returns false, without error, when no socket
// is open or the write fails.
func (c *Channel) Send(msg protocol.Outbound) bool {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		c.metrics.ChannelMessages.WithLabelValues("out_dropped", string(msg.Event)).Inc()
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		c.metrics.ChannelMessages.WithLabelValues("out_failed", string(msg.Event)).Inc()
		c.log.Warn("channel write failed", "event", msg.Event, "error", err)
		return false
	}
	c.metrics.ChannelMessages.WithLabelValues("out", string(msg.Event)).Inc()
	return true
}

// LastPong returns when the backend last acknowledged a heartbeat.
func (c *Channel) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Close tears the connection down and clears the handlers. Safe to call
// more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.handlers = Handlers{}
	conn := c.conn
	c.conn = nil
	c.gen++
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.metrics.ChannelEvents.WithLabelValues("close").Inc()
	c.log.Info("channel closed")
}

func (c *Channel) dial(ctx context.Context) error {
	c.mu.Lock()
	target := c.url
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, target, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial channel: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial channel: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	h := c.handlers
	c.mu.Unlock()

	c.metrics.ChannelEvents.WithLabelValues("open").Inc()
	c.log.Info("channel open", "generation", gen)
	// OnOpen runs before the read loop so a drop right after the handshake
	// sees the session it promoted.
	if h.OnOpen != nil {
		h.OnOpen()
	}
	go c.readLoop(ctx, conn, gen)
	go c.heartbeat(ctx, conn, gen)
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(ctx, conn, gen, err)
			return
		}
		if !c.current(gen) {
			return
		}
		c.dispatch(raw)
	}
}

func (c *Channel) dispatch(raw []byte) {
	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		c.metrics.ChannelMessages.WithLabelValues("in_invalid", "unknown").Inc()
		c.log.Warn("channel message ignored", "error", err)
		return
	}
	h := c.handlersSnapshot()
	switch m := msg.(type) {
	case protocol.Transcript:
		c.metrics.ChannelMessages.WithLabelValues("in", string(protocol.EventTranscript)).Inc()
		if h.OnTranscript != nil {
			h.OnTranscript(m.Text)
		}
	case protocol.ServerAudio:
		c.metrics.ChannelMessages.WithLabelValues("in", string(protocol.EventAudio)).Inc()
		if h.OnAudio != nil {
			h.OnAudio(m.Audio)
		}
	case protocol.Ping:
		c.metrics.ChannelMessages.WithLabelValues("in", string(protocol.EventPing)).Inc()
		c.Send(protocol.NewPong())
	case protocol.Pong:
		c.metrics.ChannelMessages.WithLabelValues("in", string(protocol.EventPong)).Inc()
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	case protocol.ErrorEvent:
		c.metrics.ChannelMessages.WithLabelValues("in", string(protocol.EventError)).Inc()
		c.log.Warn("backend reported error", "message", m.Message)
	}
}

func (c *Channel) heartbeat(ctx context.Context, conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.current(gen) {
				return
			}
			c.Send(protocol.NewPing())
		}
	}
}

// handleDrop runs when a socket read fails. Only the current generation
// may trigger a reconnect; a deliberate Close bumps the generation first.
func (c *Channel) handleDrop(ctx context.Context, conn *websocket.Conn, gen uint64, cause error) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.gen++
	c.mu.Unlock()
	_ = conn.Close()

	c.metrics.ChannelEvents.WithLabelValues("drop").Inc()
	if !c.isActive() {
		c.log.Info("channel dropped after session ended", "error", cause)
		return
	}
	c.log.Warn("channel dropped, reconnecting", "error", cause, "delay", c.cfg.ReconnectDelay)

	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if c.isClosed() || !c.isActive() {
		return
	}

	c.metrics.ChannelEvents.WithLabelValues("reconnect").Inc()
	if err := c.dial(ctx); err != nil {
		c.metrics.ChannelEvents.WithLabelValues("reconnect_failed").Inc()
		c.log.Error("channel reconnect failed", "error", err)
		if h := c.handlersSnapshot(); h.OnFatal != nil && !c.isClosed() {
			h.OnFatal(err)
		}
	}
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.gen == gen
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) handlersSnapshot() Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}
