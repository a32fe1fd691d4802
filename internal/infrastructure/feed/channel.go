package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"
	"freightdash/pkg/retry"
	"freightdash/pkg/tracing"
	"freightdash/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned by Send when the outbound limit is hit.
	ErrRateLimited = errors.New("live feed send rate exceeded")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("live feed already running")
)

// Dispatch outcomes reported to the observer.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeUnknown = "unknown"
	OutcomeInvalid = "invalid"
)

type ReconnectConfig struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 = unlimited
}

type Config struct {
	URL               string
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	Reconnect         ReconnectConfig
}

func DefaultConfig() Config {
	return Config{
		URL:               "ws://localhost:8000/ws",
		HandshakeTimeout:  10 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    4 << 20,
		MessagesPerSecond: 20,
		Burst:             40,
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		},
	}
}

// Option customises a Channel.
type Option func(*Channel)

// WithCookieJar forwards the session cookies on every handshake.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Channel) { c.dialer.Jar = jar }
}

// WithObserver sets the metrics observer.
func WithObserver(o ports.Observer) Option {
	return func(c *Channel) { c.observer = o }
}

// Channel is the client side of the live feed. One Run loop owns the
// connection; every frame written to it goes through writeMu.
type Channel struct {
	cfg     Config
	sink    ports.FeedSink
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu        sync.RWMutex
	state     domain.FeedState
	conn      *websocket.Conn
	running   bool
	listeners []func(from, to domain.FeedState)

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	observer ports.Observer
	logger   *zap.SugaredLogger
}

var _ ports.FeedChannel = (*Channel)(nil)

func NewChannel(cfg Config, sink ports.FeedSink, logger *zap.SugaredLogger, opts ...Option) *Channel {
	c := &Channel{
		cfg:  cfg,
		sink: sink,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		state:    domain.FeedIdle,
		done:     make(chan struct{}),
		observer: ports.NopObserver{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop().Sugar()
	}
	return c
}

// OnStateChange registers fn to be called on every state transition.
func (c *Channel) OnStateChange(fn func(from, to domain.FeedState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current connection state.
func (c *Channel) State() domain.FeedState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run connects and keeps the feed connected until ctx is cancelled or Close
// is called, reconnecting with backoff. It returns nil on a requested stop
// and the last connection error when reconnecting gives up.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.FeedClosed {
		c.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.setState(domain.FeedClosed)
	}()

	backoff := retry.Config{
		Enabled:      c.cfg.Reconnect.Enabled,
		InitialDelay: c.cfg.Reconnect.InitialDelay,
		MaxDelay:     c.cfg.Reconnect.MaxDelay,
		Multiplier:   c.cfg.Reconnect.Multiplier,
		Jitter:       true,
	}

	attempt := 0
	for {
		c.setState(domain.FeedConnecting)

		err := c.connectAndServe(ctx, func() { attempt = 0 })
		if c.stopping(ctx) {
			return nil
		}

		if !c.cfg.Reconnect.Enabled {
			return err
		}
		if c.cfg.Reconnect.MaxAttempts > 0 && attempt >= c.cfg.Reconnect.MaxAttempts {
			c.logger.Errorw("live feed reconnect attempts exhausted", "attempts", attempt, "error", err)
			return err
		}

		delay := retry.Backoff(backoff, attempt)
		attempt++
		c.setState(domain.FeedReconnecting)
		c.observer.FeedReconnect()
		c.logger.Warnw("live feed disconnected, reconnecting", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Channel) stopping(ctx context.Context) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	return ctx.Err() != nil
}

func (c *Channel) connectAndServe(ctx context.Context, onOpen func()) error {
	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial live feed %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		conn.Close()
		return nil
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	onOpen()
	c.setState(domain.FeedOpen)
	c.logger.Infow("live feed connected", "url", c.cfg.URL)

	return c.serve(ctx, conn)
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
			if kind != websocket.TextMessage {
				continue
			}
			c.dispatch(ctx, data)
		}
	}()

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeClose(conn)
			conn.Close()
			<-errCh
			return ctx.Err()

		case <-c.done:
			// Close already wrote the close frame
			<-errCh
			return nil

		case <-pingTicker.C:
			if err := c.writeControl(conn, websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("send ping: %w", err)
			}

		case err := <-errCh:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Infow("live feed read failed", "error", err)
			}
			return err
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownMessage) {
			c.logger.Warnw("ignoring unknown live feed message", "error", err)
			c.observer.FeedMessage(OutcomeUnknown, OutcomeUnknown)
			return
		}
		c.logger.Warnw("dropping invalid live feed message", "error", err, "bytes", len(data))
		c.observer.FeedMessage(OutcomeInvalid, OutcomeInvalid)
		return
	}

	_, span := tracing.TraceFeedMessage(ctx, msg.Type())
	defer span.End()

	outcome := OutcomeApplied
	if !msg.Apply(c.sink) {
		outcome = OutcomeIgnored
	}
	c.observer.FeedMessage(msg.Type(), outcome)
	c.logger.Debugw("live feed message", "type", msg.Type(), "outcome", outcome)
}

// Send frames {type, payload} onto the connection. It is a no-op returning
// nil while the feed is not open.
func (c *Channel) Send(ctx context.Context, msgType string, payload any) error {
	if err := validation.ValidateMessageType(msgType); err != nil {
		return err
	}

	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()
	if state != domain.FeedOpen || conn == nil {
		c.logger.Debugw("live feed not open, dropping send", "type", msgType, "state", state)
		return nil
	}

	if !c.limiter.Allow() {
		return ErrRateLimited
	}

	data, err := Encode(msgType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Close or a reconnect may have run while waiting for the writer.
	select {
	case <-c.done:
		return nil
	default:
	}
	c.mu.RLock()
	current, state := c.conn, c.state
	c.mu.RUnlock()
	if current != conn || state != domain.FeedOpen {
		c.logger.Debugw("live feed closed before send, dropping", "type", msgType, "state", state)
		return nil
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Close sends a close frame, releases the connection and moves the channel
// to Closed. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			c.writeClose(conn)
			conn.Close()
		}
		c.setState(domain.FeedClosed)
	})
	return nil
}

func (c *Channel) writeClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.writeControl(conn, websocket.CloseMessage, msg); err != nil {
		c.logger.Debugw("failed to send close frame", "error", err)
	}
}

func (c *Channel) writeControl(conn *websocket.Conn, kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(kind, data, time.Now().Add(c.cfg.WriteTimeout))
}

func (c *Channel) setState(to domain.FeedState) {
	c.mu.Lock()
	from := c.state
	if from == to || from == domain.FeedClosed {
		c.mu.Unlock()
		return
	}
	c.state = to
	listeners := append([]func(from, to domain.FeedState){}, c.listeners...)
	c.mu.Unlock()

	c.observer.FeedStateChanged(to)
	for _, fn := range listeners {
		fn(from, to)
	}
}
