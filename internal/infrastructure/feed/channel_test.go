package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"
	"freightdash/internal/core/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type feedServer struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	cookies chan string
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		conns:   make(chan *websocket.Conn, 4),
		cookies: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("fb_access_token"); err == nil {
			fs.cookies <- c.Value
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + fs.srv.URL[4:] + "/ws"
}

func (fs *feedServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

type recordingObserver struct {
	ports.NopObserver
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *recordingObserver) FeedMessage(msgType, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
}

func (o *recordingObserver) count(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.HandshakeTimeout = time.Second
	cfg.PongTimeout = 5 * time.Second
	cfg.WriteTimeout = time.Second
	cfg.Reconnect.InitialDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 50 * time.Millisecond
	return cfg
}

type runningChannel struct {
	ch   *Channel
	done chan error
}

func startChannel(t *testing.T, cfg Config, sink ports.FeedSink, opts ...Option) *runningChannel {
	t.Helper()
	ch := NewChannel(cfg, sink, zaptest.NewLogger(t).Sugar(), opts...)
	rc := &runningChannel{ch: ch, done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { rc.done <- ch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		ch.Close()
		select {
		case <-rc.done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return")
		}
	})
	return rc
}

func newStore(t *testing.T) *services.ReconcileStore {
	return services.NewReconcileStore(services.EmptyLiveFallback, nil, zaptest.NewLogger(t).Sugar())
}

func waitOpen(t *testing.T, ch *Channel) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.State() == domain.FeedOpen }, 2*time.Second, 5*time.Millisecond)
}

func TestChannel_SendWhileNotOpenIsNoop(t *testing.T) {
	ch := NewChannel(testConfig("ws://127.0.0.1:1/ws"), newStore(t), zaptest.NewLogger(t).Sugar())

	assert.NoError(t, ch.Send(context.Background(), "match_request", map[string]string{"requestId": "R1"}))
	assert.Equal(t, domain.FeedIdle, ch.State())
}

func TestChannel_AppliesLiveMessages(t *testing.T) {
	fs := newFeedServer(t)
	store := newStore(t)
	obs := &recordingObserver{}

	rc := startChannel(t, testConfig(fs.wsURL()), store, WithObserver(obs))
	server := fs.accept(t)
	waitOpen(t, rc.ch)

	frames := []string{
		`{"type":"user_login","payload":{"userid":"u1","name":"Peter","role":"client"}}`,
		`{"type":"route_update","payload":{"anything":true}}`,
		`not json at all`,
		`{"type":"freighter_update","payload":[{"freighterId":"","status":"x"}]}`,
		`{"type":"freighter_update","payload":[{"freighterId":"F1","status":"available","originLat":1.3,"originLng":103.8,"availableKg":10,"maxLoadKg":100}]}`,
	}
	for _, f := range frames {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	require.Eventually(t, func() bool { return len(store.Freighters()) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []domain.ActiveUser{{UserID: "u1", Name: "Peter", Role: "client"}}, store.ActiveUsers())
	assert.Equal(t, uint64(2), store.Version())
	assert.Equal(t, 2, obs.count(OutcomeApplied))
	assert.Equal(t, 1, obs.count(OutcomeUnknown))
	assert.Equal(t, 2, obs.count(OutcomeInvalid))
}

func TestChannel_SendWhenOpen(t *testing.T) {
	fs := newFeedServer(t)
	rc := startChannel(t, testConfig(fs.wsURL()), newStore(t))
	server := fs.accept(t)
	waitOpen(t, rc.ch)

	require.NoError(t, rc.ch.Send(context.Background(), "match_request", map[string]string{"requestId": "R1"}))

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "match_request", env.Type)
	assert.JSONEq(t, `{"requestId":"R1"}`, string(env.Payload))
}

func TestChannel_SendRejectsBadType(t *testing.T) {
	ch := NewChannel(testConfig("ws://127.0.0.1:1/ws"), newStore(t), zaptest.NewLogger(t).Sugar())
	assert.Error(t, ch.Send(context.Background(), "Bad Type!", nil))
}

func TestChannel_SendRateLimited(t *testing.T) {
	fs := newFeedServer(t)
	cfg := testConfig(fs.wsURL())
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 1

	rc := startChannel(t, cfg, newStore(t))
	fs.accept(t)
	waitOpen(t, rc.ch)

	require.NoError(t, rc.ch.Send(context.Background(), "ping", nil))
	assert.ErrorIs(t, rc.ch.Send(context.Background(), "ping", nil), ErrRateLimited)
}

func TestChannel_CloseSendsCloseFrame(t *testing.T) {
	fs := newFeedServer(t)
	rc := startChannel(t, testConfig(fs.wsURL()), newStore(t))
	server := fs.accept(t)
	waitOpen(t, rc.ch)

	require.NoError(t, rc.ch.Close())

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := server.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case err := <-rc.done:
		assert.NoError(t, err)
		rc.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, domain.FeedClosed, rc.ch.State())

	// closed is terminal
	assert.ErrorIs(t, rc.ch.Run(context.Background()), domain.ErrSessionClosed)
	assert.NoError(t, rc.ch.Send(context.Background(), "ping", nil))
}

func TestChannel_SendRacingCloseIsNoop(t *testing.T) {
	fs := newFeedServer(t)
	rc := startChannel(t, testConfig(fs.wsURL()), newStore(t))
	fs.accept(t)
	waitOpen(t, rc.ch)

	// Hold the writer so Send sees an open feed and then waits behind Close.
	rc.ch.writeMu.Lock()
	sent := make(chan error, 1)
	go func() { sent <- rc.ch.Send(context.Background(), "ping", nil) }()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- rc.ch.Close() }()
	require.Eventually(t, func() bool {
		select {
		case <-rc.ch.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	rc.ch.writeMu.Unlock()

	select {
	case err := <-sent:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return")
	}
	require.NoError(t, <-closed)
	assert.Equal(t, domain.FeedClosed, rc.ch.State())
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	fs := newFeedServer(t)

	var mu sync.Mutex
	var transitions []domain.FeedState

	ch := NewChannel(testConfig(fs.wsURL()), newStore(t), zaptest.NewLogger(t).Sugar())
	ch.OnStateChange(func(from, to domain.FeedState) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, to)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	first := fs.accept(t)
	waitOpen(t, ch)
	first.Close()

	second := fs.accept(t)
	waitOpen(t, ch)
	require.NoError(t, second.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"user_logout","payload":{"userid":"u1"}}`)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.FeedState{
		domain.FeedConnecting, domain.FeedOpen,
		domain.FeedReconnecting, domain.FeedConnecting, domain.FeedOpen,
		domain.FeedClosed,
	}, transitions)
}

func TestChannel_GivesUpWhenReconnectDisabled(t *testing.T) {
	fs := newFeedServer(t)
	target := fs.wsURL()
	fs.srv.Close()

	cfg := testConfig(target)
	cfg.Reconnect.Enabled = false
	ch := NewChannel(cfg, newStore(t), zaptest.NewLogger(t).Sugar())

	err := ch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.FeedClosed, ch.State())
}

func TestChannel_GivesUpAfterMaxAttempts(t *testing.T) {
	fs := newFeedServer(t)
	target := fs.wsURL()
	fs.srv.Close()

	cfg := testConfig(target)
	cfg.Reconnect.MaxAttempts = 2

	reconnects := 0
	ch := NewChannel(cfg, newStore(t), zaptest.NewLogger(t).Sugar())
	ch.OnStateChange(func(from, to domain.FeedState) {
		if to == domain.FeedReconnecting {
			reconnects++
		}
	})

	require.Error(t, ch.Run(context.Background()))
	assert.Equal(t, 2, reconnects)
}

func TestChannel_ForwardsSessionCookies(t *testing.T) {
	fs := newFeedServer(t)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse(fs.srv.URL)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: "fb_access_token", Value: "token-123", Path: "/"}})

	rc := startChannel(t, testConfig(fs.wsURL()), newStore(t), WithCookieJar(jar))
	fs.accept(t)
	waitOpen(t, rc.ch)

	select {
	case v := <-fs.cookies:
		assert.Equal(t, "token-123", v)
	case <-time.After(time.Second):
		t.Fatal("no session cookie on handshake")
	}
}
