package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"
	"freightdash/internal/infrastructure/repositories/memory"
	"freightdash/pkg/circuitbreaker"
	apperrors "freightdash/pkg/errors"
	"freightdash/pkg/logger"
	"freightdash/pkg/retry"
	"freightdash/pkg/tracing"
	"freightdash/pkg/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SessionCookie is the cookie the backend sets on login.
const SessionCookie = "fb_access_token"

const (
	resourceLogin domain.Resource = "login"
	maxBodyBytes                  = 16 << 20
)

type endpoint struct {
	path    string
	failure string
}

var endpoints = map[domain.Resource]endpoint{
	domain.ResourceActiveUsers: {"/active-users", "Load Active Users failed"},
	domain.ResourceShipments:   {"/shipments/requests", "Load Shipments failed"},
	domain.ResourceSchedules:   {"/freighters/schedules", "Load Schedules failed"},
	domain.ResourceMatches:     {"/shipments/matches", "Load Matches failed"},
	domain.ResourceOrders:      {"/orders", "Load Orders failed"},
}

var loginEndpoint = endpoint{"/users/login", "Login failed"}

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Retry          retry.Config
	CircuitBreaker circuitbreaker.Config
}

// Option customises a Client.
type Option func(*Client)

// WithSnapshotCache replaces the default in-memory snapshot cache.
func WithSnapshotCache(cache ports.SnapshotCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithObserver sets the metrics observer.
func WithObserver(o ports.Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithBreakerStateListener is called on every circuit breaker transition.
func WithBreakerStateListener(fn func(name string, from, to circuitbreaker.State)) Option {
	return func(c *Client) { c.onBreaker = fn }
}

// Client talks to the brokerage REST backend. Every request carries the
// session cookies set by Login.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	jar     http.CookieJar

	cache     ports.SnapshotCache
	ownsCache bool
	group     singleflight.Group
	retry     retry.Config
	breakers  map[domain.Resource]*circuitbreaker.CircuitBreaker

	mu    sync.RWMutex
	token string

	onBreaker func(name string, from, to circuitbreaker.State)
	observer  ports.Observer
	ctxLogger *logger.ContextLogger
}

var _ ports.BackendClient = (*Client)(nil)

func NewClient(cfg Config, log *zap.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend base url %q: scheme must be http or https", cfg.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: cfg.Timeout, Jar: jar},
		jar:       jar,
		retry:     cfg.Retry,
		breakers:  make(map[domain.Resource]*circuitbreaker.CircuitBreaker, len(endpoints)),
		observer:  ports.NopObserver{},
		ctxLogger: logger.NewContextLogger(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = memory.NewSnapshotCache(5 * time.Second)
		c.ownsCache = true
	}

	c.retry.ShouldRetry = retryable
	breakerCfg := cfg.CircuitBreaker
	breakerCfg.IsFailure = countsAgainstBackend
	for r := range endpoints {
		cb := circuitbreaker.New("backend."+string(r), breakerCfg)
		if c.onBreaker != nil {
			cb.OnStateChange(c.onBreaker)
		}
		c.breakers[r] = cb
	}

	return c, nil
}

// Jar returns the cookie jar shared with the live feed handshake.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// BreakerStates reports each resource's circuit breaker state.
func (c *Client) BreakerStates() map[domain.Resource]circuitbreaker.State {
	out := make(map[domain.Resource]circuitbreaker.State, len(c.breakers))
	for r, cb := range c.breakers {
		out[r] = cb.GetState()
	}
	return out
}

// Login posts the credentials and keeps the session cookie. It is never
// retried or cached.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, apperrors.NewLoginFailedError(0, err)
	}

	data, status, err := c.do(ctx, resourceLogin, http.MethodPost, loginEndpoint, bytes.NewReader(body))
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, apperrors.NewLoginFailedError(appErr.HTTPStatus, appErr.Cause)
		}
		return nil, apperrors.NewLoginFailedError(status, err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apperrors.NewDecodeError("decode login response", err)
	}

	token := c.sessionToken()
	if token != "" {
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()

		claims, err := parseSessionClaims(token)
		if err != nil {
			c.ctxLogger.Sugared(ctx).Warnw("session token unreadable", "error", err)
		} else {
			claims.fill(&session)
		}
	}

	if err := validation.Struct(session); err != nil {
		return nil, apperrors.NewValidationError("invalid login response", err)
	}

	c.ctxLogger.Sugared(ctx).Infow("backend login succeeded", "userid", session.UserID, "expires_at", session.ExpiresAt)
	return &session, nil
}

func (c *Client) ActiveUsers(ctx context.Context) ([]domain.ActiveUser, error) {
	return fetchList[domain.ActiveUser](ctx, c, domain.ResourceActiveUsers)
}

func (c *Client) Shipments(ctx context.Context) ([]domain.Shipment, error) {
	return fetchList[domain.Shipment](ctx, c, domain.ResourceShipments)
}

// Schedules returns the freighter schedules.
func (c *Client) Schedules(ctx context.Context) ([]domain.Freighter, error) {
	return fetchList[domain.Freighter](ctx, c, domain.ResourceSchedules)
}

func (c *Client) Matches(ctx context.Context) ([]domain.Match, error) {
	return fetchList[domain.Match](ctx, c, domain.ResourceMatches)
}

func (c *Client) Orders(ctx context.Context) ([]domain.Order, error) {
	return fetchList[domain.Order](ctx, c, domain.ResourceOrders)
}

// Invalidate drops the cached snapshot of resource.
func (c *Client) Invalidate(ctx context.Context, resource domain.Resource) error {
	if _, ok := endpoints[resource]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownResource, resource)
	}
	return c.cache.Invalidate(ctx, string(resource))
}

// Close releases the default snapshot cache. Caches passed in with
// WithSnapshotCache stay open; their owner closes them.
func (c *Client) Close() error {
	if c.ownsCache {
		return c.cache.Close()
	}
	return nil
}

type snapshot struct {
	data  []byte
	fresh bool
}

// fetchList loads one resource through the cache. Concurrent callers share
// one in-flight request; a snapshot that fails to decode or validate is
// rejected whole and never cached.
func fetchList[T any](ctx context.Context, c *Client, resource domain.Resource) ([]T, error) {
	ep := endpoints[resource]

	v, err, _ := c.group.Do(string(resource), func() (any, error) {
		snap, err := c.load(ctx, resource, ep)
		if err != nil {
			return nil, err
		}

		var items []T
		if err := json.Unmarshal(snap.data, &items); err != nil {
			c.dropCached(ctx, resource, snap)
			return nil, apperrors.NewDecodeError(ep.failure, err).WithContext("resource", string(resource))
		}
		if err := validation.Slice(items); err != nil {
			c.dropCached(ctx, resource, snap)
			return nil, apperrors.NewValidationError(ep.failure, err).WithContext("resource", string(resource))
		}

		if snap.fresh {
			if err := c.cache.Set(ctx, string(resource), snap.data); err != nil {
				c.ctxLogger.Sugared(ctx).Warnw("failed to cache snapshot", "resource", resource, "error", err)
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]T)
	items := make([]T, len(shared))
	copy(items, shared)
	return items, nil
}

func (c *Client) dropCached(ctx context.Context, resource domain.Resource, snap snapshot) {
	if snap.fresh {
		return
	}
	if err := c.cache.Invalidate(ctx, string(resource)); err != nil {
		c.ctxLogger.Sugared(ctx).Warnw("failed to drop cached snapshot", "resource", resource, "error", err)
	}
}

func (c *Client) load(ctx context.Context, resource domain.Resource, ep endpoint) (snapshot, error) {
	data, ok, err := c.cache.Get(ctx, string(resource))
	if err != nil {
		c.ctxLogger.Sugared(ctx).Warnw("snapshot cache read failed", "resource", resource, "error", err)
	} else if ok {
		return snapshot{data: data}, nil
	}

	data, err = circuitbreaker.Execute(ctx, c.breakers[resource], func() ([]byte, error) {
		return retry.RetryWithResult(ctx, c.retry, func() ([]byte, error) {
			body, _, err := c.do(ctx, resource, http.MethodGet, ep, nil)
			return body, err
		})
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return snapshot{}, apperrors.NewTransportError(ep.failure, http.StatusServiceUnavailable, err)
		}
		if appErr := apperrors.GetAppError(err); appErr != nil {
			return snapshot{}, appErr
		}
		return snapshot{}, apperrors.NewTransportError(ep.failure, 0, err)
	}
	return snapshot{data: data, fresh: true}, nil
}

// do performs one request. Non-2xx answers become transport errors with
// the endpoint's failure message and the upstream status.
func (c *Client) do(ctx context.Context, resource domain.Resource, method string, ep endpoint, body io.Reader) ([]byte, int, error) {
	requestID := uuid.NewString()
	ctx = logger.WithRequestID(ctx, requestID)

	ctx, span := tracing.TraceFetch(ctx, string(resource), method, ep.path)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+ep.path, body)
	if err != nil {
		return nil, 0, apperrors.NewTransportError(ep.failure, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()
	tracing.InjectHeaders(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = apperrors.NewTransportError(ep.failure, 0, err)
		c.finish(ctx, resource, 0, start, err)
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		err = apperrors.NewTransportError(ep.failure, resp.StatusCode, err)
		c.finish(ctx, resource, resp.StatusCode, start, err)
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = apperrors.NewTransportError(ep.failure, resp.StatusCode,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet(data)))
		c.finish(ctx, resource, resp.StatusCode, start, err)
		return nil, resp.StatusCode, err
	}

	c.finish(ctx, resource, resp.StatusCode, start, nil)
	return data, resp.StatusCode, nil
}

func (c *Client) finish(ctx context.Context, resource domain.Resource, status int, start time.Time, err error) {
	d := time.Since(start)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	c.observer.Fetch(resource, d, err)
	c.ctxLogger.LogFetch(ctx, string(resource), status, d.Milliseconds(), err)
}

func (c *Client) sessionToken() string {
	for _, ck := range c.jar.Cookies(c.baseURL) {
		if ck.Name == SessionCookie {
			return ck.Value
		}
	}
	return ""
}

// retryable rejects client errors; the backend will not change its mind.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	appErr := apperrors.GetAppError(err)
	return appErr == nil || appErr.HTTPStatus < 400 || appErr.HTTPStatus >= 500
}

func countsAgainstBackend(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	appErr := apperrors.GetAppError(err)
	return appErr == nil || appErr.HTTPStatus == 0 || appErr.HTTPStatus >= 500
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
