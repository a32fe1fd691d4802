package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"
	"freightdash/pkg/circuitbreaker"
	apperrors "freightdash/pkg/errors"
	"freightdash/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoginState is the session's authentication state.
type LoginState string

const (
	LoginPending LoginState = "pending"
	LoggedIn     LoginState = "logged_in"
	LoginFailed  LoginState = "login_failed"
)

// SourceStatus is the last known outcome of fetching one resource.
type SourceStatus struct {
	LastSuccess time.Time `json:"lastSuccess,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitempty"`
	Records     int       `json:"records"`
}

// Degraded reports whether the most recent fetch failed.
func (s SourceStatus) Degraded() bool {
	return s.LastError != "" && s.LastErrorAt.After(s.LastSuccess)
}

// SessionStatus backs the dashboard's connection and error indicators.
type SessionStatus struct {
	SessionID       string                           `json:"sessionId"`
	Login           LoginState                       `json:"login"`
	LoginMessage    string                           `json:"loginMessage,omitempty"`
	User            *domain.Session                  `json:"user,omitempty"`
	Feed            domain.FeedState                 `json:"feed"`
	Sources         map[domain.Resource]SourceStatus `json:"sources"`
	Breakers        map[domain.Resource]string       `json:"breakers,omitempty"`
	EmptyLivePolicy string                           `json:"emptyLivePolicy"`
	StoreVersion    uint64                           `json:"storeVersion"`
	Degraded        bool                             `json:"degraded"`
}

// breakerReporter is implemented by backends that guard each resource with
// a circuit breaker.
type breakerReporter interface {
	BreakerStates() map[domain.Resource]circuitbreaker.State
}

// DashboardConfig holds the session settings.
type DashboardConfig struct {
	Credentials  domain.Credentials
	PollInterval time.Duration
	Resources    []domain.Resource
}

// DashboardService runs one dashboard session: login, REST polling, the
// live feed, and the reconciliation store they all write to.
type DashboardService struct {
	cfg      DashboardConfig
	backend  ports.BackendClient
	feed     ports.FeedChannel
	store    *ReconcileStore
	observer ports.Observer
	logger   *zap.SugaredLogger

	sessionID string

	mu           sync.RWMutex
	started      bool
	closed       bool
	login        LoginState
	loginMessage string
	user         *domain.Session
	sources      map[domain.Resource]SourceStatus

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDashboardService(
	cfg DashboardConfig,
	backend ports.BackendClient,
	feed ports.FeedChannel,
	store *ReconcileStore,
	observer ports.Observer,
	logger *zap.SugaredLogger,
) *DashboardService {
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if len(cfg.Resources) == 0 {
		cfg.Resources = domain.Resources
	}
	sessionID := uuid.NewString()
	return &DashboardService{
		cfg:       cfg,
		backend:   backend,
		feed:      feed,
		store:     store,
		observer:  observer,
		logger:    logger.With("session_id", sessionID),
		sessionID: sessionID,
		login:     LoginPending,
		sources:   make(map[domain.Resource]SourceStatus),
	}
}

// Store exposes the session's reconciliation store for reads.
func (s *DashboardService) Store() *ReconcileStore {
	return s.store
}

// SessionID returns the id attached to this session's logs.
func (s *DashboardService) SessionID() string {
	return s.sessionID
}

// Start logs in and, on success, begins polling and the live feed. A login
// failure is returned and leaves the session in LoginFailed with nothing
// else started. Other failures only degrade the session.
func (s *DashboardService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("dashboard session %s already started", s.sessionID)
	}
	s.started = true
	s.mu.Unlock()

	ctx = logger.WithSessionID(ctx, s.sessionID)

	session, err := s.backend.Login(ctx, s.cfg.Credentials)
	if err != nil {
		s.mu.Lock()
		s.login = LoginFailed
		s.loginMessage = apperrors.UserMessage(err)
		s.mu.Unlock()
		s.logger.Errorw("login failed", "user", s.cfg.Credentials.Name, "error", err)
		return err
	}

	s.mu.Lock()
	s.login = LoggedIn
	s.user = session
	s.mu.Unlock()
	s.logger.Infow("logged in", "userid", session.UserID, "role", session.Role)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return domain.ErrSessionClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	// initial active-user load; its result seeds the cache for the first poll
	start := time.Now()
	users, err := s.backend.ActiveUsers(runCtx)
	s.record(PollResult{Resource: domain.ResourceActiveUsers, Err: err, Records: len(users), Duration: time.Since(start)})
	if err == nil {
		s.store.SetActiveUsersSnapshot(users)
	}

	runs := make([]func(context.Context), 0, len(s.cfg.Resources))
	for _, r := range s.cfg.Resources {
		run, err := s.pollerFor(r)
		if err != nil {
			s.logger.Warnw("skipping poller", "resource", r, "error", err)
			continue
		}
		runs = append(runs, run)
	}

	// Close may have run during the initial load; wg.Add must not race its
	// Wait.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}

	for _, run := range runs {
		run := run
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			run(runCtx)
		}()
	}

	if s.feed != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.feed.Run(runCtx); err != nil && runCtx.Err() == nil {
				s.logger.Warnw("live feed stopped", "error", err)
			}
		}()
	}

	return nil
}

func (s *DashboardService) pollerFor(r domain.Resource) (func(context.Context), error) {
	log := s.logger
	invalidate := func(ctx context.Context) error { return s.backend.Invalidate(ctx, r) }

	switch r {
	case domain.ResourceActiveUsers:
		return NewPoller(r, s.cfg.PollInterval, s.backend.ActiveUsers, s.store.SetActiveUsersSnapshot, log,
			WithInvalidate[domain.ActiveUser](invalidate), WithReport[domain.ActiveUser](s.record),
			WithPollObserver[domain.ActiveUser](s.observer)).Run, nil
	case domain.ResourceShipments:
		return NewPoller(r, s.cfg.PollInterval, s.backend.Shipments, s.store.SetShipmentsSnapshot, log,
			WithInvalidate[domain.Shipment](invalidate), WithReport[domain.Shipment](s.record),
			WithPollObserver[domain.Shipment](s.observer)).Run, nil
	case domain.ResourceSchedules:
		return NewPoller(r, s.cfg.PollInterval, s.backend.Schedules, s.store.SetFreightersSnapshot, log,
			WithInvalidate[domain.Freighter](invalidate), WithReport[domain.Freighter](s.record),
			WithPollObserver[domain.Freighter](s.observer)).Run, nil
	case domain.ResourceMatches:
		return NewPoller(r, s.cfg.PollInterval, s.backend.Matches, s.store.SetMatchesSnapshot, log,
			WithInvalidate[domain.Match](invalidate), WithReport[domain.Match](s.record),
			WithPollObserver[domain.Match](s.observer)).Run, nil
	case domain.ResourceOrders:
		return NewPoller(r, s.cfg.PollInterval, s.backend.Orders, s.store.SetOrdersSnapshot, log,
			WithInvalidate[domain.Order](invalidate), WithReport[domain.Order](s.record),
			WithPollObserver[domain.Order](s.observer)).Run, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownResource, r)
}

func (s *DashboardService) record(r PollResult) {
	if r.Discarded {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.sources[r.Resource]
	now := time.Now()
	if r.Err != nil {
		st.LastError = apperrors.UserMessage(r.Err)
		st.LastErrorAt = now
	} else {
		st.LastSuccess = now
		st.Records = r.Records
	}
	s.sources[r.Resource] = st
}

// Status reports login, feed and per-source state.
func (s *DashboardService) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SessionStatus{
		SessionID:       s.sessionID,
		Login:           s.login,
		LoginMessage:    s.loginMessage,
		User:            s.user,
		Feed:            domain.FeedIdle,
		Sources:         make(map[domain.Resource]SourceStatus, len(s.sources)),
		EmptyLivePolicy: s.store.Policy().String(),
		StoreVersion:    s.store.Version(),
	}
	if s.feed != nil {
		st.Feed = s.feed.State()
	}
	if br, ok := s.backend.(breakerReporter); ok {
		states := br.BreakerStates()
		st.Breakers = make(map[domain.Resource]string, len(states))
		for r, state := range states {
			st.Breakers[r] = state.String()
			if state == circuitbreaker.StateOpen {
				st.Degraded = true
			}
		}
	}
	for r, src := range s.sources {
		st.Sources[r] = src
		if src.Degraded() {
			st.Degraded = true
		}
	}
	if st.Login == LoginFailed || (st.Login == LoggedIn && st.Feed != domain.FeedOpen) {
		st.Degraded = true
	}
	return st
}

// LoginError returns the login failure message, or "" when login has not
// failed.
func (s *DashboardService) LoginError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.login != LoginFailed {
		return ""
	}
	return s.loginMessage
}

// Send publishes a message on the live feed. It is a no-op while the feed
// is not open.
func (s *DashboardService) Send(ctx context.Context, msgType string, payload any) error {
	s.mu.RLock()
	login, closed := s.login, s.closed
	s.mu.RUnlock()

	if closed {
		return domain.ErrSessionClosed
	}
	if login != LoggedIn || s.feed == nil {
		return domain.ErrLoginRequired
	}
	return s.feed.Send(ctx, msgType, payload)
}

// Close stops pollers, closes the feed and disposes the store. In-flight
// responses arriving afterwards are ignored.
func (s *DashboardService) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if s.feed != nil {
			err = s.feed.Close()
		}
		s.wg.Wait()
		s.store.Close()
		s.logger.Infow("dashboard session closed")
	})
	return err
}
