package monitoring

import (
	"context"
	"fmt"
	"time"

	"freightdash/internal/core/domain"
)

// AddCacheCheck adds a snapshot cache health check
func (h *HealthChecker) AddCacheCheck(ping func(ctx context.Context) error, timeout time.Duration) {
	h.AddCheck("snapshot_cache", func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddFeedCheck reports unready unless the live feed is open.
func (h *HealthChecker) AddFeedCheck(state func() domain.FeedState) {
	h.AddCheck("live_feed", func(ctx context.Context) (bool, error) {
		if s := state(); s != domain.FeedOpen {
			return false, fmt.Errorf("live feed %s", s)
		}
		return true, nil
	}, 0)
}

// AddLoginCheck reports unready while the session has no login, with the
// failure message once login has failed.
func (h *HealthChecker) AddLoginCheck(loginError func() string, loggedIn func() bool) {
	h.AddCheck("login", func(ctx context.Context) (bool, error) {
		if msg := loginError(); msg != "" {
			return false, fmt.Errorf("%s", msg)
		}
		if !loggedIn() {
			return false, fmt.Errorf("login pending")
		}
		return true, nil
	}, 0)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}
