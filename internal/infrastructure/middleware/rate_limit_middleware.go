package middleware

import (
	"strconv"
	"sync"
	"time"

	"freightdash/pkg/config"
	"freightdash/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long a client's limiter survives without requests.
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore stores per-client rate limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rate      rate.Limit
	burstSize int
	lastSweep time.Time
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*clientLimiter),
		rate:      r,
		burstSize: burst,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) getLimiter(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > idleLimiterTTL {
		for k, l := range s.limiters {
			if now.Sub(l.lastSeen) > idleLimiterTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	l, exists := s.limiters[key]
	if !exists {
		l = &clientLimiter{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies per-client
// rate limiting and an optional cap on concurrent requests. Event stream
// subscribers hold a concurrency slot for as long as they stay connected.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limits := cfg.RateLimiting.HTTP
	store := newRateLimiterStore(rate.Limit(limits.RequestsPerSecond), limits.Burst)

	var globalSem chan struct{}
	if limits.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, limits.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				abortWith(c, errors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}

		if !store.getLimiter(c.ClientIP(), time.Now()).Allow() {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(limits.RequestsPerSecond)))
			abortWith(c, errors.NewRateLimitError())
			return
		}
		c.Next()
	}
}

// retryAfterSeconds is the time to regain one token, rounded up.
func retryAfterSeconds(rps float64) int {
	secs := int(1 / rps)
	if float64(secs) < 1/rps {
		secs++
	}
	return secs
}

func abortWith(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
