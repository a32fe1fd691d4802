package ports

import (
	"time"

	"freightdash/internal/core/domain"
)

// Observer receives operational events for metrics. Implementations must
// be safe for concurrent use.
type Observer interface {
	StoreUpdated(collection string, source domain.Source, records int)
	FeedMessage(msgType string, outcome string)
	FeedStateChanged(state domain.FeedState)
	FeedReconnect()
	Fetch(resource domain.Resource, d time.Duration, err error)
	PollDiscarded(resource domain.Resource)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) StoreUpdated(string, domain.Source, int)     {}
func (NopObserver) FeedMessage(string, string)                  {}
func (NopObserver) FeedStateChanged(domain.FeedState)           {}
func (NopObserver) FeedReconnect()                              {}
func (NopObserver) Fetch(domain.Resource, time.Duration, error) {}
func (NopObserver) PollDiscarded(domain.Resource)               {}
