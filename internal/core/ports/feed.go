package ports

import (
	"context"

	"freightdash/internal/core/domain"
)

// FeedSink receives decoded live feed deltas. Every method reports whether
// the delta was accepted; a closed sink accepts nothing.
type FeedSink interface {
	ApplyUserLogin(user domain.ActiveUser) bool
	ApplyUserLogout(id domain.UserID) bool
	ReplaceFreighters(freighters []domain.Freighter) bool
	ReplaceShipments(shipments []domain.Shipment) bool
}

// FeedChannel is the live feed connection as seen by the session.
type FeedChannel interface {
	Run(ctx context.Context) error
	Send(ctx context.Context, msgType string, payload any) error
	State() domain.FeedState
	Close() error
}
