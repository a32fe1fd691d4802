package ports

import (
	"context"

	"freightdash/internal/core/domain"
)

// BackendClient fetches snapshots from the brokerage REST backend.
type BackendClient interface {
	Login(ctx context.Context, creds domain.Credentials) (*domain.Session, error)
	ActiveUsers(ctx context.Context) ([]domain.ActiveUser, error)
	Shipments(ctx context.Context) ([]domain.Shipment, error)
	Schedules(ctx context.Context) ([]domain.Freighter, error)
	Matches(ctx context.Context) ([]domain.Match, error)
	Orders(ctx context.Context) ([]domain.Order, error)

	// Invalidate drops the cached snapshot for resource so the next fetch
	// goes to the backend.
	Invalidate(ctx context.Context, resource domain.Resource) error
}

// SnapshotCache stores encoded REST snapshots by resource key.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
