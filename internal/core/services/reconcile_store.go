package services

import (
	"fmt"
	"sync"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"
	"freightdash/pkg/config"

	"go.uber.org/zap"
)

// EmptyLivePolicy decides what an empty live collection means once live
// data has been received for an entity type.
type EmptyLivePolicy int

const (
	// EmptyLiveFallback shows the REST snapshot whenever the live
	// collection is empty.
	EmptyLiveFallback EmptyLivePolicy = iota
	// EmptyLiveAuthoritative treats an empty live collection as confirmed
	// empty and keeps REST locked out for the rest of the session.
	EmptyLiveAuthoritative
)

func (p EmptyLivePolicy) String() string {
	if p == EmptyLiveAuthoritative {
		return config.EmptyLiveAuthoritative
	}
	return config.EmptyLiveFallback
}

// ParseEmptyLivePolicy maps the config value onto a policy.
func ParseEmptyLivePolicy(s string) (EmptyLivePolicy, error) {
	switch s {
	case config.EmptyLiveFallback, "":
		return EmptyLiveFallback, nil
	case config.EmptyLiveAuthoritative:
		return EmptyLiveAuthoritative, nil
	default:
		return EmptyLiveFallback, fmt.Errorf("unknown empty live policy %q", s)
	}
}

// Collection names used in sources and metrics.
const (
	CollectionActiveUsers = "activeUsers"
	CollectionFreighters  = "freighters"
	CollectionShipments   = "shipments"
	CollectionMatches     = "matches"
	CollectionOrders      = "orders"
)

type keyed interface {
	Key() string
}

// reconciled is the tagged state of one entity type: the latest REST
// snapshot and the latest live value, each remembered independently.
type reconciled[T keyed] struct {
	rest     []T
	restSeen bool
	live     []T
	liveSeen bool
}

func (r *reconciled[T]) source(policy EmptyLivePolicy) domain.Source {
	if r.liveSeen && (len(r.live) > 0 || policy == EmptyLiveAuthoritative) {
		return domain.SourceLive
	}
	if r.restSeen {
		return domain.SourceRest
	}
	return domain.SourceNone
}

func (r *reconciled[T]) effective(policy EmptyLivePolicy) []T {
	switch r.source(policy) {
	case domain.SourceLive:
		return r.live
	case domain.SourceRest:
		return r.rest
	}
	return nil
}

// incrementalBase is the collection an incremental delta applies to: the
// live value once it holds records (or is authoritative), otherwise what
// is currently shown.
func (r *reconciled[T]) incrementalBase(policy EmptyLivePolicy) []T {
	return clone(r.effective(policy))
}

// ReconcileStore holds the per-entity-type view model and applies the
// live-over-REST precedence rule. It is owned by one dashboard session and
// safe for concurrent use; mutations apply in call order.
type ReconcileStore struct {
	mu     sync.RWMutex
	policy EmptyLivePolicy
	closed bool

	version uint64

	users      reconciled[domain.ActiveUser]
	freighters reconciled[domain.Freighter]
	shipments  reconciled[domain.Shipment]
	matches    []domain.Match
	orders     []domain.Order

	subscribers map[int]chan uint64
	nextSubID   int

	observer ports.Observer
	logger   *zap.SugaredLogger
}

var _ ports.FeedSink = (*ReconcileStore)(nil)

// NewReconcileStore creates an empty store.
func NewReconcileStore(policy EmptyLivePolicy, observer ports.Observer, logger *zap.SugaredLogger) *ReconcileStore {
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ReconcileStore{
		policy:      policy,
		subscribers: make(map[int]chan uint64),
		observer:    observer,
		logger:      logger,
	}
}

// Policy returns the empty-live policy in effect.
func (s *ReconcileStore) Policy() EmptyLivePolicy {
	return s.policy
}

// SetActiveUsersSnapshot records a REST snapshot of active users.
func (s *ReconcileStore) SetActiveUsersSnapshot(users []domain.ActiveUser) bool {
	return s.mutate(CollectionActiveUsers, func() (domain.Source, int) {
		s.users.rest, s.users.restSeen = dedupe(users), true
		return s.users.source(s.policy), len(s.users.effective(s.policy))
	})
}

// SetFreightersSnapshot records a REST snapshot of freighter schedules.
func (s *ReconcileStore) SetFreightersSnapshot(freighters []domain.Freighter) bool {
	return s.mutate(CollectionFreighters, func() (domain.Source, int) {
		s.freighters.rest, s.freighters.restSeen = dedupe(freighters), true
		return s.freighters.source(s.policy), len(s.freighters.effective(s.policy))
	})
}

// SetShipmentsSnapshot records a REST snapshot of shipments.
func (s *ReconcileStore) SetShipmentsSnapshot(shipments []domain.Shipment) bool {
	return s.mutate(CollectionShipments, func() (domain.Source, int) {
		s.shipments.rest, s.shipments.restSeen = dedupe(shipments), true
		return s.shipments.source(s.policy), len(s.shipments.effective(s.policy))
	})
}

// SetMatchesSnapshot replaces the matches collection (REST only).
func (s *ReconcileStore) SetMatchesSnapshot(matches []domain.Match) bool {
	return s.mutate(CollectionMatches, func() (domain.Source, int) {
		s.matches = dedupe(matches)
		return domain.SourceRest, len(s.matches)
	})
}

// SetOrdersSnapshot replaces the orders collection (REST only).
func (s *ReconcileStore) SetOrdersSnapshot(orders []domain.Order) bool {
	return s.mutate(CollectionOrders, func() (domain.Source, int) {
		s.orders = dedupe(orders)
		return domain.SourceRest, len(s.orders)
	})
}

// ApplyUserLogin adds user to the active users, replacing any record with
// the same id in place.
func (s *ReconcileStore) ApplyUserLogin(user domain.ActiveUser) bool {
	return s.mutate(CollectionActiveUsers, func() (domain.Source, int) {
		base := s.users.incrementalBase(s.policy)
		replaced := false
		for i := range base {
			if base[i].UserID == user.UserID {
				base[i] = user
				replaced = true
				break
			}
		}
		if !replaced {
			base = append(base, user)
		}
		s.users.live, s.users.liveSeen = base, true
		return s.users.source(s.policy), len(s.users.effective(s.policy))
	})
}

// ApplyUserLogout removes the active user with the given id.
func (s *ReconcileStore) ApplyUserLogout(id domain.UserID) bool {
	return s.mutate(CollectionActiveUsers, func() (domain.Source, int) {
		base := s.users.incrementalBase(s.policy)
		kept := base[:0]
		for _, u := range base {
			if u.UserID != id {
				kept = append(kept, u)
			}
		}
		s.users.live, s.users.liveSeen = kept, true
		return s.users.source(s.policy), len(s.users.effective(s.policy))
	})
}

// ReplaceFreighters replaces the live freighter collection wholesale.
func (s *ReconcileStore) ReplaceFreighters(freighters []domain.Freighter) bool {
	return s.mutate(CollectionFreighters, func() (domain.Source, int) {
		s.freighters.live, s.freighters.liveSeen = dedupe(freighters), true
		return s.freighters.source(s.policy), len(s.freighters.effective(s.policy))
	})
}

// ReplaceShipments replaces the live shipment collection wholesale.
func (s *ReconcileStore) ReplaceShipments(shipments []domain.Shipment) bool {
	return s.mutate(CollectionShipments, func() (domain.Source, int) {
		s.shipments.live, s.shipments.liveSeen = dedupe(shipments), true
		return s.shipments.source(s.policy), len(s.shipments.effective(s.policy))
	})
}

// ActiveUsers returns the effective active-user collection.
func (s *ReconcileStore) ActiveUsers() []domain.ActiveUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.users.effective(s.policy))
}

// Freighters returns the effective freighter collection.
func (s *ReconcileStore) Freighters() []domain.Freighter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.freighters.effective(s.policy))
}

// Shipments returns the effective shipment collection.
func (s *ReconcileStore) Shipments() []domain.Shipment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.shipments.effective(s.policy))
}

// Matches returns the latest matches snapshot.
func (s *ReconcileStore) Matches() []domain.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.matches)
}

// Orders returns the latest orders snapshot.
func (s *ReconcileStore) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.orders)
}

// Sources reports which source each reconciled collection currently shows.
func (s *ReconcileStore) Sources() map[string]domain.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourcesLocked()
}

func (s *ReconcileStore) sourcesLocked() map[string]domain.Source {
	return map[string]domain.Source{
		CollectionActiveUsers: s.users.source(s.policy),
		CollectionFreighters:  s.freighters.source(s.policy),
		CollectionShipments:   s.shipments.source(s.policy),
	}
}

// Snapshot returns every collection at a single version.
func (s *ReconcileStore) Snapshot() domain.ViewModel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.ViewModel{
		Version:     s.version,
		ActiveUsers: nonNil(clone(s.users.effective(s.policy))),
		Freighters:  nonNil(clone(s.freighters.effective(s.policy))),
		Shipments:   nonNil(clone(s.shipments.effective(s.policy))),
		Matches:     nonNil(clone(s.matches)),
		Orders:      nonNil(clone(s.orders)),
		Sources:     s.sourcesLocked(),
	}
}

// Version increases by one with every accepted mutation.
func (s *ReconcileStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe returns a channel receiving the store version after accepted
// mutations. Notifications coalesce: a slow reader sees the latest version.
// The channel is closed by cancel or by Close.
func (s *ReconcileStore) Subscribe() (<-chan uint64, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan uint64, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(c)
			}
		})
	}
}

// Close disposes the store. Later mutations are ignored and subscribers
// are released.
func (s *ReconcileStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *ReconcileStore) mutate(collection string, fn func() (domain.Source, int)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debugw("ignoring update after store close", "collection", collection)
		return false
	}

	source, records := fn()
	s.version++
	version := s.version
	for _, ch := range s.subscribers {
		select {
		case ch <- version:
		default:
			// drop the stale pending version for the fresh one
			select {
			case <-ch:
			default:
			}
			ch <- version
		}
	}
	s.mu.Unlock()

	s.observer.StoreUpdated(collection, source, records)
	return true
}

// dedupe copies items keeping one record per key: the last occurrence
// wins and takes the position of the first.
func dedupe[T keyed](items []T) []T {
	if items == nil {
		return []T{}
	}
	out := make([]T, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := index[it.Key()]; ok {
			out[i] = it
			continue
		}
		index[it.Key()] = len(out)
		out = append(out, it)
	}
	return out
}

func clone[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
