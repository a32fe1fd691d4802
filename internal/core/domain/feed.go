package domain

// Live feed message types.
const (
	MessageUserLogin       = "user_login"
	MessageUserLogout      = "user_logout"
	MessageFreighterUpdate = "freighter_update"
	MessageShipmentUpdate  = "shipment_update"
)

// FeedState is the live feed connection state.
type FeedState string

const (
	FeedIdle         FeedState = "idle"
	FeedConnecting   FeedState = "connecting"
	FeedOpen         FeedState = "open"
	FeedReconnecting FeedState = "reconnecting"
	FeedClosed       FeedState = "closed"
)

// Source tags where an entity collection's current value came from.
type Source string

const (
	SourceNone Source = "none"
	SourceRest Source = "rest"
	SourceLive Source = "live"
)

// Resource names a collection of the view model. The same names are used
// as snapshot cache keys and poll targets.
type Resource string

const (
	ResourceActiveUsers Resource = "active-users"
	ResourceShipments   Resource = "shipments"
	ResourceSchedules   Resource = "schedules"
	ResourceMatches     Resource = "matches"
	ResourceOrders      Resource = "orders"
)

// Resources lists every polled resource in display order.
var Resources = []Resource{
	ResourceActiveUsers,
	ResourceShipments,
	ResourceSchedules,
	ResourceMatches,
	ResourceOrders,
}

// ViewModel is a consistent copy of every collection at one store version.
type ViewModel struct {
	Version     uint64       `json:"version"`
	ActiveUsers []ActiveUser `json:"activeUsers"`
	Freighters  []Freighter  `json:"freighters"`
	Shipments   []Shipment   `json:"shipments"`
	Matches     []Match      `json:"matches"`
	Orders      []Order      `json:"orders"`

	// Sources reports which source each reconciled collection shows.
	Sources map[string]Source `json:"sources"`
}
