package domain

// FreighterID identifies a freighter (carrier vehicle/schedule).
type FreighterID string

// RequestID identifies a shipment request.
type RequestID string

// Freighter is one freighter schedule as shown on the map and in the
// schedules table. Updates always replace the whole record.
type Freighter struct {
	FreighterID FreighterID `json:"freighterId" validate:"required"`
	Name        string      `json:"name,omitempty"`
	Status      string      `json:"status"`
	OriginLat   float64     `json:"originLat" validate:"latitude"`
	OriginLng   float64     `json:"originLng" validate:"longitude"`
	AvailableKg float64     `json:"availableKg" validate:"gte=0"`
	MaxLoadKg   float64     `json:"maxLoadKg" validate:"gte=0"`
}

// Key returns the identity key.
func (f Freighter) Key() string { return string(f.FreighterID) }

// Shipment is one shipment request.
type Shipment struct {
	RequestID RequestID `json:"requestId" validate:"required"`
	ClientID  string    `json:"clientId,omitempty"`
	Status    string    `json:"status"`
	OriginLat float64   `json:"originLat" validate:"latitude"`
	OriginLng float64   `json:"originLng" validate:"longitude"`
	WeightKg  float64   `json:"weightKg" validate:"gte=0"`
}

// Key returns the identity key.
func (s Shipment) Key() string { return string(s.RequestID) }

// Match pairs a shipment request with a freighter schedule.
type Match struct {
	MatchID     string      `json:"matchId" validate:"required"`
	ClientID    string      `json:"clientId,omitempty"`
	FreighterID FreighterID `json:"freighterId,omitempty"`
	RequestID   RequestID   `json:"requestId,omitempty"`
	ScheduleID  string      `json:"scheduleId,omitempty"`
	Status      string      `json:"status"`
}

// Key returns the identity key.
func (m Match) Key() string { return m.MatchID }

// Order is a placed order for a match.
type Order struct {
	MatchID     string      `json:"matchId" validate:"required"`
	ClientID    string      `json:"clientId,omitempty"`
	FreighterID FreighterID `json:"freighterId,omitempty"`
	OrderStatus string      `json:"orderStatus"`
}

// Key returns the identity key.
func (o Order) Key() string { return o.MatchID }
