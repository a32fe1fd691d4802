package feed

import (
	"encoding/json"
	"fmt"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"
	"freightdash/pkg/validation"
)

// Envelope is the wire frame of every live feed message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is a decoded, validated live feed delta.
type Message interface {
	Type() string
	Apply(sink ports.FeedSink) bool
}

type UserLogin struct {
	User domain.ActiveUser
}

func (UserLogin) Type() string { return domain.MessageUserLogin }

func (m UserLogin) Apply(sink ports.FeedSink) bool { return sink.ApplyUserLogin(m.User) }

type UserLogout struct {
	UserID domain.UserID `json:"userid" validate:"required"`
}

// UnmarshalJSON accepts the id as "userid" or "userId".
func (m *UserLogout) UnmarshalJSON(data []byte) error {
	var aux struct {
		UserID      domain.UserID `json:"userid"`
		CamelUserID domain.UserID `json:"userId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.UserID = aux.UserID
	if m.UserID == "" {
		m.UserID = aux.CamelUserID
	}
	return nil
}

func (UserLogout) Type() string { return domain.MessageUserLogout }

func (m UserLogout) Apply(sink ports.FeedSink) bool { return sink.ApplyUserLogout(m.UserID) }

// FreighterUpdate carries the full freighter collection.
type FreighterUpdate struct {
	Freighters []domain.Freighter
}

func (FreighterUpdate) Type() string { return domain.MessageFreighterUpdate }

func (m FreighterUpdate) Apply(sink ports.FeedSink) bool { return sink.ReplaceFreighters(m.Freighters) }

// ShipmentUpdate carries the full shipment collection.
type ShipmentUpdate struct {
	Shipments []domain.Shipment
}

func (ShipmentUpdate) Type() string { return domain.MessageShipmentUpdate }

func (m ShipmentUpdate) Apply(sink ports.FeedSink) bool { return sink.ReplaceShipments(m.Shipments) }

// Decode parses one text frame. Unknown types yield domain.ErrUnknownMessage;
// malformed or invalid payloads yield domain.ErrInvalidPayload. Either way
// nothing is applied.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %w", domain.ErrInvalidPayload, err)
	}

	switch env.Type {
	case domain.MessageUserLogin:
		var u domain.ActiveUser
		if err := decodePayload(env, &u); err != nil {
			return nil, err
		}
		if err := validation.Struct(u); err != nil {
			return nil, invalid(env.Type, err)
		}
		return UserLogin{User: u}, nil

	case domain.MessageUserLogout:
		var m UserLogout
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if err := validation.Struct(m); err != nil {
			return nil, invalid(env.Type, err)
		}
		return m, nil

	case domain.MessageFreighterUpdate:
		var fs []domain.Freighter
		if err := decodePayload(env, &fs); err != nil {
			return nil, err
		}
		if err := validation.Slice(fs); err != nil {
			return nil, invalid(env.Type, err)
		}
		return FreighterUpdate{Freighters: nonNil(fs)}, nil

	case domain.MessageShipmentUpdate:
		var ss []domain.Shipment
		if err := decodePayload(env, &ss); err != nil {
			return nil, err
		}
		if err := validation.Slice(ss); err != nil {
			return nil, invalid(env.Type, err)
		}
		return ShipmentUpdate{Shipments: nonNil(ss)}, nil
	}

	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessage, env.Type)
}

// Encode frames an outbound message.
func Encode(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: %s without payload", domain.ErrInvalidPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrInvalidPayload, env.Type, err)
	}
	return nil
}

func invalid(msgType string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrInvalidPayload, msgType, err)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
