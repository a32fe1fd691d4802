package domain

import (
	"encoding/json"
	"time"
)

type UserID string

// ActiveUser is a user currently logged in to the brokerage backend.
type ActiveUser struct {
	UserID UserID `json:"userid" validate:"required"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Key returns the identity key.
func (u ActiveUser) Key() string { return string(u.UserID) }

// UnmarshalJSON accepts the id as "userid" or "userId"; "userid" wins when
// both are set.
func (u *ActiveUser) UnmarshalJSON(data []byte) error {
	type plain ActiveUser
	var aux struct {
		plain
		CamelUserID UserID `json:"userId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = ActiveUser(aux.plain)
	if u.UserID == "" {
		u.UserID = aux.CamelUserID
	}
	return nil
}

// Credentials are posted to the login endpoint.
type Credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Session is the authenticated user returned by login, plus what could be
// read from the session cookie.
type Session struct {
	UserID UserID `json:"userid" validate:"required"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`

	// ExpiresAt is taken from the session token's exp claim; zero when the
	// backend did not set a readable token.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}
