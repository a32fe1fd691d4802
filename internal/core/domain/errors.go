package domain

import "errors"

var (
	ErrLoginRequired   = errors.New("login required")
	ErrSessionClosed   = errors.New("dashboard session closed")
	ErrFeedNotOpen     = errors.New("live feed not open")
	ErrUnknownMessage  = errors.New("unknown live feed message type")
	ErrInvalidPayload  = errors.New("invalid live feed payload")
	ErrUnknownResource = errors.New("unknown resource")
)
