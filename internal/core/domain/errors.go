package domain

import "errors"

var (
	ErrInvalidSession = errors.New("connection does not own identity session")
	ErrPairOffline    = errors.New("neither trace member is registered")
	ErrNoLocation     = errors.New("no stored location")
)
