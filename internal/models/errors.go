package models

import "errors"

// Error taxonomy shared by every layer. Stores and services wrap these with
// context; the HTTP layer maps them to status codes with errors.Is.
var (
	ErrValidation       = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrPriceUnavailable = errors.New("price feed unavailable")
)
