package payment

import "errors"

var (
	ErrHoldNotFound   = errors.New("hold not found")
	ErrHoldExpired    = errors.New("hold expired")
	ErrIntentExists   = errors.New("hold already has a finished intent")
	ErrIntentNotFound = errors.New("payment intent not found")
)
