package hold

import "errors"

var (
	ErrUnitUnavailable = errors.New("unit already held or booked")
	ErrUnitNotFound    = errors.New("unit not found")
	ErrHoldNotFound    = errors.New("hold not found")
	ErrRateLimited     = errors.New("rate limited")
)
