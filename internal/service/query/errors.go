package query

import "errors"

var (
	ErrEventNotFound = errors.New("event not found")
	ErrUnitNotFound  = errors.New("unit not found")
)
