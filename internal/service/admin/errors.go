package admin

import "errors"

var (
	ErrEventConflict = errors.New("event conflict")
	ErrUnitsConflict = errors.New("units conflict")
)
