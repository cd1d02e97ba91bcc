package types

import "errors"

// Message model errors
var (
	// ErrUnknownRole is returned when a role name matches no known alias
	ErrUnknownRole = errors.New("unknown message role")
)
