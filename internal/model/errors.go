package model

import "errors"

var (
	// ErrNotFound covers a milestone or member that does not exist in the caller's group.
	ErrNotFound = errors.New("not found")
	// ErrValidation covers malformed input such as target data that does not fit its type.
	ErrValidation = errors.New("validation failed")
)
