package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidSnapshot = errors.New("invalid market snapshot")
	ErrInvalidPrice    = errors.New("invalid price")
)
