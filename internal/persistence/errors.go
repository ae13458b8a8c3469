package persistence

import "errors"

var (
	ErrConflict = errors.New("store conflict")
	ErrNotFound = errors.New("store record not found")
)
