package errors

import "errors"

// Configuration errors. Raised before any sync step runs.
var (
	ErrMissingConfig = errors.New("missing or invalid configuration")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)

// Reconciliation errors.
var (
	ErrNotFound    = errors.New("no matching entity")
	ErrInvalidPath = errors.New("invalid item path")
)
