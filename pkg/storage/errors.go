package storage

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed is returned when connection to storage fails
	ErrConnectionFailed = errors.New("connection failed")

	// ErrQueryFailed is returned when a query fails
	ErrQueryFailed = errors.New("query failed")

	// ErrNotFound is returned when an entry or user is not found
	ErrNotFound = errors.New("not found")

	// ErrDuplicateDomain is returned when inserting a domain that already
	// has a list entry
	ErrDuplicateDomain = errors.New("domain already listed")

	// ErrInvalidEntry is returned when an entry violates the source/expiry
	// invariants
	ErrInvalidEntry = errors.New("invalid list entry")

	// ErrBufferFull is returned when the log write buffer is full
	ErrBufferFull = errors.New("buffer full")

	// ErrClosed is returned when attempting to use a closed store
	ErrClosed = errors.New("store is closed")
)
