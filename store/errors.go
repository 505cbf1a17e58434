package store

import "errors"

var (
	// ErrMissingTable is returned when rows are written to a table that was
	// not registered with the database.
	ErrMissingTable = errors.New("missing table")

	// ErrStoreClosed is returned when a Store is used after its Transact
	// call returned.
	ErrStoreClosed = errors.New("store used after transaction closed")

	// ErrCorruptStatus is returned when the status record cannot be parsed.
	ErrCorruptStatus = errors.New("corrupt status record")

	// ErrNotConnected is returned when Transact or Advance is called before
	// Connect.
	ErrNotConnected = errors.New("database not connected")
)
