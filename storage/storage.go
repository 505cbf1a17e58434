// Package storage abstracts the destination exported files are written to.
//
// Two backends exist. The local backend stages a transaction in a sibling
// directory and merges it into place on Commit. The s3 backend writes every
// file straight to its final key, so a failure in the middle of a
// transaction can leave some objects at the new height and others at the
// old one. Callers recover from that by replaying from the status height.
package storage

import (
	"context"
	"errors"

	"github.com/chainexport/csvstore/charset"
)

var (
	// ErrConflict marks transient failures that are safe to retry.
	ErrConflict = errors.New("transient storage conflict")

	// ErrTransactionClosed is returned when a committed or rolled back
	// transaction is used again.
	ErrTransactionClosed = errors.New("storage transaction already closed")

	// ErrMissingCredentials is returned when a backend lacks required settings.
	ErrMissingCredentials = errors.New("missing storage credentials")

	// ErrUnknownScheme is returned when no backend handles a destination.
	ErrUnknownScheme = errors.New("unknown storage scheme")
)

// FS is a destination for exported files. Names are slash separated and
// relative to the destination root.
type FS interface {
	// Exist reports whether name, or anything under it, exists.
	Exist(ctx context.Context, name string) (bool, error)

	// ReadFile returns the decoded contents of name. A missing file yields an
	// error matching fs.ErrNotExist.
	ReadFile(ctx context.Context, name string, enc charset.Encoding) (string, error)

	// WriteFile encodes and writes data to name, replacing any previous content.
	WriteFile(ctx context.Context, name string, data string, enc charset.Encoding) error

	// Begin starts a transaction whose files are placed under dir.
	Begin(ctx context.Context, dir string) (Transaction, error)
}

// Transaction groups file writes under one directory.
type Transaction interface {
	// WriteFile writes name relative to the transaction directory.
	WriteFile(ctx context.Context, name string, data string, enc charset.Encoding) error

	// Commit makes the written files visible.
	Commit(ctx context.Context) error

	// Rollback discards what can be discarded and returns cause, joined with
	// any cleanup failure.
	Rollback(ctx context.Context, cause error) error
}

// IsConflict reports whether err is a transient conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
