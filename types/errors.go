package types

import "errors"

var (
	// ErrNotInteger is returned when a non-integral number is given to the int type.
	ErrNotInteger = errors.New("value is not an integer")

	// ErrNilValue is returned when a non-nullable column receives no value.
	ErrNilValue = errors.New("missing value for non-nullable type")

	// ErrUnsupportedValue is returned when the Go value does not belong to the type's domain.
	ErrUnsupportedValue = errors.New("unsupported value for type")
)
