package store

import "errors"

var (
	// ErrConcurrentModification is returned when optimistic lock fails (version mismatch).
	ErrConcurrentModification = errors.New("arbor: record was modified concurrently")

	// ErrUnsupportedAssociation is returned by Related for associations the
	// table layout cannot answer.
	ErrUnsupportedAssociation = errors.New("arbor: association not supported by dynamodb store")
)
