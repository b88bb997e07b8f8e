package sqlstore

import "errors"

var (
	// ErrUnknownTable is returned when a descriptor names a table the
	// database doesn't have.
	ErrUnknownTable = errors.New("arbor: unknown table")

	// ErrUnsupportedAssociation is returned by Related for associations whose
	// link isn't stored in any column (embedded resources).
	ErrUnsupportedAssociation = errors.New("arbor: association is not stored by the sql adapter")
)

// MsgUnknownColumn is reported for attributes the table has no column for.
const MsgUnknownColumn = "is not a column"
