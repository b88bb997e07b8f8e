package payload

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRelationship is matched by every MalformedRelationshipError.
	ErrMalformedRelationship = errors.New("arbor: malformed relationship")

	// ErrMalformedDocument is returned by Decode for documents that aren't node shaped.
	ErrMalformedDocument = errors.New("arbor: malformed payload document")
)

var (
	errBoth              = errors.New("both id and temp_id given")
	errMissingIdentity   = errors.New("neither id nor temp_id given")
	errCreateNeedsTempID = errors.New("create requires temp_id and no id")
	errRootCreateWithID  = errors.New("create must not carry an id")
)

func errUnknownOperation(o Operation) error {
	return fmt.Errorf("unknown operation %q", string(o))
}

func errNeedsID(o Operation) error {
	return fmt.Errorf("%s requires id and no temp_id", o)
}

// MalformedRelationshipError reports a relationship entry that can't be
// processed: missing or conflicting identity, unknown operation, or a type
// the association doesn't accept. Index is -1 for singular relationships
// and for the root node.
type MalformedRelationshipError struct {
	Resource    string
	Association string
	Index       int
	Reason      string
}

func (e *MalformedRelationshipError) Error() string {
	if e.Association == "" {
		return fmt.Sprintf("arbor: malformed %q root node: %s", e.Resource, e.Reason)
	}
	if e.Index < 0 {
		return fmt.Sprintf("arbor: malformed relationship %q on resource %q: %s", e.Association, e.Resource, e.Reason)
	}
	return fmt.Sprintf("arbor: malformed relationship %q[%d] on resource %q: %s", e.Association, e.Index, e.Resource, e.Reason)
}

func (e *MalformedRelationshipError) Is(target error) bool {
	return target == ErrMalformedRelationship
}
