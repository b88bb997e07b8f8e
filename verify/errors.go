package verify

import (
	"errors"
	"fmt"
)

var (
	// ErrUnmatchedIdentity is matched by every UnmatchedIdentityError.
	ErrUnmatchedIdentity = errors.New("arbor: unmatched identity")

	// ErrUnidentifiedRelationshipItem is matched by every UnidentifiedRelationshipItemError.
	ErrUnidentifiedRelationshipItem = errors.New("arbor: unidentified relationship item")
)

// UnmatchedIdentityError reports a payload node that no persisted record
// answers to: an id that isn't among the related records, or a temp-id that
// never resolved to a created record.
type UnmatchedIdentityError struct {
	Path   string
	ID     string
	TempID string
}

func (e *UnmatchedIdentityError) Error() string {
	where := e.Path
	if where == "" {
		where = "root"
	}
	if e.TempID != "" {
		return fmt.Sprintf("arbor: no record for temp_id %q at %s", e.TempID, where)
	}
	return fmt.Sprintf("arbor: no record for id %q at %s", e.ID, where)
}

func (e *UnmatchedIdentityError) Is(target error) bool {
	return target == ErrUnmatchedIdentity
}

// UnidentifiedRelationshipItemError reports a relationship entry with
// neither id nor temp-id.
type UnidentifiedRelationshipItemError struct {
	Path string
}

func (e *UnidentifiedRelationshipItemError) Error() string {
	return fmt.Sprintf("arbor: relationship item at %s has neither id nor temp_id", e.Path)
}

func (e *UnidentifiedRelationshipItemError) Is(target error) bool {
	return target == ErrUnidentifiedRelationshipItem
}
