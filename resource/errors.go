package resource

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownResource is returned when a resource type is not registered.
	ErrUnknownResource = errors.New("arbor: unknown resource")

	// ErrUnknownAssociation is matched by every UnknownAssociationError.
	ErrUnknownAssociation = errors.New("arbor: unknown association")

	// ErrUnresolvableForeignKey is matched by every UnresolvableForeignKeyError.
	ErrUnresolvableForeignKey = errors.New("arbor: unresolvable foreign key")

	// ErrInvalidDescriptor is returned when a descriptor is structurally wrong
	// (missing type, unknown kind, duplicate association).
	ErrInvalidDescriptor = errors.New("arbor: invalid resource descriptor")

	// ErrDuplicateResource is returned when a resource type is registered twice.
	ErrDuplicateResource = errors.New("arbor: resource already registered")

	// ErrSealed is returned when registering after Seal.
	ErrSealed = errors.New("arbor: registry is sealed")
)

// UnknownAssociationError reports an association name a resource doesn't declare.
type UnknownAssociationError struct {
	Resource    string
	Association string
}

func (e *UnknownAssociationError) Error() string {
	return fmt.Sprintf("arbor: unknown association %q on resource %q", e.Association, e.Resource)
}

func (e *UnknownAssociationError) Is(target error) bool {
	return target == ErrUnknownAssociation
}

// UnresolvableForeignKeyError reports an association whose key could not be
// determined from configuration or the storage schema.
type UnresolvableForeignKeyError struct {
	Resource    string
	Association string
	Reason      string
}

func (e *UnresolvableForeignKeyError) Error() string {
	return fmt.Sprintf("arbor: cannot resolve foreign key for association %q on resource %q: %s",
		e.Association, e.Resource, e.Reason)
}

func (e *UnresolvableForeignKeyError) Is(target error) bool {
	return target == ErrUnresolvableForeignKey
}
