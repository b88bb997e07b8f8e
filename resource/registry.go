package resource

import (
	"context"
	"fmt"
)

// SchemaInspector answers foreign-key questions from the storage schema.
// It is consulted by Seal for associations registered without keys.
type SchemaInspector interface {
	// ForeignKey returns the single column of table that references refTable.
	// ok is false when there is no such column or more than one.
	ForeignKey(ctx context.Context, table, refTable string) (column string, ok bool, err error)
}

// Registry holds every resource descriptor. It is built once at startup:
// Register all descriptors, then Seal. After Seal the registry is read-only
// and safe for concurrent use.
type Registry struct {
	descriptors map[string]*Descriptor
	order       []string
	sealed      bool
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds a resource descriptor. The descriptor is copied; later
// changes by the caller have no effect.
func (r *Registry) Register(d Descriptor) error {
	if r.sealed {
		return ErrSealed
	}
	if d.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidDescriptor)
	}
	if _, exists := r.descriptors[d.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, d.Type)
	}

	desc := &Descriptor{
		Type:       d.Type,
		Table:      d.Table,
		PrimaryKey: d.PrimaryKey,
		Unique:     append([]string(nil), d.Unique...),
		index:      make(map[string]*Association, len(d.Associations)),
	}
	if desc.Table == "" {
		desc.Table = d.Type
	}
	if desc.PrimaryKey == "" {
		desc.PrimaryKey = DefaultPrimaryKey
	}

	for _, a := range d.Associations {
		if a == nil || a.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed association", ErrInvalidDescriptor, d.Type)
		}
		if !a.Kind.Valid() {
			return fmt.Errorf("%w: %s.%s has unknown kind %q", ErrInvalidDescriptor, d.Type, a.Name, a.Kind)
		}
		if _, dup := desc.index[a.Name]; dup {
			return fmt.Errorf("%w: %s.%s declared twice", ErrInvalidDescriptor, d.Type, a.Name)
		}
		if a.Kind.Polymorphic() && len(a.Targets) == 0 {
			return fmt.Errorf("%w: %s.%s is polymorphic without targets", ErrInvalidDescriptor, d.Type, a.Name)
		}
		if !a.Kind.Polymorphic() && a.Target == "" {
			return fmt.Errorf("%w: %s.%s has no target", ErrInvalidDescriptor, d.Type, a.Name)
		}
		if a.Dependent && a.Kind.Placement() != PlacementRelated && a.Kind.Placement() != PlacementNone {
			return fmt.Errorf("%w: %s.%s: only has_many, has_one and embedded associations can be dependent", ErrInvalidDescriptor, d.Type, a.Name)
		}

		assoc := *a
		assoc.Targets = nil
		for k, v := range a.Targets {
			if assoc.Targets == nil {
				assoc.Targets = make(map[string]string, len(a.Targets))
			}
			assoc.Targets[k] = v
		}
		if assoc.PrimaryKey == "" {
			assoc.PrimaryKey = DefaultPrimaryKey
		}
		desc.Associations = append(desc.Associations, &assoc)
		desc.index[assoc.Name] = &assoc
	}

	r.descriptors[desc.Type] = desc
	r.order = append(r.order, desc.Type)
	return nil
}

// RegisterAll registers every descriptor, stopping at the first error.
func (r *Registry) RegisterAll(ds []Descriptor) error {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Seal checks that every association target is registered, fills in missing
// keys from the inspector, and makes the registry read-only. inspector may be
// nil, in which case every key must be configured explicitly.
func (r *Registry) Seal(ctx context.Context, inspector SchemaInspector) error {
	if r.sealed {
		return nil
	}
	for _, typ := range r.order {
		owner := r.descriptors[typ]
		for _, a := range owner.Associations {
			for _, t := range a.TargetTypes() {
				if _, ok := r.descriptors[t]; !ok {
					return fmt.Errorf("%w: %s (target of %s.%s)", ErrUnknownResource, t, owner.Type, a.Name)
				}
			}
			if err := r.resolveKeys(ctx, owner, a, inspector); err != nil {
				return err
			}
		}
	}
	r.sealed = true
	return nil
}

// resolveKeys fills in the key attributes an association needs for its
// placement. Guessing is never allowed: a key that is neither configured nor
// unambiguous in the schema is an error.
func (r *Registry) resolveKeys(ctx context.Context, owner *Descriptor, a *Association, inspector SchemaInspector) error {
	unresolvable := func(reason string) error {
		return &UnresolvableForeignKeyError{Resource: owner.Type, Association: a.Name, Reason: reason}
	}

	lookup := func(table, refTable string) (string, error) {
		if inspector == nil {
			return "", unresolvable("no foreign key configured and no schema inspector available")
		}
		col, ok, err := inspector.ForeignKey(ctx, table, refTable)
		if err != nil {
			return "", fmt.Errorf("inspect %s -> %s: %w", table, refTable, err)
		}
		if !ok {
			return "", unresolvable(fmt.Sprintf("table %q has no unique reference to %q", table, refTable))
		}
		return col, nil
	}

	switch a.Kind.Placement() {
	case PlacementOwner:
		if a.Kind.Polymorphic() {
			if a.ForeignKey == "" || a.DiscriminatorAttribute == "" {
				return unresolvable("polymorphic associations need foreign_key and discriminator_attribute")
			}
			return nil
		}
		if a.ForeignKey != "" {
			return nil
		}
		col, err := lookup(owner.Table, r.descriptors[a.Target].Table)
		if err != nil {
			return err
		}
		a.ForeignKey = col

	case PlacementRelated:
		if a.ForeignKey != "" {
			return nil
		}
		col, err := lookup(r.descriptors[a.Target].Table, owner.Table)
		if err != nil {
			return err
		}
		a.ForeignKey = col

	case PlacementRelatedSet:
		if a.JoinTable == "" {
			if a.ForeignKeysAttribute == "" {
				return unresolvable("many_to_many needs foreign_keys_attribute or join_table")
			}
			return nil
		}
		if a.JoinOwnerKey == "" {
			col, err := lookup(a.JoinTable, owner.Table)
			if err != nil {
				return err
			}
			a.JoinOwnerKey = col
		}
		if a.JoinRelatedKey == "" {
			col, err := lookup(a.JoinTable, r.descriptors[a.Target].Table)
			if err != nil {
				return err
			}
			a.JoinRelatedKey = col
		}
	}
	return nil
}

// Sealed reports whether Seal has completed.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Lookup returns the descriptor for a resource type.
func (r *Registry) Lookup(typ string) (*Descriptor, error) {
	d, ok := r.descriptors[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, typ)
	}
	return d, nil
}

// Describe returns the association descriptor for a resource's association.
func (r *Registry) Describe(typ, association string) (*Association, error) {
	d, err := r.Lookup(typ)
	if err != nil {
		return nil, err
	}
	a, ok := d.Association(association)
	if !ok {
		return nil, &UnknownAssociationError{Resource: typ, Association: association}
	}
	return a, nil
}

// Target returns the related descriptor of an association. For polymorphic
// associations typ selects the target and must be one of its Targets; for
// other kinds typ may be empty or must equal the target.
func (r *Registry) Target(a *Association, typ string) (*Descriptor, error) {
	if a.Kind.Polymorphic() {
		if _, ok := a.Discriminator(typ); !ok {
			return nil, fmt.Errorf("%w: %q is not a target of %s", ErrUnknownResource, typ, a.Name)
		}
		return r.Lookup(typ)
	}
	if typ != "" && typ != a.Target {
		return nil, fmt.Errorf("%w: %q is not a target of %s", ErrUnknownResource, typ, a.Name)
	}
	return r.Lookup(a.Target)
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, typ := range r.order {
		out = append(out, r.descriptors[typ])
	}
	return out
}

// DependentsOf returns the dependent associations of a resource type.
func (r *Registry) DependentsOf(typ string) []*Association {
	d, ok := r.descriptors[typ]
	if !ok {
		return nil
	}
	var out []*Association
	for _, a := range d.Associations {
		if a.Dependent {
			out = append(out, a)
		}
	}
	return out
}
