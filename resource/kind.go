package resource

// Kind is the association kind.
type Kind string

const (
	HasMany              Kind = "has_many"
	HasOne               Kind = "has_one"
	BelongsTo            Kind = "belongs_to"
	ManyToMany           Kind = "many_to_many"
	EmbedsMany           Kind = "embeds_many"
	EmbedsOne            Kind = "embeds_one"
	PolymorphicBelongsTo Kind = "polymorphic_belongs_to"
)

// Kinds lists every supported association kind.
var Kinds = []Kind{HasMany, HasOne, BelongsTo, ManyToMany, EmbedsMany, EmbedsOne, PolymorphicBelongsTo}

// Placement describes which side of an association carries the key.
type Placement int

const (
	// PlacementNone is used by embedded kinds: containment, no key.
	PlacementNone Placement = iota

	// PlacementOwner means the owner holds a scalar key pointing at the related record.
	PlacementOwner

	// PlacementRelated means the related record holds a scalar key pointing at the owner.
	PlacementRelated

	// PlacementRelatedSet means the related record holds an array of owner keys
	// (or a join table does).
	PlacementRelatedSet
)

// Placement returns the key placement for the kind. This is the only place
// kinds are mapped to key behavior; callers switch on the Placement.
func (k Kind) Placement() Placement {
	switch k {
	case BelongsTo, PolymorphicBelongsTo:
		return PlacementOwner
	case HasMany, HasOne:
		return PlacementRelated
	case ManyToMany:
		return PlacementRelatedSet
	default:
		return PlacementNone
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ResolvesFirst reports whether the related record must be persisted before
// the owner (its key is written into the owner).
func (k Kind) ResolvesFirst() bool {
	return k.Placement() == PlacementOwner
}

// Singular reports whether the association holds at most one related record.
func (k Kind) Singular() bool {
	switch k {
	case HasOne, BelongsTo, EmbedsOne, PolymorphicBelongsTo:
		return true
	}
	return false
}

// Embedded reports whether the kind is a containment kind with no key.
func (k Kind) Embedded() bool {
	return k == EmbedsMany || k == EmbedsOne
}

// Polymorphic reports whether the related type is chosen by a discriminator.
func (k Kind) Polymorphic() bool {
	return k == PolymorphicBelongsTo
}
