package resource

import "sort"

// DefaultPrimaryKey is used when a descriptor or association doesn't name one.
const DefaultPrimaryKey = "id"

// Association describes one named association of a resource type.
type Association struct {
	// Name is the relationship name in payloads (e.g., "tags").
	Name string `yaml:"name"`

	// Kind determines key placement and persistence order.
	Kind Kind `yaml:"kind"`

	// Target is the related resource type. Unused for polymorphic kinds.
	Target string `yaml:"target,omitempty"`

	// Targets maps discriminator values to resource types (polymorphic only).
	Targets map[string]string `yaml:"targets,omitempty"`

	// ForeignKey is the scalar key attribute (owner side for belongs_to,
	// related side for has_many/has_one).
	ForeignKey string `yaml:"foreign_key,omitempty"`

	// PrimaryKey is the key attribute the foreign key points at.
	PrimaryKey string `yaml:"primary_key,omitempty"`

	// ForeignKeysAttribute is the array-of-ids attribute on the related
	// record (many_to_many, e.g. "post_ids").
	ForeignKeysAttribute string `yaml:"foreign_keys_attribute,omitempty"`

	// DiscriminatorAttribute holds the related type (polymorphic only, e.g. "commentable_type").
	DiscriminatorAttribute string `yaml:"discriminator_attribute,omitempty"`

	// JoinTable, JoinOwnerKey and JoinRelatedKey describe a relational
	// many_to_many link table.
	JoinTable      string `yaml:"join_table,omitempty"`
	JoinOwnerKey   string `yaml:"join_owner_key,omitempty"`
	JoinRelatedKey string `yaml:"join_related_key,omitempty"`

	// Dependent marks related records that are destroyed with the owner.
	Dependent bool `yaml:"dependent,omitempty"`
}

// TargetTypes returns the related resource types, sorted.
func (a *Association) TargetTypes() []string {
	if !a.Kind.Polymorphic() {
		return []string{a.Target}
	}
	types := make([]string, 0, len(a.Targets))
	for _, t := range a.Targets {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Discriminator returns the discriminator value stored for a related type.
func (a *Association) Discriminator(typ string) (string, bool) {
	for value, t := range a.Targets {
		if t == typ {
			return value, true
		}
	}
	return "", false
}

// Descriptor describes a resource type and its associations.
type Descriptor struct {
	// Type is the resource type name (e.g., "post").
	Type string `yaml:"type"`

	// Table is the storage table or collection. Defaults to Type.
	Table string `yaml:"table,omitempty"`

	// PrimaryKey is the primary key attribute. Defaults to "id".
	PrimaryKey string `yaml:"primary_key,omitempty"`

	// Unique lists attributes whose values must be unique per type.
	Unique []string `yaml:"unique,omitempty"`

	// Associations in declaration order.
	Associations []*Association `yaml:"associations,omitempty"`

	index map[string]*Association
}

// Association returns the named association.
func (d *Descriptor) Association(name string) (*Association, bool) {
	if d.index == nil {
		for _, a := range d.Associations {
			if a.Name == name {
				return a, true
			}
		}
		return nil, false
	}
	a, ok := d.index[name]
	return a, ok
}
