package persist

import (
	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

// setEdit adds or removes one key in an array-of-keys attribute.
type setEdit struct {
	attr   string
	key    string
	remove bool
}

// wireOwnerKey writes the key of a resolved pre-group record into the
// owner's attributes. A severed relationship nulls the key (and the
// discriminator) instead of leaving a dangling reference.
func wireOwnerKey(attrs map[string]any, a *resource.Association, related *Result) {
	if a.Kind.Placement() != resource.PlacementOwner {
		return
	}
	if related.Operation.Severs() {
		attrs[a.ForeignKey] = nil
		if a.Kind.Polymorphic() {
			attrs[a.DiscriminatorAttribute] = nil
		}
		return
	}
	if !related.Object.Persisted() {
		return
	}
	attrs[a.ForeignKey] = related.Object.ID
	if a.Kind.Polymorphic() {
		value, _ := a.Discriminator(related.Type)
		attrs[a.DiscriminatorAttribute] = value
	}
}

// wireRelatedKey writes the owner's key into the attributes of a post-group
// record. Array-valued keys are returned as edits, applied once the current
// stored value is known.
func wireRelatedKey(attrs map[string]any, a *resource.Association, owner *record.Record, op payload.Operation) []setEdit {
	switch a.Kind.Placement() {
	case resource.PlacementRelated:
		if op.Severs() {
			attrs[a.ForeignKey] = nil
		} else if owner.Persisted() {
			attrs[a.ForeignKey] = owner.ID
		}
	case resource.PlacementRelatedSet:
		if a.ForeignKeysAttribute == "" || !owner.Persisted() {
			return nil
		}
		return []setEdit{{attr: a.ForeignKeysAttribute, key: owner.ID, remove: op.Severs()}}
	}
	return nil
}

// applySetEdits resolves array edits into attrs. The base value is the one
// in the payload when given, else the stored one. Keys are kept as a set.
func applySetEdits(attrs map[string]any, stored *record.Record, edits []setEdit) {
	for _, e := range edits {
		base, given := attrs[e.attr]
		if !given && stored != nil {
			base = stored.Get(e.attr)
		}
		var set []string
		for _, k := range record.KeySet(base) {
			set = record.AddKey(set, k)
		}
		if e.remove {
			set = record.RemoveKey(set, e.key)
		} else {
			set = record.AddKey(set, e.key)
		}
		if set == nil {
			set = []string{}
		}
		attrs[e.attr] = set
	}
}
