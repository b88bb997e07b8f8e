// Package resource holds the static description of resource types and their
// associations.
//
// A [Registry] is built once at process start: every [Descriptor] is
// registered, then [Registry.Seal] checks targets and fills in missing keys
// from the storage schema through a [SchemaInspector]. A sealed registry is
// read-only.
//
// # Association kinds
//
// The [Kind] of an association fully determines where its key lives:
//
//   - belongs_to, polymorphic_belongs_to: the owner holds a scalar key
//     (and, for polymorphic, a discriminator). Related records persist first.
//   - has_many, has_one: the related record holds a scalar key.
//   - many_to_many: the related record holds an array of owner keys, or a
//     join table links the two.
//   - embeds_many, embeds_one: containment, no key.
//
// # Errors
//
//   - [UnknownAssociationError] - association not declared on the resource
//   - [UnresolvableForeignKeyError] - key neither configured nor derivable
//   - [ErrUnknownResource] - resource type not registered
package resource
