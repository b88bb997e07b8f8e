// Package persist walks a payload tree and writes every node through a
// storage Adapter.
//
// For each node the orchestrator persists, in order:
//
//   - related records whose key the node holds (belongs_to and polymorphic
//     belongs_to), so their keys can be written into the node;
//   - the node itself, created, updated, destroyed or merely resolved;
//   - related records that hold the node's key (has_many, has_one,
//     many_to_many and embedded), each linked to the node.
//
// Destroyed records are deleted last. A destroyed child is deleted after
// its link to the owner is removed; a destroyed belongs_to parent after the
// owner's key has been cleared, and not at all when that save failed.
//
// Records are cached per request by id and temp-id, so a temp-id referenced
// twice is created once. A referenced id that doesn't exist leaves the node
// unresolved rather than failing the walk; the verify package reports it.
//
// Adapters implement Load, Save, Delete, Associate, Disassociate and
// Transaction. The memstore, sqlstore and store (DynamoDB) packages are the
// provided implementations.
package persist
