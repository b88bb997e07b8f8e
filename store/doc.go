// Package store provides a DynamoDB storage adapter for nested writes.
//
// Each resource type lives in its own table, keyed by the descriptor's
// primary key attribute. The adapter keeps the bookkeeping attributes
// arbor needs next to the resource attributes:
//
//   - entity_ref: the type-qualified reference ("post#<id>")
//   - version: optimistic lock version, incremented by every write
//   - created_at, updated_at: RFC 3339 timestamps
//   - parent_ref: the owner of a dependent record
//   - ttl: set when the record is destroyed (soft delete)
//   - _unique_pks: keys of the record's unique-constraint items
//
// # Soft Delete and Cascades
//
// Delete never removes an item; it sets its TTL to now. Reads treat an
// expired TTL as missing. Records linked through a dependent or embedded
// association get an item in the relationship table, so the handler in
// package stream can propagate the TTL to them when their owner goes away.
//
// # Unique Attributes
//
// Attributes listed in a descriptor's Unique set are claimed in the unique
// constraint table in the same transaction as the record write. A lost claim
// is reported as a field error ("has already been taken"), not as a storage
// error.
//
// # Configuration
//
// Use [DefaultConfig] for small datasets (NumShards=1, single queries).
// Increase NumShards for owners with many dependents:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16 // 16,000 writes/sec per owner
//
// # Transactions
//
// DynamoDB has no interactive transactions. [Store.Transaction] runs the
// function directly; each record write is atomic on its own.
package store
