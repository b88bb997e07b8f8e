// Package shard computes partition keys for the relationship and unique
// constraint tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// RelationshipPK returns the partition key of the relationship item linking
// ownerRef to childRef. Children of one owner spread across numShards
// partitions by a hash of childRef; numShards <= 1 puts them all in "00".
func RelationshipPK(ownerRef, childRef string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", ownerRef)
	}
	h := fnv.New32a()
	h.Write([]byte(childRef))
	return fmt.Sprintf("%s#%02x", ownerRef, h.Sum32()%uint32(numShards))
}

// ShardPKs returns every relationship partition key of ownerRef, in shard order.
func ShardPKs(ownerRef string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = fmt.Sprintf("%s#%02x", ownerRef, i)
	}
	return pks
}

// UniqueConstraintPK returns the partition key claiming value for a unique
// attribute of a resource type within scope (the resource's table).
// The key is a 128-bit hash so claims spread over all partitions.
func UniqueConstraintPK(scope, typ, attr, value string) string {
	data := fmt.Sprintf("%s#%s#%s#%s", scope, typ, attr, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16])
}
