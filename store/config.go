package store

import "github.com/jacentio/arbor/record"

const (
	defaultRelationshipTable = "arbor_relationships"
	defaultUniqueTable       = "arbor_unique_constraints"
	maxShards                = 256
)

// Config holds configuration for the Store. Record tables come from the
// resource descriptors; only the two bookkeeping tables are named here.
type Config struct {
	// RelationshipTable holds one item per link of a dependent association,
	// partitioned by owner ref and shard. The stream handler reads it to
	// find the records to expire with their owner.
	// Default: "arbor_relationships"
	RelationshipTable string

	// UniqueTable holds one claim item per unique attribute value. A claim
	// that already exists turns into a "has already been taken" field error.
	// Default: "arbor_unique_constraints"
	UniqueTable string

	// NumShards spreads the links of one owner over this many partitions.
	// QueryAllChildren reads all of them in parallel, so owners with many
	// dependents trade read fan-out for write throughput.
	// Default: 1, Max: 256
	NumShards int

	// Validators run against every record before it is written.
	Validators record.Validators
}

// DefaultConfig returns a single-shard configuration using the default
// bookkeeping tables.
func DefaultConfig() Config {
	return Config{
		RelationshipTable: defaultRelationshipTable,
		UniqueTable:       defaultUniqueTable,
		NumShards:         1,
	}
}

// validate fills in missing table names and clamps NumShards to [1, 256].
func (c *Config) validate() {
	if c.RelationshipTable == "" {
		c.RelationshipTable = defaultRelationshipTable
	}
	if c.UniqueTable == "" {
		c.UniqueTable = defaultUniqueTable
	}
	c.NumShards = min(max(c.NumShards, 1), maxShards)
}
