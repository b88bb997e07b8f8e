package persist

import (
	"context"

	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

// Adapter is the storage capability set the orchestrator needs. One
// implementation exists per storage engine.
type Adapter interface {
	// Load returns the record with the given primary key, or record.ErrNotFound.
	Load(ctx context.Context, d *resource.Descriptor, id string) (*record.Record, error)

	// Save merges attrs into rec and writes it, inserting when rec has no id.
	// A successful insert sets rec.ID. Validation failures are returned as
	// field errors, not as an error; rec.ID stays empty for a failed insert.
	Save(ctx context.Context, d *resource.Descriptor, rec *record.Record, attrs map[string]any) (record.FieldErrors, error)

	// Delete removes the record with the given primary key.
	// Returns record.ErrNotFound when there is nothing to delete.
	Delete(ctx context.Context, d *resource.Descriptor, id string) error

	// Associate records the storage-level link between two persisted records
	// (join rows, relationship records). Keys held in attributes have already
	// been saved by the time it is called.
	Associate(ctx context.Context, owner, related *record.Record, a *resource.Association) error

	// Disassociate removes the storage-level link created by Associate.
	Disassociate(ctx context.Context, owner, related *record.Record, a *resource.Association) error

	// Transaction runs fn in a scope that commits when fn returns nil and
	// rolls back otherwise. Adapters without transactions run fn directly.
	Transaction(ctx context.Context, typ string, fn func(ctx context.Context) error) error
}
