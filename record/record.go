// Package record defines the generic object that flows between payload nodes,
// the persistence orchestrator and storage adapters.
package record

import "errors"

// ErrNotFound is returned by adapters when a record doesn't exist or is deleted.
var ErrNotFound = errors.New("arbor: record not found")

// Record is a persisted (or about to be persisted) resource instance.
type Record struct {
	// Type is the resource type name (e.g., "post").
	Type string

	// ID is the durable primary key as text. Empty until the record is inserted.
	ID string

	// TempID is the client-supplied temporary id the record was created under.
	TempID string

	// Version is the optimistic lock version, for adapters that track one.
	Version int64

	// Attributes holds the stored attribute values, keyed by attribute name.
	Attributes map[string]any

	// Errors holds field errors reported by the last save.
	Errors FieldErrors

	related map[string][]*Record
}

// New returns an empty, unsaved record of the given type.
func New(typ string) *Record {
	return &Record{
		Type:       typ,
		Attributes: make(map[string]any),
	}
}

// Persisted reports whether the record has a durable id.
func (r *Record) Persisted() bool {
	return r != nil && r.ID != ""
}

// Valid reports whether the last save produced no field errors.
func (r *Record) Valid() bool {
	return len(r.Errors) == 0
}

// Ref returns the type-qualified reference (e.g., "post#42").
func (r *Record) Ref() string {
	return r.Type + "#" + r.ID
}

// Get returns an attribute value, or nil.
func (r *Record) Get(attr string) any {
	if r.Attributes == nil {
		return nil
	}
	return r.Attributes[attr]
}

// Set writes an attribute value.
func (r *Record) Set(attr string, v any) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	r.Attributes[attr] = v
}

// Link adds other to the in-memory related set for an association.
// Linking the same record twice is a no-op.
func (r *Record) Link(association string, other *Record) {
	if other == nil {
		return
	}
	for _, existing := range r.related[association] {
		if same(existing, other) {
			return
		}
	}
	if r.related == nil {
		r.related = make(map[string][]*Record)
	}
	r.related[association] = append(r.related[association], other)
}

// Unlink removes other from the in-memory related set for an association.
func (r *Record) Unlink(association string, other *Record) {
	list := r.related[association]
	for i, existing := range list {
		if same(existing, other) {
			r.related[association] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Related returns the records linked under an association, in link order.
func (r *Record) Related(association string) []*Record {
	if r == nil {
		return nil
	}
	return r.related[association]
}

// Clone returns a copy of the record with its own attribute map.
// Related links and errors are not copied.
func (r *Record) Clone() *Record {
	c := &Record{
		Type:       r.Type,
		ID:         r.ID,
		TempID:     r.TempID,
		Version:    r.Version,
		Attributes: make(map[string]any, len(r.Attributes)),
	}
	for k, v := range r.Attributes {
		c.Attributes[k] = v
	}
	return c
}

func same(a, b *Record) bool {
	if a == b {
		return true
	}
	if a.Type != b.Type {
		return false
	}
	if a.ID != "" {
		return a.ID == b.ID
	}
	return a.TempID != "" && a.TempID == b.TempID
}
