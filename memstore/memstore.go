// Package memstore provides an in-memory storage adapter with snapshot
// transactions. It is meant for tests and for embedding arbor in processes
// that keep their state in memory.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

type joinKey struct {
	owner   string
	related string
}

type state struct {
	// tables holds records by type then id.
	tables map[string]map[string]*record.Record
	// joins holds many_to_many links by join table.
	joins map[string]map[joinKey]struct{}
	// embedded maps an embedded record ref to its container ref.
	embedded map[string]string
}

func newState() *state {
	return &state{
		tables:   make(map[string]map[string]*record.Record),
		joins:    make(map[string]map[joinKey]struct{}),
		embedded: make(map[string]string),
	}
}

func (s *state) clone() *state {
	c := newState()
	for typ, rows := range s.tables {
		c.tables[typ] = make(map[string]*record.Record, len(rows))
		for id, rec := range rows {
			c.tables[typ][id] = rec.Clone()
		}
	}
	for table, links := range s.joins {
		c.joins[table] = make(map[joinKey]struct{}, len(links))
		for k := range links {
			c.joins[table][k] = struct{}{}
		}
	}
	for k, v := range s.embedded {
		c.embedded[k] = v
	}
	return c
}

// Store is an in-memory persist.Adapter.
type Store struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	state      *state
	validators record.Validators
}

// New creates an empty Store. validators may be nil.
func New(validators record.Validators) *Store {
	return &Store{
		state:      newState(),
		validators: validators,
	}
}

// Put stores a copy of rec as is, bypassing validation. Used to seed data.
// A record without an id gets a generated one.
func (s *Store) Put(rec *record.Record) *record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.rows(rec.Type)[rec.ID] = rec.Clone()
	return rec
}

// Count returns the number of stored records of a type.
func (s *Store) Count(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.tables[typ])
}

func (s *Store) rows(typ string) map[string]*record.Record {
	rows, ok := s.state.tables[typ]
	if !ok {
		rows = make(map[string]*record.Record)
		s.state.tables[typ] = rows
	}
	return rows
}

// Load implements persist.Adapter.
func (s *Store) Load(_ context.Context, d *resource.Descriptor, id string) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.state.tables[d.Type][id]
	if !ok {
		return nil, record.ErrNotFound
	}
	return rec.Clone(), nil
}

// Save implements persist.Adapter.
func (s *Store) Save(_ context.Context, d *resource.Descriptor, rec *record.Record, attrs map[string]any) (record.FieldErrors, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range attrs {
		rec.Set(k, v)
	}
	if !rec.Persisted() {
		if pk := record.KeyString(rec.Get(d.PrimaryKey)); pk != "" {
			if _, taken := s.state.tables[d.Type][pk]; taken {
				return record.FieldErrors{d.PrimaryKey: {record.MsgTaken}}, nil
			}
		}
	}

	fe := s.validators.Validate(rec)
	for _, attr := range d.Unique {
		if s.taken(d.Type, rec, attr) {
			if fe == nil {
				fe = record.FieldErrors{}
			}
			fe.Add(attr, record.MsgTaken)
		}
	}
	if len(fe) > 0 {
		return fe, nil
	}

	if !rec.Persisted() {
		rec.ID = record.KeyString(rec.Get(d.PrimaryKey))
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.Set(d.PrimaryKey, rec.ID)
	}
	rec.Version++
	s.rows(d.Type)[rec.ID] = rec.Clone()
	return nil, nil
}

// taken reports whether another record of typ has the same value for attr.
func (s *Store) taken(typ string, rec *record.Record, attr string) bool {
	v := record.KeyString(rec.Get(attr))
	if v == "" {
		return false
	}
	for id, other := range s.state.tables[typ] {
		if id != rec.ID && record.KeyString(other.Get(attr)) == v {
			return true
		}
	}
	return false
}

// Delete implements persist.Adapter.
func (s *Store) Delete(_ context.Context, d *resource.Descriptor, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.state.tables[d.Type]
	if _, ok := rows[id]; !ok {
		return record.ErrNotFound
	}
	delete(rows, id)
	delete(s.state.embedded, d.Type+"#"+id)
	return nil
}

// Associate implements persist.Adapter. Keys held in attributes are already
// stored by Save; only join rows and embedding are recorded here.
func (s *Store) Associate(_ context.Context, owner, related *record.Record, a *resource.Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch a.Kind.Placement() {
	case resource.PlacementRelatedSet:
		if a.JoinTable == "" {
			return nil
		}
		links, ok := s.state.joins[a.JoinTable]
		if !ok {
			links = make(map[joinKey]struct{})
			s.state.joins[a.JoinTable] = links
		}
		links[joinKey{owner: owner.ID, related: related.ID}] = struct{}{}
	case resource.PlacementNone:
		s.state.embedded[related.Ref()] = owner.Ref()
	}
	return nil
}

// Disassociate implements persist.Adapter.
func (s *Store) Disassociate(_ context.Context, owner, related *record.Record, a *resource.Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch a.Kind.Placement() {
	case resource.PlacementRelatedSet:
		delete(s.state.joins[a.JoinTable], joinKey{owner: owner.ID, related: related.ID})
	case resource.PlacementNone:
		if s.state.embedded[related.Ref()] == owner.Ref() {
			delete(s.state.embedded, related.Ref())
		}
	}
	return nil
}

// txKey marks a context inside a transaction of one Store.
type txKey struct{ store *Store }

// Transaction implements persist.Adapter. The whole state is snapshotted
// before fn runs and restored if fn fails. Transactions are serialized;
// a nested call on the same Store joins the outer transaction.
func (s *Store) Transaction(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{s}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Related returns the stored records linked to owner through a, resolved
// from the keys each kind keeps. Results are ordered by id.
func (s *Store) Related(_ context.Context, owner *record.Record, a *resource.Association) ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*record.Record
	switch a.Kind.Placement() {
	case resource.PlacementOwner:
		typ := a.Target
		if a.Kind.Polymorphic() {
			typ = a.Targets[record.KeyString(owner.Get(a.DiscriminatorAttribute))]
		}
		if rec, ok := s.state.tables[typ][record.KeyString(owner.Get(a.ForeignKey))]; ok {
			out = append(out, rec.Clone())
		}

	case resource.PlacementRelated:
		for _, rec := range s.state.tables[a.Target] {
			if record.KeyString(rec.Get(a.ForeignKey)) == owner.ID {
				out = append(out, rec.Clone())
			}
		}

	case resource.PlacementRelatedSet:
		for id, rec := range s.state.tables[a.Target] {
			linked := false
			if a.JoinTable != "" {
				_, linked = s.state.joins[a.JoinTable][joinKey{owner: owner.ID, related: id}]
			} else {
				linked = record.HasKey(record.KeySet(rec.Get(a.ForeignKeysAttribute)), owner.ID)
			}
			if linked {
				out = append(out, rec.Clone())
			}
		}

	case resource.PlacementNone:
		for _, rec := range s.state.tables[a.Target] {
			if s.state.embedded[rec.Ref()] == owner.Ref() {
				out = append(out, rec.Clone())
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
