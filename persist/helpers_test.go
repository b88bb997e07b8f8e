package persist_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

func blogRegistry(t *testing.T) *resource.Registry {
	t.Helper()
	r := resource.NewRegistry()
	require.NoError(t, r.RegisterAll([]resource.Descriptor{
		{Type: "author", Associations: []*resource.Association{
			{Name: "posts", Kind: resource.HasMany, Target: "post", ForeignKey: "author_id"},
			{Name: "profile", Kind: resource.HasOne, Target: "profile", ForeignKey: "author_id"},
		}},
		{Type: "profile"},
		{Type: "post", Associations: []*resource.Association{
			{Name: "author", Kind: resource.BelongsTo, Target: "author", ForeignKey: "author_id"},
			{Name: "tags", Kind: resource.ManyToMany, Target: "tag", ForeignKeysAttribute: "post_ids"},
			{Name: "comments", Kind: resource.HasMany, Target: "comment", ForeignKey: "post_id"},
			{Name: "blocks", Kind: resource.EmbedsMany, Target: "block"},
		}},
		{Type: "tag"},
		{Type: "block"},
		{Type: "photo"},
		{Type: "comment", Associations: []*resource.Association{
			{
				Name:                   "commentable",
				Kind:                   resource.PolymorphicBelongsTo,
				Targets:                map[string]string{"Post": "post", "Photo": "photo"},
				ForeignKey:             "commentable_id",
				DiscriminatorAttribute: "commentable_type",
			},
		}},
	}))
	require.NoError(t, r.Seal(context.Background(), nil))
	return r
}

func blogValidators() record.Validators {
	v := record.Validators{}
	v.Add("post", record.Required("title"))
	v.Add("tag", record.Required("name"))
	return v
}

func seed(s *memstore.Store, typ, id string, attrs map[string]any) *record.Record {
	rec := record.New(typ)
	rec.ID = id
	for k, v := range attrs {
		rec.Set(k, v)
	}
	rec.Set("id", id)
	return s.Put(rec)
}

func load(t *testing.T, s *memstore.Store, reg *resource.Registry, typ, id string) *record.Record {
	t.Helper()
	d, err := reg.Lookup(typ)
	require.NoError(t, err)
	rec, err := s.Load(context.Background(), d, id)
	require.NoError(t, err)
	return rec
}

func id(v string) payload.Identity   { return payload.Identity{ID: v} }
func temp(v string) payload.Identity { return payload.Identity{TempID: v} }

// recorder wraps a memstore and records the order of writes.
type recorder struct {
	*memstore.Store
	writes []string
}

func (r *recorder) Save(ctx context.Context, d *resource.Descriptor, rec *record.Record, attrs map[string]any) (record.FieldErrors, error) {
	label := d.Type
	if rec.TempID != "" {
		label += ":" + rec.TempID
	} else if rec.ID != "" {
		label += ":" + rec.ID
	}
	r.writes = append(r.writes, "save "+label)
	return r.Store.Save(ctx, d, rec, attrs)
}

func (r *recorder) Delete(ctx context.Context, d *resource.Descriptor, id string) error {
	r.writes = append(r.writes, "delete "+d.Type+":"+id)
	return r.Store.Delete(ctx, d, id)
}

func (r *recorder) Associate(ctx context.Context, owner, related *record.Record, a *resource.Association) error {
	r.writes = append(r.writes, "associate "+owner.Type+"."+a.Name)
	return r.Store.Associate(ctx, owner, related, a)
}

func (r *recorder) Disassociate(ctx context.Context, owner, related *record.Record, a *resource.Association) error {
	r.writes = append(r.writes, "disassociate "+owner.Type+"."+a.Name)
	return r.Store.Disassociate(ctx, owner, related, a)
}
