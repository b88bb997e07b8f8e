package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

var (
	userDesc = &resource.Descriptor{Type: "user", Table: "users", PrimaryKey: "id", Unique: []string{"email"}}
	tagDesc  = &resource.Descriptor{Type: "tag", Table: "tags", PrimaryKey: "id"}
)

func TestSave_InsertAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)

	rec := record.New("user")
	fe, err := s.Save(ctx, userDesc, rec, map[string]any{"email": "a@example.com"})
	require.NoError(t, err)
	require.Nil(t, fe)
	require.True(t, rec.Persisted())
	assert.Equal(t, rec.ID, rec.Get("id"))
	assert.Equal(t, int64(1), rec.Version)

	_, err = s.Save(ctx, userDesc, rec, map[string]any{"name": "Ann"})
	require.NoError(t, err)

	loaded, err := s.Load(ctx, userDesc, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", loaded.Get("name"))
	assert.Equal(t, "a@example.com", loaded.Get("email"))
	assert.Equal(t, int64(2), loaded.Version)
	assert.NotSame(t, rec, loaded)
}

func TestSave_ClientPrimaryKey(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)

	_, err := s.Save(ctx, tagDesc, record.New("tag"), map[string]any{"id": 42})
	require.NoError(t, err)
	_, err = s.Load(ctx, tagDesc, "42")
	require.NoError(t, err)

	fe, err := s.Save(ctx, tagDesc, record.New("tag"), map[string]any{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, record.FieldErrors{"id": {record.MsgTaken}}, fe)
	assert.Equal(t, 1, s.Count("tag"))
}

func TestSave_FieldErrors(t *testing.T) {
	ctx := context.Background()
	v := record.Validators{}
	v.Add("user", record.Required("name"))
	s := memstore.New(v)

	_, err := s.Save(ctx, userDesc, record.New("user"), map[string]any{"name": "Ann", "email": "a@example.com"})
	require.NoError(t, err)

	rec := record.New("user")
	fe, err := s.Save(ctx, userDesc, rec, map[string]any{"email": "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, record.FieldErrors{
		"name":  {record.MsgBlank},
		"email": {record.MsgTaken},
	}, fe)
	assert.False(t, rec.Persisted())
	assert.Equal(t, 1, s.Count("user"))
}

func TestLoadDelete_NotFound(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)

	_, err := s.Load(ctx, tagDesc, "missing")
	assert.ErrorIs(t, err, record.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, tagDesc, "missing"), record.ErrNotFound)

	rec := record.New("tag")
	rec.ID = "1"
	s.Put(rec)
	require.NoError(t, s.Delete(ctx, tagDesc, "1"))
	assert.Equal(t, 0, s.Count("tag"))
}

func TestTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	boom := errors.New("boom")

	err := s.Transaction(ctx, "tag", func(ctx context.Context) error {
		if _, err := s.Save(ctx, tagDesc, record.New("tag"), map[string]any{"name": "go"}); err != nil {
			return err
		}
		// Nested transactions join the outer one.
		return s.Transaction(ctx, "tag", func(ctx context.Context) error {
			assert.Equal(t, 1, s.Count("tag"))
			return boom
		})
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Count("tag"))

	require.NoError(t, s.Transaction(ctx, "tag", func(ctx context.Context) error {
		_, err := s.Save(ctx, tagDesc, record.New("tag"), map[string]any{"name": "go"})
		return err
	}))
	assert.Equal(t, 1, s.Count("tag"))
}

func TestRelated(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)

	put := func(typ, id string, attrs map[string]any) *record.Record {
		rec := record.New(typ)
		rec.ID = id
		for k, v := range attrs {
			rec.Set(k, v)
		}
		return s.Put(rec)
	}

	post := put("post", "p1", map[string]any{"author_id": "a1"})
	put("author", "a1", nil)
	put("comment", "c2", map[string]any{"post_id": "p1"})
	put("comment", "c1", map[string]any{"post_id": "p1"})
	put("comment", "c3", map[string]any{"post_id": "other"})
	put("tag", "t1", map[string]any{"post_ids": []any{"p1", "p2"}})
	put("tag", "t2", map[string]any{"post_ids": []string{"p2"}})
	label := put("label", "l1", nil)
	block := put("block", "b1", nil)

	names := func(recs []*record.Record) []string {
		var out []string
		for _, r := range recs {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		assoc *resource.Association
		want  []string
	}{
		{"belongs_to", &resource.Association{Name: "author", Kind: resource.BelongsTo, Target: "author", ForeignKey: "author_id"}, []string{"a1"}},
		{"has_many", &resource.Association{Name: "comments", Kind: resource.HasMany, Target: "comment", ForeignKey: "post_id"}, []string{"c1", "c2"}},
		{"many_to_many keys", &resource.Association{Name: "tags", Kind: resource.ManyToMany, Target: "tag", ForeignKeysAttribute: "post_ids"}, []string{"t1"}},
		{"many_to_many join", &resource.Association{Name: "labels", Kind: resource.ManyToMany, Target: "label", JoinTable: "post_labels"}, []string{"l1"}},
		{"embeds", &resource.Association{Name: "blocks", Kind: resource.EmbedsMany, Target: "block"}, []string{"b1"}},
	}

	for _, tt := range tests {
		if tt.assoc.Kind.Placement() == resource.PlacementRelatedSet && tt.assoc.JoinTable != "" {
			require.NoError(t, s.Associate(ctx, post, label, tt.assoc))
		}
		if tt.assoc.Kind.Embedded() {
			require.NoError(t, s.Associate(ctx, post, block, tt.assoc))
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Related(ctx, post, tt.assoc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))

			if tt.assoc.JoinTable != "" || tt.assoc.Kind.Embedded() {
				related, err := s.Load(ctx, &resource.Descriptor{Type: tt.assoc.Target}, tt.want[0])
				require.NoError(t, err)
				require.NoError(t, s.Disassociate(ctx, post, related, tt.assoc))
				got, err = s.Related(ctx, post, tt.assoc)
				require.NoError(t, err)
				assert.Empty(t, got)
			}
		})
	}
}

func TestTransaction_SeparateStores(t *testing.T) {
	ctx := context.Background()
	a, b := memstore.New(nil), memstore.New(nil)
	boom := errors.New("boom")

	err := a.Transaction(ctx, "tag", func(ctx context.Context) error {
		if _, err := a.Save(ctx, tagDesc, record.New("tag"), map[string]any{"name": "a"}); err != nil {
			return err
		}
		err := b.Transaction(ctx, "tag", func(ctx context.Context) error {
			if _, err := b.Save(ctx, tagDesc, record.New("tag"), map[string]any{"name": "b"}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, a.Count("tag"))
	assert.Equal(t, 0, b.Count("tag"))
}
