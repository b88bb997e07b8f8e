package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/nested"
	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

func TestDestroyRemovesJoinRows(t *testing.T) {
	ctx := context.Background()
	reg := resource.NewRegistry()
	require.NoError(t, reg.RegisterAll([]resource.Descriptor{
		{Type: "post", Associations: []*resource.Association{{
			Name:           "categories",
			Kind:           resource.ManyToMany,
			Target:         "category",
			JoinTable:      "post_categories",
			JoinOwnerKey:   "post_id",
			JoinRelatedKey: "category_id",
		}}},
		{Type: "category"},
	}))
	require.NoError(t, reg.Seal(ctx, nil))

	s := New(nil)
	w := nested.New(s, reg, nested.DefaultConfig())

	v, err := w.Write(ctx, "post", &payload.Node{
		Attributes: map[string]any{"title": "Hello"},
		Relationships: map[string]*payload.Relationship{
			"categories": payload.Many(
				&payload.Node{Identity: payload.Identity{TempID: "c1"}, Attributes: map[string]any{"name": "news"}},
				&payload.Node{Identity: payload.Identity{TempID: "c2"}, Attributes: map[string]any{"name": "go"}},
			),
		},
	})
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Len(t, s.state.joins["post_categories"], 2)

	post := v.Object
	gone := post.Related("categories")[0]
	v, err = w.Write(ctx, "post", &payload.Node{
		Identity: payload.Identity{ID: post.ID},
		Relationships: map[string]*payload.Relationship{
			"categories": payload.Many(&payload.Node{Identity: payload.Identity{ID: gone.ID}, Operation: payload.Destroy}),
		},
	})
	require.NoError(t, err)
	require.True(t, v.Valid)

	assert.Len(t, s.state.joins["post_categories"], 1)
	for k := range s.state.joins["post_categories"] {
		assert.NotEqual(t, gone.ID, k.related)
	}
	assert.Equal(t, 1, s.Count("category"))

	d, err := reg.Lookup("post")
	require.NoError(t, err)
	a, _ := d.Association("categories")
	related, err := s.Related(ctx, &record.Record{Type: "post", ID: post.ID}, a)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.NotEqual(t, gone.ID, related[0].ID)
}
