package payload_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/resource"
)

func testRegistry(t *testing.T) *resource.Registry {
	t.Helper()
	r := resource.NewRegistry()
	require.NoError(t, r.RegisterAll([]resource.Descriptor{
		{Type: "author", Associations: []*resource.Association{
			{Name: "posts", Kind: resource.HasMany, Target: "post", ForeignKey: "author_id"},
		}},
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

func lookup(t *testing.T, r *resource.Registry, typ string) *resource.Descriptor {
	t.Helper()
	d, err := r.Lookup(typ)
	require.NoError(t, err)
	return d
}

func TestNormalize_SplitsPreAndPost(t *testing.T) {
	reg := testRegistry(t)
	n := &payload.Node{
		Identity: payload.Identity{ID: "1"},
		Relationships: map[string]*payload.Relationship{
			"author": payload.One(&payload.Node{Identity: payload.Identity{TempID: "a1"}}),
			"tags": payload.Many(
				&payload.Node{Identity: payload.Identity{ID: "10"}},
				&payload.Node{Identity: payload.Identity{TempID: "t1"}},
				&payload.Node{Identity: payload.Identity{ID: "11"}, Operation: payload.Disassociate},
			),
			"blocks": payload.Many(&payload.Node{Identity: payload.Identity{TempID: "b1"}}),
		},
	}

	edges, err := payload.Normalize(n, lookup(t, reg, "post"), reg)
	require.NoError(t, err)

	require.Len(t, edges.Pre, 1)
	assert.Equal(t, "author", edges.Pre[0].Association.Name)
	assert.Equal(t, payload.Create, edges.Pre[0].Operation)
	assert.Equal(t, -1, edges.Pre[0].Index)
	assert.Equal(t, "author", edges.Pre[0].Target.Type)

	require.Len(t, edges.Post, 4)
	assert.Equal(t, []payload.Operation{payload.Update, payload.Create, payload.Disassociate, payload.Create},
		[]payload.Operation{edges.Post[0].Operation, edges.Post[1].Operation, edges.Post[2].Operation, edges.Post[3].Operation})
	assert.Equal(t, "tags[1]", edges.Post[1].Path(""))
	assert.Equal(t, "root.blocks[0]", edges.Post[3].Path("root"))
}

func TestNormalize_Malformed(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		name string
		rel  map[string]*payload.Relationship
	}{
		{"missing identity", map[string]*payload.Relationship{
			"tags": payload.Many(&payload.Node{Attributes: map[string]any{"name": "x"}}),
		}},
		{"both identities", map[string]*payload.Relationship{
			"tags": payload.Many(&payload.Node{Identity: payload.Identity{ID: "1", TempID: "t"}}),
		}},
		{"create with id", map[string]*payload.Relationship{
			"tags": payload.Many(&payload.Node{Identity: payload.Identity{ID: "1"}, Operation: payload.Create}),
		}},
		{"destroy with temp id", map[string]*payload.Relationship{
			"tags": payload.Many(&payload.Node{Identity: payload.Identity{TempID: "t"}, Operation: payload.Destroy}),
		}},
		{"unknown operation", map[string]*payload.Relationship{
			"tags": payload.Many(&payload.Node{Identity: payload.Identity{ID: "1"}, Operation: "upsert"}),
		}},
		{"null entry", map[string]*payload.Relationship{
			"tags": payload.Many(nil),
		}},
		{"many for singular", map[string]*payload.Relationship{
			"author": payload.Many(&payload.Node{Identity: payload.Identity{ID: "1"}}),
		}},
		{"wrong type", map[string]*payload.Relationship{
			"author": payload.One(&payload.Node{Type: "tag", Identity: payload.Identity{ID: "1"}}),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &payload.Node{Identity: payload.Identity{ID: "1"}, Relationships: tt.rel}
			_, err := payload.Normalize(n, lookup(t, reg, "post"), reg)
			require.ErrorIs(t, err, payload.ErrMalformedRelationship)

			var mErr *payload.MalformedRelationshipError
			require.ErrorAs(t, err, &mErr)
			assert.Equal(t, "post", mErr.Resource)
			assert.NotEmpty(t, mErr.Reason)
		})
	}
}

func TestNormalize_UnknownAssociation(t *testing.T) {
	reg := testRegistry(t)
	n := &payload.Node{
		Identity: payload.Identity{ID: "1"},
		Relationships: map[string]*payload.Relationship{
			"likes": payload.Many(&payload.Node{Identity: payload.Identity{ID: "1"}}),
		},
	}
	_, err := payload.Normalize(n, lookup(t, reg, "post"), reg)
	assert.ErrorIs(t, err, resource.ErrUnknownAssociation)
}

func TestNormalize_Polymorphic(t *testing.T) {
	reg := testRegistry(t)
	comment := lookup(t, reg, "comment")

	n := &payload.Node{
		Identity: payload.Identity{TempID: "c1"},
		Relationships: map[string]*payload.Relationship{
			"commentable": payload.One(&payload.Node{Type: "photo", Identity: payload.Identity{ID: "7"}}),
		},
	}
	edges, err := payload.Normalize(n, comment, reg)
	require.NoError(t, err)
	require.Len(t, edges.Pre, 1)
	assert.Equal(t, "photo", edges.Pre[0].Target.Type)

	n.Relationships["commentable"] = payload.One(&payload.Node{Identity: payload.Identity{ID: "7"}})
	_, err = payload.Normalize(n, comment, reg)
	var mErr *payload.MalformedRelationshipError
	require.ErrorAs(t, err, &mErr)
	assert.Contains(t, mErr.Reason, "requires a type")
}

func TestCheck_WalksWholeTree(t *testing.T) {
	reg := testRegistry(t)
	root := &payload.Node{
		Attributes: map[string]any{"name": "Ann"},
		Relationships: map[string]*payload.Relationship{
			"posts": payload.Many(&payload.Node{
				Identity: payload.Identity{TempID: "p1"},
				Relationships: map[string]*payload.Relationship{
					"tags": payload.Many(&payload.Node{Attributes: map[string]any{"name": "go"}}),
				},
			}),
		},
	}

	err := payload.Check(root, lookup(t, reg, "author"), reg)
	var mErr *payload.MalformedRelationshipError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "post", mErr.Resource)
	assert.Equal(t, "tags", mErr.Association)
	assert.Equal(t, 0, mErr.Index)
}

func TestCheck_RootOperation(t *testing.T) {
	reg := testRegistry(t)
	author := lookup(t, reg, "author")

	require.NoError(t, payload.Check(&payload.Node{}, author, reg))
	require.NoError(t, payload.Check(&payload.Node{Identity: payload.Identity{ID: "1"}}, author, reg))

	err := payload.Check(&payload.Node{Identity: payload.Identity{ID: "1"}, Operation: payload.Create}, author, reg)
	assert.ErrorIs(t, err, payload.ErrMalformedRelationship)
}

func TestNode_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		node    payload.Node
		want    payload.Operation
		wantErr bool
	}{
		{"id defaults to update", payload.Node{Identity: payload.Identity{ID: "1"}}, payload.Update, false},
		{"temp id defaults to create", payload.Node{Identity: payload.Identity{TempID: "t"}}, payload.Create, false},
		{"explicit destroy", payload.Node{Identity: payload.Identity{ID: "1"}, Operation: payload.Destroy}, payload.Destroy, false},
		{"explicit disassociate", payload.Node{Identity: payload.Identity{ID: "1"}, Operation: payload.Disassociate}, payload.Disassociate, false},
		{"no identity", payload.Node{}, payload.None, true},
		{"update with temp id", payload.Node{Identity: payload.Identity{TempID: "t"}, Operation: payload.Update}, payload.None, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.node.Resolve()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
