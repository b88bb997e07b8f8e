package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

// tracked reports whether the related side of a lives and dies with its
// owner and so gets a relationship item.
func tracked(a *resource.Association) bool {
	return a.Dependent || a.Kind.Embedded()
}

// relationshipPK computes the sharded partition key for a relationship record.
func (s *Store) relationshipPK(parentRef, childRef string) string {
	return shard.RelationshipPK(parentRef, childRef, s.config.NumShards)
}

func relationshipKey(shardPK, childRef string) PK {
	return PK{
		"pk":        &types.AttributeValueMemberS{Value: shardPK},
		"child_ref": &types.AttributeValueMemberS{Value: childRef},
	}
}

// joinItem returns the join table key of a many_to_many link.
func joinItem(owner, related *record.Record, a *resource.Association) PK {
	return PK{
		a.JoinOwnerKey:   &types.AttributeValueMemberS{Value: owner.ID},
		a.JoinRelatedKey: &types.AttributeValueMemberS{Value: related.ID},
	}
}

// Associate implements persist.Adapter. Keys held in attributes are written
// by Save; this records join table links and relationship items.
func (s *Store) Associate(ctx context.Context, owner, related *record.Record, a *resource.Association) error {
	if a.Kind.Placement() == resource.PlacementRelatedSet && a.JoinTable != "" {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(a.JoinTable),
			Item:      joinItem(owner, related, a),
		})
		return err
	}
	if !tracked(a) {
		return nil
	}

	d, err := s.registry.Lookup(related.Type)
	if err != nil {
		return err
	}
	parentRef, childRef := owner.Ref(), related.Ref()

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(s.config.RelationshipTable),
					Item: map[string]types.AttributeValue{
						"pk":          &types.AttributeValueMemberS{Value: s.relationshipPK(parentRef, childRef)},
						"child_ref":   &types.AttributeValueMemberS{Value: childRef},
						"parent_ref":  &types.AttributeValueMemberS{Value: parentRef},
						"child_table": &types.AttributeValueMemberS{Value: d.Table},
						"child_key":   &types.AttributeValueMemberM{Value: key(d, related.ID)},
					},
				},
			},
			{
				Update: &types.Update{
					TableName:                aws.String(d.Table),
					Key:                      key(d, related.ID),
					UpdateExpression:         aws.String("SET #parent_ref = :parent_ref"),
					ConditionExpression:      aws.String("attribute_not_exists(#ttl)"),
					ExpressionAttributeNames: map[string]string{"#parent_ref": "parent_ref", "#ttl": "ttl"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":parent_ref": &types.AttributeValueMemberS{Value: parentRef},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("track %s under %s: %w", childRef, parentRef, err)
	}
	return nil
}

// Disassociate implements persist.Adapter.
func (s *Store) Disassociate(ctx context.Context, owner, related *record.Record, a *resource.Association) error {
	if a.Kind.Placement() == resource.PlacementRelatedSet && a.JoinTable != "" {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(a.JoinTable),
			Key:       joinItem(owner, related, a),
		})
		return err
	}
	if !tracked(a) {
		return nil
	}

	d, err := s.registry.Lookup(related.Type)
	if err != nil {
		return err
	}
	parentRef, childRef := owner.Ref(), related.Ref()

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName: aws.String(s.config.RelationshipTable),
					Key:       relationshipKey(s.relationshipPK(parentRef, childRef), childRef),
				},
			},
			{
				Update: &types.Update{
					TableName:                aws.String(d.Table),
					Key:                      key(d, related.ID),
					UpdateExpression:         aws.String("REMOVE #parent_ref"),
					ExpressionAttributeNames: map[string]string{"#parent_ref": "parent_ref"},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("untrack %s under %s: %w", childRef, parentRef, err)
	}
	return nil
}

// QueryAllChildren returns all tracked children of a record (including
// deleted ones). This is used by cascade delete to propagate TTL to all
// children. Shards are queried in parallel.
func (s *Store) QueryAllChildren(ctx context.Context, parentRef string) ([]ChildRef, error) {
	var (
		mu       sync.Mutex
		children []ChildRef
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, shardPK := range shard.ShardPKs(parentRef, s.config.NumShards) {
		shardPK := shardPK
		g.Go(func() error {
			found, err := s.queryShard(ctx, shardPK)
			if err != nil {
				return fmt.Errorf("shard %s: %w", shardPK, err)
			}
			mu.Lock()
			children = append(children, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Ref < children[j].Ref })
	return children, nil
}

func (s *Store) queryShard(ctx context.Context, shardPK string) ([]ChildRef, error) {
	var children []ChildRef
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.RelationshipTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shardPK},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			children = append(children, unmarshalChildRef(item, shardPK))
		}
	}
	return children, nil
}

// setTTL sets ttl on an item unless it already has one.
func (s *Store) setTTL(ctx context.Context, table string, key PK, ttl int64, bumpVersion bool) error {
	update := "SET #ttl = :ttl"
	names := map[string]string{"#ttl": "ttl"}
	values := map[string]types.AttributeValue{
		":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
	if bumpVersion {
		update += ", #version = #version + :one"
		names["#version"] = "version"
		values[":one"] = &types.AttributeValueMemberN{Value: "1"}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})

	// Ignore condition failure - already has TTL
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// SetTTLByKey sets TTL on a record by table and key.
// Used by cascade delete to propagate TTL to children.
func (s *Store) SetTTLByKey(ctx context.Context, table string, key PK, ttl int64) error {
	return s.setTTL(ctx, table, key, ttl, true)
}

// SetRelationshipTTL sets TTL on a relationship item.
func (s *Store) SetRelationshipTTL(ctx context.Context, childRef, parentRef string, ttl int64) error {
	return s.setTTL(ctx, s.config.RelationshipTable, relationshipKey(s.relationshipPK(parentRef, childRef), childRef), ttl, false)
}

// SetUniqueConstraintTTL sets TTL on a unique constraint item.
func (s *Store) SetUniqueConstraintTTL(ctx context.Context, pk string, ttl int64) error {
	return s.setTTL(ctx, s.config.UniqueTable, uniqueKey(pk), ttl, false)
}

// Related returns the live records linked to owner through a, ordered by
// id. Foreign keys are resolved with a filtered scan of the target table;
// tracked associations read the relationship table instead.
func (s *Store) Related(ctx context.Context, owner *record.Record, a *resource.Association) ([]*record.Record, error) {
	var out []*record.Record
	add := func(typ, id string) error {
		if id == "" {
			return nil
		}
		d, err := s.registry.Lookup(typ)
		if err != nil {
			return err
		}
		rec, err := s.Load(ctx, d, id)
		if errors.Is(err, record.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	}
	addItems := func(items []*Item) error {
		d, err := s.registry.Lookup(a.Target)
		if err != nil {
			return err
		}
		for _, item := range items {
			rec, err := unmarshalRecord(d, item.Raw)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	}

	switch a.Kind.Placement() {
	case resource.PlacementOwner:
		typ := a.Target
		if a.Kind.Polymorphic() {
			typ = a.Targets[record.KeyString(owner.Get(a.DiscriminatorAttribute))]
			if typ == "" {
				return nil, nil
			}
		}
		if err := add(typ, record.KeyString(owner.Get(a.ForeignKey))); err != nil {
			return nil, err
		}

	case resource.PlacementRelated, resource.PlacementNone:
		if tracked(a) {
			children, err := s.QueryAllChildren(ctx, owner.Ref())
			if err != nil {
				return nil, err
			}
			prefix := a.Target + "#"
			for _, child := range children {
				if id, ok := strings.CutPrefix(child.Ref, prefix); ok {
					if err := add(a.Target, id); err != nil {
						return nil, err
					}
				}
			}
			break
		}
		if a.Kind.Embedded() {
			return nil, ErrUnsupportedAssociation
		}
		d, err := s.registry.Lookup(a.Target)
		if err != nil {
			return nil, err
		}
		items, err := s.scan(ctx, d.Table, "#fk = :owner",
			map[string]string{"#fk": a.ForeignKey},
			map[string]types.AttributeValue{":owner": &types.AttributeValueMemberS{Value: owner.ID}},
		)
		if err != nil {
			return nil, err
		}
		if err := addItems(items); err != nil {
			return nil, err
		}

	case resource.PlacementRelatedSet:
		if a.JoinTable != "" {
			links, err := s.Query(ctx, QueryInput{
				TableName:                 a.JoinTable,
				KeyConditionExpression:    "#owner = :owner",
				ExpressionAttributeNames:  map[string]string{"#owner": a.JoinOwnerKey},
				ExpressionAttributeValues: map[string]types.AttributeValue{":owner": &types.AttributeValueMemberS{Value: owner.ID}},
			})
			if err != nil {
				return nil, err
			}
			for _, link := range links {
				if v, ok := link.Raw[a.JoinRelatedKey].(*types.AttributeValueMemberS); ok {
					if err := add(a.Target, v.Value); err != nil {
						return nil, err
					}
				}
			}
			break
		}
		d, err := s.registry.Lookup(a.Target)
		if err != nil {
			return nil, err
		}
		items, err := s.scan(ctx, d.Table, "contains(#fks, :owner)",
			map[string]string{"#fks": a.ForeignKeysAttribute},
			map[string]types.AttributeValue{":owner": &types.AttributeValueMemberS{Value: owner.ID}},
		)
		if err != nil {
			return nil, err
		}
		if err := addItems(items); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
