package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

// Client is the subset of *dynamodb.Client used by Store.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is a persist.Adapter backed by DynamoDB.
type Store struct {
	client   Client
	config   Config
	registry *resource.Registry
	now      func() time.Time
}

// New creates a new Store. The registry resolves the tables of related
// records for relationship items.
func New(client Client, registry *resource.Registry, config Config) *Store {
	config.validate()
	return &Store{
		client:   client,
		config:   config,
		registry: registry,
		now:      time.Now,
	}
}

// key returns the primary key of a record of d.
func key(d *resource.Descriptor, id string) PK {
	return PK{d.PrimaryKey: &types.AttributeValueMemberS{Value: id}}
}

// Load implements persist.Adapter. Soft-deleted records are not found.
func (s *Store) Load(ctx context.Context, d *resource.Descriptor, id string) (*record.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.Table),
		Key:            key(d, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil || IsDeleted(out.Item) {
		return nil, record.ErrNotFound
	}
	return unmarshalRecord(d, out.Item)
}

// unmarshalRecord converts a raw item to a record of d.
func unmarshalRecord(d *resource.Descriptor, raw map[string]types.AttributeValue) (*record.Record, error) {
	attrs := make(map[string]types.AttributeValue, len(raw))
	for k, v := range raw {
		if !managedAttrs[k] {
			attrs[k] = v
		}
	}

	rec := record.New(d.Type)
	if err := attributevalue.UnmarshalMap(attrs, &rec.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", d.Type, err)
	}
	rec.ID = record.KeyString(rec.Get(d.PrimaryKey))
	rec.Version = unmarshalItem(raw).Version
	return rec, nil
}

// Save implements persist.Adapter. A record without an id is inserted under
// its primary key attribute, or a new UUID. The primary key of a stored
// record never changes.
func (s *Store) Save(ctx context.Context, d *resource.Descriptor, rec *record.Record, attrs map[string]any) (record.FieldErrors, error) {
	previous := make(map[string]string, len(d.Unique))
	for _, field := range d.Unique {
		previous[field] = record.KeyString(rec.Get(field))
	}

	for k, v := range attrs {
		if managedAttrs[k] || (k == d.PrimaryKey && rec.Persisted()) {
			continue
		}
		rec.Set(k, v)
	}

	if fe := s.config.Validators.Validate(rec); fe != nil {
		return fe, nil
	}

	if !rec.Persisted() {
		return s.create(ctx, d, rec)
	}
	return s.update(ctx, d, rec, attrs, previous)
}

// create inserts rec together with its unique-constraint claims.
func (s *Store) create(ctx context.Context, d *resource.Descriptor, rec *record.Record) (record.FieldErrors, error) {
	id := record.KeyString(rec.Get(d.PrimaryKey))
	if id == "" {
		id = uuid.NewString()
	}

	attrs := make(map[string]any, len(rec.Attributes)+1)
	for k, v := range rec.Attributes {
		if !managedAttrs[k] {
			attrs[k] = v
		}
	}
	attrs[d.PrimaryKey] = id

	item, err := attributevalue.MarshalMap(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", d.Type, err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	ref := d.Type + "#" + id
	item["entity_ref"] = &types.AttributeValueMemberS{Value: ref}
	item["version"] = &types.AttributeValueMemberN{Value: "1"}
	item["created_at"] = &types.AttributeValueMemberS{Value: now}
	item["updated_at"] = &types.AttributeValueMemberS{Value: now}

	var items []types.TransactWriteItem
	claims := make(map[int]string)
	var uniquePKs []string
	for _, field := range d.Unique {
		value := record.KeyString(attrs[field])
		if value == "" {
			continue
		}
		pk := shard.UniqueConstraintPK(d.Table, d.Type, field, value)
		uniquePKs = append(uniquePKs, pk)
		claims[len(items)] = field
		items = append(items, s.claimUnique(d, ref, field, value))
	}

	// Store unique PKs on the record for cascade delete cleanup
	if len(uniquePKs) > 0 {
		uniquePKsAttr, _ := attributevalue.MarshalList(uniquePKs)
		item["_unique_pks"] = &types.AttributeValueMemberL{Value: uniquePKsAttr}
	}

	putIndex := len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(d.Table),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
			ExpressionAttributeNames: map[string]string{"#pk": d.PrimaryKey},
		},
	})

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		claims[putIndex] = d.PrimaryKey
		return mapTransactionError(err, claims)
	}

	rec.ID = id
	rec.Set(d.PrimaryKey, id)
	rec.Version = 1
	return nil, nil
}

// update writes attrs to a stored record with optimistic locking. Unique
// claims are moved only for attributes whose value changed.
func (s *Store) update(ctx context.Context, d *resource.Descriptor, rec *record.Record, attrs map[string]any, previous map[string]string) (record.FieldErrors, error) {
	update, err := s.updateExpression(d, rec, attrs)
	if err != nil {
		return nil, err
	}

	var items []types.TransactWriteItem
	claims := make(map[int]string)
	var uniquePKs []string
	moved := false
	for _, field := range d.Unique {
		value := record.KeyString(rec.Get(field))
		if value != "" {
			uniquePKs = append(uniquePKs, shard.UniqueConstraintPK(d.Table, d.Type, field, value))
		}
		old := previous[field]
		if value == old {
			continue
		}
		moved = true
		if old != "" {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(s.config.UniqueTable),
					Key:       uniqueKey(shard.UniqueConstraintPK(d.Table, d.Type, field, old)),
				},
			})
		}
		if value != "" {
			claims[len(items)] = field
			items = append(items, s.claimUnique(d, rec.Ref(), field, value))
		}
	}

	if !moved {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(d.Table),
			Key:                       key(d, rec.ID),
			UpdateExpression:          aws.String(update.expr),
			ConditionExpression:       aws.String(update.cond),
			ExpressionAttributeNames:  update.names,
			ExpressionAttributeValues: update.values,
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				return nil, ErrConcurrentModification
			}
			return nil, err
		}
		rec.Version++
		return nil, nil
	}

	uniquePKsAttr, _ := attributevalue.MarshalList(uniquePKs)
	update.names["#unique_pks"] = "_unique_pks"
	update.values[":unique_pks"] = &types.AttributeValueMemberL{Value: uniquePKsAttr}
	update.expr += ", #unique_pks = :unique_pks"

	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(d.Table),
			Key:                       key(d, rec.ID),
			UpdateExpression:          aws.String(update.expr),
			ConditionExpression:       aws.String(update.cond),
			ExpressionAttributeNames:  update.names,
			ExpressionAttributeValues: update.values,
		},
	})

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return mapTransactionError(err, claims)
	}
	rec.Version++
	return nil, nil
}

type updateInput struct {
	expr   string
	cond   string
	names  map[string]string
	values map[string]types.AttributeValue
}

// updateExpression builds the SET expression for attrs, guarded by the
// record's version.
func (s *Store) updateExpression(d *resource.Descriptor, rec *record.Record, attrs map[string]any) (*updateInput, error) {
	u := &updateInput{
		cond: "#version = :expected_version AND attribute_not_exists(#ttl)",
		names: map[string]string{
			"#updated_at": "updated_at",
			"#version":    "version",
			"#ttl":        "ttl",
		},
		values: map[string]types.AttributeValue{
			":updated_at":       &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
			":one":              &types.AttributeValueMemberN{Value: "1"},
			":expected_version": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Version, 10)},
		},
	}

	names := make([]string, 0, len(attrs))
	for k := range attrs {
		if managedAttrs[k] || k == d.PrimaryKey {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	var setClauses []string
	for i, k := range names {
		av, err := attributevalue.Marshal(attrs[k])
		if err != nil {
			return nil, fmt.Errorf("marshal %s.%s: %w", d.Type, k, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		u.names[nameKey] = k
		u.values[valueKey] = av
		setClauses = append(setClauses, nameKey+" = "+valueKey)
	}
	setClauses = append(setClauses, "#updated_at = :updated_at", "#version = #version + :one")

	u.expr = "SET " + strings.Join(setClauses, ", ")
	return u, nil
}

// claimUnique returns the put that claims value for field.
func (s *Store) claimUnique(d *resource.Descriptor, ref, field, value string) types.TransactWriteItem {
	pk := shard.UniqueConstraintPK(d.Table, d.Type, field, value)
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(s.config.UniqueTable),
			Item: map[string]types.AttributeValue{
				"pk":          &types.AttributeValueMemberS{Value: pk},
				"sk":          &types.AttributeValueMemberS{Value: "CONSTRAINT"},
				"entity_type": &types.AttributeValueMemberS{Value: d.Type},
				"field_name":  &types.AttributeValueMemberS{Value: field},
				"field_value": &types.AttributeValueMemberS{Value: value},
				"entity_ref":  &types.AttributeValueMemberS{Value: ref},
			},
			// Fails if another record already has this value
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		},
	}
}

func uniqueKey(pk string) PK {
	return PK{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: "CONSTRAINT"},
	}
}

// mapTransactionError maps a cancelled write transaction. A failed condition
// on a claimed item becomes a "has already been taken" field error for the
// claimed attribute; any other failed condition is a concurrent modification.
func mapTransactionError(err error, claims map[int]string) (record.FieldErrors, error) {
	if err == nil {
		return nil, nil
	}

	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return nil, err
	}

	var fe record.FieldErrors
	conflict := false
	for i, reason := range txErr.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		field, ok := claims[i]
		if !ok {
			conflict = true
			continue
		}
		if fe == nil {
			fe = record.FieldErrors{}
		}
		fe.Add(field, record.MsgTaken)
	}

	switch {
	case fe != nil:
		return fe, nil
	case conflict:
		return nil, ErrConcurrentModification
	}
	return nil, err
}

// Delete implements persist.Adapter by setting the record's TTL to now.
// The version is incremented to fail concurrent updates.
func (s *Store) Delete(ctx context.Context, d *resource.Descriptor, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.Table),
		Key:                 key(d, id),
		UpdateExpression:    aws.String("SET #ttl = :now, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(#pk) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#pk":      d.PrimaryKey,
			"#ttl":     "ttl",
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(s.now().Unix(), 10),
			},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})

	// Missing or already deleted
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return record.ErrNotFound
	}
	return err
}

// Transaction implements persist.Adapter. fn runs directly.
func (s *Store) Transaction(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Query queries items with automatic TTL filtering.
func (s *Store) Query(ctx context.Context, input QueryInput) ([]*Item, error) {
	filter, names, values := withTTLFilter(input.FilterExpression, input.ExpressionAttributeNames, input.ExpressionAttributeValues)

	queryInput := &dynamodb.QueryInput{
		TableName:                 aws.String(input.TableName),
		KeyConditionExpression:    aws.String(input.KeyConditionExpression),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if input.IndexName != "" {
		queryInput.IndexName = aws.String(input.IndexName)
	}

	var items []*Item
	paginator := dynamodb.NewQueryPaginator(s.client, queryInput)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			items = append(items, unmarshalItem(raw))
		}
	}
	return items, nil
}

// scan returns the live items of a table matching filter.
func (s *Store) scan(ctx context.Context, table, filter string, names map[string]string, values map[string]types.AttributeValue) ([]*Item, error) {
	filter, names, values = withTTLFilter(filter, names, values)

	var items []*Item
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(table),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			items = append(items, unmarshalItem(raw))
		}
	}
	return items, nil
}
