// Package stream provides the DynamoDB Streams handler that cascades soft
// deletes from a record to its tracked dependents.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

// Cascader is the part of *store.Store the handler needs.
type Cascader interface {
	QueryAllChildren(ctx context.Context, parentRef string) ([]store.ChildRef, error)
	SetTTLByKey(ctx context.Context, table string, key store.PK, ttl int64) error
	SetRelationshipTTL(ctx context.Context, childRef, parentRef string, ttl int64) error
	SetUniqueConstraintTTL(ctx context.Context, pk string, ttl int64) error
}

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	store  Cascader
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s Cascader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleCascadeDelete propagates a newly set TTL from a record to its
// dependents, its own relationship item and its unique claims. Setting the
// TTL on a dependent produces another stream event, so the cascade walks the
// whole tree. It is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		rec := &event.Records[i]
		if err := h.processRecord(ctx, rec); err != nil {
			h.logger.Error("failed to process record",
				"eventID", rec.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, rec *events.DynamoDBEventRecord) error {
	if rec.EventName != "MODIFY" {
		return nil
	}

	// Only when TTL is newly set (was absent/0, now present)
	oldTTL := getNumberAttr(rec.Change.OldImage, "ttl")
	newTTL := getNumberAttr(rec.Change.NewImage, "ttl")
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	entityRef := getStringAttr(rec.Change.NewImage, "entity_ref")
	parentRef := getStringAttr(rec.Change.NewImage, "parent_ref")
	uniquePKs := getStringListAttr(rec.Change.NewImage, "_unique_pks")
	if entityRef == "" {
		// Not a record item (relationship or unique constraint)
		return nil
	}

	logger := h.logger.With("entityRef", entityRef, "ttl", newTTL)
	logger.Info("processing cascade delete", "parentRef", parentRef)

	// Deleted children are returned too; setting their TTL again is a no-op.
	children, err := h.store.QueryAllChildren(ctx, entityRef)
	if err != nil {
		return fmt.Errorf("query children of %s: %w", entityRef, err)
	}

	failed := 0
	for _, child := range children {
		if err := h.store.SetTTLByKey(ctx, child.TableName, child.Key, newTTL); err != nil {
			failed++
			logger.Warn("failed to set TTL on child", "child", child.Ref, "error", err)
		}
	}

	if parentRef != "" {
		if err := h.store.SetRelationshipTTL(ctx, entityRef, parentRef, newTTL); err != nil {
			logger.Warn("failed to set relationship TTL", "parentRef", parentRef, "error", err)
		}
	}

	for _, pk := range uniquePKs {
		if err := h.store.SetUniqueConstraintTTL(ctx, pk, newTTL); err != nil {
			logger.Warn("failed to set unique constraint TTL", "pk", pk, "error", err)
		}
	}

	logger.Info("cascade delete completed",
		"children", len(children),
		"failedChildren", failed,
		"uniqueConstraints", len(uniquePKs),
	)

	if failed > 0 {
		return fmt.Errorf("cascade from %s: %d of %d children failed", entityRef, failed, len(children))
	}
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeNumber {
		n, err := strconv.ParseInt(v.Number(), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// getStringListAttr extracts the strings of a list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeList {
		return nil
	}
	var result []string
	for _, item := range v.List() {
		if item.DataType() == events.DataTypeString {
			result = append(result, item.String())
		}
	}
	return result
}

// ConvertStreamKey converts a DynamoDB stream key to a store.PK.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.PK {
	result := make(store.PK, len(streamKey))
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
