package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsDeleted checks if an item has an expired TTL (is marked for deletion).
func IsDeleted(item map[string]types.AttributeValue) bool {
	ttlAttr, exists := item["ttl"]
	if !exists {
		return false // No TTL = active
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= time.Now().Unix()
}

// TTLFilterExpr returns the filter expression to exclude deleted items.
// Use this when building custom queries that need TTL filtering.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns expression attribute names for TTL filter.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": "ttl"}
}

// TTLFilterValues returns expression attribute values for TTL filter.
func TTLFilterValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
}

// withTTLFilter merges the TTL filter into a filter expression and its
// attribute maps. The input maps are not modified.
func withTTLFilter(filter string, names map[string]string, values map[string]types.AttributeValue) (string, map[string]string, map[string]types.AttributeValue) {
	expr := TTLFilterExpr()
	if filter != "" {
		expr = "(" + filter + ") AND (" + expr + ")"
	}
	mergedNames := TTLFilterNames()
	for k, v := range names {
		mergedNames[k] = v
	}
	mergedValues := TTLFilterValues()
	for k, v := range values {
		mergedValues[k] = v
	}
	return expr, mergedNames, mergedValues
}
