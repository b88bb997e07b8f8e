// Command arbor-cascade is the AWS Lambda function attached to the DynamoDB
// streams of resource tables. It cascades soft deletes to dependent records.
//
// Environment:
//
//	ARBOR_RELATIONSHIP_TABLE  relationship table name (default arbor_relationships)
//	ARBOR_UNIQUE_TABLE        unique constraint table name (default arbor_unique_constraints)
//	ARBOR_NUM_SHARDS          relationship shards per parent, must match the writers (default 1)
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/stream"
)

func storeConfig(getenv func(string) string) store.Config {
	cfg := store.DefaultConfig()
	if v := getenv("ARBOR_RELATIONSHIP_TABLE"); v != "" {
		cfg.RelationshipTable = v
	}
	if v := getenv("ARBOR_UNIQUE_TABLE"); v != "" {
		cfg.UniqueTable = v
	}
	if n, err := strconv.Atoi(getenv("ARBOR_NUM_SHARDS")); err == nil {
		cfg.NumShards = n
	}
	return cfg
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Cascades only touch relationship and unique items, so no registry is needed.
	s := store.New(dynamodb.NewFromConfig(awsCfg), nil, storeConfig(os.Getenv))
	lambda.Start(stream.NewHandler(s, logger).HandleCascadeDelete)
}
