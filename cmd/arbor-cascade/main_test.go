package main

import (
	"testing"

	"github.com/jacentio/arbor/store"
)

func TestStoreConfig(t *testing.T) {
	env := map[string]string{
		"ARBOR_RELATIONSHIP_TABLE": "rels",
		"ARBOR_NUM_SHARDS":         "16",
	}
	cfg := storeConfig(func(k string) string { return env[k] })

	if cfg.RelationshipTable != "rels" {
		t.Errorf("expected relationship table 'rels', got %q", cfg.RelationshipTable)
	}
	if cfg.UniqueTable != store.DefaultConfig().UniqueTable {
		t.Errorf("expected default unique table, got %q", cfg.UniqueTable)
	}
	if cfg.NumShards != 16 {
		t.Errorf("expected 16 shards, got %d", cfg.NumShards)
	}

	got, want := storeConfig(func(string) string { return "" }), store.DefaultConfig()
	if got.RelationshipTable != want.RelationshipTable || got.UniqueTable != want.UniqueTable || got.NumShards != want.NumShards {
		t.Errorf("expected defaults, got %+v", got)
	}
}
