package store

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

// --- unmarshalItem Tests ---

func TestUnmarshalItem_Full(t *testing.T) {
	raw := map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: "c1"},
		"version":    &types.AttributeValueMemberN{Value: "5"},
		"created_at": &types.AttributeValueMemberS{Value: "2026-01-01T00:00:00Z"},
		"updated_at": &types.AttributeValueMemberS{Value: "2026-01-02T00:00:00Z"},
		"entity_ref": &types.AttributeValueMemberS{Value: "comment#c1"},
		"parent_ref": &types.AttributeValueMemberS{Value: "post#p1"},
	}

	item := unmarshalItem(raw)

	if item.Version != 5 {
		t.Errorf("expected Version 5, got %d", item.Version)
	}
	if item.CreatedAt != "2026-01-01T00:00:00Z" || item.UpdatedAt != "2026-01-02T00:00:00Z" {
		t.Errorf("unexpected timestamps %q %q", item.CreatedAt, item.UpdatedAt)
	}
	if item.EntityRef != "comment#c1" {
		t.Errorf("expected EntityRef 'comment#c1', got %q", item.EntityRef)
	}
	if item.ParentRef != "post#p1" {
		t.Errorf("expected ParentRef 'post#p1', got %q", item.ParentRef)
	}
	if len(item.Raw) != len(raw) {
		t.Error("expected Raw to be preserved")
	}
}

func TestUnmarshalItem_WrongTypes(t *testing.T) {
	item := unmarshalItem(map[string]types.AttributeValue{
		"version":    &types.AttributeValueMemberS{Value: "5"},
		"entity_ref": &types.AttributeValueMemberN{Value: "1"},
	})

	if item.Version != 0 {
		t.Errorf("expected Version 0 for wrong type, got %d", item.Version)
	}
	if item.EntityRef != "" {
		t.Errorf("expected empty EntityRef for wrong type, got %q", item.EntityRef)
	}
}

func TestUnmarshalRecord_DropsManagedAttributes(t *testing.T) {
	d := &resource.Descriptor{Type: "post", Table: "posts", PrimaryKey: "slug"}
	rec, err := unmarshalRecord(d, map[string]types.AttributeValue{
		"slug":        &types.AttributeValueMemberS{Value: "hello"},
		"views":       &types.AttributeValueMemberN{Value: "12"},
		"tag_ids":     &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: "t1"}}},
		"version":     &types.AttributeValueMemberN{Value: "4"},
		"ttl":         &types.AttributeValueMemberN{Value: "99999999999"},
		"_unique_pks": &types.AttributeValueMemberL{},
	})
	if err != nil {
		t.Fatalf("unmarshalRecord failed: %v", err)
	}

	if rec.ID != "hello" || rec.Version != 4 {
		t.Errorf("unexpected identity %q v%d", rec.ID, rec.Version)
	}
	want := map[string]any{"slug": "hello", "views": float64(12), "tag_ids": []any{"t1"}}
	if !reflect.DeepEqual(rec.Attributes, want) {
		t.Errorf("Attributes = %#v, want %#v", rec.Attributes, want)
	}
	if got := record.KeySet(rec.Get("tag_ids")); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Errorf("expected tag_ids to read back as a key set, got %v", got)
	}
}

// --- unmarshalChildRef Tests ---

func TestUnmarshalChildRef_Full(t *testing.T) {
	item := map[string]types.AttributeValue{
		"child_ref":   &types.AttributeValueMemberS{Value: "comment#c1"},
		"child_table": &types.AttributeValueMemberS{Value: "comments"},
		"child_key": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: "c1"},
		}},
	}

	ref := unmarshalChildRef(item, "post#p1#00")

	if ref.Ref != "comment#c1" || ref.TableName != "comments" || ref.ShardPK != "post#p1#00" {
		t.Errorf("unexpected ChildRef %+v", ref)
	}
	if v, ok := ref.Key["id"].(*types.AttributeValueMemberS); !ok || v.Value != "c1" {
		t.Error("expected Key id 'c1'")
	}
}

func TestUnmarshalChildRef_Minimal(t *testing.T) {
	ref := unmarshalChildRef(map[string]types.AttributeValue{}, "post#p1#00")

	if ref.Ref != "" || ref.TableName != "" || ref.Key != nil {
		t.Errorf("expected empty ChildRef, got %+v", ref)
	}
}

// --- mapTransactionError Tests ---

func cancelledWith(codes ...*string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: c}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestMapTransactionError(t *testing.T) {
	failed := aws.String("ConditionalCheckFailed")
	none := aws.String("None")
	claims := map[int]string{0: "slug", 1: "email", 3: "id"}
	other := errors.New("network")

	tests := []struct {
		name    string
		err     error
		wantFE  record.FieldErrors
		wantErr error
	}{
		{"nil", nil, nil, nil},
		{"not a transaction error", other, nil, other},
		{"one claim", cancelledWith(failed, none, none, none), record.FieldErrors{"slug": {record.MsgTaken}}, nil},
		{"two claims", cancelledWith(failed, failed, none, none), record.FieldErrors{"slug": {record.MsgTaken}, "email": {record.MsgTaken}}, nil},
		{"primary key", cancelledWith(none, none, none, failed), record.FieldErrors{"id": {record.MsgTaken}}, nil},
		{"version guard", cancelledWith(none, none, failed), nil, ErrConcurrentModification},
		{"claim wins over version guard", cancelledWith(failed, none, failed), record.FieldErrors{"slug": {record.MsgTaken}}, nil},
		{"nil code", cancelledWith(nil), nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe, err := mapTransactionError(tt.err, claims)
			if !reflect.DeepEqual(fe, tt.wantFE) {
				t.Errorf("fe = %v, want %v", fe, tt.wantFE)
			}
			switch {
			case tt.name == "nil code":
				var txErr *types.TransactionCanceledException
				if !errors.As(err, &txErr) {
					t.Errorf("expected the cancellation to pass through, got %v", err)
				}
			case tt.wantErr == nil && err != nil:
				t.Errorf("expected no error, got %v", err)
			case tt.wantErr != nil && !errors.Is(err, tt.wantErr):
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// --- Config Tests ---

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name       string
		in         Config
		wantShards int
	}{
		{"zero", Config{}, 1},
		{"negative", Config{NumShards: -5}, 1},
		{"over max", Config{NumShards: 1000}, 256},
		{"at max", Config{NumShards: 256}, 256},
		{"custom", Config{NumShards: 16}, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.in
			cfg.validate()
			if cfg.NumShards != tt.wantShards {
				t.Errorf("NumShards = %d, want %d", cfg.NumShards, tt.wantShards)
			}
			if cfg.RelationshipTable != defaultRelationshipTable || cfg.UniqueTable != defaultUniqueTable {
				t.Errorf("expected default table names, got %q %q", cfg.RelationshipTable, cfg.UniqueTable)
			}
		})
	}
}

func TestConfigValidate_PreservesCustomTableNames(t *testing.T) {
	cfg := Config{RelationshipTable: "rels", UniqueTable: "uniq"}
	cfg.validate()

	if cfg.RelationshipTable != "rels" || cfg.UniqueTable != "uniq" {
		t.Errorf("expected custom table names preserved, got %q %q", cfg.RelationshipTable, cfg.UniqueTable)
	}
}

// --- Relationship Helpers ---

func TestStore_RelationshipPK(t *testing.T) {
	s := New(nil, nil, Config{NumShards: 16})

	pk := s.relationshipPK("post#p1", "comment#c1")
	if pk != s.relationshipPK("post#p1", "comment#c1") {
		t.Error("expected relationship pk to be deterministic")
	}
	if len(pk) != len("post#p1#00") || pk[:8] != "post#p1#" {
		t.Errorf("unexpected relationship pk %q", pk)
	}

	single := New(nil, nil, DefaultConfig())
	if got := single.relationshipPK("post#p1", "comment#c1"); got != "post#p1#00" {
		t.Errorf("expected post#p1#00 with one shard, got %q", got)
	}
}

func TestTracked(t *testing.T) {
	tests := []struct {
		assoc resource.Association
		want  bool
	}{
		{resource.Association{Kind: resource.HasMany}, false},
		{resource.Association{Kind: resource.HasMany, Dependent: true}, true},
		{resource.Association{Kind: resource.EmbedsOne}, true},
		{resource.Association{Kind: resource.ManyToMany}, false},
	}

	for _, tt := range tests {
		if got := tracked(&tt.assoc); got != tt.want {
			t.Errorf("tracked(%s dependent=%v) = %v, want %v", tt.assoc.Kind, tt.assoc.Dependent, got, tt.want)
		}
	}
}

func TestWithTTLFilter(t *testing.T) {
	names := map[string]string{"#fk": "post_id"}
	expr, mergedNames, values := withTTLFilter("#fk = :owner", names, nil)

	if expr != "(#fk = :owner) AND (attribute_not_exists(#ttl) OR #ttl > :now)" {
		t.Errorf("unexpected filter %q", expr)
	}
	if mergedNames["#ttl"] != "ttl" || mergedNames["#fk"] != "post_id" {
		t.Errorf("unexpected names %v", mergedNames)
	}
	if len(names) != 1 {
		t.Error("expected input names untouched")
	}
	if _, ok := values[":now"]; !ok {
		t.Error("expected :now value")
	}

	expr, _, _ = withTTLFilter("", nil, nil)
	if expr != TTLFilterExpr() {
		t.Errorf("expected bare TTL filter, got %q", expr)
	}
}

func TestDefaultConfig_AlreadyValid(t *testing.T) {
	cfg := DefaultConfig()
	want := cfg
	cfg.validate()

	if cfg.RelationshipTable != want.RelationshipTable || cfg.UniqueTable != want.UniqueTable || cfg.NumShards != want.NumShards {
		t.Errorf("validate changed the default config: %+v", cfg)
	}
	if cfg.Validators != nil {
		t.Error("expected no validators by default")
	}
}
