package resource_test

import (
	"testing"

	"github.com/jacentio/arbor/resource"
)

func TestKind_Placement(t *testing.T) {
	tests := []struct {
		kind          resource.Kind
		placement     resource.Placement
		resolvesFirst bool
		singular      bool
	}{
		{resource.BelongsTo, resource.PlacementOwner, true, true},
		{resource.PolymorphicBelongsTo, resource.PlacementOwner, true, true},
		{resource.HasMany, resource.PlacementRelated, false, false},
		{resource.HasOne, resource.PlacementRelated, false, true},
		{resource.ManyToMany, resource.PlacementRelatedSet, false, false},
		{resource.EmbedsMany, resource.PlacementNone, false, false},
		{resource.EmbedsOne, resource.PlacementNone, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Placement(); got != tt.placement {
				t.Errorf("expected placement %d, got %d", tt.placement, got)
			}
			if got := tt.kind.ResolvesFirst(); got != tt.resolvesFirst {
				t.Errorf("expected ResolvesFirst %v, got %v", tt.resolvesFirst, got)
			}
			if got := tt.kind.Singular(); got != tt.singular {
				t.Errorf("expected Singular %v, got %v", tt.singular, got)
			}
			if !tt.kind.Valid() {
				t.Error("expected kind to be valid")
			}
		})
	}
}

func TestKind_Invalid(t *testing.T) {
	if resource.Kind("has_several").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
}
