package tenancy

import (
	"context"
	"testing"
)

func TestSchoolIDRoundTrip(t *testing.T) {
	ctx := WithSchoolID(context.Background(), "school-42")
	id, ok := SchoolIDFromContext(ctx)
	if !ok || id != "school-42" {
		t.Fatalf("expected school-42, got %q / %v", id, ok)
	}
}

func TestSchoolIDMissing(t *testing.T) {
	if _, ok := SchoolIDFromContext(context.Background()); ok {
		t.Fatal("expected no school id on empty context")
	}
}

func TestSchoolIDEmptyValue(t *testing.T) {
	ctx := WithSchoolID(context.Background(), "")
	if _, ok := SchoolIDFromContext(ctx); ok {
		t.Fatal("empty school id should not be treated as present")
	}
}
