package store_test

import (
	"context"
	"testing"

	"daycare/internal/store"
)

// A nil DB (failed open) must degrade, not panic, in the health and shutdown
// paths.
func TestNilDBIsSafe(t *testing.T) {
	var d *store.DB
	if d.Healthy(context.Background()) {
		t.Fatal("nil db must not report healthy")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("closing a nil db must be a no-op, got %v", err)
	}
}
