package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sehha.app/diagnosis-assistant/internal/policy"
)

// Runs only against a live server: REDIS_TEST_ADDR=localhost:6379 go test ./internal/store
func TestRedisStore_PolicyTableRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedisStore(addr)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer r.Close()
	t.Cleanup(func() { r.client.Del(ctx, policyTableKey) })

	r.client.Del(ctx, policyTableKey)
	empty, err := r.LoadTable(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("LoadTable on missing key = %v, %v; want empty, nil", empty, err)
	}

	want := policy.Table{"A=?": {"A": 0.1}}
	if err := r.SaveTable(ctx, want); err != nil {
		t.Fatalf("SaveTable: %v", err)
	}
	got, err := r.LoadTable(ctx)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}
