package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
)

// kvContract exercises the KV contract shared by all backends.
func kvContract(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := kv.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get = %q, want %q", got, `{"a":1}`)
	}

	// Overwrite.
	if err := kv.Set(ctx, "k", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err = kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("Get after overwrite = %q, want %q", got, `{"a":2}`)
	}

	// Remove, then removing again is not an error.
	if err := kv.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove error = %v, want ErrNotFound", err)
	}
	if err := kv.Remove(ctx, "k"); err != nil {
		t.Errorf("Remove(missing) error = %v, want nil", err)
	}
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemory()
	defer kv.Close()
	kvContract(t, kv)
}

func TestMemoryKVCopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	value := []byte("abc")
	if err := kv.Set(ctx, "k", value); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value[0] = 'x'

	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("Get = %q, caller mutation leaked into store", got)
	}
}

func TestSQLiteKV(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pruner.db")

	kv, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer kv.Close()

	kvContract(t, kv)
}

func TestSQLiteKVPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pruner.db")

	kv, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := kv.Set(ctx, "session", []byte(`{"accountId":"1"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "session")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != `{"accountId":"1"}` {
		t.Errorf("Get after reopen = %q", got)
	}
}

// setupTestRedis creates a test redis client, skipping when no local redis
// is available. Container-backed coverage lives in tests/integration.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestRedisKV(t *testing.T) {
	client := setupTestRedis(t)
	kv := NewRedisWithClient(client)
	kvContract(t, kv)
}

func TestNewRedisBadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not a url"); err == nil {
		t.Error("NewRedis should reject an unparseable URL")
	}
}

func TestGetSetJSON(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	type record struct {
		IDs []string `json:"ids"`
	}

	if err := SetJSON(ctx, kv, "r", record{IDs: []string{"a", "b"}}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got record
	if err := GetJSON(ctx, kv, "r", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(got.IDs) != 2 || got.IDs[0] != "a" || got.IDs[1] != "b" {
		t.Errorf("GetJSON = %+v", got)
	}

	var missing record
	if err := GetJSON(ctx, kv, "nope", &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON(missing) error = %v, want ErrNotFound", err)
	}
}
