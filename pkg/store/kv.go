// Package store provides the durable key-value persistence used to resume
// review sessions across reloads. Backends: redis for hosted deployments,
// sqlite for single-user local runs, and an in-memory store for tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("store: key not found")
)

// Prometheus metrics for store operations.
var (
	storeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pruner_store_ops_total",
		Help: "Total key-value store operations by backend and operation",
	}, []string{"backend", "op"})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pruner_store_errors_total",
		Help: "Total key-value store errors by backend and operation",
	}, []string{"backend", "op"})
)

// KV is the durable key-value contract the engine persists through.
// Values are opaque bytes; the engine stores JSON records.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// GetJSON reads key and unmarshals it into v. Returns ErrNotFound unchanged
// so callers can branch on a missing record.
func GetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal record %q: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record %q: %w", key, err)
	}
	return kv.Set(ctx, key, data)
}
