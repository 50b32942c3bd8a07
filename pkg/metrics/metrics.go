// Package metrics provides the centralized Prometheus metrics registry for
// the pruner engine. All metrics are defined in their respective packages
// (directory/mastodon, fetcher, prefetch, session, store) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Directory Metrics (pkg/directory/mastodon):
//   - pruner_mastodon_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - pruner_mastodon_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - pruner_mastodon_errors_total{class} (Counter): Errors by class (auth, client, server, rate_limit, network)
//   - pruner_mastodon_retries_total{error_class} (Counter): Retry attempts by error class
//   - pruner_mastodon_retry_backoff_seconds{error_class} (Histogram): Backoff duration per retry
//   - pruner_mastodon_retry_exhausted_total{error_class} (Counter): Retry budget exhaustions
//   - pruner_mastodon_rate_limit_remaining (Gauge): Remaining request budget from response headers
//   - pruner_mastodon_rate_limit_throttles_total (Counter): Requests slowed near budget exhaustion
//   - pruner_mastodon_rate_limit_blocks_total (Counter): Requests that waited for the window reset
//
// Fetch Metrics (pkg/fetcher):
//   - pruner_fetch_pages_total (Counter): Pages drained from the following listing
//   - pruner_fetch_retries_total (Counter): Page retry attempts
//   - pruner_fetch_failures_total (Counter): Whole-fetch aborts after retry exhaustion
//   - pruner_fetch_duration_seconds (Histogram): Full following-list fetch duration
//
// Prefetch Metrics (pkg/prefetch):
//   - pruner_prefetch_fills_total{slot} (Counter): Slot fills by slot (current, next)
//   - pruner_prefetch_stale_dropped_total (Counter): Async results dropped by generation fencing
//   - pruner_relationship_chunks_dropped_total (Counter): Relationship batch chunks dropped as malformed/failed
//
// Session Metrics (pkg/session):
//   - pruner_sessions_started_total{mode} (Counter): Sessions started by mode (fresh, resume)
//   - pruner_sessions_finished_total (Counter): Sessions that reached the finished state
//   - pruner_decisions_total{decision} (Counter): Committed decisions by kind (keep, unfollow)
//   - pruner_unfollow_remote_failures_total (Counter): Remote unfollow calls that failed after the decision was recorded
//
// Store Metrics (pkg/store):
//   - pruner_store_ops_total{backend, op} (Counter): KV operations by backend and op
//   - pruner_store_errors_total{backend, op} (Counter): KV errors by backend and op
//
// Example Prometheus Queries:
//
//   # Decision throughput
//   rate(pruner_decisions_total[5m])
//
//   # Share of prefetch work wasted on stale generations
//   rate(pruner_prefetch_stale_dropped_total[5m]) / rate(pruner_prefetch_fills_total[5m])
//
//   # Relationship chunk drop rate (should stay near zero)
//   rate(pruner_relationship_chunks_dropped_total[5m])
//
//   # P95 directory latency
//   histogram_quantile(0.95, rate(pruner_mastodon_request_duration_seconds_bucket[5m]))
