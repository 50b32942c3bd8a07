package mastodon

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pruner_mastodon_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_mastodon_rate_limit_throttles_total",
		Help: "Total number of requests throttled near the rate limit",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_mastodon_rate_limit_blocks_total",
		Help: "Total number of requests that waited for the window reset",
	})
)

// warnRemaining is the remaining-request count below which outgoing requests
// are throttled instead of sent at full speed.
const warnRemaining = 10

// tracker follows the server's X-RateLimit-* response headers and slows the
// client down before the server starts returning 429s. State is per-client;
// Mastodon scopes the limit to the access token, which a client holds exactly
// one of.
type tracker struct {
	logger zerolog.Logger

	mu        sync.Mutex
	known     bool
	remaining int
	resetAt   time.Time
}

func newTracker(logger zerolog.Logger) *tracker {
	return &tracker{logger: logger}
}

// UpdateFromHeaders parses X-RateLimit-Remaining and X-RateLimit-Reset.
// Responses without the headers leave the state untouched.
func (t *tracker) UpdateFromHeaders(headers http.Header) {
	remainStr := headers.Get("X-RateLimit-Remaining")
	if remainStr == "" {
		return
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		t.logger.Warn().Str("value", remainStr).Msg("Unparseable X-RateLimit-Remaining header")
		return
	}

	// X-RateLimit-Reset is an RFC3339 timestamp.
	var resetAt time.Time
	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		if parsed, err := time.Parse(time.RFC3339, resetStr); err == nil {
			resetAt = parsed
		} else {
			t.logger.Warn().Str("value", resetStr).Msg("Unparseable X-RateLimit-Reset header")
		}
	}

	t.mu.Lock()
	t.known = true
	t.remaining = remain
	t.resetAt = resetAt
	t.mu.Unlock()

	rateLimitRemaining.Set(float64(remain))

	if remain == 0 {
		t.logger.Warn().Time("reset_at", resetAt).Msg("Rate limit exhausted")
	} else if remain < warnRemaining {
		t.logger.Info().Int("remaining", remain).Msg("Rate limit running low")
	}
}

// Wait gates an outgoing request: full speed while healthy, a short pause when
// the window is nearly spent, and a wait until the reset once it is exhausted.
func (t *tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	known := t.known
	remaining := t.remaining
	resetAt := t.resetAt
	t.mu.Unlock()

	if !known || remaining >= warnRemaining {
		return nil
	}

	if remaining > 0 {
		rateLimitThrottlesTotal.Inc()
		t.logger.Warn().Int("remaining", remaining).Msg("Throttling request")
		return sleepCtx(ctx, 1*time.Second)
	}

	wait := time.Until(resetAt)
	if wait <= 0 {
		return nil
	}
	rateLimitBlocksTotal.Inc()
	t.logger.Warn().Dur("wait", wait).Msg("Rate limit exhausted, waiting for window reset")
	return sleepCtx(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
