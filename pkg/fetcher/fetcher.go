// Package fetcher drains the directory's cursor-paginated following listing
// into one deduplicated, order-preserving base collection of accounts.
//
// The resulting receipt order is the directory default (most-recently-followed
// first) and is the canonical "newest" order the queue package sorts against.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prunerapp/pruner/pkg/directory"
)

// Prometheus metrics for pagination fetches.
var (
	fetchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_fetch_pages_total",
		Help: "Pages drained from the following listing",
	})

	fetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_fetch_retries_total",
		Help: "Page retry attempts",
	})

	fetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_fetch_failures_total",
		Help: "Whole-fetch aborts after retry exhaustion",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pruner_fetch_duration_seconds",
		Help:    "Full following-list fetch duration in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Config holds fetcher configuration.
type Config struct {
	// PageSize is the page size requested from the directory.
	PageSize int

	// RetryBackoff is the wait before the single page retry.
	RetryBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:     80,
		RetryBackoff: 1 * time.Second,
	}
}

// Fetcher drains a paginated following listing.
type Fetcher struct {
	client directory.Client
	config Config
	logger zerolog.Logger
}

// New creates a fetcher over the given directory client.
func New(client directory.Client, cfg Config) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 80
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 1 * time.Second
	}

	return &Fetcher{
		client: client,
		config: cfg,
		logger: log.With().Str("component", "fetcher").Logger(),
	}
}

// FetchAllFollowing retrieves the complete following collection for accountID,
// concatenating pages in receipt order and deduplicating by id (directories
// may return overlapping pages under concurrent mutation).
//
// A failed page request is retried once with backoff; a second failure aborts
// the whole fetch with an error wrapping directory.ErrFetchFailed rather than
// returning a partial collection silently. Auth rejections abort immediately.
func (f *Fetcher) FetchAllFollowing(ctx context.Context, accountID string) ([]directory.Account, error) {
	start := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		accounts []directory.Account
		seen     = make(map[string]struct{})
		cursor   string
		pageNum  int
	)

	for {
		pageNum++

		page, err := f.fetchPageWithRetry(ctx, accountID, cursor)
		if err != nil {
			fetchFailuresTotal.Inc()
			f.logger.Error().
				Err(err).
				Str("account_id", accountID).
				Int("page", pageNum).
				Int("fetched_so_far", len(accounts)).
				Msg("Following fetch aborted")
			return nil, err
		}

		fetchPagesTotal.Inc()
		for _, account := range page.Accounts {
			if _, dup := seen[account.ID]; dup {
				continue
			}
			seen[account.ID] = struct{}{}
			accounts = append(accounts, account)
		}

		if pageNum%10 == 0 {
			f.logger.Info().
				Str("account_id", accountID).
				Int("pages", pageNum).
				Int("accounts", len(accounts)).
				Msg("Fetch progress")
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	f.logger.Info().
		Str("account_id", accountID).
		Int("pages", pageNum).
		Int("accounts", len(accounts)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return accounts, nil
}

// fetchPageWithRetry fetches one page, retrying once with jittered backoff.
func (f *Fetcher) fetchPageWithRetry(ctx context.Context, accountID, cursor string) (directory.Page, error) {
	opts := directory.ListOptions{Cursor: cursor, Limit: f.config.PageSize}

	page, err := f.client.ListFollowing(ctx, accountID, opts)
	if err == nil {
		return page, nil
	}
	if errors.Is(err, directory.ErrAuthExpired) {
		return directory.Page{}, err
	}

	fetchRetriesTotal.Inc()

	// Jitter (±20%) like every other backoff in this codebase.
	backoff := time.Duration(float64(f.config.RetryBackoff) * (0.8 + rand.Float64()*0.4))
	f.logger.Warn().
		Err(err).
		Str("account_id", accountID).
		Str("cursor", cursor).
		Dur("backoff", backoff).
		Msg("Page fetch failed, retrying")

	select {
	case <-ctx.Done():
		return directory.Page{}, fmt.Errorf("%w: %v", directory.ErrFetchFailed, ctx.Err())
	case <-time.After(backoff):
	}

	page, err = f.client.ListFollowing(ctx, accountID, opts)
	if err != nil {
		if errors.Is(err, directory.ErrAuthExpired) {
			return directory.Page{}, err
		}
		return directory.Page{}, fmt.Errorf("%w: page after cursor %q: %v", directory.ErrFetchFailed, cursor, err)
	}
	return page, nil
}
