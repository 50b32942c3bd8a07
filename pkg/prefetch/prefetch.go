// Package prefetch keeps the current and next review items warm so advancing
// through the queue never blocks on network I/O for an already-fetched item.
//
// There is no cancellation of in-flight fetches; instead every fill carries
// the generation counter current at the time it was issued, and a result whose
// generation is stale on arrival is dropped, not applied.
package prefetch

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/prunerapp/pruner/pkg/directory"
)

// Prometheus metrics for lookahead prefetching.
var (
	prefetchFillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pruner_prefetch_fills_total",
		Help: "Slot fills by slot",
	}, []string{"slot"})

	prefetchStaleDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_prefetch_stale_dropped_total",
		Help: "Async results dropped by generation fencing",
	})

	relationshipChunksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_relationship_chunks_dropped_total",
		Help: "Relationship batch chunks dropped as malformed or failed",
	})
)

// Item is one fully warmed review item.
type Item struct {
	Account directory.Account

	// Relationship is nil when its batch chunk was dropped; relationship data
	// is supplementary and never decision-blocking.
	Relationship *directory.Relationship

	// ListIDs are the ids of the user's lists this account is a member of.
	ListIDs []string
}

// Prefetcher holds the current and next slots.
type Prefetcher struct {
	client directory.Client
	logger zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	current *Item
	next    *Item

	// onFillDone is a test hook invoked after an async fill resolves;
	// applied reports whether the result survived the generation fence.
	onFillDone func(applied bool)
}

// New creates a prefetcher over the given directory client.
func New(client directory.Client) *Prefetcher {
	return &Prefetcher{
		client: client,
		logger: log.With().Str("component", "prefetch").Logger(),
	}
}

// Current returns the warmed current item, if any.
func (p *Prefetcher) Current() (Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return Item{}, false
	}
	return *p.current, true
}

// Next returns the warmed next item, if any.
func (p *Prefetcher) Next() (Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next == nil {
		return Item{}, false
	}
	return *p.next, true
}

// Invalidate clears both slots and fences out every in-flight fill.
func (p *Prefetcher) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	p.current = nil
	p.next = nil
}

// Bootstrap warms current (queue[0]) and next (queue[1]) concurrently and
// blocks until both resolve. Relationship lookups for the two heads are
// issued as one batched call. A failure warming next degrades to an empty
// next slot; a failure warming current fails the bootstrap.
func (p *Prefetcher) Bootstrap(ctx context.Context, queue []string) error {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.current = nil
	p.next = nil
	p.mu.Unlock()

	if len(queue) == 0 {
		return nil
	}

	heads := queue[:1]
	if len(queue) > 1 {
		heads = queue[:2]
	}

	rels, err := p.Relationships(ctx, heads)
	if err != nil {
		return err
	}

	var current, next *Item
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		item, err := p.fetchItem(gctx, heads[0], rels)
		if err != nil {
			return err
		}
		current = item
		return nil
	})
	if len(heads) > 1 {
		g.Go(func() error {
			item, err := p.fetchItem(gctx, heads[1], rels)
			if err != nil {
				// The next slot is a latency optimization; losing it must not
				// block the session from starting.
				if errors.Is(err, directory.ErrAuthExpired) {
					return err
				}
				p.logger.Warn().Err(err).Str("account_id", heads[1]).Msg("Next slot warmup failed")
				return nil
			}
			next = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		prefetchStaleDroppedTotal.Inc()
		p.logger.Debug().Uint64("generation", gen).Msg("Stale bootstrap result dropped")
		return nil
	}
	p.current = current
	p.next = next
	prefetchFillsTotal.WithLabelValues("current").Inc()
	if next != nil {
		prefetchFillsTotal.WithLabelValues("next").Inc()
	}
	return nil
}

// Advance promotes next into current without refetching and starts an
// asynchronous fill of the new successor within queue (the filtered queue
// after the decision that triggered the advance). It never blocks on network
// I/O.
//
// If next was empty and the queue is exhausted, promotion yields an empty
// current, which the session interprets as Finished.
func (p *Prefetcher) Advance(ctx context.Context, queue []string) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	promoted := p.next
	p.current = promoted
	p.next = nil
	p.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	if promoted == nil {
		// The async fill never resolved (or failed); rewarm both heads in the
		// background so the walk can continue after a short wait.
		p.logger.Debug().Int("queue_len", len(queue)).Msg("Advance with cold next slot")
		p.fillAsync(ctx, gen, queue[0], slotCurrent)
		if len(queue) > 1 {
			p.fillAsync(ctx, gen, queue[1], slotNext)
		}
		return
	}

	succ := successor(queue, promoted.Account.ID)
	if succ == "" {
		return
	}
	p.fillAsync(ctx, gen, succ, slotNext)
}

type slot string

const (
	slotCurrent slot = "current"
	slotNext    slot = "next"
)

// successor returns the id following current in queue, or "" at the end.
func successor(queue []string, current string) string {
	for i, id := range queue {
		if id == current {
			if i+1 < len(queue) {
				return queue[i+1]
			}
			return ""
		}
	}
	// The promoted item is no longer in the queue; restart from the head.
	if len(queue) > 0 {
		return queue[0]
	}
	return ""
}

// fillAsync fetches an item in the background and applies it to the given
// slot unless the generation moved on.
func (p *Prefetcher) fillAsync(ctx context.Context, gen uint64, id string, s slot) {
	// The fill must outlive the caller's request scope; fencing, not
	// cancellation, is what retires it.
	bg := context.WithoutCancel(ctx)

	go func() {
		rels, err := p.Relationships(bg, []string{id})
		if err != nil {
			p.finishFill(false)
			return
		}

		item, err := p.fetchItem(bg, id, rels)
		if err != nil {
			p.logger.Warn().Err(err).Str("account_id", id).Str("slot", string(s)).Msg("Slot fill failed")
			p.finishFill(false)
			return
		}

		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			prefetchStaleDroppedTotal.Inc()
			p.logger.Debug().
				Uint64("generation", gen).
				Str("account_id", id).
				Msg("Stale fill dropped")
			p.finishFill(false)
			return
		}
		switch s {
		case slotCurrent:
			p.current = item
		case slotNext:
			p.next = item
		}
		p.mu.Unlock()

		prefetchFillsTotal.WithLabelValues(string(s)).Inc()
		p.finishFill(true)
	}()
}

func (p *Prefetcher) finishFill(applied bool) {
	if p.onFillDone != nil {
		p.onFillDone(applied)
	}
}

// fetchItem warms a single item: account detail plus list memberships,
// fanned out, with the relationship taken from the pre-fetched batch.
// Membership failures degrade to an empty membership set.
func (p *Prefetcher) fetchItem(ctx context.Context, id string, rels map[string]directory.Relationship) (*Item, error) {
	item := &Item{}
	if rel, ok := rels[id]; ok {
		relCopy := rel
		item.Relationship = &relCopy
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		account, err := p.client.FetchAccount(gctx, id)
		if err != nil {
			return err
		}
		item.Account = account
		return nil
	})
	g.Go(func() error {
		lists, err := p.client.ListMemberships(gctx, id)
		if err != nil {
			if errors.Is(err, directory.ErrAuthExpired) {
				return err
			}
			p.logger.Warn().Err(err).Str("account_id", id).Msg("Membership lookup failed")
			return nil
		}
		ids := make([]string, len(lists))
		for i, l := range lists {
			ids[i] = l.ID
		}
		item.ListIDs = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return item, nil
}

// Relationships fetches relationships for the given ids, chunked at the
// directory batch limit, and merges the chunk results by id. A malformed or
// failed chunk is dropped rather than retried per id: the affected accounts
// simply have no relationship data. Auth rejections abort the whole lookup.
func (p *Prefetcher) Relationships(ctx context.Context, ids []string) (map[string]directory.Relationship, error) {
	out := make(map[string]directory.Relationship, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(ids); start += directory.MaxRelationshipBatch {
		end := start + directory.MaxRelationshipBatch
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		g.Go(func() error {
			rels, err := p.client.FetchRelationships(gctx, chunk)
			if err != nil {
				if errors.Is(err, directory.ErrAuthExpired) {
					return err
				}
				relationshipChunksDroppedTotal.Inc()
				p.logger.Warn().
					Err(err).
					Int("chunk_size", len(chunk)).
					Msg("Relationship chunk dropped")
				return nil
			}

			mu.Lock()
			for _, rel := range rels {
				out[rel.ID] = rel
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
