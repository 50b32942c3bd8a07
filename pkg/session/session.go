// Package session implements the review-session engine: it freezes a base
// following collection at start, derives the active queue from decisions and
// sort order, walks the queue through a pending/confirm decision machine, and
// persists everything needed to resume after a reload without refetching.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prunerapp/pruner/pkg/directory"
	"github.com/prunerapp/pruner/pkg/fetcher"
	"github.com/prunerapp/pruner/pkg/prefetch"
	"github.com/prunerapp/pruner/pkg/queue"
	"github.com/prunerapp/pruner/pkg/store"
)

// Prometheus metrics for the session engine.
var (
	sessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pruner_sessions_started_total",
		Help: "Sessions started by mode (fresh or resume)",
	}, []string{"mode"})

	sessionsFinishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_sessions_finished_total",
		Help: "Sessions that reached the finished state",
	})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pruner_decisions_total",
		Help: "Committed decisions by kind",
	}, []string{"decision"})

	unfollowRemoteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pruner_unfollow_remote_failures_total",
		Help: "Remote unfollow calls that failed after the local decision was recorded",
	})
)

type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingKeep
	pendingUnfollow
)

// Config holds everything a session needs.
type Config struct {
	// Directory is the remote directory binding.
	Directory directory.Client

	// Store is the durable record store.
	Store store.KV

	// AccountID is the logged-in account whose following list is reviewed.
	AccountID string

	// AccountUsername is the human-readable handle, kept for display and export.
	AccountUsername string

	// Fetcher tunes the base-collection fetch; zero values get defaults.
	Fetcher fetcher.Config
}

// Session is the review-session engine. All exported methods are safe for
// concurrent use; a single mutex serializes every state transition, so rapid
// duplicate input on the same item resolves to exactly one decision.
type Session struct {
	dir    directory.Client
	kv     store.KV
	fetch  *fetcher.Fetcher
	ahead  *prefetch.Prefetcher
	logger zerolog.Logger

	accountID       string
	accountUsername string

	mu         sync.Mutex
	started    bool
	finished   bool
	state      ItemState
	pending    pendingKind
	pendingID  string
	startCount int
	base       []string
	sorted     []string
	decisions  *DecisionSet
	settings   Settings
}

// New creates an unstarted session. Call Start before anything else.
func New(cfg Config) (*Session, error) {
	if cfg.Directory == nil {
		return nil, errors.New("session: directory client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.AccountID == "" {
		return nil, errors.New("session: account id is required")
	}

	return &Session{
		dir:             cfg.Directory,
		kv:              cfg.Store,
		fetch:           fetcher.New(cfg.Directory, cfg.Fetcher),
		ahead:           prefetch.New(cfg.Directory),
		logger:          log.With().Str("component", "session").Str("account_id", cfg.AccountID).Logger(),
		accountID:       cfg.AccountID,
		accountUsername: cfg.AccountUsername,
		decisions:       NewDecisionSet(nil, nil),
		settings:        DefaultSettings(),
	}, nil
}

// Start brings the session up: it resumes from persisted records when a
// session for this account exists, otherwise it drains the full following
// listing, freezes it as the base collection, and persists the fresh records.
// Either way it finishes by warming the lookahead slots, so the first item is
// ready when Start returns.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	resumed, err := s.tryResumeLocked(ctx)
	if err != nil {
		return err
	}
	if !resumed {
		if err := s.startFreshLocked(ctx); err != nil {
			return err
		}
	}

	active := s.activeQueueLocked()
	if err := store.SetJSON(ctx, s.kv, s.key(recordQueue), queueRecord{FollowingIDs: active}); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	if err := s.ahead.Bootstrap(ctx, active); err != nil {
		return fmt.Errorf("warm lookahead: %w", err)
	}

	s.started = true
	s.state = StateIdle
	s.finished = len(active) == 0

	mode := "fresh"
	if resumed {
		mode = "resume"
	}
	sessionsStartedTotal.WithLabelValues(mode).Inc()
	s.logger.Info().
		Str("mode", mode).
		Int("base", len(s.base)).
		Int("queue_len", len(active)).
		Int("decided", s.decisions.Count()).
		Msg("Session started")
	return nil
}

// tryResumeLocked restores a persisted session. Missing decisions or settings
// records degrade to empty/default; a missing or foreign session record means
// there is nothing to resume.
func (s *Session) tryResumeLocked(ctx context.Context) (bool, error) {
	var rec sessionRecord
	err := store.GetJSON(ctx, s.kv, s.key(recordSession), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session record: %w", err)
	}
	if rec.AccountID != s.accountID || len(rec.BaseFollowingIDs) == 0 {
		return false, nil
	}

	var dec decisionsRecord
	if err := store.GetJSON(ctx, s.kv, s.key(recordDecisions), &dec); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("load decisions record: %w", err)
	}

	settings := DefaultSettings()
	if err := store.GetJSON(ctx, s.kv, s.key(recordSettings), &settings); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("load settings record: %w", err)
	}

	s.base = rec.BaseFollowingIDs
	s.startCount = rec.StartCount
	if rec.AccountUsername != "" {
		s.accountUsername = rec.AccountUsername
	}
	s.decisions = NewDecisionSet(dec.KeptIDs, dec.UnfollowedIDs)
	s.settings = settings
	s.sorted = queue.SortIDs(s.base, s.settings.SortOrder)

	// Prefer the persisted queue order over a fresh sort: under the random
	// order a re-sort would deal a new permutation and lose the walk position.
	var q queueRecord
	switch err := store.GetJSON(ctx, s.kv, s.key(recordQueue), &q); {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load queue record: %w", err)
	default:
		s.restoreQueueOrderLocked(q.FollowingIDs)
	}
	return true, nil
}

// restoreQueueOrderLocked adopts a persisted queue order if it still covers
// exactly the undecided ids. The decisions record is the durable source of
// truth and is written first, so a queue that predates the last decision is
// simply filtered down; anything inconsistent beyond that keeps the fresh
// sort instead.
func (s *Session) restoreQueueOrderLocked(persisted []string) {
	undecided := make(map[string]struct{})
	for _, id := range s.base {
		if !s.decisions.Decided(id) {
			undecided[id] = struct{}{}
		}
	}

	filtered := queue.FilterIDs(persisted, s.decisions.keptSet, s.decisions.unfollowedSet)
	if len(filtered) != len(undecided) {
		return
	}
	seen := make(map[string]struct{}, len(filtered))
	for _, id := range filtered {
		if _, ok := undecided[id]; !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
	}
	s.sorted = filtered
}

// startFreshLocked drains the directory and persists the frozen base.
func (s *Session) startFreshLocked(ctx context.Context) error {
	accounts, err := s.fetch.FetchAllFollowing(ctx, s.accountID)
	if err != nil {
		return err
	}

	s.base = make([]string, len(accounts))
	for i, account := range accounts {
		s.base[i] = account.ID
	}
	s.startCount = len(s.base)
	s.decisions = NewDecisionSet(nil, nil)
	s.settings = DefaultSettings()
	s.sorted = queue.SortIDs(s.base, s.settings.SortOrder)

	rec := sessionRecord{
		AccountID:        s.accountID,
		AccountUsername:  s.accountUsername,
		StartCount:       s.startCount,
		BaseFollowingIDs: s.base,
	}
	if err := store.SetJSON(ctx, s.kv, s.key(recordSession), rec); err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}
	if err := s.persistDecisionsLocked(ctx); err != nil {
		return err
	}
	if err := store.SetJSON(ctx, s.kv, s.key(recordSettings), s.settings); err != nil {
		return fmt.Errorf("persist settings record: %w", err)
	}
	return nil
}

// RequestUnfollow marks the current item as pending unfollow. With
// SkipConfirmation enabled the decision commits immediately.
func (s *Session) RequestUnfollow(ctx context.Context) error {
	return s.request(ctx, pendingUnfollow)
}

// RequestKeep marks the current item as pending keep. With SkipConfirmation
// enabled the decision commits immediately.
func (s *Session) RequestKeep(ctx context.Context) error {
	return s.request(ctx, pendingKeep)
}

func (s *Session) request(ctx context.Context, kind pendingKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	if s.finished {
		return nil
	}
	if s.state != StateIdle {
		return ErrNotIdle
	}
	item, ok := s.ahead.Current()
	if !ok {
		return ErrNoCurrent
	}

	s.pending = kind
	s.pendingID = item.Account.ID
	if kind == pendingUnfollow {
		s.state = StatePendingUnfollow
	} else {
		s.state = StatePendingKeep
	}

	if s.settings.SkipConfirmation {
		return s.commitLocked(ctx)
	}
	return nil
}

// Undo cancels the pending decision and returns the item to idle. It is only
// valid while a decision is pending; once committed there is no undo.
func (s *Session) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	if s.state != StatePendingUnfollow && s.state != StatePendingKeep {
		return ErrNothingPending
	}

	s.pending = pendingNone
	s.pendingID = ""
	s.state = StateIdle
	return nil
}

// Confirm commits the pending decision and advances to the next item.
// Confirm on a finished session is a no-op; with nothing pending it returns
// ErrNothingPending.
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	if s.finished {
		return nil
	}
	if s.state != StatePendingUnfollow && s.state != StatePendingKeep {
		return ErrNothingPending
	}
	return s.commitLocked(ctx)
}

// commitLocked is the single commit path: record the decision, perform the
// best-effort remote unfollow, persist decisions before the queue, advance the
// lookahead, and settle into idle or finished. The mutex is held throughout,
// so duplicate input during the transition window cannot double-commit.
func (s *Session) commitLocked(ctx context.Context) error {
	id := s.pendingID
	kind := s.pending
	s.state = StateTransitioning
	s.pending = pendingNone
	s.pendingID = ""

	var remoteErr error
	switch kind {
	case pendingKeep:
		s.decisions.AddKept(id)
		decisionsTotal.WithLabelValues("keep").Inc()
	case pendingUnfollow:
		s.decisions.AddUnfollowed(id)
		decisionsTotal.WithLabelValues("unfollow").Inc()
		if err := s.dir.Unfollow(ctx, id); err != nil {
			// The local decision stands; the remote edge is reconciled by the
			// user retrying or the directory catching up.
			unfollowRemoteFailuresTotal.Inc()
			s.logger.Warn().Err(err).Str("target_id", id).Msg("Remote unfollow failed")
			remoteErr = &RemoteUnfollowError{AccountID: id, Err: err}
		}
	}

	if err := s.persistDecisionsLocked(ctx); err != nil {
		s.state = StateIdle
		return err
	}

	active := s.activeQueueLocked()
	if err := store.SetJSON(ctx, s.kv, s.key(recordQueue), queueRecord{FollowingIDs: active}); err != nil {
		s.state = StateIdle
		return fmt.Errorf("persist queue: %w", err)
	}

	s.ahead.Advance(ctx, active)
	s.state = StateIdle

	if len(active) == 0 && !s.finished {
		s.finished = true
		sessionsFinishedTotal.Inc()
		s.logger.Info().
			Int("kept", len(s.decisions.Kept())).
			Int("unfollowed", len(s.decisions.Unfollowed())).
			Msg("Session finished")
	}
	return remoteErr
}

// persistDecisionsLocked writes the decisions record. It is always written
// (and awaited) before the queue record, so a crash between the two can only
// leave a stale queue, which resume filters back down through decisions.
func (s *Session) persistDecisionsLocked(ctx context.Context) error {
	rec := decisionsRecord{
		KeptIDs:       s.decisions.Kept(),
		UnfollowedIDs: s.decisions.Unfollowed(),
	}
	if err := store.SetJSON(ctx, s.kv, s.key(recordDecisions), rec); err != nil {
		return fmt.Errorf("persist decisions record: %w", err)
	}
	return nil
}

// Reorder changes the sort order, re-sorts the remaining queue, and rewarms
// the lookahead. Decisions already made are untouched.
func (s *Session) Reorder(ctx context.Context, order queue.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	if s.state == StatePendingUnfollow || s.state == StatePendingKeep {
		s.pending = pendingNone
		s.pendingID = ""
	}
	s.state = StateIdle

	s.settings.SortOrder = order
	if err := store.SetJSON(ctx, s.kv, s.key(recordSettings), s.settings); err != nil {
		return fmt.Errorf("persist settings record: %w", err)
	}

	s.sorted = queue.SortIDs(s.base, order)
	active := s.activeQueueLocked()
	if err := store.SetJSON(ctx, s.kv, s.key(recordQueue), queueRecord{FollowingIDs: active}); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	if err := s.ahead.Bootstrap(ctx, active); err != nil {
		return fmt.Errorf("warm lookahead: %w", err)
	}
	return nil
}

// UpdateSettings applies a partial settings update. A sort-order change goes
// through the full Reorder path; everything else is persisted in place.
func (s *Session) UpdateSettings(ctx context.Context, patch SettingsPatch) error {
	s.mu.Lock()
	reorder := false
	if patch.SortOrder != nil && *patch.SortOrder != s.settings.SortOrder {
		reorder = true
	}
	s.settings = s.settings.Apply(patch)
	if !reorder {
		defer s.mu.Unlock()
		if !s.started {
			return nil
		}
		if err := store.SetJSON(ctx, s.kv, s.key(recordSettings), s.settings); err != nil {
			return fmt.Errorf("persist settings record: %w", err)
		}
		return nil
	}
	order := s.settings.SortOrder
	s.mu.Unlock()

	return s.Reorder(ctx, order)
}

// Reset discards all persisted records and returns the session to the
// unstarted state; the next Start refetches from the directory.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range []string{recordSession, recordDecisions, recordQueue, recordSettings} {
		if err := s.kv.Remove(ctx, s.key(record)); err != nil {
			return fmt.Errorf("remove %s record: %w", record, err)
		}
	}

	s.ahead.Invalidate()
	s.started = false
	s.finished = false
	s.state = StateIdle
	s.pending = pendingNone
	s.pendingID = ""
	s.startCount = 0
	s.base = nil
	s.sorted = nil
	s.decisions = NewDecisionSet(nil, nil)
	s.settings = DefaultSettings()

	s.logger.Info().Msg("Session reset")
	return nil
}

// Current returns the warmed current review item, if any.
func (s *Session) Current() (prefetch.Item, bool) {
	return s.ahead.Current()
}

// Peek returns the warmed next review item, if any.
func (s *Session) Peek() (prefetch.Item, bool) {
	return s.ahead.Next()
}

// State returns the current per-item review state.
func (s *Session) State() ItemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Finished reports whether the queue has been walked to the end.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Queue returns a copy of the active queue: the sorted base minus every
// decided id.
func (s *Session) Queue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.activeQueueLocked()...)
}

// Settings returns the current settings snapshot.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Progress returns the number of decided accounts and the frozen start count.
func (s *Session) Progress() (decided, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decisions.Count(), s.startCount
}

// Snapshot assembles the full persisted state for export or display.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		AccountID:        s.accountID,
		AccountUsername:  s.accountUsername,
		StartCount:       s.startCount,
		BaseFollowingIDs: append([]string(nil), s.base...),
		FollowingIDs:     append([]string(nil), s.activeQueueLocked()...),
		KeptIDs:          s.decisions.Kept(),
		UnfollowedIDs:    s.decisions.Unfollowed(),
		Settings:         s.settings,
	}
}

// Lists returns the user's lists when the directory supports them.
func (s *Session) Lists(ctx context.Context) ([]directory.List, error) {
	lm, ok := s.dir.(directory.ListManager)
	if !ok {
		return nil, directory.ErrListsUnsupported
	}
	return lm.Lists(ctx)
}

// AddCurrentToList adds the current item's account to a list.
func (s *Session) AddCurrentToList(ctx context.Context, listID string) error {
	lm, ok := s.dir.(directory.ListManager)
	if !ok {
		return directory.ErrListsUnsupported
	}

	item, ok := s.ahead.Current()
	if !ok {
		return ErrNoCurrent
	}
	return lm.AddToList(ctx, listID, item.Account.ID)
}

// CreateList creates a new user list.
func (s *Session) CreateList(ctx context.Context, title string) (directory.List, error) {
	lm, ok := s.dir.(directory.ListManager)
	if !ok {
		return directory.List{}, directory.ErrListsUnsupported
	}
	return lm.CreateList(ctx, title)
}

func (s *Session) activeQueueLocked() []string {
	return queue.FilterIDs(s.sorted, s.decisions.keptSet, s.decisions.unfollowedSet)
}

func (s *Session) key(record string) string {
	return recordKey(s.accountID, record)
}
