package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prunerapp/pruner/internal/testutil"
	"github.com/prunerapp/pruner/pkg/queue"
	"github.com/prunerapp/pruner/pkg/store"
)

func newTestSession(t *testing.T, dir *testutil.FakeDirectory, kv store.KV) *Session {
	t.Helper()

	s, err := New(Config{
		Directory:       dir,
		Store:           kv,
		AccountID:       "me",
		AccountUsername: "me@example.social",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

// waitForNext blocks until the asynchronous lookahead fill for id lands, so
// the following decision finds a warm next slot.
func waitForNext(t *testing.T, s *Session, id string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if item, ok := s.Peek(); ok && item.Account.ID == id {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("next slot never warmed with %q", id)
}

func TestStartSortsOldestFirst(t *testing.T) {
	// Directory order is most-recently-followed first, so the default oldest
	// walk reverses it.
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b", "c", "d")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got := s.Queue()
	want := []string{"d", "c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("Queue() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Queue() = %v, want %v", got, want)
		}
	}

	item, ok := s.Current()
	if !ok || item.Account.ID != "d" {
		t.Errorf("Current() = %v %v, want account d", item.Account.ID, ok)
	}
	if decided, total := s.Progress(); decided != 0 || total != 4 {
		t.Errorf("Progress() = %d/%d, want 0/4", decided, total)
	}
}

func TestStartTwice(t *testing.T) {
	dir := testutil.NewFakeDirectory(testutil.Accounts("a")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestDecisionWalk(t *testing.T) {
	ctx := context.Background()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b", "c", "d")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Keep d.
	if err := s.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if s.State() != StatePendingKeep {
		t.Fatalf("State() = %v, want pending_keep", s.State())
	}
	if err := s.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	if item, ok := s.Current(); !ok || item.Account.ID != "c" {
		t.Fatalf("Current() after keep = %v %v, want c", item.Account.ID, ok)
	}
	if got := s.Queue(); len(got) != 3 {
		t.Fatalf("Queue() = %v, want 3 remaining", got)
	}
	waitForNext(t, s, "b")

	// Unfollow c.
	if err := s.RequestUnfollow(ctx); err != nil {
		t.Fatalf("RequestUnfollow failed: %v", err)
	}
	if err := s.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	if len(dir.Unfollowed) != 1 || dir.Unfollowed[0] != "c" {
		t.Errorf("remote unfollows = %v, want [c]", dir.Unfollowed)
	}
	if item, ok := s.Current(); !ok || item.Account.ID != "b" {
		t.Fatalf("Current() after unfollow = %v %v, want b", item.Account.ID, ok)
	}

	snap := s.Snapshot()
	if len(snap.KeptIDs) != 1 || snap.KeptIDs[0] != "d" {
		t.Errorf("KeptIDs = %v, want [d]", snap.KeptIDs)
	}
	if len(snap.UnfollowedIDs) != 1 || snap.UnfollowedIDs[0] != "c" {
		t.Errorf("UnfollowedIDs = %v, want [c]", snap.UnfollowedIDs)
	}
	if decided, total := s.Progress(); decided != 2 || total != 4 {
		t.Errorf("Progress() = %d/%d, want 2/4", decided, total)
	}
}

func TestFinishExactlyOnce(t *testing.T) {
	ctx := context.Background()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Decide b (oldest first), then a.
	if err := s.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if err := s.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if s.Finished() {
		t.Fatal("session finished with one item remaining")
	}

	if err := s.RequestUnfollow(ctx); err != nil {
		t.Fatalf("RequestUnfollow failed: %v", err)
	}
	if err := s.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	if !s.Finished() {
		t.Fatal("session should be finished after the last decision")
	}
	if got := s.Queue(); len(got) != 0 {
		t.Errorf("Queue() = %v, want empty", got)
	}

	// Further input is a no-op, not an error.
	if err := s.Confirm(ctx); err != nil {
		t.Errorf("Confirm after finish = %v, want nil", err)
	}
	if err := s.RequestKeep(ctx); err != nil {
		t.Errorf("RequestKeep after finish = %v, want nil", err)
	}
	if !s.Finished() {
		t.Error("finished state should be sticky")
	}
}

func TestUndoReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.RequestUnfollow(ctx); err != nil {
		t.Fatalf("RequestUnfollow failed: %v", err)
	}
	if err := s.Undo(); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	if s.State() != StateIdle {
		t.Errorf("State() = %v, want idle", s.State())
	}
	if item, ok := s.Current(); !ok || item.Account.ID != "b" {
		t.Errorf("Current() = %v %v, want b unchanged", item.Account.ID, ok)
	}
	if got := s.Queue(); len(got) != 2 {
		t.Errorf("Queue() = %v, want both items", got)
	}
	if len(dir.Unfollowed) != 0 {
		t.Errorf("remote unfollows = %v, want none", dir.Unfollowed)
	}

	if err := s.Undo(); !errors.Is(err, ErrNothingPending) {
		t.Errorf("Undo with nothing pending = %v, want ErrNothingPending", err)
	}
}

func TestConfirmWithNothingPending(t *testing.T) {
	dir := testutil.NewFakeDirectory(testutil.Accounts("a")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Confirm(context.Background()); !errors.Is(err, ErrNothingPending) {
		t.Errorf("Confirm = %v, want ErrNothingPending", err)
	}
}

func TestRequestWhilePending(t *testing.T) {
	ctx := context.Background()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if err := s.RequestUnfollow(ctx); !errors.Is(err, ErrNotIdle) {
		t.Errorf("RequestUnfollow while pending = %v, want ErrNotIdle", err)
	}
}

func TestSkipConfirmationCommitsImmediately(t *testing.T) {
	ctx := context.Background()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	yes := true
	if err := s.UpdateSettings(ctx, SettingsPatch{SkipConfirmation: &yes}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	if err := s.RequestUnfollow(ctx); err != nil {
		t.Fatalf("RequestUnfollow failed: %v", err)
	}

	if s.State() != StateIdle {
		t.Errorf("State() = %v, want idle after immediate commit", s.State())
	}
	if len(dir.Unfollowed) != 1 || dir.Unfollowed[0] != "b" {
		t.Errorf("remote unfollows = %v, want [b]", dir.Unfollowed)
	}
	if got := s.Queue(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Queue() = %v, want [a]", got)
	}
}

func TestRemoteUnfollowFailureStillRecords(t *testing.T) {
	ctx := context.Background()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b")...)
	dir.UnfollowErr = errors.New("directory down")
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.RequestUnfollow(ctx); err != nil {
		t.Fatalf("RequestUnfollow failed: %v", err)
	}

	err := s.Confirm(ctx)
	var remoteErr *RemoteUnfollowError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Confirm = %v, want *RemoteUnfollowError", err)
	}
	if remoteErr.AccountID != "b" {
		t.Errorf("RemoteUnfollowError.AccountID = %q, want b", remoteErr.AccountID)
	}

	// The local decision is authoritative and the walk continues.
	snap := s.Snapshot()
	if len(snap.UnfollowedIDs) != 1 || snap.UnfollowedIDs[0] != "b" {
		t.Errorf("UnfollowedIDs = %v, want [b]", snap.UnfollowedIDs)
	}
	if item, ok := s.Current(); !ok || item.Account.ID != "a" {
		t.Errorf("Current() = %v %v, want a", item.Account.ID, ok)
	}
}

func TestReorderPreservesDecisions(t *testing.T) {
	ctx := context.Background()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b", "c", "d")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if err := s.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	if err := s.Reorder(ctx, queue.Newest); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}

	got := s.Queue()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Queue() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Queue() = %v, want %v", got, want)
		}
	}
	if item, ok := s.Current(); !ok || item.Account.ID != "a" {
		t.Errorf("Current() = %v %v, want a after reorder", item.Account.ID, ok)
	}
	if s.Settings().SortOrder != queue.Newest {
		t.Errorf("SortOrder = %q, want newest", s.Settings().SortOrder)
	}

	snap := s.Snapshot()
	if len(snap.KeptIDs) != 1 || snap.KeptIDs[0] != "d" {
		t.Errorf("KeptIDs = %v, want [d] preserved across reorder", snap.KeptIDs)
	}
}

func TestResumeWithoutRefetch(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()

	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b", "c", "d")...)
	first := newTestSession(t, dir, kv)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := first.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if err := first.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := first.RequestUnfollow(ctx); err != nil {
		t.Fatalf("RequestUnfollow failed: %v", err)
	}
	if err := first.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	// A fresh process resumes from the store; the following listing is not
	// fetched again.
	dir2 := testutil.NewFakeDirectory(testutil.Accounts("a", "b", "c", "d")...)
	second := newTestSession(t, dir2, kv)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("resumed Start failed: %v", err)
	}

	if dir2.ListFollowingCalls != 0 {
		t.Errorf("ListFollowingCalls = %d, want 0 on resume", dir2.ListFollowingCalls)
	}
	got := second.Queue()
	want := []string{"b", "a"}
	if len(got) != len(want) {
		t.Fatalf("resumed Queue() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("resumed Queue() = %v, want %v", got, want)
		}
	}
	if decided, total := second.Progress(); decided != 2 || total != 4 {
		t.Errorf("resumed Progress() = %d/%d, want 2/4", decided, total)
	}
	if item, ok := second.Current(); !ok || item.Account.ID != "b" {
		t.Errorf("resumed Current() = %v %v, want b", item.Account.ID, ok)
	}
}

// flakyKV forwards to a real store but can fail queue-record writes on demand.
type flakyKV struct {
	store.KV
	failQueue bool
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failQueue && strings.HasSuffix(key, ":queue") {
		return errors.New("scripted write failure")
	}
	return f.KV.Set(ctx, key, value)
}

func TestCommitPersistsDecisionsBeforeQueue(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	fkv := &flakyKV{KV: kv}
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b")...)
	s := newTestSession(t, dir, fkv)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Even when the queue write fails, the decision has already been made
	// durable; resume rebuilds the queue from it.
	fkv.failQueue = true
	if err := s.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if err := s.Confirm(ctx); err == nil {
		t.Fatal("Confirm should surface the queue write failure")
	}

	var rec decisionsRecord
	if err := store.GetJSON(ctx, kv, recordKey("me", recordDecisions), &rec); err != nil {
		t.Fatalf("decisions record not persisted: %v", err)
	}
	if len(rec.KeptIDs) != 1 || rec.KeptIDs[0] != "b" {
		t.Errorf("persisted KeptIDs = %v, want [b]", rec.KeptIDs)
	}
	if len(rec.UnfollowedIDs) != 0 {
		t.Errorf("persisted UnfollowedIDs = %v, want empty", rec.UnfollowedIDs)
	}
}

func TestResumeRestoresRandomOrder(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()

	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b", "c", "d", "e", "f")...)
	first := newTestSession(t, dir, kv)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := first.Reorder(ctx, queue.Random); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}
	if err := first.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if err := first.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	want := first.Queue()

	// A reload must pick the walk up in the same permutation, not deal a
	// fresh shuffle.
	second := newTestSession(t, testutil.NewFakeDirectory(testutil.Accounts("a", "b", "c", "d", "e", "f")...), kv)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("resumed Start failed: %v", err)
	}

	got := second.Queue()
	if len(got) != len(want) {
		t.Fatalf("resumed Queue() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("resumed Queue() = %v, want %v", got, want)
		}
	}
	if item, ok := second.Current(); !ok || item.Account.ID != want[0] {
		t.Errorf("resumed Current() = %v %v, want %v", item.Account.ID, ok, want[0])
	}
}

func TestResumeFinishedSession(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()

	dir := testutil.NewFakeDirectory(testutil.Accounts("a")...)
	first := newTestSession(t, dir, kv)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := first.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if err := first.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	second := newTestSession(t, testutil.NewFakeDirectory(), kv)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("resumed Start failed: %v", err)
	}
	if !second.Finished() {
		t.Error("fully decided session should resume as finished")
	}
}

func TestResetClearsPersistedState(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b")...)
	s := newTestSession(t, dir, kv)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.RequestKeep(ctx); err != nil {
		t.Fatalf("RequestKeep failed: %v", err)
	}
	if err := s.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	// A reset session starts over: the next Start refetches everything.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start after reset failed: %v", err)
	}
	if dir.ListFollowingCalls != 2 {
		t.Errorf("ListFollowingCalls = %d, want 2 (one per fresh start)", dir.ListFollowingCalls)
	}
	if got := s.Queue(); len(got) != 2 {
		t.Errorf("Queue() = %v, want both items back", got)
	}
	if decided, _ := s.Progress(); decided != 0 {
		t.Errorf("Progress() decided = %d, want 0 after reset", decided)
	}
}

func TestOperationsBeforeStart(t *testing.T) {
	dir := testutil.NewFakeDirectory(testutil.Accounts("a")...)
	s := newTestSession(t, dir, store.NewMemory())
	ctx := context.Background()

	if err := s.RequestKeep(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("RequestKeep = %v, want ErrNotStarted", err)
	}
	if err := s.Confirm(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Confirm = %v, want ErrNotStarted", err)
	}
	if err := s.Undo(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Undo = %v, want ErrNotStarted", err)
	}
	if err := s.Reorder(ctx, queue.Newest); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Reorder = %v, want ErrNotStarted", err)
	}
}

func TestEmptyFollowingFinishesImmediately(t *testing.T) {
	dir := testutil.NewFakeDirectory()
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.Finished() {
		t.Error("session over an empty following list should start finished")
	}
	if _, ok := s.Current(); ok {
		t.Error("Current() should be empty")
	}
}

func TestListPassthrough(t *testing.T) {
	ctx := context.Background()
	dir := testutil.NewFakeDirectory(testutil.Accounts("a", "b")...)
	s := newTestSession(t, dir, store.NewMemory())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	created, err := s.CreateList(ctx, "mutuals")
	if err != nil {
		t.Fatalf("CreateList failed: %v", err)
	}
	if err := s.AddCurrentToList(ctx, created.ID); err != nil {
		t.Fatalf("AddCurrentToList failed: %v", err)
	}

	lists, err := s.Lists(ctx)
	if err != nil {
		t.Fatalf("Lists failed: %v", err)
	}
	if len(lists) != 1 || lists[0].Title != "mutuals" {
		t.Errorf("Lists() = %v, want the created list", lists)
	}
	if added := dir.ListAdds[created.ID]; len(added) != 1 || added[0] != "b" {
		t.Errorf("list adds = %v, want the current item (b)", added)
	}
}

func TestNewValidation(t *testing.T) {
	dir := testutil.NewFakeDirectory()
	kv := store.NewMemory()

	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{"missing directory", Config{Store: kv, AccountID: "me"}},
		{"missing store", Config{Directory: dir, AccountID: "me"}},
		{"missing account id", Config{Directory: dir, Store: kv}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Error("New should reject an incomplete config")
			}
		})
	}
}
