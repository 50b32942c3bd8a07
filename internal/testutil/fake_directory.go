// Package testutil provides testing utilities for the pruner engine.
package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prunerapp/pruner/pkg/directory"
)

// FakeDirectory is a scripted in-memory directory.Client (and ListManager)
// with call tracking, used to assert fetch counts, batching behavior, and
// failure handling without a network.
type FakeDirectory struct {
	mu sync.Mutex

	// Accounts is the full following collection in directory order
	// (most-recently-followed first).
	Accounts []directory.Account

	// Relationships maps account id to its relationship. Ids absent from the
	// map are simply omitted from FetchRelationships results, like a real
	// directory omits unknown ids.
	Relationships map[string]directory.Relationship

	// Memberships maps account id to list memberships.
	Memberships map[string][]directory.List

	// UserLists are the logged-in user's lists.
	UserLists []directory.List

	// OverlapPerPage repeats the last N accounts of the previous page at the
	// start of each subsequent page, simulating overlap under concurrent
	// remote mutation.
	OverlapPerPage int

	// FailListPages makes the next N ListFollowing calls fail.
	FailListPages int

	// FailRelationshipChunks makes the next N FetchRelationships calls fail
	// with ErrMalformedResponse.
	FailRelationshipChunks int

	// AuthExpired makes every call fail with ErrAuthExpired.
	AuthExpired bool

	// UnfollowErr is returned by Unfollow when set.
	UnfollowErr error

	// FetchAccountHook runs at the start of FetchAccount, outside the lock.
	// Tests use it to block fills and exercise generation fencing.
	FetchAccountHook func(id string)

	// Call tracking.
	ListFollowingCalls  int
	FetchAccountCalls   map[string]int
	RelationshipBatches [][]string
	MembershipCalls     int
	Unfollowed          []string
	ListAdds            map[string][]string
}

// NewFakeDirectory creates a fake directory over the given accounts.
func NewFakeDirectory(accounts ...directory.Account) *FakeDirectory {
	return &FakeDirectory{
		Accounts:          accounts,
		Relationships:     make(map[string]directory.Relationship),
		Memberships:       make(map[string][]directory.List),
		FetchAccountCalls: make(map[string]int),
		ListAdds:          make(map[string][]string),
	}
}

// Accounts builds minimal accounts from ids, in the given order.
func Accounts(ids ...string) []directory.Account {
	out := make([]directory.Account, len(ids))
	for i, id := range ids {
		out[i] = directory.Account{
			ID:          id,
			Handle:      id + "@example.social",
			DisplayName: "Account " + id,
		}
	}
	return out
}

// ListFollowing implements directory.Client. The cursor is the absolute
// offset of the next page, encoded as decimal.
func (f *FakeDirectory) ListFollowing(_ context.Context, _ string, opts directory.ListOptions) (directory.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListFollowingCalls++

	if f.AuthExpired {
		return directory.Page{}, directory.ErrAuthExpired
	}
	if f.FailListPages > 0 {
		f.FailListPages--
		return directory.Page{}, fmt.Errorf("scripted page failure")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 80
	}

	start := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil {
			return directory.Page{}, fmt.Errorf("%w: bad cursor %q", directory.ErrMalformedResponse, opts.Cursor)
		}
		start = n
	}

	from := start
	if f.OverlapPerPage > 0 && start > 0 {
		from = start - f.OverlapPerPage
		if from < 0 {
			from = 0
		}
	}
	end := start + limit
	if end > len(f.Accounts) {
		end = len(f.Accounts)
	}
	if from >= len(f.Accounts) {
		return directory.Page{}, nil
	}

	page := directory.Page{
		Accounts: append([]directory.Account(nil), f.Accounts[from:end]...),
	}
	if end < len(f.Accounts) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// FetchRelationships implements directory.Client.
func (f *FakeDirectory) FetchRelationships(_ context.Context, ids []string) ([]directory.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RelationshipBatches = append(f.RelationshipBatches, append([]string(nil), ids...))

	if f.AuthExpired {
		return nil, directory.ErrAuthExpired
	}
	if f.FailRelationshipChunks > 0 {
		f.FailRelationshipChunks--
		return nil, directory.ErrMalformedResponse
	}

	out := make([]directory.Relationship, 0, len(ids))
	for _, id := range ids {
		if rel, ok := f.Relationships[id]; ok {
			out = append(out, rel)
		}
	}
	return out, nil
}

// FetchAccount implements directory.Client.
func (f *FakeDirectory) FetchAccount(_ context.Context, id string) (directory.Account, error) {
	if hook := f.FetchAccountHook; hook != nil {
		hook(id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.FetchAccountCalls[id]++

	if f.AuthExpired {
		return directory.Account{}, directory.ErrAuthExpired
	}
	for _, a := range f.Accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return directory.Account{}, fmt.Errorf("account %q not found", id)
}

// ListMemberships implements directory.Client.
func (f *FakeDirectory) ListMemberships(_ context.Context, accountID string) ([]directory.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.MembershipCalls++

	if f.AuthExpired {
		return nil, directory.ErrAuthExpired
	}
	return append([]directory.List(nil), f.Memberships[accountID]...), nil
}

// Unfollow implements directory.Client.
func (f *FakeDirectory) Unfollow(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AuthExpired {
		return directory.ErrAuthExpired
	}
	if f.UnfollowErr != nil {
		return f.UnfollowErr
	}
	f.Unfollowed = append(f.Unfollowed, accountID)
	return nil
}

// Lists implements directory.ListManager.
func (f *FakeDirectory) Lists(_ context.Context) ([]directory.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]directory.List(nil), f.UserLists...), nil
}

// AddToList implements directory.ListManager.
func (f *FakeDirectory) AddToList(_ context.Context, listID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListAdds[listID] = append(f.ListAdds[listID], accountID)
	return nil
}

// CreateList implements directory.ListManager.
func (f *FakeDirectory) CreateList(_ context.Context, title string) (directory.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := directory.List{ID: strconv.Itoa(len(f.UserLists) + 1), Title: title}
	f.UserLists = append(f.UserLists, list)
	return list, nil
}

// TotalFetchAccountCalls returns the sum of per-id detail fetch counts.
func (f *FakeDirectory) TotalFetchAccountCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, n := range f.FetchAccountCalls {
		total += n
	}
	return total
}
