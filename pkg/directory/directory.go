// Package directory defines the capability interface and data model for the
// remote social directory the review engine runs against. Concrete bindings
// (e.g. the Mastodon binding in the mastodon subpackage) implement Client;
// the engine itself never talks to a network directly.
package directory

import "context"

// CustomEmoji is a custom emoji usable inside display names and bios.
type CustomEmoji struct {
	Shortcode string `json:"shortcode"`
	URL       string `json:"url"`
}

// Account is a followed account as returned by the directory.
// Accounts are immutable for the lifetime of a review session; identity is ID.
type Account struct {
	ID           string        `json:"id"`
	Handle       string        `json:"handle"`
	DisplayName  string        `json:"displayName"`
	Bio          string        `json:"bio"`
	AvatarURL    string        `json:"avatarUrl"`
	URL          string        `json:"url"`
	CustomEmojis []CustomEmoji `json:"customEmojis"`
}

// Name returns the best human-readable name for the account.
func (a Account) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Handle
}

// Relationship describes the reverse edge between the logged-in user and a
// followed account. One per (user, account) pair, refetched per session.
type Relationship struct {
	ID             string `json:"id"`
	FollowedBy     bool   `json:"followedBy"`
	Note           string `json:"note"`
	ShowingReblogs bool   `json:"showingReblogs"`
}

// List is a user-owned list an account may be a member of.
type List struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListOptions controls cursor pagination of a following listing.
type ListOptions struct {
	// Cursor is the opaque position token from a previous page; empty for the
	// first page.
	Cursor string

	// Limit is the requested page size.
	Limit int
}

// Page is one page of a following listing. An empty NextCursor signals
// exhaustion.
type Page struct {
	Accounts   []Account
	NextCursor string
}

// Client is the narrow contract every directory backend must provide.
// All methods are safe for concurrent use.
type Client interface {
	// ListFollowing returns one page of the accounts the given account follows,
	// in the directory's default order (most-recently-followed first).
	ListFollowing(ctx context.Context, accountID string, opts ListOptions) (Page, error)

	// FetchRelationships returns the relationships for the given account ids.
	// Callers are responsible for respecting MaxRelationshipBatch.
	FetchRelationships(ctx context.Context, ids []string) ([]Relationship, error)

	// FetchAccount returns a single account by id.
	FetchAccount(ctx context.Context, id string) (Account, error)

	// ListMemberships returns the lists the given account is a member of.
	ListMemberships(ctx context.Context, accountID string) ([]List, error)

	// Unfollow removes the follow edge to the given account. Best effort; the
	// engine treats the local decision as authoritative.
	Unfollow(ctx context.Context, accountID string) error
}

// ListManager is an optional extension for backends that support user lists.
type ListManager interface {
	// Lists returns all lists owned by the logged-in user.
	Lists(ctx context.Context) ([]List, error)

	// AddToList adds an account to a list.
	AddToList(ctx context.Context, listID, accountID string) error

	// CreateList creates a new list with the given title.
	CreateList(ctx context.Context, title string) (List, error)
}

// MaxRelationshipBatch is the largest number of ids a single relationship
// lookup may carry. Larger requests must be chunked and the chunk results
// merged by id.
const MaxRelationshipBatch = 40
