package directory

import "errors"

// Shared error taxonomy for directory operations. Concrete bindings wrap
// these sentinels so the engine can branch without knowing the backend.
var (
	// ErrAuthExpired indicates the directory rejected the session credentials.
	// Never retried; callers must force a fresh login and clear persisted state.
	ErrAuthExpired = errors.New("directory: auth expired")

	// ErrFetchFailed indicates a fetch exhausted its retry budget. The engine
	// keeps prior state intact and surfaces this to the caller.
	ErrFetchFailed = errors.New("directory: fetch failed")

	// ErrMalformedResponse indicates the directory returned a payload that
	// does not match its contract (e.g. a non-list relationship response).
	ErrMalformedResponse = errors.New("directory: malformed response")

	// ErrListsUnsupported indicates the backend does not implement ListManager.
	ErrListsUnsupported = errors.New("directory: lists not supported")
)
