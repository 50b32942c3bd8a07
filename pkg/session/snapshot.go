package session

// Persisted record names. Each record is an independent key in the durable
// store; they are not written transactionally as a group. The decisions
// record is always written before the queue record so that, worst case, a
// resumed session holds a queue one write behind, which it filters back down
// through decisions.
const (
	recordSession   = "session"
	recordDecisions = "decisions"
	recordQueue     = "queue"
	recordSettings  = "settings"
)

func recordKey(accountID, record string) string {
	return "session:" + accountID + ":" + record
}

// sessionRecord is the frozen-at-start part of a session: who it belongs to
// and the base collection captured at session start. New follows made
// elsewhere during the session are not merged in.
type sessionRecord struct {
	AccountID        string   `json:"accountId"`
	AccountUsername  string   `json:"accountUsername"`
	StartCount       int      `json:"startCount"`
	BaseFollowingIDs []string `json:"baseFollowingIds"`
}

type decisionsRecord struct {
	KeptIDs       []string `json:"keptIds"`
	UnfollowedIDs []string `json:"unfollowedIds"`
}

// queueRecord holds the active queue in walk order. Resume reads it back so a
// random-order session keeps its permutation and position instead of being
// dealt a fresh shuffle.
type queueRecord struct {
	FollowingIDs []string `json:"followingIds"`
}

// Snapshot is the full persisted state of a session, assembled from the
// individual records. Consumers use it for progress display and export.
type Snapshot struct {
	AccountID        string   `json:"accountId"`
	AccountUsername  string   `json:"accountUsername"`
	StartCount       int      `json:"startCount"`
	BaseFollowingIDs []string `json:"baseFollowingIds"`
	FollowingIDs     []string `json:"followingIds"`
	KeptIDs          []string `json:"keptIds"`
	UnfollowedIDs    []string `json:"unfollowedIds"`
	Settings         Settings `json:"settings"`
}
