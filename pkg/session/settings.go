package session

import "github.com/prunerapp/pruner/pkg/queue"

// Settings is the immutable per-session settings snapshot. The engine only
// interprets SortOrder and SkipConfirmation; the display flags are persisted
// and round-tripped for the presentation layer.
type Settings struct {
	SortOrder        queue.Order `json:"sortOrder"`
	SkipConfirmation bool        `json:"skipConfirmation"`
	ShowBio          bool        `json:"showBio"`
	ShowNote         bool        `json:"showNote"`
	ShowFollowLabel  bool        `json:"showFollowLabel"`
}

// DefaultSettings returns the initial settings for a fresh session.
func DefaultSettings() Settings {
	return Settings{
		SortOrder: queue.Oldest,
	}
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	SortOrder        *queue.Order
	SkipConfirmation *bool
	ShowBio          *bool
	ShowNote         *bool
	ShowFollowLabel  *bool
}

// Apply returns a new snapshot with the patch applied. Pure; the receiver is
// never mutated.
func (s Settings) Apply(p SettingsPatch) Settings {
	out := s
	if p.SortOrder != nil {
		out.SortOrder = *p.SortOrder
	}
	if p.SkipConfirmation != nil {
		out.SkipConfirmation = *p.SkipConfirmation
	}
	if p.ShowBio != nil {
		out.ShowBio = *p.ShowBio
	}
	if p.ShowNote != nil {
		out.ShowNote = *p.ShowNote
	}
	if p.ShowFollowLabel != nil {
		out.ShowFollowLabel = *p.ShowFollowLabel
	}
	return out
}
