package mastodon

import "github.com/prunerapp/pruner/pkg/directory"

// Wire types mirror the REST payloads; the exported surface only ever speaks
// the directory model.

type apiEmoji struct {
	Shortcode string `json:"shortcode"`
	URL       string `json:"url"`
}

type apiAccount struct {
	ID          string     `json:"id"`
	Acct        string     `json:"acct"`
	DisplayName string     `json:"display_name"`
	Note        string     `json:"note"`
	Avatar      string     `json:"avatar"`
	URL         string     `json:"url"`
	Emojis      []apiEmoji `json:"emojis"`
}

func (a apiAccount) toAccount() directory.Account {
	out := directory.Account{
		ID:          a.ID,
		Handle:      a.Acct,
		DisplayName: a.DisplayName,
		Bio:         a.Note,
		AvatarURL:   a.Avatar,
		URL:         a.URL,
	}
	for _, e := range a.Emojis {
		out.CustomEmojis = append(out.CustomEmojis, directory.CustomEmoji{
			Shortcode: e.Shortcode,
			URL:       e.URL,
		})
	}
	return out
}

type apiRelationship struct {
	ID             string `json:"id"`
	FollowedBy     bool   `json:"followed_by"`
	Note           string `json:"note"`
	ShowingReblogs bool   `json:"showing_reblogs"`
}

func (r apiRelationship) toRelationship() directory.Relationship {
	return directory.Relationship{
		ID:             r.ID,
		FollowedBy:     r.FollowedBy,
		Note:           r.Note,
		ShowingReblogs: r.ShowingReblogs,
	}
}

type apiList struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (l apiList) toList() directory.List {
	return directory.List{ID: l.ID, Title: l.Title}
}
