package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prunerapp/pruner/pkg/directory"
	"github.com/prunerapp/pruner/pkg/prefetch"
	"github.com/prunerapp/pruner/pkg/queue"
	"github.com/prunerapp/pruner/pkg/session"
)

type apiServer struct {
	sess   *session.Session
	logger zerolog.Logger
}

// itemPayload is the review item as the frontend sees it. BioText is the
// account bio flattened to plain text for clients that don't render HTML.
type itemPayload struct {
	Account      directory.Account       `json:"account"`
	BioText      string                  `json:"bioText,omitempty"`
	Relationship *directory.Relationship `json:"relationship,omitempty"`
	ListIDs      []string                `json:"listIds,omitempty"`
}

// statePayload is the engine state returned after every mutating call.
type statePayload struct {
	State    string       `json:"state"`
	Finished bool         `json:"finished"`
	Decided  int          `json:"decided"`
	Total    int          `json:"total"`
	QueueLen int          `json:"queueLen"`
	Current  *itemPayload `json:"current,omitempty"`
}

func (a *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (a *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.sess.Start(r.Context())
	if errors.Is(err, session.ErrAlreadyStarted) {
		a.writeState(w)
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeState(w)
}

func (a *apiServer) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	a.writeState(w)
}

func (a *apiServer) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.sess.Snapshot())
}

func (a *apiServer) handleKeep(w http.ResponseWriter, r *http.Request) {
	if err := a.sess.RequestKeep(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeState(w)
}

func (a *apiServer) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	if err := a.sess.RequestUnfollow(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeState(w)
}

func (a *apiServer) handleUndo(w http.ResponseWriter, r *http.Request) {
	if err := a.sess.Undo(); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeState(w)
}

func (a *apiServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	err := a.sess.Confirm(r.Context())

	// A failed remote unfollow is reported but the walk continues; the
	// response carries the advanced state plus a warning.
	var remoteErr *session.RemoteUnfollowError
	if errors.As(err, &remoteErr) {
		a.logger.Warn().Err(remoteErr).Msg("Remote unfollow failed")
		a.writeStateWithWarning(w, remoteErr.Error())
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeState(w)
}

func (a *apiServer) handleReorder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Order string `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	order, err := queue.ParseOrder(body.Order)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := a.sess.Reorder(r.Context(), order); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeState(w)
}

func (a *apiServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SortOrder        *string `json:"sortOrder"`
		SkipConfirmation *bool   `json:"skipConfirmation"`
		ShowBio          *bool   `json:"showBio"`
		ShowNote         *bool   `json:"showNote"`
		ShowFollowLabel  *bool   `json:"showFollowLabel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	patch := session.SettingsPatch{
		SkipConfirmation: body.SkipConfirmation,
		ShowBio:          body.ShowBio,
		ShowNote:         body.ShowNote,
		ShowFollowLabel:  body.ShowFollowLabel,
	}
	if body.SortOrder != nil {
		order, err := queue.ParseOrder(*body.SortOrder)
		if err != nil {
			a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		patch.SortOrder = &order
	}

	if err := a.sess.UpdateSettings(r.Context(), patch); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.sess.Settings())
}

func (a *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.sess.Reset(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) statePayload() statePayload {
	decided, total := a.sess.Progress()
	payload := statePayload{
		State:    a.sess.State().String(),
		Finished: a.sess.Finished(),
		Decided:  decided,
		Total:    total,
		QueueLen: len(a.sess.Queue()),
	}
	if item, ok := a.sess.Current(); ok {
		payload.Current = toItemPayload(item)
	}
	return payload
}

func toItemPayload(item prefetch.Item) *itemPayload {
	return &itemPayload{
		Account:      item.Account,
		BioText:      directory.PlainBio(item.Account.Bio),
		Relationship: item.Relationship,
		ListIDs:      item.ListIDs,
	}
}

func (a *apiServer) writeState(w http.ResponseWriter) {
	a.writeJSON(w, http.StatusOK, a.statePayload())
}

func (a *apiServer) writeStateWithWarning(w http.ResponseWriter, warning string) {
	payload := struct {
		statePayload
		Warning string `json:"warning"`
	}{a.statePayload(), warning}
	a.writeJSON(w, http.StatusOK, payload)
}

// writeError maps engine errors onto HTTP statuses.
func (a *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotStarted):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNotIdle), errors.Is(err, session.ErrNothingPending):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoCurrent):
		status = http.StatusNotFound
	case errors.Is(err, directory.ErrAuthExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, directory.ErrFetchFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Msg("Request failed")
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *apiServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
