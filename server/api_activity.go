package main

import (
	"net/http"
	"strings"
)

const boardActivityLimit = 50

func (a *api) handleActivityByCard(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ActivityByCard(r.Context(), r.PathValue("cardId"))
	if err != nil {
		a.fail(w, "activity by card", err, "")
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleActivityByBoard(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ActivityByBoard(r.Context(), r.PathValue("boardId"), boardActivityLimit)
	if err != nil {
		a.fail(w, "activity by board", err, "")
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	e, err := a.store.GetActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "get activity", err, "activity not found")
		return
	}
	writeJSON(w, 200, e)
}

func (a *api) handleAddActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardID  string  `json:"cardId"`
		Action  string  `json:"action"`
		Details string  `json:"details"`
		UserID  *string `json:"userId"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	if req.CardID == "" {
		writeError(w, 400, "cardId is required")
		return
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		writeError(w, 400, "action is required")
		return
	}
	ctx := r.Context()
	if _, err := a.store.GetCard(ctx, req.CardID); err != nil {
		a.fail(w, "get card", err, "card not found")
		return
	}
	e, err := a.store.AppendActivity(ctx, ActivityEntry{CardID: req.CardID, Action: action, Details: req.Details, UserID: a.authorID(r, req.UserID)})
	if err != nil {
		a.fail(w, "append activity", err, "")
		return
	}
	writeJSON(w, 201, e)
}
