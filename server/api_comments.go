package main

import (
	"net/http"
	"strings"
)

func (a *api) handleCommentsByCard(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.CommentsByCard(r.Context(), r.PathValue("cardId"))
	if err != nil {
		a.fail(w, "comments by card", err, "")
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleGetComment(w http.ResponseWriter, r *http.Request) {
	c, err := a.store.GetComment(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "get comment", err, "comment not found")
		return
	}
	writeJSON(w, 200, c)
}

// authorID prefers the session user over a userId sent in the body.
func (a *api) authorID(r *http.Request, fromBody *string) *string {
	if u, err := a.currentUser(r); err == nil {
		return &u.ID
	}
	if fromBody != nil && *fromBody == "" {
		return nil
	}
	return fromBody
}

func (a *api) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardID  string  `json:"cardId"`
		Content string  `json:"content"`
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
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, 400, "content is required")
		return
	}
	ctx := r.Context()
	if _, err := a.store.GetCard(ctx, req.CardID); err != nil {
		a.fail(w, "get card", err, "card not found")
		return
	}
	c, err := a.store.CreateComment(ctx, Comment{CardID: req.CardID, Content: content, UserID: a.authorID(r, req.UserID)})
	if err != nil {
		a.fail(w, "create comment", err, "")
		return
	}
	writeJSON(w, 201, c)
}

func (a *api) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, 400, "content is required")
		return
	}
	c, err := a.store.UpdateComment(r.Context(), r.PathValue("id"), content)
	if err != nil {
		a.fail(w, "update comment", err, "comment not found")
		return
	}
	writeJSON(w, 200, c)
}

func (a *api) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteComment(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, "delete comment", err, "")
		return
	}
	w.WriteHeader(204)
}
