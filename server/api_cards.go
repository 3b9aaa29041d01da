package main

import (
	"net/http"
	"strings"
)

func (a *api) handleCardsByList(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.CardsByList(r.Context(), r.PathValue("listId"))
	if err != nil {
		a.fail(w, "cards by list", err, "")
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleGetCard(w http.ResponseWriter, r *http.Request) {
	c, err := a.store.GetCard(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "get card", err, "card not found")
		return
	}
	writeJSON(w, 200, c)
}

func (a *api) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		ListID      string          `json:"listId"`
		Position    *int            `json:"position"`
		DueDate     Field[string]   `json:"dueDate"`
		Attachments []AttachmentRef `json:"attachments"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, 400, "title is required")
		return
	}
	if req.ListID == "" {
		writeError(w, 400, "listId is required")
		return
	}
	if req.Position != nil && *req.Position < 0 {
		writeError(w, 400, "invalid position")
		return
	}
	due, err := dateField(req.DueDate)
	if err != nil {
		writeError(w, 400, "invalid date")
		return
	}
	ctx := r.Context()
	if _, err := a.store.GetList(ctx, req.ListID); err != nil {
		a.fail(w, "get list", err, "list not found")
		return
	}
	c := Card{Title: title, Description: req.Description, ListID: req.ListID, Attachments: req.Attachments}
	due.applyPtr(&c.DueDate)
	c, err = a.store.CreateCard(ctx, c, req.Position)
	if err != nil {
		a.fail(w, "create card", err, "")
		return
	}
	writeJSON(w, 201, c)
}

func (a *api) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardPatch
		DueDate Field[string] `json:"dueDate"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	p := req.CardPatch
	if p.Title.Set {
		p.Title.Value = strings.TrimSpace(p.Title.Value)
		if p.Title.Value == "" {
			writeError(w, 400, "title is required")
			return
		}
	}
	if p.Position.Set && p.Position.Value < 0 {
		writeError(w, 400, "invalid position")
		return
	}
	var err error
	if p.DueDate, err = dateField(req.DueDate); err != nil {
		writeError(w, 400, "invalid date")
		return
	}
	ctx := r.Context()
	if p.ListID.Set {
		if _, err := a.store.GetList(ctx, p.ListID.Value); err != nil {
			a.fail(w, "get list", err, "list not found")
			return
		}
	}
	c, err := a.store.UpdateCard(ctx, r.PathValue("id"), p)
	if err != nil {
		a.fail(w, "update card", err, "card not found")
		return
	}
	writeJSON(w, 200, c)
}

func (a *api) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteCard(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, "delete card", err, "")
		return
	}
	w.WriteHeader(204)
}
