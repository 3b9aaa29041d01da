package main

import (
	"net/http"
	"strings"
)

func (a *api) handleListsByBoard(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListsByBoard(r.Context(), r.PathValue("boardId"))
	if err != nil {
		a.fail(w, "lists by board", err, "")
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleGetList(w http.ResponseWriter, r *http.Request) {
	l, err := a.store.GetList(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "get list", err, "list not found")
		return
	}
	writeJSON(w, 200, l)
}

func (a *api) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		BoardID  string `json:"boardId"`
		Position *int   `json:"position"`
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
	if req.BoardID == "" {
		writeError(w, 400, "boardId is required")
		return
	}
	if req.Position != nil && *req.Position < 0 {
		writeError(w, 400, "invalid position")
		return
	}
	ctx := r.Context()
	if _, err := a.store.GetBoard(ctx, req.BoardID); err != nil {
		a.fail(w, "get board", err, "board not found")
		return
	}
	l, err := a.store.CreateList(ctx, List{Title: title, BoardID: req.BoardID}, req.Position)
	if err != nil {
		a.fail(w, "create list", err, "")
		return
	}
	writeJSON(w, 201, l)
}

func (a *api) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	var p ListPatch
	if err := readJSON(w, r, &p); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
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
	ctx := r.Context()
	if p.BoardID.Set {
		if _, err := a.store.GetBoard(ctx, p.BoardID.Value); err != nil {
			a.fail(w, "get board", err, "board not found")
			return
		}
	}
	l, err := a.store.UpdateList(ctx, r.PathValue("id"), p)
	if err != nil {
		a.fail(w, "update list", err, "list not found")
		return
	}
	writeJSON(w, 200, l)
}

func (a *api) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteList(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, "delete list", err, "")
		return
	}
	w.WriteHeader(204)
}
