package main

import (
	"net/http"
	"strings"
)

func (a *api) handleListBoards(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListBoards(r.Context())
	if err != nil {
		a.fail(w, "list boards", err, "")
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	b, err := a.store.GetBoard(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "get board", err, "board not found")
		return
	}
	writeJSON(w, 200, b)
}

// handleGetBoardFull returns a board with its lists and their cards in one
// response, cards keyed by list id.
func (a *api) handleGetBoardFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, err := a.store.GetBoard(ctx, r.PathValue("id"))
	if err != nil {
		a.fail(w, "get board", err, "board not found")
		return
	}
	lists, err := a.store.ListsByBoard(ctx, b.ID)
	if err != nil {
		a.fail(w, "lists by board", err, "")
		return
	}
	cards := make(map[string][]Card, len(lists))
	for _, l := range lists {
		cs, err := a.store.CardsByList(ctx, l.ID)
		if err != nil {
			a.fail(w, "cards by list", err, "")
			return
		}
		cards[l.ID] = cs
	}
	writeJSON(w, 200, map[string]any{"board": b, "lists": lists, "cards": cards})
}

func (a *api) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		OwnerID     *string `json:"ownerId"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, 400, "name is required")
		return
	}
	b := Board{Name: name, Description: req.Description, OwnerID: req.OwnerID}
	if b.OwnerID == nil {
		if u, err := a.currentUser(r); err == nil {
			b.OwnerID = &u.ID
		}
	}
	b, err := a.store.CreateBoard(r.Context(), b)
	if err != nil {
		a.fail(w, "create board", err, "")
		return
	}
	writeJSON(w, 201, b)
}

func (a *api) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	var p BoardPatch
	if err := readJSON(w, r, &p); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	if p.Name.Set {
		p.Name.Value = strings.TrimSpace(p.Name.Value)
		if p.Name.Value == "" {
			writeError(w, 400, "name is required")
			return
		}
	}
	b, err := a.store.UpdateBoard(r.Context(), r.PathValue("id"), p)
	if err != nil {
		a.fail(w, "update board", err, "board not found")
		return
	}
	writeJSON(w, 200, b)
}

func (a *api) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteBoard(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, "delete board", err, "")
		return
	}
	w.WriteHeader(204)
}

// handleBoardEvents streams the board's relay room over SSE.
func (a *api) handleBoardEvents(w http.ResponseWriter, r *http.Request) {
	b, err := a.store.GetBoard(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "get board", err, "board not found")
		return
	}
	a.hub.ServeSSE(w, r, b.ID)
}
