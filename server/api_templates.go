package main

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

func (a *api) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListTemplates(r.Context(), true)
	if err != nil {
		a.fail(w, "list templates", err, "")
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "get template", err, "template not found")
		return
	}
	writeJSON(w, 200, t)
}

// handleCreateTemplate snapshots an existing board.
func (a *api) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		BoardID     string `json:"boardId"`
		IsPublic    *bool  `json:"isPublic"`
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
	if req.BoardID == "" {
		writeError(w, 400, "boardId is required")
		return
	}
	ctx := r.Context()
	data, err := a.store.SnapshotBoard(ctx, req.BoardID)
	if err != nil {
		a.fail(w, "snapshot board", err, "board not found")
		return
	}
	t := Template{Name: name, Description: req.Description, Data: data, IsPublic: true}
	if req.IsPublic != nil {
		t.IsPublic = *req.IsPublic
	}
	t, err = a.store.CreateTemplate(ctx, t)
	if err != nil {
		a.fail(w, "create template", err, "")
		return
	}
	writeJSON(w, 201, t)
}

func (a *api) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var p TemplatePatch
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
	t, err := a.store.UpdateTemplate(r.Context(), r.PathValue("id"), p)
	if err != nil {
		a.fail(w, "update template", err, "template not found")
		return
	}
	writeJSON(w, 200, t)
}

func (a *api) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteTemplate(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, "delete template", err, "")
		return
	}
	w.WriteHeader(204)
}

// handleCreateBoardFromTemplate instantiates a template as a new board. A
// snapshot that cannot be restored leaves nothing behind.
func (a *api) handleCreateBoardFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string  `json:"name"`
		OwnerID *string `json:"ownerId"`
	}
	// the body is optional here
	if err := readJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, 400, "invalid payload")
		return
	}
	ctx := r.Context()
	t, err := a.store.GetTemplate(ctx, r.PathValue("id"))
	if err != nil {
		a.fail(w, "get template", err, "template not found")
		return
	}
	b := Board{Name: strings.TrimSpace(req.Name), OwnerID: req.OwnerID}
	if b.Name == "" {
		b.Name = t.Name
	}
	if b.OwnerID == nil {
		if u, err := a.currentUser(r); err == nil {
			b.OwnerID = &u.ID
		}
	}
	b, err = a.store.InstantiateTemplate(ctx, t.Data, b)
	if err != nil {
		a.fail(w, "instantiate template", err, "")
		return
	}
	writeJSON(w, 201, b)
}
