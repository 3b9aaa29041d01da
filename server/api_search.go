package main

import (
	"net/http"
	"strings"
	"time"
)

const dueSoonWindow = 7 * 24 * time.Hour

// handleSearchCards filters cards with every given criterion at once.
func (a *api) handleSearchCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := CardSearch{
		Query:          strings.TrimSpace(q.Get("query")),
		BoardID:        q.Get("boardId"),
		HasComments:    q.Get("hasComments") == "true",
		HasAttachments: q.Get("hasAttachments") == "true",
		SortBy:         q.Get("sortBy"),
		Desc:           !strings.EqualFold(q.Get("sortOrder"), "asc"),
	}
	if f.SortBy == "" {
		f.SortBy = "createdAt"
	}
	if !searchSortKeys[f.SortBy] {
		writeError(w, 400, "invalid sortBy")
		return
	}
	for param, dst := range map[string]**time.Time{"dueDateFrom": &f.DueFrom, "dueDateTo": &f.DueTo} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			writeError(w, 400, "invalid date")
			return
		}
		*dst = &t
	}
	hits, err := a.store.SearchCards(r.Context(), f)
	if err != nil {
		a.fail(w, "search cards", err, "")
		return
	}
	writeJSON(w, 200, hits)
}

func (a *api) handleSearchBoards(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.SearchBoards(r.Context(), strings.TrimSpace(r.URL.Query().Get("query")))
	if err != nil {
		a.fail(w, "search boards", err, "")
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleOverdue(w http.ResponseWriter, r *http.Request) {
	f := DueFilter{BoardID: r.URL.Query().Get("boardId"), To: stamp(a.now())}
	hits, err := a.store.DueCards(r.Context(), f)
	if err != nil {
		a.fail(w, "overdue cards", err, "")
		return
	}
	writeJSON(w, 200, hits)
}

func (a *api) handleDueSoon(w http.ResponseWriter, r *http.Request) {
	now := stamp(a.now())
	f := DueFilter{BoardID: r.URL.Query().Get("boardId"), From: now, To: now.Add(dueSoonWindow), IncludeTo: true}
	hits, err := a.store.DueCards(r.Context(), f)
	if err != nil {
		a.fail(w, "due-soon cards", err, "")
		return
	}
	writeJSON(w, 200, hits)
}
