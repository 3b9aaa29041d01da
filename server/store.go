package main

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a unique field already taken (users).
	ErrConflict = errors.New("conflict")
	// ErrInvalid reports stored data that cannot be used as-is, such as a
	// template card pointing at a list the snapshot does not contain.
	ErrInvalid = errors.New("invalid stored data")
)

// Store is the persistence contract shared by the file and SQL backends.
// Reads of missing ids return ErrNotFound; deletes of missing ids succeed.
type Store interface {
	ListBoards(ctx context.Context) ([]Board, error)
	SearchBoards(ctx context.Context, query string) ([]Board, error)
	GetBoard(ctx context.Context, id string) (Board, error)
	CreateBoard(ctx context.Context, b Board) (Board, error)
	UpdateBoard(ctx context.Context, id string, p BoardPatch) (Board, error)
	DeleteBoard(ctx context.Context, id string) error

	ListsByBoard(ctx context.Context, boardID string) ([]List, error)
	GetList(ctx context.Context, id string) (List, error)
	// CreateList appends to the board unless position is given.
	CreateList(ctx context.Context, l List, position *int) (List, error)
	UpdateList(ctx context.Context, id string, p ListPatch) (List, error)
	DeleteList(ctx context.Context, id string) error

	CardsByList(ctx context.Context, listID string) ([]Card, error)
	GetCard(ctx context.Context, id string) (Card, error)
	// CreateCard appends to the list unless position is given and stores
	// c.Attachments as attachment records in the same write.
	CreateCard(ctx context.Context, c Card, position *int) (Card, error)
	UpdateCard(ctx context.Context, id string, p CardPatch) (Card, error)
	DeleteCard(ctx context.Context, id string) error
	SearchCards(ctx context.Context, q CardSearch) ([]CardHit, error)
	DueCards(ctx context.Context, f DueFilter) ([]CardHit, error)
	AttachmentsByCard(ctx context.Context, cardID string) ([]Attachment, error)

	CommentsByCard(ctx context.Context, cardID string) ([]Comment, error)
	GetComment(ctx context.Context, id string) (Comment, error)
	// CreateComment also appends a comment_added activity entry.
	CreateComment(ctx context.Context, c Comment) (Comment, error)
	UpdateComment(ctx context.Context, id, content string) (Comment, error)
	DeleteComment(ctx context.Context, id string) error

	ActivityByCard(ctx context.Context, cardID string) ([]ActivityEntry, error)
	ActivityByBoard(ctx context.Context, boardID string, limit int) ([]ActivityEntry, error)
	GetActivity(ctx context.Context, id string) (ActivityEntry, error)
	AppendActivity(ctx context.Context, e ActivityEntry) (ActivityEntry, error)

	ListTemplates(ctx context.Context, publicOnly bool) ([]Template, error)
	GetTemplate(ctx context.Context, id string) (Template, error)
	CreateTemplate(ctx context.Context, t Template) (Template, error)
	UpdateTemplate(ctx context.Context, id string, p TemplatePatch) (Template, error)
	DeleteTemplate(ctx context.Context, id string) error
	SnapshotBoard(ctx context.Context, boardID string) (TemplateData, error)
	// InstantiateTemplate creates b with the snapshot's lists and cards,
	// all or nothing.
	InstantiateTemplate(ctx context.Context, data TemplateData, b Board) (Board, error)

	CreateUser(ctx context.Context, u User, passwordHash string) (User, error)
	UserCredentials(ctx context.Context, email string) (User, string, error)
	CreateSession(ctx context.Context, s Session) error
	UserBySession(ctx context.Context, token string, now time.Time) (User, error)
	DeleteSession(ctx context.Context, token string) error

	Close() error
}

// CardSearch mirrors the /api/search query parameters.
type CardSearch struct {
	Query          string
	BoardID        string
	DueFrom        *time.Time
	DueTo          *time.Time
	HasComments    bool
	HasAttachments bool
	SortBy         string
	Desc           bool
}

var searchSortKeys = map[string]bool{"title": true, "dueDate": true, "createdAt": true, "comments": true, "attachments": true}

// DueFilter selects cards with a due date in [From, To), or [From, To] when
// IncludeTo is set. A zero From is unbounded.
type DueFilter struct {
	BoardID   string
	From      time.Time
	To        time.Time
	IncludeTo bool
}

func (f DueFilter) match(due *time.Time) bool {
	if due == nil {
		return false
	}
	if !f.From.IsZero() && due.Before(f.From) {
		return false
	}
	if f.IncludeTo {
		return !due.After(f.To)
	}
	return due.Before(f.To)
}

const commentExcerpt = 50

// commentActivity is the log entry written alongside every new comment.
func commentActivity(c Comment, id string) ActivityEntry {
	excerpt := c.Content
	if utf8.RuneCountInString(excerpt) > commentExcerpt {
		excerpt = string([]rune(excerpt)[:commentExcerpt])
	}
	return ActivityEntry{
		ID:        id,
		CardID:    c.CardID,
		UserID:    c.UserID,
		Action:    "comment_added",
		Details:   fmt.Sprintf("Added comment: %s...", excerpt),
		CreatedAt: c.CreatedAt,
	}
}

func newID() string { return uuid.NewString() }

// instantiate builds the records of a board created from a snapshot. Lists
// are allocated first so every card can be pointed at its new list.
func instantiate(data TemplateData, b Board, now time.Time) (Board, []List, []Card, error) {
	b.ID = newID()
	b.CreatedAt = now
	if b.Description == "" {
		b.Description = data.Board.Description
	}
	remap := make(map[string]string, len(data.Lists))
	lists := make([]List, 0, len(data.Lists))
	for _, tl := range data.Lists {
		l := List{ID: newID(), Title: tl.Title, BoardID: b.ID, Position: tl.Position, CreatedAt: now}
		if tl.ID != "" {
			remap[tl.ID] = l.ID
		}
		lists = append(lists, l)
	}
	cards := make([]Card, 0, len(data.Cards))
	for _, tc := range data.Cards {
		listID, ok := remap[tc.ListID]
		if !ok {
			return Board{}, nil, nil, fmt.Errorf("template card %q references list %q: %w", tc.Title, tc.ListID, ErrInvalid)
		}
		cards = append(cards, Card{ID: newID(), Title: tc.Title, Description: tc.Description, ListID: listID, Position: tc.Position, CreatedAt: now})
	}
	return b, lists, cards, nil
}

// snapshot is the inverse of instantiate. Lists and cards must already be
// sorted by position.
func snapshot(b Board, lists []List, cards []Card) TemplateData {
	data := TemplateData{
		Board: TemplateBoard{Name: b.Name, Description: b.Description},
		Lists: make([]TemplateList, 0, len(lists)),
		Cards: make([]TemplateCard, 0, len(cards)),
	}
	for _, l := range lists {
		data.Lists = append(data.Lists, TemplateList{ID: l.ID, Title: l.Title, Position: l.Position})
	}
	for _, c := range cards {
		data.Cards = append(data.Cards, TemplateCard{ListID: c.ListID, Title: c.Title, Description: c.Description, Position: c.Position})
	}
	return data
}
