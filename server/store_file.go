package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	colBoards      = "boards"
	colLists       = "lists"
	colCards       = "cards"
	colAttachments = "attachments"
	colComments    = "comments"
	colActivity    = "activity"
	colTemplates   = "templates"
	colUsers       = "users"
	colSessions    = "sessions"
)

var fileCollections = []string{colBoards, colLists, colCards, colAttachments, colComments, colActivity, colTemplates, colUsers, colSessions}

// FileStore keeps every collection as a JSON array file and rewrites the
// whole file on each change. The mutex serializes read-modify-write cycles
// inside one process only.
type FileStore struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// userRecord is how users are persisted; the hash never leaves the store.
type userRecord struct {
	User
	PasswordHash string `json:"passwordHash"`
}

func NewFileStore(fsys afero.Fs, dir string) (*FileStore, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &FileStore{fs: fsys, dir: dir, now: time.Now}
	for _, name := range fileCollections {
		ok, err := afero.Exists(fsys, s.path(name))
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if !ok {
			if err := afero.WriteFile(fsys, s.path(name), []byte("[]\n"), 0o644); err != nil {
				return nil, fmt.Errorf("init %s: %w", name, err)
			}
		}
	}
	return s, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(name string) string { return filepath.Join(s.dir, name+".json") }

func (s *FileStore) stampNow() time.Time { return stamp(s.now()) }

// load reads a whole collection. A missing file is an empty collection; a
// file that does not parse is an error, never an empty result.
func load[T any](s *FileStore, name string) ([]T, error) {
	data, err := afero.ReadFile(s.fs, s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return items, nil
}

// batch stages collection rewrites so that several files change together.
type batch struct {
	s      *FileStore
	writes []pendingWrite
}

type pendingWrite struct {
	name string
	data []byte
}

func (s *FileStore) begin() *batch { return &batch{s: s} }

func stage[T any](b *batch, name string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	b.writes = append(b.writes, pendingWrite{name: name, data: append(data, '\n')})
	return nil
}

// commit writes every staged collection to a temp file, then renames them
// into place. If a rename fails the files already replaced get their
// previous contents back.
func (b *batch) commit() error {
	fsys := b.s.fs
	prev := make([][]byte, len(b.writes))
	cleanup := func(from int) {
		for _, w := range b.writes[from:] {
			_ = fsys.Remove(b.s.path(w.name) + ".tmp")
		}
	}
	for i, w := range b.writes {
		old, err := afero.ReadFile(fsys, b.s.path(w.name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			cleanup(0)
			return fmt.Errorf("read %s: %w", w.name, err)
		}
		prev[i] = old
		if err := afero.WriteFile(fsys, b.s.path(w.name)+".tmp", w.data, 0o644); err != nil {
			cleanup(0)
			return fmt.Errorf("write %s: %w", w.name, err)
		}
	}
	for i, w := range b.writes {
		if err := fsys.Rename(b.s.path(w.name)+".tmp", b.s.path(w.name)); err != nil {
			for j := 0; j < i; j++ {
				_ = afero.WriteFile(fsys, b.s.path(b.writes[j].name), prev[j], 0o644)
			}
			cleanup(i)
			return fmt.Errorf("replace %s: %w", w.name, err)
		}
	}
	return nil
}

func findByID[T any](items []T, id string, key func(T) string) int {
	return slices.IndexFunc(items, func(it T) bool { return key(it) == id })
}

func boardKey(b Board) string { return b.ID }
func listKey(l List) string { return l.ID }
func cardKey(c Card) string { return c.ID }
func commentKey(c Comment) string { return c.ID }
func activityKey(e ActivityEntry) string { return e.ID }
func templateKey(t Template) string { return t.ID }

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// newestFirst reverses insertion order and sorts by time descending, so
// equal timestamps keep the later insert first.
func newestFirst[T any](items []T, at func(T) time.Time) []T {
	out := slices.Clone(items)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b T) int { return at(b).Compare(at(a)) })
	return out
}

// --- boards ---

func (s *FileStore) ListBoards(ctx context.Context) ([]Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boards, err := load[Board](s, colBoards)
	if boards == nil && err == nil {
		boards = []Board{}
	}
	return boards, err
}

func (s *FileStore) SearchBoards(ctx context.Context, query string) ([]Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boards, err := load[Board](s, colBoards)
	if err != nil {
		return nil, err
	}
	out := make([]Board, 0, len(boards))
	for _, b := range boards {
		if query == "" || containsFold(b.Name, query) || containsFold(b.Description, query) {
			out = append(out, b)
		}
	}
	return newestFirst(out, func(b Board) time.Time { return b.CreatedAt }), nil
}

func (s *FileStore) GetBoard(ctx context.Context, id string) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boards, err := load[Board](s, colBoards)
	if err != nil {
		return Board{}, err
	}
	i := findByID(boards, id, boardKey)
	if i < 0 {
		return Board{}, ErrNotFound
	}
	return boards[i], nil
}

func (s *FileStore) CreateBoard(ctx context.Context, b Board) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boards, err := load[Board](s, colBoards)
	if err != nil {
		return Board{}, err
	}
	b.ID, b.CreatedAt = newID(), s.stampNow()
	boards = append(boards, b)
	tx := s.begin()
	if err := stage(tx, colBoards, boards); err != nil {
		return Board{}, err
	}
	return b, tx.commit()
}

func (s *FileStore) UpdateBoard(ctx context.Context, id string, p BoardPatch) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boards, err := load[Board](s, colBoards)
	if err != nil {
		return Board{}, err
	}
	i := findByID(boards, id, boardKey)
	if i < 0 {
		return Board{}, ErrNotFound
	}
	p.merge(&boards[i])
	tx := s.begin()
	if err := stage(tx, colBoards, boards); err != nil {
		return Board{}, err
	}
	return boards[i], tx.commit()
}

func (s *FileStore) DeleteBoard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boards, err := load[Board](s, colBoards)
	if err != nil {
		return err
	}
	boards = slices.DeleteFunc(boards, func(b Board) bool { return b.ID == id })
	tx := s.begin()
	if err := stage(tx, colBoards, boards); err != nil {
		return err
	}
	if err := s.dropLists(tx, func(l List) bool { return l.BoardID == id }); err != nil {
		return err
	}
	return tx.commit()
}

// dropLists stages the removal of matching lists and everything under them.
func (s *FileStore) dropLists(tx *batch, drop func(List) bool) error {
	lists, err := load[List](s, colLists)
	if err != nil {
		return err
	}
	gone := map[string]bool{}
	lists = slices.DeleteFunc(lists, func(l List) bool {
		if drop(l) {
			gone[l.ID] = true
			return true
		}
		return false
	})
	if err := stage(tx, colLists, lists); err != nil {
		return err
	}
	return s.dropCards(tx, func(c Card) bool { return gone[c.ListID] })
}

// dropCards stages the removal of matching cards with their attachments,
// comments and activity.
func (s *FileStore) dropCards(tx *batch, drop func(Card) bool) error {
	cards, err := load[Card](s, colCards)
	if err != nil {
		return err
	}
	gone := map[string]bool{}
	cards = slices.DeleteFunc(cards, func(c Card) bool {
		if drop(c) {
			gone[c.ID] = true
			return true
		}
		return false
	})
	if err := stage(tx, colCards, cards); err != nil {
		return err
	}
	atts, err := load[Attachment](s, colAttachments)
	if err != nil {
		return err
	}
	comments, err := load[Comment](s, colComments)
	if err != nil {
		return err
	}
	activity, err := load[ActivityEntry](s, colActivity)
	if err != nil {
		return err
	}
	atts = slices.DeleteFunc(atts, func(a Attachment) bool { return gone[a.CardID] })
	comments = slices.DeleteFunc(comments, func(c Comment) bool { return gone[c.CardID] })
	activity = slices.DeleteFunc(activity, func(e ActivityEntry) bool { return gone[e.CardID] })
	if err := stage(tx, colAttachments, atts); err != nil {
		return err
	}
	if err := stage(tx, colComments, comments); err != nil {
		return err
	}
	return stage(tx, colActivity, activity)
}

// --- lists ---

func (s *FileStore) ListsByBoard(ctx context.Context, boardID string) ([]List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lists, err := load[List](s, colLists)
	if err != nil {
		return nil, err
	}
	out := []List{}
	for _, l := range lists {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	sortByPosition(out, listPosition)
	return out, nil
}

func (s *FileStore) GetList(ctx context.Context, id string) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lists, err := load[List](s, colLists)
	if err != nil {
		return List{}, err
	}
	i := findByID(lists, id, listKey)
	if i < 0 {
		return List{}, ErrNotFound
	}
	return lists[i], nil
}

func (s *FileStore) CreateList(ctx context.Context, l List, position *int) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lists, err := load[List](s, colLists)
	if err != nil {
		return List{}, err
	}
	siblings := 0
	for _, other := range lists {
		if other.BoardID == l.BoardID {
			siblings++
		}
	}
	l.ID, l.CreatedAt = newID(), s.stampNow()
	l.Position = appendPosition(position, siblings)
	lists = append(lists, l)
	tx := s.begin()
	if err := stage(tx, colLists, lists); err != nil {
		return List{}, err
	}
	return l, tx.commit()
}

func (s *FileStore) UpdateList(ctx context.Context, id string, p ListPatch) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lists, err := load[List](s, colLists)
	if err != nil {
		return List{}, err
	}
	i := findByID(lists, id, listKey)
	if i < 0 {
		return List{}, ErrNotFound
	}
	p.merge(&lists[i])
	tx := s.begin()
	if err := stage(tx, colLists, lists); err != nil {
		return List{}, err
	}
	return lists[i], tx.commit()
}

func (s *FileStore) DeleteList(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.begin()
	if err := s.dropLists(tx, func(l List) bool { return l.ID == id }); err != nil {
		return err
	}
	return tx.commit()
}

// --- cards ---

// withRefs fills each card's attachment refs in upload order.
func withRefs(cards []Card, atts []Attachment) {
	byCard := map[string][]AttachmentRef{}
	for _, a := range atts {
		byCard[a.CardID] = append(byCard[a.CardID], a.Ref())
	}
	for i := range cards {
		cards[i].Attachments = byCard[cards[i].ID]
		if cards[i].Attachments == nil {
			cards[i].Attachments = []AttachmentRef{}
		}
	}
}

func (s *FileStore) CardsByList(ctx context.Context, listID string) ([]Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards, err := load[Card](s, colCards)
	if err != nil {
		return nil, err
	}
	atts, err := load[Attachment](s, colAttachments)
	if err != nil {
		return nil, err
	}
	out := []Card{}
	for _, c := range cards {
		if c.ListID == listID {
			out = append(out, c)
		}
	}
	sortByPosition(out, cardPosition)
	withRefs(out, atts)
	return out, nil
}

func (s *FileStore) GetCard(ctx context.Context, id string) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCard(id)
}

func (s *FileStore) getCard(id string) (Card, error) {
	cards, err := load[Card](s, colCards)
	if err != nil {
		return Card{}, err
	}
	i := findByID(cards, id, cardKey)
	if i < 0 {
		return Card{}, ErrNotFound
	}
	atts, err := load[Attachment](s, colAttachments)
	if err != nil {
		return Card{}, err
	}
	out := cards[i : i+1 : i+1]
	withRefs(out, atts)
	return out[0], nil
}

func refsToAttachments(cardID string, refs []AttachmentRef, now time.Time) []Attachment {
	out := make([]Attachment, 0, len(refs))
	for _, r := range refs {
		out = append(out, Attachment{ID: newID(), CardID: cardID, StoredName: r.StoredName, FileName: r.FileName, Size: r.Size, MimeType: r.MimeType, CreatedAt: now})
	}
	return out
}

func (s *FileStore) CreateCard(ctx context.Context, c Card, position *int) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards, err := load[Card](s, colCards)
	if err != nil {
		return Card{}, err
	}
	atts, err := load[Attachment](s, colAttachments)
	if err != nil {
		return Card{}, err
	}
	siblings := 0
	for _, other := range cards {
		if other.ListID == c.ListID {
			siblings++
		}
	}
	c.ID, c.CreatedAt = newID(), s.stampNow()
	c.Position = appendPosition(position, siblings)
	if c.Attachments == nil {
		c.Attachments = []AttachmentRef{}
	}
	stored := c
	stored.Attachments = nil
	cards = append(cards, stored)
	atts = append(atts, refsToAttachments(c.ID, c.Attachments, c.CreatedAt)...)
	tx := s.begin()
	if err := stage(tx, colCards, cards); err != nil {
		return Card{}, err
	}
	if err := stage(tx, colAttachments, atts); err != nil {
		return Card{}, err
	}
	return c, tx.commit()
}

func (s *FileStore) UpdateCard(ctx context.Context, id string, p CardPatch) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards, err := load[Card](s, colCards)
	if err != nil {
		return Card{}, err
	}
	i := findByID(cards, id, cardKey)
	if i < 0 {
		return Card{}, ErrNotFound
	}
	p.merge(&cards[i])
	cards[i].Attachments = nil
	tx := s.begin()
	if err := stage(tx, colCards, cards); err != nil {
		return Card{}, err
	}
	if p.Attachments.Set {
		atts, err := load[Attachment](s, colAttachments)
		if err != nil {
			return Card{}, err
		}
		atts = slices.DeleteFunc(atts, func(a Attachment) bool { return a.CardID == id })
		atts = append(atts, refsToAttachments(id, p.Attachments.Value, s.stampNow())...)
		if err := stage(tx, colAttachments, atts); err != nil {
			return Card{}, err
		}
	}
	if err := tx.commit(); err != nil {
		return Card{}, err
	}
	return s.getCard(id)
}

func (s *FileStore) DeleteCard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.begin()
	if err := s.dropCards(tx, func(c Card) bool { return c.ID == id }); err != nil {
		return err
	}
	return tx.commit()
}

func (s *FileStore) AttachmentsByCard(ctx context.Context, cardID string) ([]Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	atts, err := load[Attachment](s, colAttachments)
	if err != nil {
		return nil, err
	}
	out := []Attachment{}
	for _, a := range atts {
		if a.CardID == cardID {
			out = append(out, a)
		}
	}
	return out, nil
}

// hits annotates every card with its list, board and counts.
func (s *FileStore) hits() ([]CardHit, error) {
	boards, err := load[Board](s, colBoards)
	if err != nil {
		return nil, err
	}
	lists, err := load[List](s, colLists)
	if err != nil {
		return nil, err
	}
	cards, err := load[Card](s, colCards)
	if err != nil {
		return nil, err
	}
	atts, err := load[Attachment](s, colAttachments)
	if err != nil {
		return nil, err
	}
	comments, err := load[Comment](s, colComments)
	if err != nil {
		return nil, err
	}
	withRefs(cards, atts)
	boardByID := map[string]Board{}
	for _, b := range boards {
		boardByID[b.ID] = b
	}
	listByID := map[string]List{}
	for _, l := range lists {
		listByID[l.ID] = l
	}
	commentCount := map[string]int{}
	for _, c := range comments {
		commentCount[c.CardID]++
	}
	out := make([]CardHit, 0, len(cards))
	for _, c := range cards {
		h := CardHit{Card: c, CommentCount: commentCount[c.ID], AttachmentCount: len(c.Attachments)}
		if l, ok := listByID[c.ListID]; ok {
			h.ListTitle, h.BoardID = l.Title, l.BoardID
			h.BoardName = boardByID[l.BoardID].Name
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *FileStore) SearchCards(ctx context.Context, q CardSearch) ([]CardHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.hits()
	if err != nil {
		return nil, err
	}
	out := []CardHit{}
	for _, h := range all {
		if q.Query != "" && !containsFold(h.Title, q.Query) && !containsFold(h.Description, q.Query) {
			continue
		}
		if q.BoardID != "" && h.BoardID != q.BoardID {
			continue
		}
		if q.DueFrom != nil && (h.DueDate == nil || h.DueDate.Before(*q.DueFrom)) {
			continue
		}
		if q.DueTo != nil && (h.DueDate == nil || h.DueDate.After(*q.DueTo)) {
			continue
		}
		if q.HasComments && h.CommentCount == 0 {
			continue
		}
		if q.HasAttachments && h.AttachmentCount == 0 {
			continue
		}
		out = append(out, h)
	}
	slices.SortStableFunc(out, hitOrder(q.SortBy, q.Desc))
	return out, nil
}

// hitOrder compares search hits by the requested key. Cards without a due
// date go last whatever the direction.
func hitOrder(sortBy string, desc bool) func(a, b CardHit) int {
	dir := func(c int) int {
		if desc {
			return -c
		}
		return c
	}
	return func(a, b CardHit) int {
		switch sortBy {
		case "title":
			return dir(cmp.Compare(a.Title, b.Title))
		case "dueDate":
			switch {
			case a.DueDate == nil && b.DueDate == nil:
				return 0
			case a.DueDate == nil:
				return 1
			case b.DueDate == nil:
				return -1
			}
			return dir(a.DueDate.Compare(*b.DueDate))
		case "comments":
			return dir(cmp.Compare(a.CommentCount, b.CommentCount))
		case "attachments":
			return dir(cmp.Compare(a.AttachmentCount, b.AttachmentCount))
		default:
			return dir(a.CreatedAt.Compare(b.CreatedAt))
		}
	}
}

func (s *FileStore) DueCards(ctx context.Context, f DueFilter) ([]CardHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.hits()
	if err != nil {
		return nil, err
	}
	out := []CardHit{}
	for _, h := range all {
		if f.BoardID != "" && h.BoardID != f.BoardID {
			continue
		}
		if f.match(h.DueDate) {
			out = append(out, h)
		}
	}
	slices.SortStableFunc(out, hitOrder("dueDate", false))
	return out, nil
}

// --- comments ---

func (s *FileStore) authors() (map[string]User, error) {
	users, err := load[userRecord](s, colUsers)
	if err != nil {
		return nil, err
	}
	out := make(map[string]User, len(users))
	for _, u := range users {
		out[u.ID] = u.User
	}
	return out, nil
}

func authorOf(users map[string]User, id *string) (name, email *string) {
	if id == nil {
		return nil, nil
	}
	u, ok := users[*id]
	if !ok {
		return nil, nil
	}
	return &u.Username, &u.Email
}

func (s *FileStore) CommentsByCard(ctx context.Context, cardID string) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comments, err := load[Comment](s, colComments)
	if err != nil {
		return nil, err
	}
	users, err := s.authors()
	if err != nil {
		return nil, err
	}
	out := []Comment{}
	for _, c := range comments {
		if c.CardID == cardID {
			c.UserName, c.UserEmail = authorOf(users, c.UserID)
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b Comment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *FileStore) GetComment(ctx context.Context, id string) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getComment(id)
}

func (s *FileStore) getComment(id string) (Comment, error) {
	comments, err := load[Comment](s, colComments)
	if err != nil {
		return Comment{}, err
	}
	i := findByID(comments, id, commentKey)
	if i < 0 {
		return Comment{}, ErrNotFound
	}
	users, err := s.authors()
	if err != nil {
		return Comment{}, err
	}
	c := comments[i]
	c.UserName, c.UserEmail = authorOf(users, c.UserID)
	return c, nil
}

func (s *FileStore) CreateComment(ctx context.Context, c Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comments, err := load[Comment](s, colComments)
	if err != nil {
		return Comment{}, err
	}
	activity, err := load[ActivityEntry](s, colActivity)
	if err != nil {
		return Comment{}, err
	}
	c.ID = newID()
	c.CreatedAt = s.stampNow()
	c.UpdatedAt = c.CreatedAt
	c.UserName, c.UserEmail = nil, nil
	comments = append(comments, c)
	activity = append(activity, commentActivity(c, newID()))
	tx := s.begin()
	if err := stage(tx, colComments, comments); err != nil {
		return Comment{}, err
	}
	if err := stage(tx, colActivity, activity); err != nil {
		return Comment{}, err
	}
	if err := tx.commit(); err != nil {
		return Comment{}, err
	}
	return s.getComment(c.ID)
}

func (s *FileStore) UpdateComment(ctx context.Context, id, content string) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comments, err := load[Comment](s, colComments)
	if err != nil {
		return Comment{}, err
	}
	i := findByID(comments, id, commentKey)
	if i < 0 {
		return Comment{}, ErrNotFound
	}
	comments[i].Content = content
	comments[i].UpdatedAt = s.stampNow()
	tx := s.begin()
	if err := stage(tx, colComments, comments); err != nil {
		return Comment{}, err
	}
	if err := tx.commit(); err != nil {
		return Comment{}, err
	}
	return s.getComment(id)
}

func (s *FileStore) DeleteComment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	comments, err := load[Comment](s, colComments)
	if err != nil {
		return err
	}
	comments = slices.DeleteFunc(comments, func(c Comment) bool { return c.ID == id })
	tx := s.begin()
	if err := stage(tx, colComments, comments); err != nil {
		return err
	}
	return tx.commit()
}

// --- activity ---

func (s *FileStore) ActivityByCard(ctx context.Context, cardID string) ([]ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity, err := load[ActivityEntry](s, colActivity)
	if err != nil {
		return nil, err
	}
	users, err := s.authors()
	if err != nil {
		return nil, err
	}
	out := []ActivityEntry{}
	for _, e := range activity {
		if e.CardID == cardID {
			e.UserName, e.UserEmail = authorOf(users, e.UserID)
			out = append(out, e)
		}
	}
	return newestFirst(out, func(e ActivityEntry) time.Time { return e.CreatedAt }), nil
}

func (s *FileStore) ActivityByBoard(ctx context.Context, boardID string, limit int) ([]ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity, err := load[ActivityEntry](s, colActivity)
	if err != nil {
		return nil, err
	}
	lists, err := load[List](s, colLists)
	if err != nil {
		return nil, err
	}
	cards, err := load[Card](s, colCards)
	if err != nil {
		return nil, err
	}
	users, err := s.authors()
	if err != nil {
		return nil, err
	}
	onBoard := map[string]bool{}
	for _, l := range lists {
		if l.BoardID == boardID {
			onBoard[l.ID] = true
		}
	}
	titles := map[string]string{}
	for _, c := range cards {
		if onBoard[c.ListID] {
			titles[c.ID] = c.Title
		}
	}
	out := []ActivityEntry{}
	for _, e := range activity {
		title, ok := titles[e.CardID]
		if !ok {
			continue
		}
		e.CardTitle = &title
		e.UserName, e.UserEmail = authorOf(users, e.UserID)
		out = append(out, e)
	}
	out = newestFirst(out, func(e ActivityEntry) time.Time { return e.CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) GetActivity(ctx context.Context, id string) (ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity, err := load[ActivityEntry](s, colActivity)
	if err != nil {
		return ActivityEntry{}, err
	}
	i := findByID(activity, id, activityKey)
	if i < 0 {
		return ActivityEntry{}, ErrNotFound
	}
	users, err := s.authors()
	if err != nil {
		return ActivityEntry{}, err
	}
	e := activity[i]
	e.UserName, e.UserEmail = authorOf(users, e.UserID)
	return e, nil
}

func (s *FileStore) AppendActivity(ctx context.Context, e ActivityEntry) (ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity, err := load[ActivityEntry](s, colActivity)
	if err != nil {
		return ActivityEntry{}, err
	}
	e.ID, e.CreatedAt = newID(), s.stampNow()
	e.UserName, e.UserEmail, e.CardTitle = nil, nil, nil
	activity = append(activity, e)
	tx := s.begin()
	if err := stage(tx, colActivity, activity); err != nil {
		return ActivityEntry{}, err
	}
	return e, tx.commit()
}

// --- templates ---

func (s *FileStore) ListTemplates(ctx context.Context, publicOnly bool) ([]Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates, err := load[Template](s, colTemplates)
	if err != nil {
		return nil, err
	}
	out := []Template{}
	for _, t := range templates {
		if !publicOnly || t.IsPublic {
			out = append(out, t)
		}
	}
	return newestFirst(out, func(t Template) time.Time { return t.CreatedAt }), nil
}

func (s *FileStore) GetTemplate(ctx context.Context, id string) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates, err := load[Template](s, colTemplates)
	if err != nil {
		return Template{}, err
	}
	i := findByID(templates, id, templateKey)
	if i < 0 {
		return Template{}, ErrNotFound
	}
	return templates[i], nil
}

func (s *FileStore) CreateTemplate(ctx context.Context, t Template) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates, err := load[Template](s, colTemplates)
	if err != nil {
		return Template{}, err
	}
	t.ID, t.CreatedAt = newID(), s.stampNow()
	templates = append(templates, t)
	tx := s.begin()
	if err := stage(tx, colTemplates, templates); err != nil {
		return Template{}, err
	}
	return t, tx.commit()
}

func (s *FileStore) UpdateTemplate(ctx context.Context, id string, p TemplatePatch) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates, err := load[Template](s, colTemplates)
	if err != nil {
		return Template{}, err
	}
	i := findByID(templates, id, templateKey)
	if i < 0 {
		return Template{}, ErrNotFound
	}
	p.merge(&templates[i])
	tx := s.begin()
	if err := stage(tx, colTemplates, templates); err != nil {
		return Template{}, err
	}
	return templates[i], tx.commit()
}

func (s *FileStore) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates, err := load[Template](s, colTemplates)
	if err != nil {
		return err
	}
	templates = slices.DeleteFunc(templates, func(t Template) bool { return t.ID == id })
	tx := s.begin()
	if err := stage(tx, colTemplates, templates); err != nil {
		return err
	}
	return tx.commit()
}

func (s *FileStore) SnapshotBoard(ctx context.Context, boardID string) (TemplateData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boards, err := load[Board](s, colBoards)
	if err != nil {
		return TemplateData{}, err
	}
	i := findByID(boards, boardID, boardKey)
	if i < 0 {
		return TemplateData{}, ErrNotFound
	}
	lists, err := load[List](s, colLists)
	if err != nil {
		return TemplateData{}, err
	}
	cards, err := load[Card](s, colCards)
	if err != nil {
		return TemplateData{}, err
	}
	lists = slices.DeleteFunc(lists, func(l List) bool { return l.BoardID != boardID })
	sortByPosition(lists, listPosition)
	var onBoard []Card
	for _, l := range lists {
		var inList []Card
		for _, c := range cards {
			if c.ListID == l.ID {
				inList = append(inList, c)
			}
		}
		sortByPosition(inList, cardPosition)
		onBoard = append(onBoard, inList...)
	}
	return snapshot(boards[i], lists, onBoard), nil
}

// InstantiateTemplate writes the board, its lists and its cards in one
// staged commit, so a failure leaves none of them behind.
func (s *FileStore) InstantiateTemplate(ctx context.Context, data TemplateData, b Board) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, newLists, newCards, err := instantiate(data, b, s.stampNow())
	if err != nil {
		return Board{}, err
	}
	boards, err := load[Board](s, colBoards)
	if err != nil {
		return Board{}, err
	}
	lists, err := load[List](s, colLists)
	if err != nil {
		return Board{}, err
	}
	cards, err := load[Card](s, colCards)
	if err != nil {
		return Board{}, err
	}
	tx := s.begin()
	if err := stage(tx, colBoards, append(boards, board)); err != nil {
		return Board{}, err
	}
	if err := stage(tx, colLists, append(lists, newLists...)); err != nil {
		return Board{}, err
	}
	if err := stage(tx, colCards, append(cards, newCards...)); err != nil {
		return Board{}, err
	}
	if err := tx.commit(); err != nil {
		return Board{}, err
	}
	return board, nil
}

// --- users & sessions ---

func (s *FileStore) CreateUser(ctx context.Context, u User, passwordHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := load[userRecord](s, colUsers)
	if err != nil {
		return User{}, err
	}
	for _, other := range users {
		if strings.EqualFold(other.Email, u.Email) || strings.EqualFold(other.Username, u.Username) {
			return User{}, ErrConflict
		}
	}
	u.ID, u.CreatedAt = newID(), s.stampNow()
	users = append(users, userRecord{User: u, PasswordHash: passwordHash})
	tx := s.begin()
	if err := stage(tx, colUsers, users); err != nil {
		return User{}, err
	}
	return u, tx.commit()
}

func (s *FileStore) UserCredentials(ctx context.Context, email string) (User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := load[userRecord](s, colUsers)
	if err != nil {
		return User{}, "", err
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return u.User, u.PasswordHash, nil
		}
	}
	return User{}, "", ErrNotFound
}

func (s *FileStore) CreateSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, err := load[Session](s, colSessions)
	if err != nil {
		return err
	}
	now := s.now()
	sessions = slices.DeleteFunc(sessions, func(o Session) bool { return !o.ExpiresAt.After(now) })
	sessions = append(sessions, sess)
	tx := s.begin()
	if err := stage(tx, colSessions, sessions); err != nil {
		return err
	}
	return tx.commit()
}

func (s *FileStore) UserBySession(ctx context.Context, token string, now time.Time) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, err := load[Session](s, colSessions)
	if err != nil {
		return User{}, err
	}
	i := slices.IndexFunc(sessions, func(o Session) bool { return o.Token == token && o.ExpiresAt.After(now) })
	if i < 0 {
		return User{}, ErrNotFound
	}
	users, err := s.authors()
	if err != nil {
		return User{}, err
	}
	u, ok := users[sessions[i].UserID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *FileStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, err := load[Session](s, colSessions)
	if err != nil {
		return err
	}
	sessions = slices.DeleteFunc(sessions, func(o Session) bool { return o.Token == token })
	tx := s.begin()
	if err := stage(tx, colSessions, sessions); err != nil {
		return err
	}
	return tx.commit()
}
