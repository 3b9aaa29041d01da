package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLStore serves the Store contract from PostgreSQL (driver "pgx") or
// SQLite (driver "sqlite"). Queries are written with ? and rebound.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
	// seq is the insertion-order column: rowid in sqlite, a bigserial in
	// postgres. It breaks ties between equal positions.
	seq string
}

func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var schema, seq string
	switch driver {
	case "pgx":
		schema, seq = schemaPostgres, "seq"
	case "sqlite":
		schema, seq = schemaSQLite, "rowid"
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	tunePool(db, driver)
	if driver == "sqlite" {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := &SQLStore{db: db, now: time.Now, seq: seq}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func tunePool(db *sqlx.DB, driver string) {
	switch driver {
	case "sqlite":
		// one connection: pragmas are per connection and :memory: is too
		db.SetMaxOpenConns(1)
	case "pgx":
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) q(query string) string { return s.db.Rebind(query) }

func (s *SQLStore) stampNow() time.Time { return stamp(s.now()) }

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// uniqueViolation reports a unique constraint failure in either dialect.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}

// --- boards ---

const boardCols = `id, name, description, owner_id, created_at`

func (s *SQLStore) ListBoards(ctx context.Context) ([]Board, error) {
	out := []Board{}
	err := s.db.SelectContext(ctx, &out, `select `+boardCols+` from boards order by created_at, id`)
	return out, err
}

func (s *SQLStore) SearchBoards(ctx context.Context, query string) ([]Board, error) {
	var all []Board
	if err := s.db.SelectContext(ctx, &all, `select `+boardCols+` from boards order by created_at desc`); err != nil {
		return nil, err
	}
	// matched in Go: LIKE wildcards and sqlite's ASCII-only lower() would
	// disagree with the file store
	out := make([]Board, 0, len(all))
	for _, b := range all {
		if query == "" || containsFold(b.Name, query) || containsFold(b.Description, query) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *SQLStore) GetBoard(ctx context.Context, id string) (Board, error) {
	return getBoard(ctx, s.db, s.q, id)
}

func getBoard(ctx context.Context, q sqlx.QueryerContext, rebind func(string) string, id string) (Board, error) {
	var b Board
	err := sqlx.GetContext(ctx, q, &b, rebind(`select `+boardCols+` from boards where id = ?`), id)
	return b, noRows(err)
}

func insertBoard(ctx context.Context, tx sqlx.ExecerContext, rebind func(string) string, b Board) error {
	_, err := tx.ExecContext(ctx, rebind(`insert into boards(id, name, description, owner_id, created_at) values(?, ?, ?, ?, ?)`),
		b.ID, b.Name, b.Description, b.OwnerID, b.CreatedAt)
	return err
}

func (s *SQLStore) CreateBoard(ctx context.Context, b Board) (Board, error) {
	b.ID, b.CreatedAt = newID(), s.stampNow()
	if err := insertBoard(ctx, s.db, s.q, b); err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}
	return b, nil
}

func (s *SQLStore) UpdateBoard(ctx context.Context, id string, p BoardPatch) (Board, error) {
	var b Board
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if b, err = getBoard(ctx, tx, s.q, id); err != nil {
			return err
		}
		p.merge(&b)
		_, err = tx.ExecContext(ctx, s.q(`update boards set name = ?, description = ?, owner_id = ? where id = ?`),
			b.Name, b.Description, b.OwnerID, id)
		return err
	})
	return b, err
}

// DeleteBoard relies on the schema's cascades for lists and everything below.
func (s *SQLStore) DeleteBoard(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`delete from boards where id = ?`), id)
	return err
}

// --- lists ---

const listCols = `id, title, board_id, position, created_at`

func (s *SQLStore) ListsByBoard(ctx context.Context, boardID string) ([]List, error) {
	out := []List{}
	err := s.db.SelectContext(ctx, &out, s.q(`select `+listCols+` from lists where board_id = ? order by position, `+s.seq), boardID)
	return out, err
}

func getList(ctx context.Context, q sqlx.QueryerContext, rebind func(string) string, id string) (List, error) {
	var l List
	err := sqlx.GetContext(ctx, q, &l, rebind(`select `+listCols+` from lists where id = ?`), id)
	return l, noRows(err)
}

func (s *SQLStore) GetList(ctx context.Context, id string) (List, error) {
	return getList(ctx, s.db, s.q, id)
}

func insertList(ctx context.Context, tx sqlx.ExecerContext, rebind func(string) string, l List) error {
	_, err := tx.ExecContext(ctx, rebind(`insert into lists(id, title, board_id, position, created_at) values(?, ?, ?, ?, ?)`),
		l.ID, l.Title, l.BoardID, l.Position, l.CreatedAt)
	return err
}

func (s *SQLStore) CreateList(ctx context.Context, l List, position *int) (List, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var siblings int
		if err := tx.GetContext(ctx, &siblings, s.q(`select count(*) from lists where board_id = ?`), l.BoardID); err != nil {
			return err
		}
		l.ID, l.CreatedAt = newID(), s.stampNow()
		l.Position = appendPosition(position, siblings)
		return insertList(ctx, tx, s.q, l)
	})
	if err != nil {
		return List{}, fmt.Errorf("insert list: %w", err)
	}
	return l, nil
}

func (s *SQLStore) UpdateList(ctx context.Context, id string, p ListPatch) (List, error) {
	var l List
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if l, err = getList(ctx, tx, s.q, id); err != nil {
			return err
		}
		p.merge(&l)
		_, err = tx.ExecContext(ctx, s.q(`update lists set title = ?, board_id = ?, position = ? where id = ?`),
			l.Title, l.BoardID, l.Position, id)
		return err
	})
	return l, err
}

func (s *SQLStore) DeleteList(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`delete from lists where id = ?`), id)
	return err
}

// --- cards ---

const cardCols = `c.id, c.title, c.description, c.list_id, c.position, c.due_date, c.created_at`

// fillRefs loads the attachment refs of every given card in upload order.
func (s *SQLStore) fillRefs(ctx context.Context, q sqlx.QueryerContext, cards []Card) error {
	for i := range cards {
		cards[i].Attachments = []AttachmentRef{}
	}
	if len(cards) == 0 {
		return nil
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	query, args, err := sqlx.In(`select id, card_id, stored_name, file_name, size, mime_type, created_at
		from attachments where card_id in (?) order by created_at, seq`, ids)
	if err != nil {
		return err
	}
	var atts []Attachment
	if err := sqlx.SelectContext(ctx, q, &atts, s.q(query), args...); err != nil {
		return err
	}
	byCard := map[string][]AttachmentRef{}
	for _, a := range atts {
		byCard[a.CardID] = append(byCard[a.CardID], a.Ref())
	}
	for i := range cards {
		if refs, ok := byCard[cards[i].ID]; ok {
			cards[i].Attachments = refs
		}
	}
	return nil
}

func (s *SQLStore) CardsByList(ctx context.Context, listID string) ([]Card, error) {
	out := []Card{}
	err := s.db.SelectContext(ctx, &out, s.q(`select `+cardCols+` from cards c where c.list_id = ? order by c.position, c.`+s.seq), listID)
	if err != nil {
		return nil, err
	}
	return out, s.fillRefs(ctx, s.db, out)
}

func (s *SQLStore) getCard(ctx context.Context, q sqlx.QueryerContext, id string) (Card, error) {
	var c Card
	if err := sqlx.GetContext(ctx, q, &c, s.q(`select `+cardCols+` from cards c where c.id = ?`), id); err != nil {
		return Card{}, noRows(err)
	}
	one := []Card{c}
	if err := s.fillRefs(ctx, q, one); err != nil {
		return Card{}, err
	}
	return one[0], nil
}

func (s *SQLStore) GetCard(ctx context.Context, id string) (Card, error) {
	return s.getCard(ctx, s.db, id)
}

func insertCard(ctx context.Context, tx sqlx.ExecerContext, rebind func(string) string, c Card) error {
	_, err := tx.ExecContext(ctx, rebind(`insert into cards(id, title, description, list_id, position, due_date, created_at) values(?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Title, c.Description, c.ListID, c.Position, c.DueDate, c.CreatedAt)
	return err
}

func (s *SQLStore) insertRefs(ctx context.Context, tx *sqlx.Tx, cardID string, refs []AttachmentRef, now time.Time) error {
	for i, r := range refs {
		_, err := tx.ExecContext(ctx, s.q(`insert into attachments(id, card_id, stored_name, file_name, size, mime_type, seq, created_at) values(?, ?, ?, ?, ?, ?, ?, ?)`),
			newID(), cardID, r.StoredName, r.FileName, r.Size, r.MimeType, i, now)
		if err != nil {
			return fmt.Errorf("insert attachment %s: %w", r.StoredName, err)
		}
	}
	return nil
}

func (s *SQLStore) CreateCard(ctx context.Context, c Card, position *int) (Card, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var siblings int
		if err := tx.GetContext(ctx, &siblings, s.q(`select count(*) from cards where list_id = ?`), c.ListID); err != nil {
			return err
		}
		c.ID, c.CreatedAt = newID(), s.stampNow()
		c.Position = appendPosition(position, siblings)
		if c.Attachments == nil {
			c.Attachments = []AttachmentRef{}
		}
		if err := insertCard(ctx, tx, s.q, c); err != nil {
			return err
		}
		return s.insertRefs(ctx, tx, c.ID, c.Attachments, c.CreatedAt)
	})
	if err != nil {
		return Card{}, fmt.Errorf("insert card: %w", err)
	}
	return c, nil
}

func (s *SQLStore) UpdateCard(ctx context.Context, id string, p CardPatch) (Card, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		c, err := s.getCard(ctx, tx, id)
		if err != nil {
			return err
		}
		p.merge(&c)
		_, err = tx.ExecContext(ctx, s.q(`update cards set title = ?, description = ?, list_id = ?, position = ?, due_date = ? where id = ?`),
			c.Title, c.Description, c.ListID, c.Position, c.DueDate, id)
		if err != nil {
			return err
		}
		if !p.Attachments.Set {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.q(`delete from attachments where card_id = ?`), id); err != nil {
			return err
		}
		return s.insertRefs(ctx, tx, id, p.Attachments.Value, s.stampNow())
	})
	if err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, id)
}

func (s *SQLStore) DeleteCard(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`delete from cards where id = ?`), id)
	return err
}

func (s *SQLStore) AttachmentsByCard(ctx context.Context, cardID string) ([]Attachment, error) {
	out := []Attachment{}
	err := s.db.SelectContext(ctx, &out, s.q(`select id, card_id, stored_name, file_name, size, mime_type, created_at
		from attachments where card_id = ? order by created_at, seq`), cardID)
	return out, err
}

const hitSelect = `select ` + cardCols + `,
	coalesce(l.title, '') as list_title, coalesce(l.board_id, '') as board_id, coalesce(b.name, '') as board_name,
	(select count(*) from comments m where m.card_id = c.id) as comment_count,
	(select count(*) from attachments a where a.card_id = c.id) as attachment_count
from cards c
left join lists l on l.id = c.list_id
left join boards b on b.id = l.board_id`

// hitOrderSQL holds the order by clause per search key. Null due dates go
// last in both directions.
var hitOrderSQL = map[string]string{
	"title":       "c.title %s",
	"dueDate":     "(c.due_date is null), c.due_date %s",
	"createdAt":   "c.created_at %s",
	"comments":    "comment_count %s",
	"attachments": "attachment_count %s",
}

func (s *SQLStore) hits(ctx context.Context, conds []string, args []any, order string) ([]CardHit, error) {
	query := hitSelect
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += " order by " + order
	out := []CardHit{}
	if err := s.db.SelectContext(ctx, &out, s.q(query), args...); err != nil {
		return nil, err
	}
	cards := make([]Card, len(out))
	for i := range out {
		cards[i] = out[i].Card
	}
	if err := s.fillRefs(ctx, s.db, cards); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Attachments = cards[i].Attachments
	}
	return out, nil
}

func (s *SQLStore) SearchCards(ctx context.Context, f CardSearch) ([]CardHit, error) {
	var conds []string
	var args []any
	if f.BoardID != "" {
		conds = append(conds, "l.board_id = ?")
		args = append(args, f.BoardID)
	}
	if f.DueFrom != nil {
		conds = append(conds, "c.due_date >= ?")
		args = append(args, *f.DueFrom)
	}
	if f.DueTo != nil {
		conds = append(conds, "c.due_date <= ?")
		args = append(args, *f.DueTo)
	}
	if f.HasComments {
		conds = append(conds, "exists (select 1 from comments m where m.card_id = c.id)")
	}
	if f.HasAttachments {
		conds = append(conds, "exists (select 1 from attachments a where a.card_id = c.id)")
	}
	order, ok := hitOrderSQL[f.SortBy]
	if !ok {
		order = hitOrderSQL["createdAt"]
	}
	dir := "asc"
	if f.Desc {
		dir = "desc"
	}
	hits, err := s.hits(ctx, conds, args, fmt.Sprintf(order, dir))
	if err != nil || f.Query == "" {
		return hits, err
	}
	out := hits[:0]
	for _, h := range hits {
		if containsFold(h.Title, f.Query) || containsFold(h.Description, f.Query) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *SQLStore) DueCards(ctx context.Context, f DueFilter) ([]CardHit, error) {
	conds := []string{"c.due_date is not null"}
	var args []any
	if !f.From.IsZero() {
		conds = append(conds, "c.due_date >= ?")
		args = append(args, f.From)
	}
	if f.IncludeTo {
		conds = append(conds, "c.due_date <= ?")
	} else {
		conds = append(conds, "c.due_date < ?")
	}
	args = append(args, f.To)
	if f.BoardID != "" {
		conds = append(conds, "l.board_id = ?")
		args = append(args, f.BoardID)
	}
	return s.hits(ctx, conds, args, "c.due_date asc")
}

// --- comments ---

const commentSelect = `select m.id, m.card_id, m.user_id, m.content, m.created_at, m.updated_at,
	u.username as user_name, u.email as user_email
from comments m left join users u on u.id = m.user_id`

func (s *SQLStore) CommentsByCard(ctx context.Context, cardID string) ([]Comment, error) {
	out := []Comment{}
	err := s.db.SelectContext(ctx, &out, s.q(commentSelect+` where m.card_id = ? order by m.created_at, m.id`), cardID)
	return out, err
}

func (s *SQLStore) GetComment(ctx context.Context, id string) (Comment, error) {
	var c Comment
	err := s.db.GetContext(ctx, &c, s.q(commentSelect+` where m.id = ?`), id)
	return c, noRows(err)
}

func (s *SQLStore) CreateComment(ctx context.Context, c Comment) (Comment, error) {
	c.ID = newID()
	c.CreatedAt = s.stampNow()
	c.UpdatedAt = c.CreatedAt
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`insert into comments(id, card_id, user_id, content, created_at, updated_at) values(?, ?, ?, ?, ?, ?)`),
			c.ID, c.CardID, c.UserID, c.Content, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return err
		}
		return insertActivity(ctx, tx, s.q, commentActivity(c, newID()))
	})
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return s.GetComment(ctx, c.ID)
}

func (s *SQLStore) UpdateComment(ctx context.Context, id, content string) (Comment, error) {
	res, err := s.db.ExecContext(ctx, s.q(`update comments set content = ?, updated_at = ? where id = ?`), content, s.stampNow(), id)
	if err != nil {
		return Comment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Comment{}, ErrNotFound
	}
	return s.GetComment(ctx, id)
}

func (s *SQLStore) DeleteComment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`delete from comments where id = ?`), id)
	return err
}

// --- activity ---

const activitySelect = `select a.id, a.card_id, a.user_id, a.action, a.details, a.created_at,
	u.username as user_name, u.email as user_email
from activity a left join users u on u.id = a.user_id`

func insertActivity(ctx context.Context, tx sqlx.ExecerContext, rebind func(string) string, e ActivityEntry) error {
	_, err := tx.ExecContext(ctx, rebind(`insert into activity(id, card_id, user_id, action, details, created_at) values(?, ?, ?, ?, ?, ?)`),
		e.ID, e.CardID, e.UserID, e.Action, e.Details, e.CreatedAt)
	return err
}

func (s *SQLStore) ActivityByCard(ctx context.Context, cardID string) ([]ActivityEntry, error) {
	out := []ActivityEntry{}
	err := s.db.SelectContext(ctx, &out, s.q(activitySelect+` where a.card_id = ? order by a.created_at desc`), cardID)
	return out, err
}

func (s *SQLStore) ActivityByBoard(ctx context.Context, boardID string, limit int) ([]ActivityEntry, error) {
	out := []ActivityEntry{}
	err := s.db.SelectContext(ctx, &out, s.q(`select a.id, a.card_id, a.user_id, a.action, a.details, a.created_at,
		u.username as user_name, u.email as user_email, c.title as card_title
	from activity a
	join cards c on c.id = a.card_id
	join lists l on l.id = c.list_id
	left join users u on u.id = a.user_id
	where l.board_id = ?
	order by a.created_at desc
	limit ?`), boardID, limit)
	return out, err
}

func (s *SQLStore) GetActivity(ctx context.Context, id string) (ActivityEntry, error) {
	var e ActivityEntry
	err := s.db.GetContext(ctx, &e, s.q(activitySelect+` where a.id = ?`), id)
	return e, noRows(err)
}

func (s *SQLStore) AppendActivity(ctx context.Context, e ActivityEntry) (ActivityEntry, error) {
	e.ID, e.CreatedAt = newID(), s.stampNow()
	e.UserName, e.UserEmail, e.CardTitle = nil, nil, nil
	if err := insertActivity(ctx, s.db, s.q, e); err != nil {
		return ActivityEntry{}, fmt.Errorf("insert activity: %w", err)
	}
	return e, nil
}

// --- templates ---

// templateRow is a template as stored: the snapshot is a JSON text column.
type templateRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Data        string    `db:"template_data"`
	IsPublic    bool      `db:"is_public"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r templateRow) template() (Template, error) {
	t := Template{ID: r.ID, Name: r.Name, Description: r.Description, IsPublic: r.IsPublic, CreatedAt: r.CreatedAt}
	if err := json.Unmarshal([]byte(r.Data), &t.Data); err != nil {
		return Template{}, fmt.Errorf("template %s data: %w", r.ID, ErrInvalid)
	}
	return t, nil
}

const templateCols = `id, name, description, template_data, is_public, created_at`

func (s *SQLStore) ListTemplates(ctx context.Context, publicOnly bool) ([]Template, error) {
	var rows []templateRow
	var err error
	if publicOnly {
		err = s.db.SelectContext(ctx, &rows, s.q(`select `+templateCols+` from templates where is_public = ? order by created_at desc`), true)
	} else {
		err = s.db.SelectContext(ctx, &rows, `select `+templateCols+` from templates order by created_at desc`)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Template, 0, len(rows))
	for _, r := range rows {
		t, err := r.template()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLStore) getTemplate(ctx context.Context, q sqlx.QueryerContext, id string) (Template, error) {
	var r templateRow
	if err := sqlx.GetContext(ctx, q, &r, s.q(`select `+templateCols+` from templates where id = ?`), id); err != nil {
		return Template{}, noRows(err)
	}
	return r.template()
}

func (s *SQLStore) GetTemplate(ctx context.Context, id string) (Template, error) {
	return s.getTemplate(ctx, s.db, id)
}

func (s *SQLStore) CreateTemplate(ctx context.Context, t Template) (Template, error) {
	t.ID, t.CreatedAt = newID(), s.stampNow()
	data, err := json.Marshal(t.Data)
	if err != nil {
		return Template{}, err
	}
	_, err = s.db.ExecContext(ctx, s.q(`insert into templates(id, name, description, template_data, is_public, created_at) values(?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.Description, string(data), t.IsPublic, t.CreatedAt)
	if err != nil {
		return Template{}, fmt.Errorf("insert template: %w", err)
	}
	return t, nil
}

func (s *SQLStore) UpdateTemplate(ctx context.Context, id string, p TemplatePatch) (Template, error) {
	var t Template
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if t, err = s.getTemplate(ctx, tx, id); err != nil {
			return err
		}
		p.merge(&t)
		_, err = tx.ExecContext(ctx, s.q(`update templates set name = ?, description = ?, is_public = ? where id = ?`),
			t.Name, t.Description, t.IsPublic, id)
		return err
	})
	return t, err
}

func (s *SQLStore) DeleteTemplate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`delete from templates where id = ?`), id)
	return err
}

func (s *SQLStore) SnapshotBoard(ctx context.Context, boardID string) (TemplateData, error) {
	b, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return TemplateData{}, err
	}
	lists, err := s.ListsByBoard(ctx, boardID)
	if err != nil {
		return TemplateData{}, err
	}
	var cards []Card
	err = s.db.SelectContext(ctx, &cards, s.q(`select `+cardCols+` from cards c join lists l on l.id = c.list_id
		where l.board_id = ?
		order by l.position, l.`+s.seq+`, c.position, c.`+s.seq), boardID)
	if err != nil {
		return TemplateData{}, err
	}
	return snapshot(b, lists, cards), nil
}

func (s *SQLStore) InstantiateTemplate(ctx context.Context, data TemplateData, b Board) (Board, error) {
	board, lists, cards, err := instantiate(data, b, s.stampNow())
	if err != nil {
		return Board{}, err
	}
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertBoard(ctx, tx, s.q, board); err != nil {
			return err
		}
		for _, l := range lists {
			if err := insertList(ctx, tx, s.q, l); err != nil {
				return err
			}
		}
		for _, c := range cards {
			if err := insertCard(ctx, tx, s.q, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Board{}, fmt.Errorf("instantiate template: %w", err)
	}
	return board, nil
}

// --- users & sessions ---

func (s *SQLStore) CreateUser(ctx context.Context, u User, passwordHash string) (User, error) {
	u.ID, u.CreatedAt = newID(), s.stampNow()
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var taken int
		err := tx.GetContext(ctx, &taken, s.q(`select count(*) from users where lower(email) = lower(?) or lower(username) = lower(?)`), u.Email, u.Username)
		if err != nil {
			return err
		}
		if taken > 0 {
			return ErrConflict
		}
		return insertUser(ctx, tx, s.q, u, passwordHash)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// insertUser maps a unique violation to ErrConflict: a concurrent register
// can pass the count check and still lose the insert.
func insertUser(ctx context.Context, tx sqlx.ExecerContext, rebind func(string) string, u User, passwordHash string) error {
	_, err := tx.ExecContext(ctx, rebind(`insert into users(id, username, email, password_hash, created_at) values(?, ?, ?, ?, ?)`),
		u.ID, u.Username, u.Email, passwordHash, u.CreatedAt)
	if uniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLStore) UserCredentials(ctx context.Context, email string) (User, string, error) {
	var row struct {
		User
		PasswordHash string `db:"password_hash"`
	}
	err := s.db.GetContext(ctx, &row, s.q(`select id, username, email, created_at, password_hash from users where lower(email) = lower(?)`), email)
	if err != nil {
		return User{}, "", noRows(err)
	}
	return row.User, row.PasswordHash, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, sess Session) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`delete from sessions where expires_at <= ?`), stamp(s.now())); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`insert into sessions(token, user_id, created_at, expires_at) values(?, ?, ?, ?)`),
			sess.Token, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
		return err
	})
}

func (s *SQLStore) UserBySession(ctx context.Context, token string, now time.Time) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.q(`select u.id, u.username, u.email, u.created_at
		from sessions s join users u on u.id = s.user_id
		where s.token = ? and s.expires_at > ?`), token, stamp(now))
	return u, noRows(err)
}

func (s *SQLStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.q(`delete from sessions where token = ?`), token)
	return err
}
