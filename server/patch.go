package main

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Field records whether a JSON key was present, and whether it was null, so
// that PUT bodies can be merged field by field.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if string(b) == "null" {
		var zero T
		f.Null, f.Value = true, zero
		return nil
	}
	return json.Unmarshal(b, &f.Value)
}

// Some returns a present, non-null field.
func Some[T any](v T) Field[T] { return Field[T]{Set: true, Value: v} }

// apply overwrites dst when the field was sent; null resets it to the zero value.
func (f Field[T]) apply(dst *T) {
	if f.Set {
		*dst = f.Value
	}
}

// applyPtr is apply for nullable columns: null clears the pointer.
func (f Field[T]) applyPtr(dst **T) {
	if !f.Set {
		return
	}
	if f.Null {
		*dst = nil
		return
	}
	v := f.Value
	*dst = &v
}

type BoardPatch struct {
	Name        Field[string] `json:"name"`
	Description Field[string] `json:"description"`
	OwnerID     Field[string] `json:"ownerId"`
}

func (p BoardPatch) merge(b *Board) {
	p.Name.apply(&b.Name)
	p.Description.apply(&b.Description)
	p.OwnerID.applyPtr(&b.OwnerID)
}

type ListPatch struct {
	Title    Field[string] `json:"title"`
	BoardID  Field[string] `json:"boardId"`
	Position Field[int]    `json:"position"`
}

func (p ListPatch) merge(l *List) {
	p.Title.apply(&l.Title)
	p.BoardID.apply(&l.BoardID)
	p.Position.apply(&l.Position)
}

// CardPatch carries dueDate already parsed; see parseDate for accepted forms.
type CardPatch struct {
	Title       Field[string]          `json:"title"`
	Description Field[string]          `json:"description"`
	ListID      Field[string]          `json:"listId"`
	Position    Field[int]             `json:"position"`
	DueDate     Field[time.Time]       `json:"-"`
	Attachments Field[[]AttachmentRef] `json:"attachments"`
}

func (p CardPatch) merge(c *Card) {
	p.Title.apply(&c.Title)
	p.Description.apply(&c.Description)
	p.ListID.apply(&c.ListID)
	p.Position.apply(&c.Position)
	p.DueDate.applyPtr(&c.DueDate)
}

type TemplatePatch struct {
	Name        Field[string] `json:"name"`
	Description Field[string] `json:"description"`
	IsPublic    Field[bool]   `json:"isPublic"`
}

func (p TemplatePatch) merge(t *Template) {
	p.Name.apply(&t.Name)
	p.Description.apply(&t.Description)
	p.IsPublic.apply(&t.IsPublic)
}

var errBadDate = errors.New("bad date")

// parseDate accepts RFC 3339 timestamps and the bare dates sent by
// <input type="date">.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return stamp(t), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errBadDate
}

// dateField converts a raw dueDate field; an empty string clears like null.
func dateField(raw Field[string]) (Field[time.Time], error) {
	if !raw.Set {
		return Field[time.Time]{}, nil
	}
	if raw.Null || strings.TrimSpace(raw.Value) == "" {
		return Field[time.Time]{Set: true, Null: true}, nil
	}
	t, err := parseDate(raw.Value)
	if err != nil {
		return Field[time.Time]{}, err
	}
	return Some(t), nil
}

// stamp normalizes times to UTC microseconds, the precision both SQL
// dialects keep.
func stamp(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }
