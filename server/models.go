package main

import "time"

// JSON names are what the SPA speaks; db names are the SQL columns. The file
// store persists the JSON form, so these tags are the only mapping between them.

type Board struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	OwnerID     *string   `json:"ownerId,omitempty" db:"owner_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

type List struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	BoardID   string    `json:"boardId" db:"board_id"`
	Position  int       `json:"position" db:"position"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type Card struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	ListID      string     `json:"listId" db:"list_id"`
	Position    int        `json:"position" db:"position"`
	DueDate     *time.Time `json:"dueDate" db:"due_date"`
	// Attachments is derived from the attachment records of the card.
	Attachments []AttachmentRef `json:"attachments" db:"-"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// AttachmentRef is the shape a card carries for each of its files.
type AttachmentRef struct {
	FileName   string `json:"fileName"`
	StoredName string `json:"storedName"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType,omitempty"`
}

type Attachment struct {
	ID         string    `json:"id" db:"id"`
	CardID     string    `json:"cardId" db:"card_id"`
	StoredName string    `json:"storedName" db:"stored_name"`
	FileName   string    `json:"fileName" db:"file_name"`
	Size       int64     `json:"size" db:"size"`
	MimeType   string    `json:"mimeType" db:"mime_type"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

func (a Attachment) Ref() AttachmentRef {
	return AttachmentRef{FileName: a.FileName, StoredName: a.StoredName, Size: a.Size, MimeType: a.MimeType}
}

type Comment struct {
	ID        string    `json:"id" db:"id"`
	CardID    string    `json:"cardId" db:"card_id"`
	UserID    *string   `json:"userId" db:"user_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	// author details, resolved on read
	UserName  *string `json:"userName,omitempty" db:"user_name"`
	UserEmail *string `json:"userEmail,omitempty" db:"user_email"`
}

type ActivityEntry struct {
	ID        string    `json:"id" db:"id"`
	CardID    string    `json:"cardId" db:"card_id"`
	UserID    *string   `json:"userId" db:"user_id"`
	Action    string    `json:"action" db:"action"`
	Details   string    `json:"details" db:"details"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UserName  *string   `json:"userName,omitempty" db:"user_name"`
	UserEmail *string   `json:"userEmail,omitempty" db:"user_email"`
	// CardTitle is only filled by board-wide listings.
	CardTitle *string `json:"cardTitle,omitempty" db:"card_title"`
}

type Template struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Data        TemplateData `json:"templateData"`
	IsPublic    bool         `json:"isPublic"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// TemplateData is the snapshot of a board's structure. List ids are local to
// the snapshot and only serve to link cards to their list.
type TemplateData struct {
	Board TemplateBoard  `json:"board" yaml:"board"`
	Lists []TemplateList `json:"lists" yaml:"lists"`
	Cards []TemplateCard `json:"cards" yaml:"cards"`
}

type TemplateBoard struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

type TemplateList struct {
	ID       string `json:"id,omitempty" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Position int    `json:"position" yaml:"position"`
}

type TemplateCard struct {
	ListID      string `json:"listId" yaml:"listId"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Position    int    `json:"position" yaml:"position"`
}

type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type Session struct {
	Token     string    `json:"token" db:"token"`
	UserID    string    `json:"userId" db:"user_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// CardHit is a card annotated for search results.
type CardHit struct {
	Card
	ListTitle       string `json:"listTitle" db:"list_title"`
	BoardID         string `json:"boardId" db:"board_id"`
	BoardName       string `json:"boardName" db:"board_name"`
	CommentCount    int    `json:"commentCount" db:"comment_count"`
	AttachmentCount int    `json:"attachmentCount" db:"attachment_count"`
}
