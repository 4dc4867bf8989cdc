package store

import (
	"time"

	"mindmap/api/internal/mindmap"
)

type User struct {
	ID        string    `json:"id"`
	GoogleID  string    `json:"-"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
}

// GoogleProfile is what a Google sign-in tells us about a user.
type GoogleProfile struct {
	GoogleID string
	Email    string
	Name     string
	Image    string
}

type MindMap struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Slug       string       `json:"slug"`
	Content    mindmap.Node `json:"content"`
	OwnerID    string       `json:"ownerId"`
	IsPublic   bool         `json:"isPublic"`
	IsEditable bool         `json:"isEditable"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// MapSummary is a list entry without content.
type MapSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsPublic  bool      `json:"isPublic"`
}

// MapUpdate holds the fields to change; nil fields are left alone.
type MapUpdate struct {
	Title      *string
	Slug       *string
	Content    *mindmap.Node
	IsPublic   *bool
	IsEditable *bool
}

// CommentAuthor is the public part of the user who wrote a comment.
type CommentAuthor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

type Comment struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	NodeID    string        `json:"nodeId"`
	MapID     string        `json:"mindMapId"`
	UserID    string        `json:"userId"`
	User      CommentAuthor `json:"user"`
	CreatedAt time.Time     `json:"createdAt"`
}
