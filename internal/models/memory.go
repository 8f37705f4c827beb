package models

import "time"

type Memory struct {
	ID              int64     `json:"id"`
	User            string    `json:"user"`
	Title           string    `json:"title"`
	Story           *string   `json:"story,omitempty"`
	Image           *string   `json:"image,omitempty"`
	CommentCount    int       `json:"comment_count"`
	ModifiedAt      time.Time `json:"modified_at"`
	Own             bool      `json:"own,omitempty"`
	WaitingApproval bool      `json:"waiting_approval,omitempty"`
}

type NewMemory struct {
	Title string  `json:"title" binding:"required,min=1,max=250"`
	Story *string `json:"story" binding:"omitempty,max=15000"`
	Image *string `json:"image"`
}

type MemoryPatch struct {
	Title *string          `json:"title" binding:"omitempty,min=1,max=250"`
	Story Nullable[string] `json:"story"`
	Image Nullable[string] `json:"image"`
}

// UserMemory is a memory listed under its author, with its location.
type UserMemory struct {
	Memory
	Project string `json:"project"`
	Site    string `json:"site"`
}

func (p MemoryPatch) Empty() bool {
	return p.Title == nil && !p.Story.Set && !p.Image.Set
}
