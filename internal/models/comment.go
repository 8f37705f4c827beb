package models

import "time"

type Comment struct {
	ID              int64     `json:"id"`
	User            string    `json:"user"`
	Comment         string    `json:"comment"`
	ModifiedAt      time.Time `json:"modified_at"`
	Own             bool      `json:"own,omitempty"`
	WaitingApproval bool      `json:"waiting_approval,omitempty"`
}

type NewComment struct {
	Comment string `json:"comment" binding:"required,min=1,max=2500"`
}

type CommentPatch struct {
	Comment *string `json:"comment" binding:"omitempty,min=1,max=2500"`
}

// UserComment is a comment listed under its author, with its location.
type UserComment struct {
	Comment
	Project string `json:"project"`
	Site    string `json:"site"`
	Memory  int64  `json:"memory"`
}

func (p CommentPatch) Empty() bool {
	return p.Comment == nil
}
