package models

import "time"

type ProjectInfo struct {
	Lang        string  `json:"lang"`
	Name        string  `json:"name" binding:"required,min=1,max=250"`
	Abstract    *string `json:"abstract,omitempty"`
	Description *string `json:"description,omitempty"`
}

type ProjectContact struct {
	ContactEmail      *string `json:"contact_email,omitempty" binding:"omitempty,email"`
	HasResearchPermit bool    `json:"has_research_permit"`
	CanContact        bool    `json:"can_contact"`
}

type Project struct {
	ID              string          `json:"id"`
	Info            ProjectInfo     `json:"info"`
	Image           *string         `json:"image,omitempty"`
	Starts          *time.Time      `json:"starts,omitempty"`
	Ends            *time.Time      `json:"ends,omitempty"`
	AdminPosting    bool            `json:"admin_posting"`
	AutoPublish     bool            `json:"auto_publish"`
	SiteCount       int             `json:"site_count"`
	WaitingApproval bool            `json:"waiting_approval,omitempty"`
	Contact         *ProjectContact `json:"contact,omitempty"`
	Admins          []string        `json:"admins,omitempty"`
}

type NewProject struct {
	ID           string          `json:"id" binding:"required,min=4,max=250,excludesall=/?#"`
	Info         ProjectInfo     `json:"info" binding:"required"`
	Image        *string         `json:"image"`
	Starts       *time.Time      `json:"starts"`
	Ends         *time.Time      `json:"ends"`
	AdminPosting bool            `json:"admin_posting"`
	AutoPublish  bool            `json:"auto_publish"`
	Published    bool            `json:"published"`
	Contact      *ProjectContact `json:"contact"`
	Admins       []string        `json:"admins"`
}

type ProjectPatch struct {
	Info         *ProjectInfo        `json:"info"`
	Image        Nullable[string]    `json:"image"`
	Starts       Nullable[time.Time] `json:"starts"`
	Ends         Nullable[time.Time] `json:"ends"`
	AdminPosting *bool               `json:"admin_posting"`
	AutoPublish  *bool               `json:"auto_publish"`
	Contact      *ProjectContact     `json:"contact"`
}

func (p ProjectPatch) Empty() bool {
	return p.Info == nil && !p.Image.Set && !p.Starts.Set && !p.Ends.Set &&
		p.AdminPosting == nil && p.AutoPublish == nil && p.Contact == nil
}
