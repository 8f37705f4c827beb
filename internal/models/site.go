package models

type SiteInfo struct {
	Lang        string  `json:"lang"`
	Name        string  `json:"name" binding:"required,min=1,max=250"`
	Abstract    *string `json:"abstract,omitempty"`
	Description *string `json:"description,omitempty"`
}

type Location struct {
	Lat float64 `json:"lat" binding:"min=-90,max=90"`
	Lon float64 `json:"lon" binding:"min=-180,max=180"`
}

type Site struct {
	ID              string   `json:"id"`
	Info            SiteInfo `json:"info"`
	Location        Location `json:"location"`
	Image           *string  `json:"image,omitempty"`
	MemoryCount     int      `json:"memory_count"`
	Creator         *string  `json:"creator,omitempty"`
	Modifier        *string  `json:"modifier,omitempty"`
	Own             bool     `json:"own,omitempty"`
	WaitingApproval bool     `json:"waiting_approval,omitempty"`
}

type NewSite struct {
	ID       string   `json:"id" binding:"required,min=4,max=250,excludesall=/?#"`
	Info     SiteInfo `json:"info" binding:"required"`
	Location Location `json:"location" binding:"required"`
	Image    *string  `json:"image"`
}

type SitePatch struct {
	Info     *SiteInfo        `json:"info"`
	Location *Location        `json:"location"`
	Image    Nullable[string] `json:"image"`
}

// NearestQuery orders a site listing by distance when all three are set.
type NearestQuery struct {
	N   *int
	Lat *float64
	Lon *float64
}

func (p SitePatch) Empty() bool {
	return p.Info == nil && p.Location == nil && !p.Image.Set
}
