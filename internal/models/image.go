package models

// Image is a stored blob referenced by projects, sites and memories.
type Image struct {
	ID       int64
	FileName string
	MIME     string
}
