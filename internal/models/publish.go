package models

type PublishIdentifier struct {
	Project string  `json:"project" binding:"required"`
	Site    *string `json:"site"`
	Memory  *int64  `json:"memory"`
	Comment *int64  `json:"comment"`
}

// PublishOrder is a bulk publish request naming a resource by its full parent chain.
type PublishOrder struct {
	Type       string            `json:"type" binding:"required,oneof=project site memory comment"`
	Identifier PublishIdentifier `json:"identifier" binding:"required"`
	Publish    bool              `json:"publish"`
}
