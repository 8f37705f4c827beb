package repository

import (
	"context"

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/identity"
	"muistot/api/internal/models"
)

// Publisher dispatches a bulk publish order to the repository of its type.
type Publisher struct {
	projects *Projects
	sites    *Sites
	memories *Memories
	comments *Comments
}

func NewPublisher(db database.DB, id identity.Identity, lang string, images *Images) *Publisher {
	return &Publisher{
		projects: NewProjects(db, id, lang, images),
		sites:    NewSites(db, id, lang, images),
		memories: NewMemories(db, id, lang, images),
		comments: NewComments(db, id, lang, images),
	}
}

// validateChain checks that the identifier names exactly the parents its type needs.
func validateChain(order models.PublishOrder) error {
	id := order.Identifier
	has := [3]bool{id.Site != nil, id.Memory != nil, id.Comment != nil}

	var want [3]bool
	switch order.Type {
	case "project":
	case "site":
		want = [3]bool{true, false, false}
	case "memory":
		want = [3]bool{true, true, false}
	case "comment":
		want = [3]bool{true, true, true}
	default:
		return apperr.Bad("unknown publish type %q", order.Type)
	}
	if has != want {
		return apperr.Bad("identifier does not match type %s", order.Type)
	}
	return nil
}

// Publish applies the order and reports whether anything changed.
func (p *Publisher) Publish(ctx context.Context, order models.PublishOrder) (bool, error) {
	if err := validateChain(order); err != nil {
		return false, err
	}
	id := order.Identifier
	switch order.Type {
	case "project":
		return p.projects.TogglePublish(ctx, id.Project, order.Publish)
	case "site":
		return p.sites.TogglePublish(ctx, id.Project, *id.Site, order.Publish)
	case "memory":
		return p.memories.TogglePublish(ctx, id.Project, *id.Site, *id.Memory, order.Publish)
	default:
		return p.comments.TogglePublish(ctx, id.Project, *id.Site, *id.Memory, *id.Comment, order.Publish)
	}
}
