package handlers

import (
	"github.com/gin-gonic/gin"

	"muistot/api/internal/database"
	"muistot/api/internal/middleware"
	"muistot/api/internal/models"
	"muistot/api/internal/repository"
)

func (h HandlerSet) publishLocation(order models.PublishOrder) string {
	id := order.Identifier
	switch order.Type {
	case "project":
		return h.url("projects", id.Project)
	case "site":
		return h.url("projects", id.Project, "sites", *id.Site)
	case "memory":
		return h.memoryURL(id.Project, *id.Site, *id.Memory)
	default:
		return h.commentURL(id.Project, *id.Site, *id.Memory, *id.Comment)
	}
}

// AdminPublish applies a publish order addressed by its full parent chain.
func (h HandlerSet) AdminPublish(c *gin.Context) {
	var order models.PublishOrder
	if !bindJSON(c, &order) {
		return
	}
	var didChange bool
	ok := h.tx(c, func(db database.DB) (err error) {
		publisher := repository.NewPublisher(db, middleware.IdentityFrom(c), middleware.LanguageFrom(c), h.images)
		didChange, err = publisher.Publish(c.Request.Context(), order)
		return err
	})
	if ok {
		changed(c, didChange, h.publishLocation(order))
	}
}
