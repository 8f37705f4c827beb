// Package repository holds the gated operations on projects, sites, memories
// and comments. Every repository is built per request over the request's
// transaction, identity and negotiated language.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/identity"
	"muistot/api/internal/models"
	"muistot/api/internal/status"
)

type base struct {
	db       database.DB
	identity identity.Identity
	lang     string
	images   *Images
	resolver *status.Resolver
}

func newBase(db database.DB, id identity.Identity, lang string, images *Images) base {
	return base{
		db:       db,
		identity: id,
		lang:     lang,
		images:   images,
		resolver: status.NewResolver(db, id),
	}
}

// username is the caller name or nil for anonymous callers, for SQL arguments.
func (b *base) username() *string {
	if !b.identity.IsAuthenticated() {
		return nil
	}
	name := b.identity.Username()
	return &name
}

func (b *base) superuser() bool {
	return b.identity.IsSuperuser()
}

// languageID looks up a supported language. Unknown languages are not acceptable.
func (b *base) languageID(ctx context.Context, lang string) (int64, error) {
	var id int64
	err := b.db.QueryRow(ctx, `SELECT id FROM languages WHERE lang = $1`, lang).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotAcceptable("language %q not available", lang)
	}
	if err != nil {
		return 0, fmt.Errorf("language lookup: %w", err)
	}
	return id, nil
}

// infoLanguage picks the language a localized payload is written in.
func (b *base) infoLanguage(lang string) string {
	if lang != "" {
		return lang
	}
	return b.lang
}

// replaceImage applies a tri-state image change to the image_id column of a row
// in table. The previous image is removed once the row no longer points to it.
func (b *base) replaceImage(ctx context.Context, table string, rowID int64, patch models.Nullable[string]) error {
	if !patch.Set {
		return nil
	}

	var old *int64
	if err := b.db.QueryRow(ctx, `SELECT image_id FROM `+table+` WHERE id = $1`, rowID).Scan(&old); err != nil {
		return fmt.Errorf("read %s image: %w", table, err)
	}

	var next *int64
	if patch.Value != nil {
		id, err := b.images.Save(ctx, b.db, b.username(), *patch.Value)
		if err != nil {
			return err
		}
		next = &id
	}

	if _, err := b.db.Exec(ctx, `UPDATE `+table+` SET image_id = $2, modified_at = NOW() WHERE id = $1`, rowID, next); err != nil {
		return fmt.Errorf("update %s image: %w", table, err)
	}
	if old != nil {
		return b.images.Delete(ctx, b.db, *old)
	}
	return nil
}

// newImage stores an optional base64 image for a row being created.
func (b *base) newImage(ctx context.Context, data *string) (*int64, error) {
	if data == nil {
		return nil, nil
	}
	id, err := b.images.Save(ctx, b.db, b.username(), *data)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// execChanged reports whether the statement touched at least one row.
func execChanged(ctx context.Context, db database.DB, sql string, args ...any) (bool, error) {
	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
