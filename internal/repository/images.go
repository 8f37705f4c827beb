package repository

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/media/sniffer"
	"muistot/api/internal/storage"
)

// Images turns base64 uploads into stored files with an images row.
type Images struct {
	store   storage.Store
	allowed []string
}

func NewImages(store storage.Store, allowedMimes []string) *Images {
	return &Images{store: store, allowed: allowedMimes}
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(data)
	}
	if err != nil || len(raw) == 0 {
		return nil, apperr.Bad("image is not valid base64")
	}
	return raw, nil
}

// Save validates and stores an image and returns the new images row id.
func (i *Images) Save(ctx context.Context, db database.DB, uploader *string, data string) (int64, error) {
	raw, err := decodeImage(data)
	if err != nil {
		return 0, err
	}
	kind, err := sniffer.Allowed(raw, i.allowed)
	if err != nil {
		return 0, apperr.Bad("unsupported image type").WithDetails(map[string]any{"allowed": i.allowed})
	}

	name := uuid.NewString() + kind.Extension
	if err := i.store.Save(ctx, name, bytes.NewReader(raw), int64(len(raw)), kind.MIME); err != nil {
		return 0, fmt.Errorf("store image: %w", err)
	}

	var id int64
	err = db.QueryRow(ctx, `
		INSERT INTO images (file_name, uploader_id)
		VALUES ($1, (SELECT id FROM users WHERE username = $2))
		RETURNING id
	`, name, uploader).Scan(&id)
	if err != nil {
		_ = i.store.Delete(context.WithoutCancel(ctx), name)
		return 0, fmt.Errorf("insert image: %w", err)
	}
	return id, nil
}

// Delete drops the images row and its file.
func (i *Images) Delete(ctx context.Context, db database.DB, id int64) error {
	var name string
	err := db.QueryRow(ctx, `DELETE FROM images WHERE id = $1 RETURNING file_name`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if err := i.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete image file: %w", err)
	}
	return nil
}
