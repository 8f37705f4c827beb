package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/gate"
	"muistot/api/internal/identity"
	"muistot/api/internal/models"
	"muistot/api/internal/status"
)

var memoryRules = struct {
	one, create, modify, delete, publish, report []gate.Rule
}{
	one: gate.Any(
		gate.Require(status.Published),
		gate.Require(status.Exists|status.Admin),
		gate.Require(status.Exists|status.Own),
	),
	create: gate.Any(
		gate.Require(status.Authenticated).Without(status.AdminPosting),
		gate.Require(status.Admin),
	),
	modify: gate.Any(
		gate.Require(status.Exists|status.Admin),
		gate.Require(status.Exists|status.Own),
	),
	delete: gate.Any(
		gate.Require(status.Exists|status.Admin),
		gate.Require(status.Exists|status.Own),
	),
	publish: gate.Any(gate.Require(status.Exists | status.Admin)),
	report:  gate.Any(gate.Require(status.Published | status.Authenticated)),
}

// $1 caller username or NULL.
const memorySelect = `
	SELECT m.id, u.username, m.title, m.story, i.file_name,
	       (SELECT COUNT(*) FROM comments c WHERE c.memory_id = m.id AND c.published),
	       m.modified_at,
	       COALESCE(u.username = $1, FALSE),
	       NOT m.published,
	       p.name, s.name
	FROM memories m
	JOIN sites s ON s.id = m.site_id
	JOIN projects p ON p.id = s.project_id
	LEFT JOIN users u ON u.id = m.user_id
	LEFT JOIN images i ON i.id = m.image_id
`

type Memories struct {
	base
}

func NewMemories(db database.DB, id identity.Identity, lang string, images *Images) *Memories {
	return &Memories{base: newBase(db, id, lang, images)}
}

func scanMemory(row pgx.Row) (models.UserMemory, error) {
	var m models.UserMemory
	err := row.Scan(
		&m.ID, &m.User, &m.Title, &m.Story, &m.Image,
		&m.CommentCount, &m.ModifiedAt, &m.Own, &m.WaitingApproval,
		&m.Project, &m.Site,
	)
	return m, err
}

func (r *Memories) All(ctx context.Context, project, site string) ([]models.Memory, error) {
	s, err := r.resolver.Memory(ctx, project, site, nil)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, memorySelect+`
		WHERE p.name = $2 AND s.name = $3
		  AND (m.published OR COALESCE(u.username = $1, FALSE) OR $4)
		ORDER BY m.id
	`, r.username(), project, site, s.Has(status.Admin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memories := []models.Memory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m.Memory)
	}
	return memories, rows.Err()
}

func (r *Memories) One(ctx context.Context, project, site string, memory int64) (models.Memory, error) {
	s, err := r.resolver.Memory(ctx, project, site, &memory)
	if err != nil {
		return models.Memory{}, err
	}
	if err := gate.Check(s, memoryRules.one...); err != nil {
		return models.Memory{}, err
	}
	m, err := scanMemory(r.db.QueryRow(ctx, memorySelect+`WHERE m.id = $2`, r.username(), memory))
	return m.Memory, err
}

// ByUser lists every memory of the caller across projects.
func (r *Memories) ByUser(ctx context.Context) ([]models.UserMemory, error) {
	rows, err := r.db.Query(ctx, memorySelect+`
		WHERE u.username = $1
		ORDER BY m.modified_at DESC
	`, r.identity.Username())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.UserMemory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Memories) Create(ctx context.Context, project, site string, in models.NewMemory) (int64, error) {
	s, err := r.resolver.Memory(ctx, project, site, nil)
	if err != nil {
		return 0, err
	}
	if err := gate.Check(s, memoryRules.create...); err != nil {
		return 0, err
	}

	imageID, err := r.newImage(ctx, in.Image)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO memories (site_id, user_id, title, story, image_id, published)
		SELECT s.id, u.id, $3, $4, $5, $6
		FROM sites s
		JOIN projects p ON p.id = s.project_id
		JOIN users u ON u.username = $7
		WHERE p.name = $1 AND s.name = $2
		RETURNING id
	`, project, site, in.Title, in.Story, imageID,
		s.Any(status.AutoPublish|status.Admin), r.identity.Username()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

func (r *Memories) Modify(ctx context.Context, project, site string, memory int64, patch models.MemoryPatch) error {
	s, err := r.resolver.Memory(ctx, project, site, &memory)
	if err != nil {
		return err
	}
	if err := gate.Check(s, memoryRules.modify...); err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		UPDATE memories
		SET title = COALESCE($2, title),
		    story = CASE WHEN $3 THEN $4 ELSE story END,
		    modified_at = NOW()
		WHERE id = $1
	`, memory, patch.Title, patch.Story.Set, patch.Story.Value)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return r.replaceImage(ctx, "memories", memory, patch.Image)
}

// Delete unpublishes the memory. With hard set a superuser removes it, its
// comments and its image.
func (r *Memories) Delete(ctx context.Context, project, site string, memory int64, hard bool) error {
	s, err := r.resolver.Memory(ctx, project, site, &memory)
	if err != nil {
		return err
	}
	if err := gate.Check(s, memoryRules.delete...); err != nil {
		return err
	}

	if !hard {
		_, err = r.db.Exec(ctx, `UPDATE memories SET published = FALSE, modified_at = NOW() WHERE id = $1`, memory)
		return err
	}
	if !s.Has(status.Superuser) {
		return apperr.Forbidden("hard delete requires superuser")
	}
	var imageID *int64
	if err := r.db.QueryRow(ctx, `DELETE FROM memories WHERE id = $1 RETURNING image_id`, memory).Scan(&imageID); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if imageID != nil {
		return r.images.Delete(ctx, r.db, *imageID)
	}
	return nil
}

func (r *Memories) TogglePublish(ctx context.Context, project, site string, memory int64, publish bool) (bool, error) {
	s, err := r.resolver.Memory(ctx, project, site, &memory)
	if err != nil {
		return false, err
	}
	if err := gate.Check(s, memoryRules.publish...); err != nil {
		return false, err
	}
	return execChanged(ctx, r.db, `
		UPDATE memories SET published = $2, modified_at = NOW()
		WHERE id = $1 AND published != $2
	`, memory, publish)
}

func (r *Memories) Report(ctx context.Context, project, site string, memory int64) (bool, error) {
	s, err := r.resolver.Memory(ctx, project, site, &memory)
	if err != nil {
		return false, err
	}
	if err := gate.Check(s, memoryRules.report...); err != nil {
		return false, err
	}
	return execChanged(ctx, r.db, `
		INSERT INTO audit_memories (memory_id, user_id)
		SELECT $1, u.id FROM users u WHERE u.username = $2
		ON CONFLICT DO NOTHING
	`, memory, r.identity.Username())
}
