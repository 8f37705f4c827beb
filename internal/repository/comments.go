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

var commentRules = struct {
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
const commentSelect = `
	SELECT c.id, u.username, c.comment, c.modified_at,
	       COALESCE(u.username = $1, FALSE),
	       NOT c.published,
	       p.name, s.name, m.id
	FROM comments c
	JOIN memories m ON m.id = c.memory_id
	JOIN sites s ON s.id = m.site_id
	JOIN projects p ON p.id = s.project_id
	LEFT JOIN users u ON u.id = c.user_id
`

type Comments struct {
	base
}

func NewComments(db database.DB, id identity.Identity, lang string, images *Images) *Comments {
	return &Comments{base: newBase(db, id, lang, images)}
}

func scanComment(row pgx.Row) (models.UserComment, error) {
	var c models.UserComment
	err := row.Scan(
		&c.ID, &c.User, &c.Comment.Comment, &c.ModifiedAt, &c.Own, &c.WaitingApproval,
		&c.Project, &c.Site, &c.Memory,
	)
	return c, err
}

func (r *Comments) All(ctx context.Context, project, site string, memory int64) ([]models.Comment, error) {
	s, err := r.resolver.Comment(ctx, project, site, memory, nil)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, commentSelect+`
		WHERE m.id = $2
		  AND (c.published OR COALESCE(u.username = $1, FALSE) OR $3)
		ORDER BY c.id
	`, r.username(), memory, s.Has(status.Admin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c.Comment)
	}
	return comments, rows.Err()
}

func (r *Comments) One(ctx context.Context, project, site string, memory, comment int64) (models.Comment, error) {
	s, err := r.resolver.Comment(ctx, project, site, memory, &comment)
	if err != nil {
		return models.Comment{}, err
	}
	if err := gate.Check(s, commentRules.one...); err != nil {
		return models.Comment{}, err
	}
	c, err := scanComment(r.db.QueryRow(ctx, commentSelect+`WHERE c.id = $2`, r.username(), comment))
	return c.Comment, err
}

// ByUser lists every comment of the caller across projects.
func (r *Comments) ByUser(ctx context.Context) ([]models.UserComment, error) {
	rows, err := r.db.Query(ctx, commentSelect+`
		WHERE u.username = $1
		ORDER BY c.modified_at DESC
	`, r.identity.Username())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.UserComment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Comments) Create(ctx context.Context, project, site string, memory int64, in models.NewComment) (int64, error) {
	s, err := r.resolver.Comment(ctx, project, site, memory, nil)
	if err != nil {
		return 0, err
	}
	if err := gate.Check(s, commentRules.create...); err != nil {
		return 0, err
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO comments (memory_id, user_id, comment, published)
		SELECT $1, u.id, $2, $3 FROM users u WHERE u.username = $4
		RETURNING id
	`, memory, in.Comment, s.Any(status.AutoPublish|status.Admin), r.identity.Username()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert comment: %w", err)
	}
	return id, nil
}

func (r *Comments) Modify(ctx context.Context, project, site string, memory, comment int64, patch models.CommentPatch) error {
	s, err := r.resolver.Comment(ctx, project, site, memory, &comment)
	if err != nil {
		return err
	}
	if err := gate.Check(s, commentRules.modify...); err != nil {
		return err
	}
	if patch.Comment == nil {
		return nil
	}
	_, err = r.db.Exec(ctx, `
		UPDATE comments SET comment = $2, modified_at = NOW() WHERE id = $1
	`, comment, *patch.Comment)
	return err
}

// Delete unpublishes the comment. With hard set a superuser removes it.
func (r *Comments) Delete(ctx context.Context, project, site string, memory, comment int64, hard bool) error {
	s, err := r.resolver.Comment(ctx, project, site, memory, &comment)
	if err != nil {
		return err
	}
	if err := gate.Check(s, commentRules.delete...); err != nil {
		return err
	}

	if !hard {
		_, err = r.db.Exec(ctx, `UPDATE comments SET published = FALSE, modified_at = NOW() WHERE id = $1`, comment)
		return err
	}
	if !s.Has(status.Superuser) {
		return apperr.Forbidden("hard delete requires superuser")
	}
	_, err = r.db.Exec(ctx, `DELETE FROM comments WHERE id = $1`, comment)
	return err
}

func (r *Comments) TogglePublish(ctx context.Context, project, site string, memory, comment int64, publish bool) (bool, error) {
	s, err := r.resolver.Comment(ctx, project, site, memory, &comment)
	if err != nil {
		return false, err
	}
	if err := gate.Check(s, commentRules.publish...); err != nil {
		return false, err
	}
	return execChanged(ctx, r.db, `
		UPDATE comments SET published = $2, modified_at = NOW()
		WHERE id = $1 AND published != $2
	`, comment, publish)
}

func (r *Comments) Report(ctx context.Context, project, site string, memory, comment int64) (bool, error) {
	s, err := r.resolver.Comment(ctx, project, site, memory, &comment)
	if err != nil {
		return false, err
	}
	if err := gate.Check(s, commentRules.report...); err != nil {
		return false, err
	}
	return execChanged(ctx, r.db, `
		INSERT INTO audit_comments (comment_id, user_id)
		SELECT $1, u.id FROM users u WHERE u.username = $2
		ON CONFLICT DO NOTHING
	`, comment, r.identity.Username())
}
