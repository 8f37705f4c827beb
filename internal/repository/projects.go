package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/gate"
	"muistot/api/internal/identity"
	"muistot/api/internal/models"
	"muistot/api/internal/status"
)

var projectRules = struct {
	one, create, modify, delete, publish, report, admins, localize []gate.Rule
}{
	one: gate.Any(
		gate.Require(status.Published),
		gate.Require(status.Exists|status.Admin),
	),
	create:   gate.Any(gate.Require(status.DoesNotExist | status.Superuser)),
	modify:   gate.Any(gate.Require(status.Exists | status.Admin)),
	delete:   gate.Any(gate.Require(status.Exists | status.Admin)),
	publish:  gate.Any(gate.Require(status.Exists | status.Admin)),
	report:   gate.Any(gate.Require(status.Published | status.Authenticated)),
	admins:   gate.Any(gate.Require(status.Exists | status.Admin)),
	localize: gate.Any(gate.Require(status.Exists | status.Admin)),
}

// Columns shared by the project list and detail. $1 is the requested language.
const projectSelect = `
	SELECT p.id, p.name,
	       CASE WHEN pi.project_id IS NOT NULL THEN rl.lang ELSE dl.lang END,
	       COALESCE(pi.name, di.name, p.name),
	       COALESCE(pi.abstract, di.abstract),
	       COALESCE(pi.description, di.description),
	       i.file_name, p.starts, p.ends, p.admin_posting, p.auto_publish,
	       NOT p.published,
	       (SELECT COUNT(*) FROM sites s WHERE s.project_id = p.id AND s.published),
	       di.project_id IS NOT NULL,
	       pc.project_id IS NOT NULL, pc.contact_email,
	       COALESCE(pc.has_research_permit, FALSE), COALESCE(pc.can_contact, FALSE)
	FROM projects p
	JOIN languages dl ON dl.id = p.default_language_id
	LEFT JOIN languages rl ON rl.lang = $1
	LEFT JOIN project_information pi ON pi.project_id = p.id AND pi.lang_id = rl.id
	LEFT JOIN project_information di ON di.project_id = p.id AND di.lang_id = p.default_language_id
	LEFT JOIN project_contact pc ON pc.project_id = p.id
	LEFT JOIN images i ON i.id = p.image_id
`

type Projects struct {
	base
}

func NewProjects(db database.DB, id identity.Identity, lang string, images *Images) *Projects {
	return &Projects{base: newBase(db, id, lang, images)}
}

func scanProject(row pgx.Row) (int64, models.Project, error) {
	var (
		id         int64
		p          models.Project
		hasDefault bool
		hasContact bool
		contact    models.ProjectContact
	)
	err := row.Scan(
		&id, &p.ID,
		&p.Info.Lang, &p.Info.Name, &p.Info.Abstract, &p.Info.Description,
		&p.Image, &p.Starts, &p.Ends, &p.AdminPosting, &p.AutoPublish,
		&p.WaitingApproval, &p.SiteCount, &hasDefault,
		&hasContact, &contact.ContactEmail, &contact.HasResearchPermit, &contact.CanContact,
	)
	if err != nil {
		return 0, p, err
	}
	if !hasDefault {
		return 0, p, apperr.NotAcceptable("project %s is missing its default language information", p.ID)
	}
	if hasContact {
		p.Contact = &contact
	}
	return id, p, nil
}

// All lists published projects that are running now. Project admins and
// superusers also see their unpublished projects.
func (r *Projects) All(ctx context.Context) ([]models.Project, error) {
	rows, err := r.db.Query(ctx, projectSelect+`
		WHERE (p.published
		       AND (p.starts IS NULL OR p.starts <= NOW())
		       AND (p.ends IS NULL OR p.ends > NOW()))
		   OR $2
		   OR EXISTS (
		       SELECT 1 FROM project_admins pa
		       JOIN users u ON u.id = pa.user_id
		       WHERE pa.project_id = p.id AND u.username = $3)
		ORDER BY p.id
	`, r.lang, r.superuser(), r.username())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		_, p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *Projects) One(ctx context.Context, project string) (models.Project, error) {
	s, err := r.resolver.Project(ctx, project)
	if err != nil {
		return models.Project{}, err
	}
	if err := gate.Check(s, projectRules.one...); err != nil {
		return models.Project{}, err
	}

	id, p, err := scanProject(r.db.QueryRow(ctx, projectSelect+`WHERE p.name = $2`, r.lang, project))
	if err != nil {
		return models.Project{}, err
	}
	if s.Has(status.Admin) {
		if p.Admins, err = r.admins(ctx, id); err != nil {
			return models.Project{}, err
		}
	}
	return p, nil
}

func (r *Projects) admins(ctx context.Context, projectID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT u.username FROM project_admins pa
		JOIN users u ON u.id = pa.user_id
		WHERE pa.project_id = $1
		ORDER BY u.username
	`, projectID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Create inserts a project with the info language as its default language.
func (r *Projects) Create(ctx context.Context, in models.NewProject) (string, error) {
	s, err := r.resolver.Project(ctx, in.ID)
	if err != nil {
		return "", err
	}
	if err := gate.Check(s, projectRules.create...); err != nil {
		return "", err
	}

	lang := r.infoLanguage(in.Info.Lang)
	langID, err := r.languageID(ctx, lang)
	if err != nil {
		return "", err
	}
	imageID, err := r.newImage(ctx, in.Image)
	if err != nil {
		return "", err
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO projects (name, published, admin_posting, auto_publish, default_language_id,
		                      starts, ends, image_id, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, (SELECT id FROM users WHERE username = $9))
		RETURNING id
	`, in.ID, in.Published, in.AdminPosting, in.AutoPublish, langID,
		in.Starts, in.Ends, imageID, r.username()).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert project: %w", err)
	}

	if err := r.upsertInfo(ctx, id, langID, in.Info); err != nil {
		return "", err
	}
	if in.Contact != nil {
		if err := r.upsertContact(ctx, id, *in.Contact); err != nil {
			return "", err
		}
	}
	for _, admin := range in.Admins {
		if err := r.insertAdmin(ctx, id, admin); err != nil {
			return "", err
		}
	}
	return in.ID, nil
}

func (r *Projects) projectID(ctx context.Context, project string) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, `SELECT id FROM projects WHERE name = $1`, project).Scan(&id); err != nil {
		return 0, fmt.Errorf("project id: %w", err)
	}
	return id, nil
}

func (r *Projects) upsertInfo(ctx context.Context, projectID, langID int64, info models.ProjectInfo) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO project_information (project_id, lang_id, name, abstract, description, modifier_id, modified_at)
		VALUES ($1, $2, $3, $4, $5, (SELECT id FROM users WHERE username = $6), NOW())
		ON CONFLICT (project_id, lang_id) DO UPDATE
		SET name = EXCLUDED.name,
		    abstract = EXCLUDED.abstract,
		    description = EXCLUDED.description,
		    modifier_id = EXCLUDED.modifier_id,
		    modified_at = NOW()
	`, projectID, langID, info.Name, info.Abstract, info.Description, r.username())
	if err != nil {
		return fmt.Errorf("upsert project information: %w", err)
	}
	return nil
}

func (r *Projects) upsertContact(ctx context.Context, projectID int64, c models.ProjectContact) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO project_contact (project_id, contact_email, has_research_permit, can_contact)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id) DO UPDATE
		SET contact_email = EXCLUDED.contact_email,
		    has_research_permit = EXCLUDED.has_research_permit,
		    can_contact = EXCLUDED.can_contact
	`, projectID, c.ContactEmail, c.HasResearchPermit, c.CanContact)
	if err != nil {
		return fmt.Errorf("upsert project contact: %w", err)
	}
	return nil
}

func (r *Projects) Modify(ctx context.Context, project string, patch models.ProjectPatch) error {
	s, err := r.resolver.Project(ctx, project)
	if err != nil {
		return err
	}
	if err := gate.Check(s, projectRules.modify...); err != nil {
		return err
	}
	id, err := r.projectID(ctx, project)
	if err != nil {
		return err
	}

	if patch.Info != nil {
		langID, err := r.languageID(ctx, r.infoLanguage(patch.Info.Lang))
		if err != nil {
			return err
		}
		if err := r.upsertInfo(ctx, id, langID, *patch.Info); err != nil {
			return err
		}
	}

	_, err = r.db.Exec(ctx, `
		UPDATE projects
		SET admin_posting = COALESCE($2, admin_posting),
		    auto_publish = COALESCE($3, auto_publish),
		    starts = CASE WHEN $4 THEN $5 ELSE starts END,
		    ends = CASE WHEN $6 THEN $7 ELSE ends END,
		    modified_at = NOW()
		WHERE id = $1
	`, id, patch.AdminPosting, patch.AutoPublish,
		patch.Starts.Set, patch.Starts.Value, patch.Ends.Set, patch.Ends.Value)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}

	if patch.Contact != nil {
		if err := r.upsertContact(ctx, id, *patch.Contact); err != nil {
			return err
		}
	}
	return r.replaceImage(ctx, "projects", id, patch.Image)
}

// Delete unpublishes the project. With hard set a superuser removes it and
// everything below it.
func (r *Projects) Delete(ctx context.Context, project string, hard bool) error {
	s, err := r.resolver.Project(ctx, project)
	if err != nil {
		return err
	}
	if err := gate.Check(s, projectRules.delete...); err != nil {
		return err
	}

	if !hard {
		_, err = r.db.Exec(ctx, `UPDATE projects SET published = FALSE, modified_at = NOW() WHERE name = $1`, project)
		return err
	}
	if !s.Has(status.Superuser) {
		return apperr.Forbidden("hard delete requires superuser")
	}
	_, err = r.db.Exec(ctx, `DELETE FROM projects WHERE name = $1`, project)
	return err
}

// TogglePublish reports whether the published flag changed.
func (r *Projects) TogglePublish(ctx context.Context, project string, publish bool) (bool, error) {
	s, err := r.resolver.Project(ctx, project)
	if err != nil {
		return false, err
	}
	if err := gate.Check(s, projectRules.publish...); err != nil {
		return false, err
	}
	return execChanged(ctx, r.db, `
		UPDATE projects SET published = $2, modified_at = NOW()
		WHERE name = $1 AND published != $2
	`, project, publish)
}

// Report records the caller's report once and reports whether it was new.
func (r *Projects) Report(ctx context.Context, project string) (bool, error) {
	s, err := r.resolver.Project(ctx, project)
	if err != nil {
		return false, err
	}
	if err := gate.Check(s, projectRules.report...); err != nil {
		return false, err
	}
	return execChanged(ctx, r.db, `
		INSERT INTO audit_projects (project_id, user_id)
		SELECT p.id, u.id FROM projects p, users u
		WHERE p.name = $1 AND u.username = $2
		ON CONFLICT DO NOTHING
	`, project, r.identity.Username())
}

func (r *Projects) insertAdmin(ctx context.Context, projectID int64, username string) error {
	var userID int64
	err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE username = $1`, username).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("user %s not found", username)
	}
	if err != nil {
		return fmt.Errorf("admin lookup: %w", err)
	}

	inserted, err := execChanged(ctx, r.db, `
		INSERT INTO project_admins (project_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	if !inserted {
		return apperr.Conflict("user %s is already an admin", username)
	}
	return nil
}

func (r *Projects) AddAdmin(ctx context.Context, project, username string) error {
	s, err := r.resolver.Project(ctx, project)
	if err != nil {
		return err
	}
	if err := gate.Check(s, projectRules.admins...); err != nil {
		return err
	}
	id, err := r.projectID(ctx, project)
	if err != nil {
		return err
	}
	return r.insertAdmin(ctx, id, username)
}

func (r *Projects) RemoveAdmin(ctx context.Context, project, username string) error {
	s, err := r.resolver.Project(ctx, project)
	if err != nil {
		return err
	}
	if err := gate.Check(s, projectRules.admins...); err != nil {
		return err
	}
	removed, err := execChanged(ctx, r.db, `
		DELETE FROM project_admins pa
		USING projects p, users u
		WHERE pa.project_id = p.id AND pa.user_id = u.id
		  AND p.name = $1 AND u.username = $2
	`, project, username)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("user %s is not an admin", username)
	}
	return nil
}

// Localize adds or overwrites the information row in info.Lang (or the
// request language).
func (r *Projects) Localize(ctx context.Context, project string, info models.ProjectInfo) error {
	s, err := r.resolver.Project(ctx, project)
	if err != nil {
		return err
	}
	if err := gate.Check(s, projectRules.localize...); err != nil {
		return err
	}
	id, err := r.projectID(ctx, project)
	if err != nil {
		return err
	}
	langID, err := r.languageID(ctx, r.infoLanguage(info.Lang))
	if err != nil {
		return err
	}
	return r.upsertInfo(ctx, id, langID, info)
}
