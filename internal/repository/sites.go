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

var siteRules = struct {
	one, create, modify, delete, publish, report, localize []gate.Rule
}{
	one: gate.Any(
		gate.Require(status.Published),
		gate.Require(status.Exists|status.Admin),
		gate.Require(status.Exists|status.Own),
	),
	create: gate.Any(
		gate.Require(status.DoesNotExist|status.Authenticated).Without(status.AdminPosting),
		gate.Require(status.DoesNotExist|status.Admin),
	),
	modify: gate.Any(
		gate.Require(status.Exists|status.Admin),
		gate.Require(status.Exists|status.Own),
	),
	delete:  gate.Any(gate.Require(status.Exists | status.Admin)),
	publish: gate.Any(gate.Require(status.Exists | status.Admin)),
	report:  gate.Any(gate.Require(status.Published | status.Authenticated)),
	localize: gate.Any(
		gate.Require(status.Exists|status.Admin),
		gate.Require(status.Exists|status.Own),
	),
}

// $1 requested language, $2 project name, $3 caller username or NULL.
const siteSelect = `
	SELECT s.id, s.name,
	       CASE WHEN si.site_id IS NOT NULL THEN rl.lang ELSE dl.lang END,
	       COALESCE(si.name, di.name, s.name),
	       COALESCE(si.abstract, di.abstract),
	       COALESCE(si.description, di.description),
	       s.lat, s.lon,
	       %s,
	       (SELECT COUNT(*) FROM memories m WHERE m.site_id = s.id AND m.published),
	       cu.username, mu.username,
	       COALESCE(cu.username = $3, FALSE),
	       NOT s.published,
	       di.site_id IS NOT NULL
	FROM sites s
	JOIN projects p ON p.id = s.project_id
	JOIN languages dl ON dl.id = p.default_language_id
	LEFT JOIN languages rl ON rl.lang = $1
	LEFT JOIN site_information si ON si.site_id = s.id AND si.lang_id = rl.id
	LEFT JOIN site_information di ON di.site_id = s.id AND di.lang_id = p.default_language_id
	LEFT JOIN images i ON i.id = s.image_id
	LEFT JOIN users cu ON cu.id = s.creator_id
	LEFT JOIN users mu ON mu.id = s.modifier_id
	WHERE p.name = $2
`

const siteOwnImage = `i.file_name`

// A site without its own image borrows a random image from its published memories.
const siteCoverImage = `COALESCE(i.file_name, (
	SELECT mi.file_name FROM memories m
	JOIN images mi ON mi.id = m.image_id
	WHERE m.site_id = s.id AND m.published
	ORDER BY random() LIMIT 1))`

type Sites struct {
	base
}

func NewSites(db database.DB, id identity.Identity, lang string, images *Images) *Sites {
	return &Sites{base: newBase(db, id, lang, images)}
}

func scanSite(row pgx.Row) (int64, models.Site, error) {
	var (
		id         int64
		s          models.Site
		hasDefault bool
	)
	err := row.Scan(
		&id, &s.ID,
		&s.Info.Lang, &s.Info.Name, &s.Info.Abstract, &s.Info.Description,
		&s.Location.Lat, &s.Location.Lon,
		&s.Image, &s.MemoryCount,
		&s.Creator, &s.Modifier, &s.Own, &s.WaitingApproval, &hasDefault,
	)
	if err != nil {
		return 0, s, err
	}
	if !hasDefault {
		return 0, s, apperr.NotAcceptable("site %s is missing its default language information", s.ID)
	}
	return id, s, nil
}

// All lists the sites of a project visible to the caller. With a complete
// nearest query the list is ordered by distance and truncated.
func (r *Sites) All(ctx context.Context, project string, near models.NearestQuery) ([]models.Site, error) {
	ordered, err := validateNearest(near)
	if err != nil {
		return nil, err
	}
	s, err := r.resolver.Site(ctx, project, nil)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, fmt.Sprintf(siteSelect, siteOwnImage)+`
		AND (s.published OR COALESCE(cu.username = $3, FALSE) OR $4)
		ORDER BY s.id
	`, r.lang, project, r.username(), s.Has(status.Admin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := []models.Site{}
	for rows.Next() {
		_, site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if ordered {
		sites = nearest(sites, near)
	}
	return sites, nil
}

func (r *Sites) One(ctx context.Context, project, site string) (models.Site, error) {
	s, err := r.resolver.Site(ctx, project, &site)
	if err != nil {
		return models.Site{}, err
	}
	if err := gate.Check(s, siteRules.one...); err != nil {
		return models.Site{}, err
	}
	_, out, err := scanSite(r.db.QueryRow(ctx, fmt.Sprintf(siteSelect, siteCoverImage)+`AND s.name = $4`,
		r.lang, project, r.username(), site))
	return out, err
}

func (r *Sites) siteID(ctx context.Context, project, site string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		SELECT s.id FROM sites s JOIN projects p ON p.id = s.project_id
		WHERE p.name = $1 AND s.name = $2
	`, project, site).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("site id: %w", err)
	}
	return id, nil
}

func (r *Sites) upsertInfo(ctx context.Context, siteID int64, info models.SiteInfo) error {
	langID, err := r.languageID(ctx, r.infoLanguage(info.Lang))
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO site_information (site_id, lang_id, name, abstract, description, modifier_id, modified_at)
		VALUES ($1, $2, $3, $4, $5, (SELECT id FROM users WHERE username = $6), NOW())
		ON CONFLICT (site_id, lang_id) DO UPDATE
		SET name = EXCLUDED.name,
		    abstract = EXCLUDED.abstract,
		    description = EXCLUDED.description,
		    modifier_id = EXCLUDED.modifier_id,
		    modified_at = NOW()
	`, siteID, langID, info.Name, info.Abstract, info.Description, r.username())
	if err != nil {
		return fmt.Errorf("upsert site information: %w", err)
	}
	return nil
}

// Create inserts a site. It starts out published when the project auto
// publishes or the caller is an admin.
func (r *Sites) Create(ctx context.Context, project string, in models.NewSite) (string, error) {
	s, err := r.resolver.Site(ctx, project, &in.ID)
	if err != nil {
		return "", err
	}
	if err := gate.Check(s, siteRules.create...); err != nil {
		return "", err
	}

	imageID, err := r.newImage(ctx, in.Image)
	if err != nil {
		return "", err
	}

	published := s.Any(status.AutoPublish | status.Admin)
	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO sites (name, project_id, lat, lon, published, image_id, creator_id, modifier_id)
		SELECT $2, p.id, $3, $4, $5, $6, u.id, u.id
		FROM projects p LEFT JOIN users u ON u.username = $7
		WHERE p.name = $1
		RETURNING id
	`, project, in.ID, in.Location.Lat, in.Location.Lon, published, imageID, r.username()).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert site: %w", err)
	}
	if err := r.upsertInfo(ctx, id, in.Info); err != nil {
		return "", err
	}
	return in.ID, nil
}

func (r *Sites) Modify(ctx context.Context, project, site string, patch models.SitePatch) error {
	s, err := r.resolver.Site(ctx, project, &site)
	if err != nil {
		return err
	}
	if err := gate.Check(s, siteRules.modify...); err != nil {
		return err
	}
	id, err := r.siteID(ctx, project, site)
	if err != nil {
		return err
	}

	if patch.Info != nil {
		if err := r.upsertInfo(ctx, id, *patch.Info); err != nil {
			return err
		}
	}
	if patch.Location != nil {
		_, err := r.db.Exec(ctx, `
			UPDATE sites
			SET lat = $2, lon = $3,
			    modifier_id = (SELECT id FROM users WHERE username = $4),
			    modified_at = NOW()
			WHERE id = $1
		`, id, patch.Location.Lat, patch.Location.Lon, r.username())
		if err != nil {
			return fmt.Errorf("update site location: %w", err)
		}
	}
	return r.replaceImage(ctx, "sites", id, patch.Image)
}

// Delete unpublishes the site. With hard set a superuser removes it and its
// memories.
func (r *Sites) Delete(ctx context.Context, project, site string, hard bool) error {
	s, err := r.resolver.Site(ctx, project, &site)
	if err != nil {
		return err
	}
	if err := gate.Check(s, siteRules.delete...); err != nil {
		return err
	}

	if !hard {
		_, err = r.db.Exec(ctx, `
			UPDATE sites s SET published = FALSE, modified_at = NOW()
			FROM projects p
			WHERE s.project_id = p.id AND p.name = $1 AND s.name = $2
		`, project, site)
		return err
	}
	if !s.Has(status.Superuser) {
		return apperr.Forbidden("hard delete requires superuser")
	}
	_, err = r.db.Exec(ctx, `
		DELETE FROM sites s USING projects p
		WHERE s.project_id = p.id AND p.name = $1 AND s.name = $2
	`, project, site)
	return err
}

func (r *Sites) TogglePublish(ctx context.Context, project, site string, publish bool) (bool, error) {
	s, err := r.resolver.Site(ctx, project, &site)
	if err != nil {
		return false, err
	}
	if err := gate.Check(s, siteRules.publish...); err != nil {
		return false, err
	}
	return execChanged(ctx, r.db, `
		UPDATE sites s SET published = $3, modified_at = NOW()
		FROM projects p
		WHERE s.project_id = p.id AND p.name = $1 AND s.name = $2 AND s.published != $3
	`, project, site, publish)
}

func (r *Sites) Report(ctx context.Context, project, site string) (bool, error) {
	s, err := r.resolver.Site(ctx, project, &site)
	if err != nil {
		return false, err
	}
	if err := gate.Check(s, siteRules.report...); err != nil {
		return false, err
	}
	return execChanged(ctx, r.db, `
		INSERT INTO audit_sites (site_id, user_id)
		SELECT s.id, u.id FROM sites s
		JOIN projects p ON p.id = s.project_id
		JOIN users u ON u.username = $3
		WHERE p.name = $1 AND s.name = $2
		ON CONFLICT DO NOTHING
	`, project, site, r.identity.Username())
}

// Localize adds or overwrites the information row in info.Lang (or the
// request language).
func (r *Sites) Localize(ctx context.Context, project, site string, info models.SiteInfo) error {
	s, err := r.resolver.Site(ctx, project, &site)
	if err != nil {
		return err
	}
	if err := gate.Check(s, siteRules.localize...); err != nil {
		return err
	}
	id, err := r.siteID(ctx, project, site)
	if err != nil {
		return err
	}
	return r.upsertInfo(ctx, id, info)
}
