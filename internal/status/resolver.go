package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/identity"
)

// Every probe selects, in order:
//   project published, admin_posting, auto_publish, default language,
//   (exists, published) for each intermediate parent,
//   (exists, published) for the resource,
//   is_creator, is_admin.
// A missing project yields no row.

const projectProbeAuthenticated = `
	SELECT p.published, p.admin_posting, p.auto_publish, l.lang,
	       TRUE, p.published,
	       COALESCE(p.creator_id = u.id, FALSE) AS is_creator,
	       pa.user_id IS NOT NULL AS is_admin
	FROM projects p
	JOIN languages l ON l.id = p.default_language_id
	LEFT JOIN users u ON u.username = $2
	LEFT JOIN project_admins pa ON pa.project_id = p.id AND pa.user_id = u.id
	WHERE p.name = $1
`

const projectProbeAnonymous = `
	SELECT p.published, p.admin_posting, p.auto_publish, l.lang,
	       TRUE, p.published,
	       FALSE AS is_creator,
	       FALSE AS is_admin
	FROM projects p
	JOIN languages l ON l.id = p.default_language_id
	WHERE p.name = $1
`

const siteProbeAuthenticated = `
	SELECT p.published, p.admin_posting, p.auto_publish, l.lang,
	       s.id IS NOT NULL, COALESCE(s.published, FALSE),
	       COALESCE(s.creator_id = u.id, FALSE) AS is_creator,
	       pa.user_id IS NOT NULL AS is_admin
	FROM projects p
	JOIN languages l ON l.id = p.default_language_id
	LEFT JOIN sites s ON s.project_id = p.id AND s.name = $2
	LEFT JOIN users u ON u.username = $3
	LEFT JOIN project_admins pa ON pa.project_id = p.id AND pa.user_id = u.id
	WHERE p.name = $1
`

const siteProbeAnonymous = `
	SELECT p.published, p.admin_posting, p.auto_publish, l.lang,
	       s.id IS NOT NULL, COALESCE(s.published, FALSE),
	       FALSE AS is_creator,
	       FALSE AS is_admin
	FROM projects p
	JOIN languages l ON l.id = p.default_language_id
	LEFT JOIN sites s ON s.project_id = p.id AND s.name = $2
	WHERE p.name = $1
`

const memoryProbeAuthenticated = `
	SELECT p.published, p.admin_posting, p.auto_publish, l.lang,
	       s.id IS NOT NULL, COALESCE(s.published, FALSE),
	       m.id IS NOT NULL, COALESCE(m.published, FALSE),
	       COALESCE(m.user_id = u.id, FALSE) AS is_creator,
	       pa.user_id IS NOT NULL AS is_admin
	FROM projects p
	JOIN languages l ON l.id = p.default_language_id
	LEFT JOIN sites s ON s.project_id = p.id AND s.name = $2
	LEFT JOIN memories m ON m.site_id = s.id AND m.id = $3
	LEFT JOIN users u ON u.username = $4
	LEFT JOIN project_admins pa ON pa.project_id = p.id AND pa.user_id = u.id
	WHERE p.name = $1
`

const memoryProbeAnonymous = `
	SELECT p.published, p.admin_posting, p.auto_publish, l.lang,
	       s.id IS NOT NULL, COALESCE(s.published, FALSE),
	       m.id IS NOT NULL, COALESCE(m.published, FALSE),
	       FALSE AS is_creator,
	       FALSE AS is_admin
	FROM projects p
	JOIN languages l ON l.id = p.default_language_id
	LEFT JOIN sites s ON s.project_id = p.id AND s.name = $2
	LEFT JOIN memories m ON m.site_id = s.id AND m.id = $3
	WHERE p.name = $1
`

const commentProbeAuthenticated = `
	SELECT p.published, p.admin_posting, p.auto_publish, l.lang,
	       s.id IS NOT NULL, COALESCE(s.published, FALSE),
	       m.id IS NOT NULL, COALESCE(m.published, FALSE),
	       c.id IS NOT NULL, COALESCE(c.published, FALSE),
	       COALESCE(c.user_id = u.id, FALSE) AS is_creator,
	       pa.user_id IS NOT NULL AS is_admin
	FROM projects p
	JOIN languages l ON l.id = p.default_language_id
	LEFT JOIN sites s ON s.project_id = p.id AND s.name = $2
	LEFT JOIN memories m ON m.site_id = s.id AND m.id = $3
	LEFT JOIN comments c ON c.memory_id = m.id AND c.id = $4
	LEFT JOIN users u ON u.username = $5
	LEFT JOIN project_admins pa ON pa.project_id = p.id AND pa.user_id = u.id
	WHERE p.name = $1
`

const commentProbeAnonymous = `
	SELECT p.published, p.admin_posting, p.auto_publish, l.lang,
	       s.id IS NOT NULL, COALESCE(s.published, FALSE),
	       m.id IS NOT NULL, COALESCE(m.published, FALSE),
	       c.id IS NOT NULL, COALESCE(c.published, FALSE),
	       FALSE AS is_creator,
	       FALSE AS is_admin
	FROM projects p
	JOIN languages l ON l.id = p.default_language_id
	LEFT JOIN sites s ON s.project_id = p.id AND s.name = $2
	LEFT JOIN memories m ON m.site_id = s.id AND m.id = $3
	LEFT JOIN comments c ON c.memory_id = m.id AND c.id = $4
	WHERE p.name = $1
`

type level struct {
	project bool
	// names of the intermediate parents below the project, outermost first
	parents       []string
	authenticated string
	anonymous     string
}

var (
	projectLevel = level{project: true, authenticated: projectProbeAuthenticated, anonymous: projectProbeAnonymous}
	siteLevel    = level{authenticated: siteProbeAuthenticated, anonymous: siteProbeAnonymous}
	memoryLevel  = level{
		parents:       []string{"site"},
		authenticated: memoryProbeAuthenticated,
		anonymous:     memoryProbeAnonymous,
	}
	commentLevel = level{
		parents:       []string{"site", "memory"},
		authenticated: commentProbeAuthenticated,
		anonymous:     commentProbeAnonymous,
	}
)

// Resolver derives a Status for the caller with one query per call.
type Resolver struct {
	db              database.DB
	identity        identity.Identity
	defaultLanguage string
}

func NewResolver(db database.DB, id identity.Identity) *Resolver {
	return &Resolver{db: db, identity: id}
}

// DefaultLanguage is the default language of the project seen by the last probe.
func (r *Resolver) DefaultLanguage() string {
	return r.defaultLanguage
}

// Base is the status every request starts from, before any probe.
func (r *Resolver) Base() Status {
	if !r.identity.IsAuthenticated() {
		return Anonymous
	}
	s := Authenticated
	if r.identity.IsSuperuser() {
		s |= Superuser | Admin
	}
	return s
}

// Project resolves the project itself as the resource.
func (r *Resolver) Project(ctx context.Context, project string) (Status, error) {
	return r.resolve(ctx, projectLevel, true, project)
}

// Site resolves a site. A nil site resolves only the parent project, for
// listing and creation.
func (r *Resolver) Site(ctx context.Context, project string, site *string) (Status, error) {
	return r.resolve(ctx, siteLevel, site != nil, project, site)
}

func (r *Resolver) Memory(ctx context.Context, project, site string, memory *int64) (Status, error) {
	return r.resolve(ctx, memoryLevel, memory != nil, project, site, memory)
}

func (r *Resolver) Comment(ctx context.Context, project, site string, memory int64, comment *int64) (Status, error) {
	return r.resolve(ctx, commentLevel, comment != nil, project, site, memory, comment)
}

func (r *Resolver) resolve(ctx context.Context, lvl level, hasResource bool, args ...any) (Status, error) {
	s := r.Base()

	query := lvl.anonymous
	if r.identity.IsAuthenticated() {
		query = lvl.authenticated
		args = append(args, r.identity.Username())
	}

	var (
		projectPublished bool
		adminPosting     bool
		autoPublish      bool
		lang             string
		resourceExists   bool
		resourcePub      bool
		isCreator        bool
		isAdmin          bool
	)
	parentExists := make([]bool, len(lvl.parents))
	parentPub := make([]bool, len(lvl.parents))

	dest := []any{&projectPublished, &adminPosting, &autoPublish, &lang}
	for i := range lvl.parents {
		dest = append(dest, &parentExists[i], &parentPub[i])
	}
	dest = append(dest, &resourceExists, &resourcePub, &isCreator, &isAdmin)

	err := r.db.QueryRow(ctx, query, args...).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		if lvl.project {
			return s | DoesNotExist, nil
		}
		return None, apperr.NotFound("project not found")
	}
	if err != nil {
		return None, fmt.Errorf("status probe: %w", err)
	}

	r.defaultLanguage = lang

	if isAdmin {
		s |= Admin
	}
	privileged := s.Has(Admin)

	if !lvl.project && !projectPublished && !privileged {
		return None, apperr.NotFound("project not found")
	}
	for i, name := range lvl.parents {
		if !parentExists[i] || (!parentPub[i] && !privileged) {
			return None, apperr.NotFound("%s not found", name)
		}
	}

	if hasResource {
		if resourceExists {
			s |= Exists
			if resourcePub {
				s |= Published
			} else {
				s |= NotPublished
			}
		} else {
			s |= DoesNotExist
		}
	}
	if isCreator {
		s |= Own
	}
	if adminPosting {
		s |= AdminPosting
	}
	if autoPublish {
		s |= AutoPublish
	}
	return s, nil
}
