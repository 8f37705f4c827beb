package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"muistot/api/internal/database"
	"muistot/api/internal/identity"
	"muistot/api/internal/models"
	"muistot/api/internal/sessions"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrVerifierNotFound = errors.New("verifier not found")
)

// Users persists accounts and email verifiers for login and the /me surface.
type Users struct {
	db database.DB
}

func NewUsers(db database.DB) *Users {
	return &Users{db: db}
}

const userColumns = `id, username, email, password_hash, verified, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Verified, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}

func (r *Users) ByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *Users) ByUsername(ctx context.Context, username string) (models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (r *Users) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var taken bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&taken)
	return taken, err
}

func (r *Users) Create(ctx context.Context, username, email string, passwordHash []byte) (models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, verified, created_at, modified_at)
		VALUES ($1, $2, $3, FALSE, NOW(), NOW())
		RETURNING `+userColumns,
		username, email, passwordHash))
}

func (r *Users) MarkVerified(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET verified = TRUE, modified_at = NOW()
		WHERE id = $1 AND NOT verified
	`, userID)
	return err
}

// SetVerifier stores the single active login verifier of a user.
func (r *Users) SetVerifier(ctx context.Context, userID int64, verifier string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_email_verifiers (user_id, verifier, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET verifier = EXCLUDED.verifier, created_at = NOW()
	`, userID, verifier)
	return err
}

func (r *Users) Verifier(ctx context.Context, username string) (models.EmailVerifier, error) {
	var v models.EmailVerifier
	err := r.db.QueryRow(ctx, `
		SELECT u.id, u.username, v.verifier, v.created_at
		FROM user_email_verifiers v
		JOIN users u ON u.id = v.user_id
		WHERE u.username = $1
	`, username).Scan(&v.UserID, &v.Username, &v.Verifier, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EmailVerifier{}, ErrVerifierNotFound
	}
	return v, err
}

func (r *Users) DeleteVerifier(ctx context.Context, username string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM user_email_verifiers v USING users u
		WHERE v.user_id = u.id AND u.username = $1
	`, username)
	return err
}

// PurgeVerifiers drops verifiers created before the cutoff.
func (r *Users) PurgeVerifiers(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_email_verifiers WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SessionData snapshots the scopes and administered projects stored with a new session.
func (r *Users) SessionData(ctx context.Context, username string) (sessions.Data, error) {
	var superuser bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM superusers s JOIN users u ON u.id = s.user_id
			WHERE u.username = $1)
	`, username).Scan(&superuser)
	if err != nil {
		return sessions.Data{}, fmt.Errorf("superuser lookup: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT p.name FROM project_admins pa
		JOIN projects p ON p.id = pa.project_id
		JOIN users u ON u.id = pa.user_id
		WHERE u.username = $1
		ORDER BY p.name
	`, username)
	if err != nil {
		return sessions.Data{}, err
	}
	projects, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return sessions.Data{}, fmt.Errorf("admin projects: %w", err)
	}

	data := sessions.Data{
		Scopes:        []string{identity.ScopeAuthenticated},
		AdminProjects: projects,
	}
	if superuser {
		data.Scopes = append(data.Scopes, identity.ScopeSuperuser)
	}
	return data, nil
}

func (r *Users) PersonalData(ctx context.Context, username string) (models.PersonalData, error) {
	var d models.PersonalData
	err := r.db.QueryRow(ctx, `
		SELECT username, email, verified, first_name, last_name, country, city,
		       to_char(birth_date, 'YYYY-MM-DD')
		FROM users WHERE username = $1
	`, username).Scan(&d.Username, &d.Email, &d.Verified, &d.FirstName, &d.LastName,
		&d.Country, &d.City, &d.BirthDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PersonalData{}, ErrUserNotFound
	}
	return d, err
}

func (r *Users) UpdatePersonalData(ctx context.Context, username string, p models.PersonalDataPatch) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET first_name = CASE WHEN $2 THEN $3 ELSE first_name END,
		    last_name = CASE WHEN $4 THEN $5 ELSE last_name END,
		    country = CASE WHEN $6 THEN $7 ELSE country END,
		    city = CASE WHEN $8 THEN $9 ELSE city END,
		    birth_date = CASE WHEN $10 THEN $11::date ELSE birth_date END,
		    modified_at = NOW()
		WHERE username = $1
	`, username,
		p.FirstName.Set, p.FirstName.Value,
		p.LastName.Set, p.LastName.Value,
		p.Country.Set, p.Country.Value,
		p.City.Set, p.City.Value,
		p.BirthDate.Set, p.BirthDate.Value)
	return err
}

// ChangeEmail sets a new unverified email address.
func (r *Users) ChangeEmail(ctx context.Context, username, email string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET email = $2, verified = FALSE, modified_at = NOW()
		WHERE username = $1
	`, username, email)
	return err
}

func (r *Users) ChangeUsername(ctx context.Context, username, next string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET username = $2, modified_at = NOW() WHERE username = $1
	`, username, next)
	return err
}
