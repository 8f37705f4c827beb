package repository

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muistot/api/internal/apperr"
	"muistot/api/internal/identity"
	"muistot/api/internal/models"
	"muistot/api/internal/sessions"
	"muistot/api/internal/storage"
)

var probeColumns = []string{"published", "admin_posting", "auto_publish", "lang", "exists", "pub", "is_creator", "is_admin"}

func user(name string, scopes ...string) identity.Identity {
	return identity.FromSession("tok", sessions.Session{
		User: name,
		Data: sessions.Data{Scopes: append([]string{identity.ScopeAuthenticated}, scopes...)},
	})
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func newImages(t *testing.T) *Images {
	t.Helper()
	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return NewImages(store, []string{"image/jpeg", "image/png"})
}

func TestProjectMissingDefaultLanguageIsNotAcceptable(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM projects p").
		WithArgs("parks", "root").
		WillReturnRows(pgxmock.NewRows(probeColumns).AddRow(true, false, false, "fi", true, true, false, false))
	mock.ExpectQuery("LEFT JOIN project_contact").
		WithArgs("en", "parks").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "lang", "title", "abstract", "description", "image", "starts", "ends",
			"admin_posting", "auto_publish", "waiting", "site_count", "has_default",
			"has_contact", "contact_email", "permit", "can_contact",
		}).AddRow(int64(1), "parks", "fi", "parks", nil, nil, nil, nil, nil,
			false, false, false, 0, false,
			false, nil, false, false))

	repo := NewProjects(mock, user("root", identity.ScopeSuperuser), "en", newImages(t))
	_, err := repo.One(context.Background(), "parks")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotAcceptable))
}

func TestProjectTogglePublish(t *testing.T) {
	mock := newMock(t)
	probe := func() {
		mock.ExpectQuery("FROM projects p").
			WithArgs("parks", "alice").
			WillReturnRows(pgxmock.NewRows(probeColumns).AddRow(true, false, false, "fi", true, true, false, true))
	}

	probe()
	mock.ExpectExec("UPDATE projects SET published").
		WithArgs("parks", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	probe()
	mock.ExpectExec("UPDATE projects SET published").
		WithArgs("parks", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewProjects(mock, user("alice"), "fi", newImages(t))

	changed, err := repo.TogglePublish(context.Background(), "parks", false)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.TogglePublish(context.Background(), "parks", false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestProjectTogglePublishForbiddenForStranger(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM projects p").
		WithArgs("parks", "bob").
		WillReturnRows(pgxmock.NewRows(probeColumns).AddRow(true, false, false, "fi", true, true, false, false))

	_, err := NewProjects(mock, user("bob"), "fi", newImages(t)).TogglePublish(context.Background(), "parks", false)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

func TestProjectAddAdmin(t *testing.T) {
	mock := newMock(t)
	adminProbe := func() {
		mock.ExpectQuery("FROM projects p").
			WithArgs("parks", "alice").
			WillReturnRows(pgxmock.NewRows(probeColumns).AddRow(true, false, false, "fi", true, true, false, true))
		mock.ExpectQuery("SELECT id FROM projects").
			WithArgs("parks").
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	}

	adminProbe()
	mock.ExpectQuery("SELECT id FROM users").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	adminProbe()
	mock.ExpectQuery("SELECT id FROM users").
		WithArgs("carol").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec("INSERT INTO project_admins").
		WithArgs(int64(3), int64(9)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	repo := NewProjects(mock, user("alice"), "fi", newImages(t))

	err := repo.AddAdmin(context.Background(), "parks", "ghost")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	err = repo.AddAdmin(context.Background(), "parks", "carol")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestMemoryCreateRequiresLogin(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("LEFT JOIN memories m").
		WithArgs("parks", "bench", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"published", "admin_posting", "auto_publish", "lang",
			"site_exists", "site_pub", "exists", "pub", "is_creator", "is_admin",
		}).AddRow(true, false, false, "fi", true, true, false, false, false, false))

	repo := NewMemories(mock, identity.Null(), "fi", newImages(t))
	_, err := repo.Create(context.Background(), "parks", "bench", models.NewMemory{Title: "hello"})
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestPublishOrderChain(t *testing.T) {
	site := "bench"
	memory := int64(4)

	tests := []struct {
		name  string
		order models.PublishOrder
		ok    bool
	}{
		{"project", models.PublishOrder{Type: "project", Identifier: models.PublishIdentifier{Project: "parks"}}, true},
		{"site", models.PublishOrder{Type: "site", Identifier: models.PublishIdentifier{Project: "parks", Site: &site}}, true},
		{"memory without site", models.PublishOrder{Type: "memory", Identifier: models.PublishIdentifier{Project: "parks", Memory: &memory}}, false},
		{"project with site", models.PublishOrder{Type: "project", Identifier: models.PublishIdentifier{Project: "parks", Site: &site}}, false},
		{"comment missing comment", models.PublishOrder{Type: "comment", Identifier: models.PublishIdentifier{Project: "parks", Site: &site, Memory: &memory}}, false},
		{"unknown", models.PublishOrder{Type: "user"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateChain(tt.order)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperr.IsKind(err, apperr.KindBad))
			}
		})
	}
}

func TestImageSaveRejectsUnknownType(t *testing.T) {
	mock := newMock(t)
	images := newImages(t)

	_, err := images.Save(context.Background(), mock, nil, base64.StdEncoding.EncodeToString([]byte("GIF89a....")))
	assert.True(t, apperr.IsKind(err, apperr.KindBad))

	_, err = images.Save(context.Background(), mock, nil, "!!not base64!!")
	assert.True(t, apperr.IsKind(err, apperr.KindBad))
}

func TestImageSaveStoresFile(t *testing.T) {
	mock := newMock(t)
	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	images := NewImages(store, []string{"image/jpeg"})

	mock.ExpectQuery("INSERT INTO images").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))

	jpg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	id, err := images.Save(context.Background(), mock, nil, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(jpg))
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
}
