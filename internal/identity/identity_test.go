package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"muistot/api/internal/sessions"
)

func TestNullIdentity(t *testing.T) {
	id := Null()

	assert.False(t, id.IsAuthenticated())
	assert.False(t, id.IsSuperuser())
	assert.False(t, id.IsAdminIn("parks"))
	assert.Empty(t, id.Token())
	assert.Panics(t, func() { _ = id.Username() })
}

func TestFromSession(t *testing.T) {
	id := FromSession("tok", sessions.Session{
		User: "alice",
		Data: sessions.Data{
			Scopes:        []string{ScopeAuthenticated},
			AdminProjects: []string{"parks", "bridges"},
		},
	})

	assert.True(t, id.IsAuthenticated())
	assert.False(t, id.IsSuperuser())
	assert.Equal(t, "alice", id.Username())
	assert.Equal(t, "tok", id.Token())
	assert.True(t, id.IsAdminIn("parks"))
	assert.False(t, id.IsAdminIn("harbours"))
	assert.Equal(t, []string{"bridges", "parks"}, id.AdminProjects())
}

func TestSuperuserIsAdminEverywhere(t *testing.T) {
	id := FromSession("tok", sessions.Session{
		User: "root",
		Data: sessions.Data{Scopes: []string{ScopeAuthenticated, ScopeSuperuser}},
	})

	assert.True(t, id.IsSuperuser())
	assert.True(t, id.IsAdminIn("anything"))
	assert.Equal(t, []string{ScopeAuthenticated, ScopeSuperuser}, id.Scopes())
}
