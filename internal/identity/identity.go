// Package identity describes the principal behind a request.
package identity

import (
	"slices"

	"muistot/api/internal/sessions"
)

const (
	ScopeAuthenticated = "authenticated"
	ScopeSuperuser     = "superuser"
)

// Identity is immutable once built. The zero value is the anonymous identity.
type Identity struct {
	username      string
	token         string
	scopes        map[string]struct{}
	adminProjects map[string]struct{}
}

func Null() Identity {
	return Identity{}
}

func FromSession(token string, session sessions.Session) Identity {
	id := Identity{
		username:      session.User,
		token:         token,
		scopes:        make(map[string]struct{}, len(session.Data.Scopes)),
		adminProjects: make(map[string]struct{}, len(session.Data.AdminProjects)),
	}
	for _, scope := range session.Data.Scopes {
		id.scopes[scope] = struct{}{}
	}
	for _, project := range session.Data.AdminProjects {
		id.adminProjects[project] = struct{}{}
	}
	return id
}

func (i Identity) has(scope string) bool {
	_, ok := i.scopes[scope]
	return ok
}

func (i Identity) IsAuthenticated() bool { return i.has(ScopeAuthenticated) }

func (i Identity) IsSuperuser() bool { return i.has(ScopeSuperuser) }

func (i Identity) IsAdminIn(project string) bool {
	if i.IsSuperuser() {
		return true
	}
	_, ok := i.adminProjects[project]
	return ok
}

// Username panics on the anonymous identity. Callers must check
// IsAuthenticated first; reaching this on a null identity is a programming error.
func (i Identity) Username() string {
	if i.username == "" {
		panic("identity: username requested from anonymous identity")
	}
	return i.username
}

// Token returns the session token, or "" for anonymous requests.
func (i Identity) Token() string { return i.token }

// UsernameOrEmpty is for logging.
func (i Identity) UsernameOrEmpty() string { return i.username }

func (i Identity) Scopes() []string {
	out := make([]string, 0, len(i.scopes))
	for scope := range i.scopes {
		out = append(out, scope)
	}
	slices.Sort(out)
	return out
}

func (i Identity) AdminProjects() []string {
	out := make([]string, 0, len(i.adminProjects))
	for project := range i.adminProjects {
		out = append(out, project)
	}
	slices.Sort(out)
	return out
}
