package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"crm/pkg/goutil"
)

func makeUser(id uint64, role Role, department string) *User {
	return &User{
		ID:         goutil.Uint64(id),
		TenantID:   goutil.Uint64(1),
		Role:       role,
		Department: goutil.String(department),
	}
}

func makeLead(ownerID, creatorID uint64, department string) *Lead {
	return &Lead{
		ID:         goutil.Uint64(100),
		TenantID:   goutil.Uint64(1),
		OwnerID:    goutil.Uint64(ownerID),
		CreatorID:  goutil.Uint64(creatorID),
		Department: goutil.String(department),
	}
}

func TestScopeMatchLeads(t *testing.T) {
	tests := []struct {
		name      string
		user      *User
		lead      *Lead
		wantMatch bool
		wantWrite bool
	}{
		{
			name:      "superadmin sees any lead",
			user:      makeUser(1, RoleSuperAdmin, ""),
			lead:      makeLead(99, 99, "emea"),
			wantMatch: true,
			wantWrite: true,
		},
		{
			name:      "admin sees any lead",
			user:      makeUser(1, RoleAdmin, ""),
			lead:      makeLead(99, 99, "emea"),
			wantMatch: true,
			wantWrite: true,
		},
		{
			name:      "manager sees own lead",
			user:      makeUser(2, RoleSalesManager, "emea"),
			lead:      makeLead(2, 2, "apac"),
			wantMatch: true,
			wantWrite: true,
		},
		{
			name:      "manager sees same-department lead",
			user:      makeUser(2, RoleSalesManager, "emea"),
			lead:      makeLead(7, 7, "emea"),
			wantMatch: true,
			wantWrite: true,
		},
		{
			name:      "manager blocked from other department",
			user:      makeUser(2, RoleSalesManager, "emea"),
			lead:      makeLead(7, 7, "apac"),
			wantMatch: false,
			wantWrite: false,
		},
		{
			name:      "manager with empty department sees own only",
			user:      makeUser(2, RoleSalesManager, ""),
			lead:      makeLead(7, 7, ""),
			wantMatch: false,
			wantWrite: false,
		},
		{
			name:      "rep sees own lead",
			user:      makeUser(3, RoleSalesRep, "emea"),
			lead:      makeLead(3, 3, "emea"),
			wantMatch: true,
			wantWrite: true,
		},
		{
			name:      "rep blocked from same-department lead of another rep",
			user:      makeUser(3, RoleSalesRep, "emea"),
			lead:      makeLead(4, 4, "emea"),
			wantMatch: false,
			wantWrite: false,
		},
		{
			name:      "marketing sees own-created lead but cannot write it",
			user:      makeUser(5, RoleMarketing, "mkt"),
			lead:      makeLead(9, 5, "emea"),
			wantMatch: true,
			wantWrite: false,
		},
		{
			name:      "marketing blocked from owned-but-not-created lead",
			user:      makeUser(5, RoleMarketing, "mkt"),
			lead:      makeLead(5, 9, "emea"),
			wantMatch: false,
			wantWrite: false,
		},
		{
			name:      "unknown role sees nothing",
			user:      makeUser(6, RoleUnknown, "emea"),
			lead:      makeLead(6, 6, "emea"),
			wantMatch: false,
			wantWrite: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := ResolveScope(tt.user, ResourceLead)
			assert.Equal(t, tt.wantMatch, scope.Match(tt.lead))
			assert.Equal(t, tt.wantWrite, scope.CanWrite(tt.lead))
		})
	}
}

func TestScopeMatchTemplates(t *testing.T) {
	makeTemplate := func(ownerID uint64, department string, shared bool) *Template {
		return &Template{
			ID:         goutil.Uint64(200),
			TenantID:   goutil.Uint64(1),
			OwnerID:    goutil.Uint64(ownerID),
			Department: goutil.String(department),
			Shared:     goutil.Bool(shared),
		}
	}

	tests := []struct {
		name      string
		user      *User
		template  *Template
		wantMatch bool
		wantWrite bool
	}{
		{
			name:      "marketing sees shared template",
			user:      makeUser(5, RoleMarketing, "mkt"),
			template:  makeTemplate(9, "emea", true),
			wantMatch: true,
			wantWrite: true,
		},
		{
			name:      "marketing blocked from unshared template of another user",
			user:      makeUser(5, RoleMarketing, "mkt"),
			template:  makeTemplate(9, "emea", false),
			wantMatch: false,
			wantWrite: false,
		},
		{
			name:      "marketing writes own template",
			user:      makeUser(5, RoleMarketing, "mkt"),
			template:  makeTemplate(5, "mkt", false),
			wantMatch: true,
			wantWrite: true,
		},
		{
			name:      "rep blocked from shared template of another user",
			user:      makeUser(3, RoleSalesRep, "emea"),
			template:  makeTemplate(9, "emea", true),
			wantMatch: false,
			wantWrite: false,
		},
		{
			name:      "manager sees same-department template",
			user:      makeUser(2, RoleSalesManager, "emea"),
			template:  makeTemplate(9, "emea", false),
			wantMatch: true,
			wantWrite: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := ResolveScope(tt.user, ResourceTemplate)
			assert.Equal(t, tt.wantMatch, scope.Match(tt.template))
			assert.Equal(t, tt.wantWrite, scope.CanWrite(tt.template))
		})
	}
}

func TestScopeIsPure(t *testing.T) {
	user := makeUser(2, RoleSalesManager, "emea")
	lead := makeLead(7, 7, "emea")

	scope := ResolveScope(user, ResourceLead)
	for i := 0; i < 3; i++ {
		assert.True(t, scope.Match(lead))
	}

	// mutating the user after resolution does not change the scope
	user.Role = RoleSalesRep
	assert.True(t, scope.Match(lead))
}
