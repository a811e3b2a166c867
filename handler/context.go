package handler

import (
	"crm/entity"
)

// ContextInfo carries the authenticated user and tenant resolved by the
// session middleware. Embed it in request structs that need them.
type ContextInfo struct {
	User   *entity.User
	Tenant *entity.Tenant
}

func (c *ContextInfo) SetUser(u *entity.User) {
	c.User = u
}

func (c *ContextInfo) SetTenant(t *entity.Tenant) {
	c.Tenant = t
}

func (c *ContextInfo) GetUserID() uint64 {
	return c.User.GetID()
}

func (c *ContextInfo) GetTenantID() uint64 {
	return c.Tenant.GetID()
}
