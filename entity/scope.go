package entity

// ResourceKind selects the scoping rules for a record type. Templates,
// campaigns and sequences all follow the communications rules.
type ResourceKind uint32

const (
	ResourceUnknown ResourceKind = iota
	ResourceLead
	ResourceTemplate
	ResourceCampaign
	ResourceSequence
)

func (k ResourceKind) isCommunications() bool {
	switch k {
	case ResourceTemplate, ResourceCampaign, ResourceSequence:
		return true
	}
	return false
}

// ScopeTarget is any record access scoping can be evaluated against.
type ScopeTarget interface {
	GetOwnerID() uint64
	GetCreatorID() uint64
	GetDepartment() string
	IsShared() bool
}

// Scope decides which records a user may see or mutate. It is derived from
// (role, user id, department, resource kind) alone and is pure: the same
// inputs always produce the same answers.
type Scope struct {
	role       Role
	userID     uint64
	department string
	kind       ResourceKind
}

// ResolveScope is the single resolution function over the closed role set.
func ResolveScope(user *User, kind ResourceKind) Scope {
	return Scope{
		role:       user.GetRole(),
		userID:     user.GetID(),
		department: user.GetDepartment(),
		kind:       kind,
	}
}

func (s Scope) GetRole() Role {
	return s.role
}

func (s Scope) GetUserID() uint64 {
	return s.userID
}

func (s Scope) GetDepartment() string {
	return s.department
}

func (s Scope) GetKind() ResourceKind {
	return s.kind
}

// Match reports whether the record is visible to the user.
func (s Scope) Match(t ScopeTarget) bool {
	switch s.role {
	case RoleSuperAdmin, RoleAdmin:
		return true
	case RoleSalesManager:
		return t.GetOwnerID() == s.userID || (s.department != "" && t.GetDepartment() == s.department)
	case RoleSalesRep:
		return t.GetOwnerID() == s.userID
	case RoleMarketing:
		if s.kind == ResourceLead {
			// read-only narrow scope: own-created leads only
			return t.GetCreatorID() == s.userID
		}
		return t.GetOwnerID() == s.userID || t.IsShared()
	default:
		return false
	}
}

// CanWrite reports whether the user may mutate the record. Marketing may
// never write leads, regardless of visibility.
func (s Scope) CanWrite(t ScopeTarget) bool {
	if s.role == RoleMarketing && s.kind == ResourceLead {
		return false
	}
	return s.Match(t)
}
