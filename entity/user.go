package entity

import (
	"fmt"
	"strings"
	"time"

	"crm/pkg/goutil"
)

// Role is the closed set of CRM roles. Scope resolution switches over
// these; adding a role means adding one case to ResolveScope.
type Role uint32

const (
	RoleUnknown Role = iota
	RoleSuperAdmin
	RoleAdmin
	RoleSalesManager
	RoleSalesRep
	RoleMarketing
)

var roleNames = map[Role]string{
	RoleSuperAdmin:   "superadmin",
	RoleAdmin:        "admin",
	RoleSalesManager: "sales_manager",
	RoleSalesRep:     "sales_rep",
	RoleMarketing:    "marketing",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

func ParseRole(s string) Role {
	for role, name := range roleNames {
		if name == s {
			return role
		}
	}
	return RoleUnknown
}

type UserStatus uint32

const (
	UserStatusUnknown UserStatus = iota
	UserStatusNormal
	UserStatusDeleted
)

type User struct {
	ID          *uint64    `json:"id,omitempty"`
	TenantID    *uint64    `json:"tenant_id,omitempty"`
	Email       *string    `json:"email,omitempty"`
	Username    *string    `json:"username,omitempty"`
	Password    *string    `json:"-"`
	DisplayName *string    `json:"display_name,omitempty"`
	Role        Role       `json:"role,omitempty"`
	Department  *string    `json:"department,omitempty"`
	Status      UserStatus `json:"status,omitempty"`
	CreateTime  *uint64    `json:"create_time,omitempty"`
	UpdateTime  *uint64    `json:"update_time,omitempty"`
}

func NewUser(tenantID uint64, email, password string, role Role, department string) (*User, error) {
	now := uint64(time.Now().Unix())

	username, err := extractUsernameFromEmail(email)
	if err != nil {
		return nil, err
	}

	passwordHash, err := goutil.BCrypt(password)
	if err != nil {
		return nil, err
	}

	return &User{
		TenantID:   goutil.Uint64(tenantID),
		Email:      goutil.String(email),
		Username:   goutil.String(username),
		Password:   goutil.String(passwordHash),
		Role:       role,
		Department: goutil.String(department),
		Status:     UserStatusNormal,
		CreateTime: goutil.Uint64(now),
		UpdateTime: goutil.Uint64(now),
	}, nil
}

func (e *User) ComparePassword(input string) bool {
	return goutil.CompareBCrypt(e.GetPassword(), input) == nil
}

func (e *User) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *User) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *User) GetEmail() string {
	if e != nil && e.Email != nil {
		return *e.Email
	}
	return ""
}

func (e *User) GetUsername() string {
	if e != nil && e.Username != nil {
		return *e.Username
	}
	return ""
}

func (e *User) GetPassword() string {
	if e != nil && e.Password != nil {
		return *e.Password
	}
	return ""
}

func (e *User) GetDisplayName() string {
	if e != nil && e.DisplayName != nil {
		return *e.DisplayName
	}
	return ""
}

func (e *User) GetRole() Role {
	if e != nil {
		return e.Role
	}
	return RoleUnknown
}

func (e *User) GetDepartment() string {
	if e != nil && e.Department != nil {
		return *e.Department
	}
	return ""
}

func (e *User) GetStatus() UserStatus {
	if e != nil {
		return e.Status
	}
	return UserStatusUnknown
}

func extractUsernameFromEmail(email string) (string, error) {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return "", fmt.Errorf("invalid email: %v", email)
	}
	return parts[0], nil
}
