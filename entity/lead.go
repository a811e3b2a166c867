package entity

import (
	"strings"
	"time"

	"crm/pkg/goutil"
)

type LeadStatus uint32

const (
	LeadStatusUnknown LeadStatus = iota
	LeadStatusNew
	LeadStatusContacted
	LeadStatusQualified
	LeadStatusProposal
	LeadStatusNegotiation
	LeadStatusWon
	LeadStatusLost
	LeadStatusOnHold
)

type LeadPriority uint32

const (
	LeadPriorityUnknown LeadPriority = iota
	LeadPriorityHot
	LeadPriorityWarm
	LeadPriorityCold
)

// Lead is owned by exactly one user at a time. Department is denormalized
// from the owner and is never edited independently.
type Lead struct {
	ID         *uint64      `json:"id,omitempty"`
	TenantID   *uint64      `json:"tenant_id,omitempty"`
	OwnerID    *uint64      `json:"owner_id,omitempty"`
	CreatorID  *uint64      `json:"creator_id,omitempty"`
	Department *string      `json:"department,omitempty"`
	FirstName  *string      `json:"first_name,omitempty"`
	LastName   *string      `json:"last_name,omitempty"`
	Email      *string      `json:"email,omitempty"`
	Phone      *string      `json:"phone,omitempty"`
	Company    *string      `json:"company,omitempty"`
	Status     LeadStatus   `json:"status,omitempty"`
	Priority   LeadPriority `json:"priority,omitempty"`
	CreateTime *uint64      `json:"create_time,omitempty"`
	UpdateTime *uint64      `json:"update_time,omitempty"`
}

func NewLead(tenantID uint64, creator *User, owner *User) *Lead {
	now := uint64(time.Now().Unix())
	return &Lead{
		TenantID:   goutil.Uint64(tenantID),
		OwnerID:    goutil.Uint64(owner.GetID()),
		CreatorID:  goutil.Uint64(creator.GetID()),
		Department: goutil.String(owner.GetDepartment()),
		Status:     LeadStatusNew,
		Priority:   LeadPriorityWarm,
		CreateTime: goutil.Uint64(now),
		UpdateTime: goutil.Uint64(now),
	}
}

// Reassign moves the lead to a new owner and re-derives its department.
func (e *Lead) Reassign(owner *User) {
	e.OwnerID = goutil.Uint64(owner.GetID())
	e.Department = goutil.String(owner.GetDepartment())
	e.UpdateTime = goutil.Uint64(uint64(time.Now().Unix()))
}

func (e *Lead) GetFullName() string {
	return strings.TrimSpace(strings.Join([]string{e.GetFirstName(), e.GetLastName()}, " "))
}

func (e *Lead) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Lead) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *Lead) GetOwnerID() uint64 {
	if e != nil && e.OwnerID != nil {
		return *e.OwnerID
	}
	return 0
}

func (e *Lead) GetCreatorID() uint64 {
	if e != nil && e.CreatorID != nil {
		return *e.CreatorID
	}
	return 0
}

func (e *Lead) GetDepartment() string {
	if e != nil && e.Department != nil {
		return *e.Department
	}
	return ""
}

func (e *Lead) GetFirstName() string {
	if e != nil && e.FirstName != nil {
		return *e.FirstName
	}
	return ""
}

func (e *Lead) GetLastName() string {
	if e != nil && e.LastName != nil {
		return *e.LastName
	}
	return ""
}

func (e *Lead) GetEmail() string {
	if e != nil && e.Email != nil {
		return *e.Email
	}
	return ""
}

func (e *Lead) GetPhone() string {
	if e != nil && e.Phone != nil {
		return *e.Phone
	}
	return ""
}

func (e *Lead) GetCompany() string {
	if e != nil && e.Company != nil {
		return *e.Company
	}
	return ""
}

func (e *Lead) GetStatus() LeadStatus {
	if e != nil {
		return e.Status
	}
	return LeadStatusUnknown
}

func (e *Lead) GetPriority() LeadPriority {
	if e != nil {
		return e.Priority
	}
	return LeadPriorityUnknown
}

// IsShared satisfies ScopeTarget; leads are never shared records.
func (e *Lead) IsShared() bool {
	return false
}
