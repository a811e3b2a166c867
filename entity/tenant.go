package entity

import (
	"time"

	"crm/pkg/goutil"
)

type TenantStatus uint32

const (
	TenantStatusUnknown TenantStatus = iota
	TenantStatusNormal
	TenantStatusDeleted
)

type Tenant struct {
	ID         *uint64      `json:"id,omitempty"`
	Name       *string      `json:"name,omitempty"`
	Status     TenantStatus `json:"status,omitempty"`
	CreateTime *uint64      `json:"create_time,omitempty"`
	UpdateTime *uint64      `json:"update_time,omitempty"`
}

func NewTenant(name string) *Tenant {
	now := uint64(time.Now().Unix())
	return &Tenant{
		Name:       goutil.String(name),
		Status:     TenantStatusNormal,
		CreateTime: goutil.Uint64(now),
		UpdateTime: goutil.Uint64(now),
	}
}

func (e *Tenant) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Tenant) GetName() string {
	if e != nil && e.Name != nil {
		return *e.Name
	}
	return ""
}

func (e *Tenant) GetStatus() TenantStatus {
	if e != nil {
		return e.Status
	}
	return TenantStatusUnknown
}
