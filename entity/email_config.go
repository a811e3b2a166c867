package entity

import (
	"time"

	"crm/pkg/goutil"
)

type EmailConfigStatus uint32

const (
	EmailConfigStatusUnknown EmailConfigStatus = iota
	EmailConfigStatusActive
	EmailConfigStatusInvalid
	EmailConfigStatusDisabled
)

// EmailConfig holds a user's outbound SMTP credentials. One active config
// per user; delivery halts for the user when the config is flagged invalid.
type EmailConfig struct {
	ID          *uint64           `json:"id,omitempty"`
	TenantID    *uint64           `json:"tenant_id,omitempty"`
	OwnerID     *uint64           `json:"owner_id,omitempty"`
	Host        *string           `json:"host,omitempty"`
	Port        *uint32           `json:"port,omitempty"`
	Username    *string           `json:"username,omitempty"`
	Password    *string           `json:"-"`
	FromEmail   *string           `json:"from_email,omitempty"`
	FromName    *string           `json:"from_name,omitempty"`
	MaxInFlight *uint32           `json:"max_in_flight,omitempty"`
	Status      EmailConfigStatus `json:"status,omitempty"`
	CreateTime  *uint64           `json:"create_time,omitempty"`
	UpdateTime  *uint64           `json:"update_time,omitempty"`
}

func (e *EmailConfig) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *EmailConfig) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *EmailConfig) GetOwnerID() uint64 {
	if e != nil && e.OwnerID != nil {
		return *e.OwnerID
	}
	return 0
}

func (e *EmailConfig) GetHost() string {
	if e != nil && e.Host != nil {
		return *e.Host
	}
	return ""
}

func (e *EmailConfig) GetPort() uint32 {
	if e != nil && e.Port != nil {
		return *e.Port
	}
	return 0
}

func (e *EmailConfig) GetUsername() string {
	if e != nil && e.Username != nil {
		return *e.Username
	}
	return ""
}

func (e *EmailConfig) GetPassword() string {
	if e != nil && e.Password != nil {
		return *e.Password
	}
	return ""
}

func (e *EmailConfig) GetFromEmail() string {
	if e != nil && e.FromEmail != nil {
		return *e.FromEmail
	}
	return ""
}

func (e *EmailConfig) GetFromName() string {
	if e != nil && e.FromName != nil {
		return *e.FromName
	}
	return ""
}

func (e *EmailConfig) GetMaxInFlight() uint32 {
	if e != nil && e.MaxInFlight != nil {
		return *e.MaxInFlight
	}
	return 0
}

func (e *EmailConfig) GetStatus() EmailConfigStatus {
	if e != nil {
		return e.Status
	}
	return EmailConfigStatusUnknown
}

func (e *EmailConfig) IsActive() bool {
	return e.GetStatus() == EmailConfigStatusActive
}

func NewEmailConfig(tenantID, ownerID uint64, host string, port uint32, username, password, fromEmail, fromName string, maxInFlight uint32) *EmailConfig {
	now := uint64(time.Now().Unix())
	return &EmailConfig{
		TenantID:    goutil.Uint64(tenantID),
		OwnerID:     goutil.Uint64(ownerID),
		Host:        goutil.String(host),
		Port:        goutil.Uint32(port),
		Username:    goutil.String(username),
		Password:    goutil.String(password),
		FromEmail:   goutil.String(fromEmail),
		FromName:    goutil.String(fromName),
		MaxInFlight: goutil.Uint32(maxInFlight),
		Status:      EmailConfigStatusActive,
		CreateTime:  goutil.Uint64(now),
		UpdateTime:  goutil.Uint64(now),
	}
}
