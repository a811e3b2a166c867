package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"crm/pkg/goutil"
)

type EmailOrigin uint32

const (
	EmailOriginUnknown EmailOrigin = iota
	EmailOriginCampaign
	EmailOriginSequence
	EmailOriginAdHoc
)

type EmailStatus uint32

const (
	EmailStatusUnknown EmailStatus = iota
	EmailStatusQueued
	EmailStatusSent
	EmailStatusFailed
)

// NewTrackingToken returns an unguessable token bound to one sent email.
func NewTrackingToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Email is one rendered, addressed message and its delivery and engagement
// state. Counters only ever increase.
type Email struct {
	ID            *uint64     `json:"id,omitempty"`
	TenantID      *uint64     `json:"tenant_id,omitempty"`
	SenderID      *uint64     `json:"sender_id,omitempty"`
	LeadID        *uint64     `json:"lead_id,omitempty"`
	CampaignID    *uint64     `json:"campaign_id,omitempty"`
	EnrollmentID  *uint64     `json:"enrollment_id,omitempty"`
	Origin        EmailOrigin `json:"origin,omitempty"`
	ToEmail       *string     `json:"to_email,omitempty"`
	Subject       *string     `json:"subject,omitempty"`
	Body          *string     `json:"body,omitempty"`
	TrackingToken *string     `json:"tracking_token,omitempty"`
	Status        EmailStatus `json:"status,omitempty"`
	Attempts      *uint32     `json:"attempts,omitempty"`
	ErrorMessage  *string     `json:"error_message,omitempty"`
	OpenCount     *uint64     `json:"open_count,omitempty"`
	ClickCount    *uint64     `json:"click_count,omitempty"`
	FirstOpenedAt *uint64     `json:"first_opened_at,omitempty"`
	LastOpenedAt  *uint64     `json:"last_opened_at,omitempty"`
	SentAt        *uint64     `json:"sent_at,omitempty"`
	CreateTime    *uint64     `json:"create_time,omitempty"`
	UpdateTime    *uint64     `json:"update_time,omitempty"`
}

func (e *Email) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Email) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *Email) GetSenderID() uint64 {
	if e != nil && e.SenderID != nil {
		return *e.SenderID
	}
	return 0
}

func (e *Email) GetLeadID() uint64 {
	if e != nil && e.LeadID != nil {
		return *e.LeadID
	}
	return 0
}

func (e *Email) GetCampaignID() uint64 {
	if e != nil && e.CampaignID != nil {
		return *e.CampaignID
	}
	return 0
}

func (e *Email) GetEnrollmentID() uint64 {
	if e != nil && e.EnrollmentID != nil {
		return *e.EnrollmentID
	}
	return 0
}

func (e *Email) GetOrigin() EmailOrigin {
	if e != nil {
		return e.Origin
	}
	return EmailOriginUnknown
}

func (e *Email) GetToEmail() string {
	if e != nil && e.ToEmail != nil {
		return *e.ToEmail
	}
	return ""
}

func (e *Email) GetSubject() string {
	if e != nil && e.Subject != nil {
		return *e.Subject
	}
	return ""
}

func (e *Email) GetBody() string {
	if e != nil && e.Body != nil {
		return *e.Body
	}
	return ""
}

func (e *Email) GetTrackingToken() string {
	if e != nil && e.TrackingToken != nil {
		return *e.TrackingToken
	}
	return ""
}

func (e *Email) GetStatus() EmailStatus {
	if e != nil {
		return e.Status
	}
	return EmailStatusUnknown
}

func (e *Email) GetAttempts() uint32 {
	if e != nil && e.Attempts != nil {
		return *e.Attempts
	}
	return 0
}

func (e *Email) GetErrorMessage() string {
	if e != nil && e.ErrorMessage != nil {
		return *e.ErrorMessage
	}
	return ""
}

func (e *Email) GetOpenCount() uint64 {
	if e != nil && e.OpenCount != nil {
		return *e.OpenCount
	}
	return 0
}

func (e *Email) GetClickCount() uint64 {
	if e != nil && e.ClickCount != nil {
		return *e.ClickCount
	}
	return 0
}

func (e *Email) GetFirstOpenedAt() uint64 {
	if e != nil && e.FirstOpenedAt != nil {
		return *e.FirstOpenedAt
	}
	return 0
}

func (e *Email) IsTerminal() bool {
	s := e.GetStatus()
	return s == EmailStatusSent || s == EmailStatusFailed
}

func NewEmail(tenantID, senderID uint64, lead *Lead, origin EmailOrigin, subject, body string) *Email {
	now := uint64(time.Now().Unix())
	return &Email{
		TenantID:      goutil.Uint64(tenantID),
		SenderID:      goutil.Uint64(senderID),
		LeadID:        goutil.Uint64(lead.GetID()),
		Origin:        origin,
		ToEmail:       goutil.String(lead.GetEmail()),
		Subject:       goutil.String(subject),
		Body:          goutil.String(body),
		TrackingToken: goutil.String(NewTrackingToken()),
		Status:        EmailStatusQueued,
		Attempts:      goutil.Uint32(0),
		OpenCount:     goutil.Uint64(0),
		ClickCount:    goutil.Uint64(0),
		CreateTime:    goutil.Uint64(now),
		UpdateTime:    goutil.Uint64(now),
	}
}
