package entity

import (
	"fmt"
	"time"

	"crm/pkg/goutil"
)

type TrackingEventKind uint32

const (
	TrackingEventKindUnknown TrackingEventKind = iota
	TrackingEventKindOpen
	TrackingEventKindClick
)

// OpenDedupeKey makes opens unique per email.
func OpenDedupeKey(emailID uint64) string {
	return fmt.Sprintf("%d:open", emailID)
}

// ClickDedupeKey makes clicks unique per email and destination URL.
func ClickDedupeKey(emailID uint64, url string) string {
	return fmt.Sprintf("%d:click:%s", emailID, goutil.Sha256(url))
}

// TrackingEvent records the first open per email and the first click per
// email-URL pair. Repeats are absorbed by a unique index on DedupeKey.
type TrackingEvent struct {
	ID         *uint64           `json:"id,omitempty"`
	TenantID   *uint64           `json:"tenant_id,omitempty"`
	EmailID    *uint64           `json:"email_id,omitempty"`
	Kind       TrackingEventKind `json:"kind,omitempty"`
	URL        *string           `json:"url,omitempty"`
	DedupeKey  *string           `json:"dedupe_key,omitempty"`
	CreateTime *uint64           `json:"create_time,omitempty"`
}

func (e *TrackingEvent) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *TrackingEvent) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *TrackingEvent) GetEmailID() uint64 {
	if e != nil && e.EmailID != nil {
		return *e.EmailID
	}
	return 0
}

func (e *TrackingEvent) GetKind() TrackingEventKind {
	if e != nil {
		return e.Kind
	}
	return TrackingEventKindUnknown
}

func (e *TrackingEvent) GetURL() string {
	if e != nil && e.URL != nil {
		return *e.URL
	}
	return ""
}

func (e *TrackingEvent) GetDedupeKey() string {
	if e != nil && e.DedupeKey != nil {
		return *e.DedupeKey
	}
	return ""
}

func NewOpenEvent(email *Email) *TrackingEvent {
	return &TrackingEvent{
		TenantID:   goutil.Uint64(email.GetTenantID()),
		EmailID:    goutil.Uint64(email.GetID()),
		Kind:       TrackingEventKindOpen,
		DedupeKey:  goutil.String(OpenDedupeKey(email.GetID())),
		CreateTime: goutil.Uint64(uint64(time.Now().Unix())),
	}
}

func NewClickEvent(email *Email, url string) *TrackingEvent {
	return &TrackingEvent{
		TenantID:   goutil.Uint64(email.GetTenantID()),
		EmailID:    goutil.Uint64(email.GetID()),
		Kind:       TrackingEventKindClick,
		URL:        goutil.String(url),
		DedupeKey:  goutil.String(ClickDedupeKey(email.GetID(), url)),
		CreateTime: goutil.Uint64(uint64(time.Now().Unix())),
	}
}
