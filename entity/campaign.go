package entity

import (
	"fmt"
	"time"

	"crm/pkg/errutil"
	"crm/pkg/goutil"
)

type CampaignStatus uint32

const (
	CampaignStatusUnknown CampaignStatus = iota
	CampaignStatusDraft
	CampaignStatusScheduled
	CampaignStatusSending
	CampaignStatusPaused
	CampaignStatusCompleted
	CampaignStatusFailed
)

var campaignStatusNames = map[CampaignStatus]string{
	CampaignStatusDraft:     "draft",
	CampaignStatusScheduled: "scheduled",
	CampaignStatusSending:   "sending",
	CampaignStatusPaused:    "paused",
	CampaignStatusCompleted: "completed",
	CampaignStatusFailed:    "failed",
}

func (s CampaignStatus) String() string {
	if name, ok := campaignStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// campaignTransitions lists the allowed status moves. Statuses only move
// forward; completed and failed are terminal.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusScheduled},
	CampaignStatusScheduled: {CampaignStatusSending},
	CampaignStatusSending:   {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusFailed},
	CampaignStatusPaused:    {CampaignStatusSending},
}

func CanTransitCampaignStatus(from, to CampaignStatus) bool {
	return goutil.ContainsUint32(uint32sOf(campaignTransitions[from]), uint32(to))
}

func uint32sOf(statuses []CampaignStatus) []uint32 {
	out := make([]uint32, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, uint32(s))
	}
	return out
}

// AudienceFilter selects the leads a campaign targets. Empty fields match
// everything. The filter is re-evaluated at send time, not at schedule time.
type AudienceFilter struct {
	Statuses   []uint32 `json:"statuses,omitempty"`
	Priorities []uint32 `json:"priorities,omitempty"`
	LeadIDs    []uint64 `json:"lead_ids,omitempty"`
}

func (f *AudienceFilter) Match(lead *Lead) bool {
	if f == nil {
		return true
	}
	if len(f.Statuses) > 0 && !goutil.ContainsUint32(f.Statuses, uint32(lead.GetStatus())) {
		return false
	}
	if len(f.Priorities) > 0 && !goutil.ContainsUint32(f.Priorities, uint32(lead.GetPriority())) {
		return false
	}
	if len(f.LeadIDs) > 0 && !goutil.ContainsUint64(f.LeadIDs, lead.GetID()) {
		return false
	}
	return true
}

type Campaign struct {
	ID           *uint64         `json:"id,omitempty"`
	TenantID     *uint64         `json:"tenant_id,omitempty"`
	OwnerID      *uint64         `json:"owner_id,omitempty"`
	Department   *string         `json:"department,omitempty"`
	Name         *string         `json:"name,omitempty"`
	TemplateID   *uint64         `json:"template_id,omitempty"`
	Audience     *AudienceFilter `json:"audience,omitempty"`
	Status       CampaignStatus  `json:"status,omitempty"`
	ScheduleTime *uint64         `json:"schedule_time,omitempty"`
	SentCount    *uint64         `json:"sent_count,omitempty"`
	FailedCount  *uint64         `json:"failed_count,omitempty"`
	OpenCount    *uint64         `json:"open_count,omitempty"`
	ClickCount   *uint64         `json:"click_count,omitempty"`
	UniqueClicks *uint64         `json:"unique_clicks,omitempty"`
	CreateTime   *uint64         `json:"create_time,omitempty"`
	UpdateTime   *uint64         `json:"update_time,omitempty"`
}

func (e *Campaign) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Campaign) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *Campaign) GetOwnerID() uint64 {
	if e != nil && e.OwnerID != nil {
		return *e.OwnerID
	}
	return 0
}

func (e *Campaign) GetCreatorID() uint64 {
	return e.GetOwnerID()
}

func (e *Campaign) GetDepartment() string {
	if e != nil && e.Department != nil {
		return *e.Department
	}
	return ""
}

func (e *Campaign) IsShared() bool {
	return false
}

func (e *Campaign) GetName() string {
	if e != nil && e.Name != nil {
		return *e.Name
	}
	return ""
}

func (e *Campaign) GetTemplateID() uint64 {
	if e != nil && e.TemplateID != nil {
		return *e.TemplateID
	}
	return 0
}

func (e *Campaign) GetAudience() *AudienceFilter {
	if e != nil {
		return e.Audience
	}
	return nil
}

func (e *Campaign) GetStatus() CampaignStatus {
	if e != nil {
		return e.Status
	}
	return CampaignStatusUnknown
}

func (e *Campaign) GetScheduleTime() uint64 {
	if e != nil && e.ScheduleTime != nil {
		return *e.ScheduleTime
	}
	return 0
}

func (e *Campaign) GetUpdateTime() uint64 {
	if e != nil && e.UpdateTime != nil {
		return *e.UpdateTime
	}
	return 0
}

func (e *Campaign) GetSentCount() uint64 {
	if e != nil && e.SentCount != nil {
		return *e.SentCount
	}
	return 0
}

func (e *Campaign) GetFailedCount() uint64 {
	if e != nil && e.FailedCount != nil {
		return *e.FailedCount
	}
	return 0
}

func (e *Campaign) IsDraft() bool {
	return e.GetStatus() == CampaignStatusDraft
}

func (e *Campaign) IsTerminal() bool {
	s := e.GetStatus()
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// IsDue reports whether a scheduled campaign's send time has arrived.
func (e *Campaign) IsDue(now time.Time) bool {
	return e.GetStatus() == CampaignStatusScheduled && e.GetScheduleTime() <= uint64(now.Unix())
}

// Transit validates a status move without applying it. Repos apply the
// move with a compare-and-set so two sweepers cannot both claim a campaign.
func (e *Campaign) Transit(to CampaignStatus) error {
	from := e.GetStatus()
	if !CanTransitCampaignStatus(from, to) {
		return errutil.InvalidStateError(fmt.Errorf("campaign cannot move from %s to %s", from, to))
	}
	return nil
}

// Schedule moves a draft to scheduled at the given unix time. A zero
// schedule time means send on the next sweep.
func (e *Campaign) Schedule(scheduleTime uint64) error {
	if err := e.Transit(CampaignStatusScheduled); err != nil {
		return err
	}
	e.Status = CampaignStatusScheduled
	e.ScheduleTime = goutil.Uint64(scheduleTime)
	return nil
}

func NewCampaign(tenantID uint64, owner *User, name string, templateID uint64, audience *AudienceFilter) *Campaign {
	now := uint64(time.Now().Unix())
	return &Campaign{
		TenantID:     goutil.Uint64(tenantID),
		OwnerID:      goutil.Uint64(owner.GetID()),
		Department:   goutil.String(owner.GetDepartment()),
		Name:         goutil.String(name),
		TemplateID:   goutil.Uint64(templateID),
		Audience:     audience,
		Status:       CampaignStatusDraft,
		SentCount:    goutil.Uint64(0),
		FailedCount:  goutil.Uint64(0),
		OpenCount:    goutil.Uint64(0),
		ClickCount:   goutil.Uint64(0),
		UniqueClicks: goutil.Uint64(0),
		CreateTime:   goutil.Uint64(now),
		UpdateTime:   goutil.Uint64(now),
	}
}
