package entity

import (
	"fmt"
	"time"

	"crm/pkg/errutil"
	"crm/pkg/goutil"
)

type SequenceStatus uint32

const (
	SequenceStatusUnknown SequenceStatus = iota
	SequenceStatusNormal
	SequenceStatusDeleted
)

// SequenceStep is one timed message in a sequence. DelaySeconds is counted
// from enrollment for the first step and from the previous step's send for
// the rest.
type SequenceStep struct {
	ID           *uint64 `json:"id,omitempty"`
	SequenceID   *uint64 `json:"sequence_id,omitempty"`
	StepIndex    *uint32 `json:"step_index,omitempty"`
	TemplateID   *uint64 `json:"template_id,omitempty"`
	DelaySeconds *uint64 `json:"delay_seconds,omitempty"`
}

func (e *SequenceStep) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *SequenceStep) GetSequenceID() uint64 {
	if e != nil && e.SequenceID != nil {
		return *e.SequenceID
	}
	return 0
}

func (e *SequenceStep) GetStepIndex() uint32 {
	if e != nil && e.StepIndex != nil {
		return *e.StepIndex
	}
	return 0
}

func (e *SequenceStep) GetTemplateID() uint64 {
	if e != nil && e.TemplateID != nil {
		return *e.TemplateID
	}
	return 0
}

func (e *SequenceStep) GetDelaySeconds() uint64 {
	if e != nil && e.DelaySeconds != nil {
		return *e.DelaySeconds
	}
	return 0
}

type Sequence struct {
	ID         *uint64         `json:"id,omitempty"`
	TenantID   *uint64         `json:"tenant_id,omitempty"`
	OwnerID    *uint64         `json:"owner_id,omitempty"`
	Department *string         `json:"department,omitempty"`
	Name       *string         `json:"name,omitempty"`
	Status     SequenceStatus  `json:"status,omitempty"`
	Steps      []*SequenceStep `json:"steps,omitempty"`
	CreateTime *uint64         `json:"create_time,omitempty"`
	UpdateTime *uint64         `json:"update_time,omitempty"`
}

func (e *Sequence) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Sequence) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *Sequence) GetOwnerID() uint64 {
	if e != nil && e.OwnerID != nil {
		return *e.OwnerID
	}
	return 0
}

func (e *Sequence) GetCreatorID() uint64 {
	return e.GetOwnerID()
}

func (e *Sequence) GetDepartment() string {
	if e != nil && e.Department != nil {
		return *e.Department
	}
	return ""
}

func (e *Sequence) IsShared() bool {
	return false
}

func (e *Sequence) GetName() string {
	if e != nil && e.Name != nil {
		return *e.Name
	}
	return ""
}

func (e *Sequence) GetStatus() SequenceStatus {
	if e != nil {
		return e.Status
	}
	return SequenceStatusUnknown
}

func (e *Sequence) GetSteps() []*SequenceStep {
	if e != nil {
		return e.Steps
	}
	return nil
}

// GetStep returns the step at the given index, or nil past the end.
func (e *Sequence) GetStep(index uint32) *SequenceStep {
	for _, step := range e.GetSteps() {
		if step.GetStepIndex() == index {
			return step
		}
	}
	return nil
}

func NewSequence(tenantID uint64, owner *User, name string, steps []*SequenceStep) *Sequence {
	now := uint64(time.Now().Unix())
	for i, step := range steps {
		step.StepIndex = goutil.Uint32(uint32(i))
	}
	return &Sequence{
		TenantID:   goutil.Uint64(tenantID),
		OwnerID:    goutil.Uint64(owner.GetID()),
		Department: goutil.String(owner.GetDepartment()),
		Name:       goutil.String(name),
		Status:     SequenceStatusNormal,
		Steps:      steps,
		CreateTime: goutil.Uint64(now),
		UpdateTime: goutil.Uint64(now),
	}
}

type EnrollmentStatus uint32

const (
	EnrollmentStatusUnknown EnrollmentStatus = iota
	EnrollmentStatusActive
	EnrollmentStatusCompleted
	EnrollmentStatusCancelled
)

var enrollmentStatusNames = map[EnrollmentStatus]string{
	EnrollmentStatusActive:    "active",
	EnrollmentStatusCompleted: "completed",
	EnrollmentStatusCancelled: "cancelled",
}

func (s EnrollmentStatus) String() string {
	if name, ok := enrollmentStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// SequenceEnrollment tracks one lead's progress through a sequence.
// CurrentStepIndex is the next step to send. A lead holds at most one
// active enrollment per sequence.
type SequenceEnrollment struct {
	ID               *uint64          `json:"id,omitempty"`
	TenantID         *uint64          `json:"tenant_id,omitempty"`
	SequenceID       *uint64          `json:"sequence_id,omitempty"`
	LeadID           *uint64          `json:"lead_id,omitempty"`
	EnrollerID       *uint64          `json:"enroller_id,omitempty"`
	CurrentStepIndex *uint32          `json:"current_step_index,omitempty"`
	Status           EnrollmentStatus `json:"status,omitempty"`
	NextRunAt        *uint64          `json:"next_run_at,omitempty"`
	CreateTime       *uint64          `json:"create_time,omitempty"`
	UpdateTime       *uint64          `json:"update_time,omitempty"`
}

func (e *SequenceEnrollment) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *SequenceEnrollment) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *SequenceEnrollment) GetSequenceID() uint64 {
	if e != nil && e.SequenceID != nil {
		return *e.SequenceID
	}
	return 0
}

func (e *SequenceEnrollment) GetLeadID() uint64 {
	if e != nil && e.LeadID != nil {
		return *e.LeadID
	}
	return 0
}

func (e *SequenceEnrollment) GetEnrollerID() uint64 {
	if e != nil && e.EnrollerID != nil {
		return *e.EnrollerID
	}
	return 0
}

func (e *SequenceEnrollment) GetCurrentStepIndex() uint32 {
	if e != nil && e.CurrentStepIndex != nil {
		return *e.CurrentStepIndex
	}
	return 0
}

func (e *SequenceEnrollment) GetStatus() EnrollmentStatus {
	if e != nil {
		return e.Status
	}
	return EnrollmentStatusUnknown
}

func (e *SequenceEnrollment) GetNextRunAt() uint64 {
	if e != nil && e.NextRunAt != nil {
		return *e.NextRunAt
	}
	return 0
}

func (e *SequenceEnrollment) IsActive() bool {
	return e.GetStatus() == EnrollmentStatusActive
}

func (e *SequenceEnrollment) IsDue(now time.Time) bool {
	return e.IsActive() && e.GetNextRunAt() <= uint64(now.Unix())
}

// Cancel stops future steps. Already-sent steps stand.
func (e *SequenceEnrollment) Cancel() error {
	if !e.IsActive() {
		return errutil.InvalidStateError(fmt.Errorf("enrollment is %s, not active", e.GetStatus()))
	}
	e.Status = EnrollmentStatusCancelled
	return nil
}

func NewSequenceEnrollment(sequence *Sequence, leadID, enrollerID uint64, now time.Time) (*SequenceEnrollment, error) {
	firstStep := sequence.GetStep(0)
	if firstStep == nil {
		return nil, errutil.InvalidStateError(fmt.Errorf("sequence %v has no steps", sequence.GetID()))
	}
	nowUnix := uint64(now.Unix())
	return &SequenceEnrollment{
		TenantID:         goutil.Uint64(sequence.GetTenantID()),
		SequenceID:       goutil.Uint64(sequence.GetID()),
		LeadID:           goutil.Uint64(leadID),
		EnrollerID:       goutil.Uint64(enrollerID),
		CurrentStepIndex: goutil.Uint32(0),
		Status:           EnrollmentStatusActive,
		NextRunAt:        goutil.Uint64(nowUnix + firstStep.GetDelaySeconds()),
		CreateTime:       goutil.Uint64(nowUnix),
		UpdateTime:       goutil.Uint64(nowUnix),
	}, nil
}
