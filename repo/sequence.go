package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
)

var (
	ErrSequenceNotFound    = errutil.NotFoundError(errors.New("sequence not found"))
	ErrEnrollmentNotFound  = errutil.NotFoundError(errors.New("enrollment not found"))
	ErrDuplicateEnrollment = errutil.DuplicateEnrollmentError(errors.New("lead already enrolled in sequence"))
)

type Sequence struct {
	ID         *uint64
	TenantID   *uint64
	OwnerID    *uint64
	Department *string
	Name       *string
	Status     *uint32
	CreateTime *uint64
	UpdateTime *uint64
}

func (m *Sequence) TableName() string {
	return "sequence_tab"
}

func (m *Sequence) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type SequenceStep struct {
	ID           *uint64
	SequenceID   *uint64
	StepIndex    *uint32
	TemplateID   *uint64
	DelaySeconds *uint64
}

func (m *SequenceStep) TableName() string {
	return "sequence_step_tab"
}

type SequenceEnrollment struct {
	ID               *uint64
	TenantID         *uint64
	SequenceID       *uint64
	LeadID           *uint64
	EnrollerID       *uint64
	CurrentStepIndex *uint32
	Status           *uint32
	// ActiveKey is "sequence_id:lead_id" while the enrollment is active and
	// NULL afterwards. A unique index on it keeps one active enrollment per
	// pair while letting a lead re-enroll after completion or cancel.
	ActiveKey  *string
	NextRunAt  *uint64
	CreateTime *uint64
	UpdateTime *uint64
}

func (m *SequenceEnrollment) TableName() string {
	return "sequence_enrollment_tab"
}

func (m *SequenceEnrollment) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type SequenceRepo interface {
	Create(ctx context.Context, sequence *entity.Sequence) (uint64, error)
	GetByID(ctx context.Context, tenantID, id uint64) (*entity.Sequence, error)
	GetMany(ctx context.Context, tenantID uint64, scope entity.Scope, p *entity.Pagination) ([]*entity.Sequence, *entity.Pagination, error)

	// CreateEnrollment enforces at most one active enrollment per
	// (sequence, lead). Re-enrolling after completion or cancellation is
	// allowed.
	CreateEnrollment(ctx context.Context, enrollment *entity.SequenceEnrollment) (uint64, error)
	GetEnrollmentByID(ctx context.Context, tenantID, id uint64) (*entity.SequenceEnrollment, error)
	GetEnrollments(ctx context.Context, tenantID, sequenceID uint64, p *entity.Pagination) ([]*entity.SequenceEnrollment, *entity.Pagination, error)
	GetDueEnrollments(ctx context.Context, now time.Time, limit uint32) ([]*entity.SequenceEnrollment, error)
	// AdvanceEnrollment is the compare-and-set step claim: it moves the
	// enrollment past fromStepIndex only if no other worker already has.
	AdvanceEnrollment(ctx context.Context, enrollment *entity.SequenceEnrollment, fromStepIndex uint32, toStatus entity.EnrollmentStatus, nextRunAt uint64) (bool, error)
	CancelEnrollment(ctx context.Context, tenantID, id uint64) (bool, error)
}

type sequenceRepo struct {
	baseRepo BaseRepo
}

func NewSequenceRepo(_ context.Context, baseRepo BaseRepo) SequenceRepo {
	return &sequenceRepo{baseRepo: baseRepo}
}

func (r *sequenceRepo) Create(ctx context.Context, sequence *entity.Sequence) (uint64, error) {
	sequenceModel := ToSequenceModel(sequence)

	if err := r.baseRepo.RunTx(ctx, func(ctx context.Context) error {
		if err := r.baseRepo.Create(ctx, sequenceModel); err != nil {
			return err
		}

		stepModels := make([]*SequenceStep, 0, len(sequence.GetSteps()))
		for _, step := range sequence.GetSteps() {
			stepModels = append(stepModels, &SequenceStep{
				SequenceID:   sequenceModel.ID,
				StepIndex:    step.StepIndex,
				TemplateID:   step.TemplateID,
				DelaySeconds: step.DelaySeconds,
			})
		}
		return r.baseRepo.CreateMany(ctx, new(SequenceStep), stepModels)
	}); err != nil {
		return 0, err
	}

	return sequenceModel.GetID(), nil
}

func (r *sequenceRepo) GetByID(ctx context.Context, tenantID, id uint64) (*entity.Sequence, error) {
	sequence := new(Sequence)

	if err := r.baseRepo.Get(ctx, sequence, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq, NextLogicalOp: And},
			{Field: "status", Value: uint32(entity.SequenceStatusNormal), Op: OpEq},
		},
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSequenceNotFound
		}
		return nil, err
	}

	steps, err := r.getSteps(ctx, sequence.GetID())
	if err != nil {
		return nil, err
	}

	return ToSequence(sequence, steps), nil
}

func (r *sequenceRepo) GetMany(ctx context.Context, tenantID uint64, scope entity.Scope, p *entity.Pagination) ([]*entity.Sequence, *entity.Pagination, error) {
	conditions := []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
	}
	conditions = appendScoped(conditions, scope)
	conditions = append(conditions, &Condition{Field: "status", Value: uint32(entity.SequenceStatusNormal), Op: OpEq})

	res, p, err := r.baseRepo.GetMany(ctx, new(Sequence), &Filter{
		Conditions: conditions,
		Pagination: p,
	})
	if err != nil {
		return nil, nil, err
	}

	sequences := make([]*entity.Sequence, 0, len(res))
	for _, m := range res {
		sequenceModel := m.(*Sequence)
		steps, err := r.getSteps(ctx, sequenceModel.GetID())
		if err != nil {
			return nil, nil, err
		}
		sequences = append(sequences, ToSequence(sequenceModel, steps))
	}

	return sequences, p, nil
}

func (r *sequenceRepo) getSteps(ctx context.Context, sequenceID uint64) ([]*SequenceStep, error) {
	res, _, err := r.baseRepo.GetMany(ctx, new(SequenceStep), &Filter{
		Conditions: []*Condition{
			{Field: "sequence_id", Value: sequenceID, Op: OpEq},
		},
	})
	if err != nil {
		return nil, err
	}

	steps := make([]*SequenceStep, 0, len(res))
	for _, m := range res {
		steps = append(steps, m.(*SequenceStep))
	}
	return steps, nil
}

// CreateEnrollment inserts against the unique active_key index, so two
// concurrent enrolls for the same sequence and lead cannot both land.
func (r *sequenceRepo) CreateEnrollment(ctx context.Context, enrollment *entity.SequenceEnrollment) (uint64, error) {
	enrollmentModel := ToSequenceEnrollmentModel(enrollment)

	if err := r.baseRepo.Create(ctx, enrollmentModel); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrDuplicateEnrollment
		}
		return 0, err
	}

	return enrollmentModel.GetID(), nil
}

func (r *sequenceRepo) GetEnrollmentByID(ctx context.Context, tenantID, id uint64) (*entity.SequenceEnrollment, error) {
	enrollment := new(SequenceEnrollment)

	if err := r.baseRepo.Get(ctx, enrollment, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq},
		},
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}

	return ToSequenceEnrollment(enrollment), nil
}

func (r *sequenceRepo) GetEnrollments(ctx context.Context, tenantID, sequenceID uint64, p *entity.Pagination) ([]*entity.SequenceEnrollment, *entity.Pagination, error) {
	res, p, err := r.baseRepo.GetMany(ctx, new(SequenceEnrollment), &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "sequence_id", Value: sequenceID, Op: OpEq},
		},
		Pagination: p,
	})
	if err != nil {
		return nil, nil, err
	}

	enrollments := make([]*entity.SequenceEnrollment, 0, len(res))
	for _, m := range res {
		enrollments = append(enrollments, ToSequenceEnrollment(m.(*SequenceEnrollment)))
	}

	return enrollments, p, nil
}

func (r *sequenceRepo) GetDueEnrollments(ctx context.Context, now time.Time, limit uint32) ([]*entity.SequenceEnrollment, error) {
	res, _, err := r.baseRepo.GetMany(ctx, new(SequenceEnrollment), &Filter{
		Conditions: []*Condition{
			{Field: "status", Value: uint32(entity.EnrollmentStatusActive), Op: OpEq, NextLogicalOp: And},
			{Field: "next_run_at", Value: uint64(now.Unix()), Op: OpLte},
		},
		Pagination: &entity.Pagination{Limit: goutil.Uint32(limit)},
	})
	if err != nil {
		return nil, err
	}

	enrollments := make([]*entity.SequenceEnrollment, 0, len(res))
	for _, m := range res {
		enrollments = append(enrollments, ToSequenceEnrollment(m.(*SequenceEnrollment)))
	}

	return enrollments, nil
}

func (r *sequenceRepo) AdvanceEnrollment(ctx context.Context, enrollment *entity.SequenceEnrollment, fromStepIndex uint32, toStatus entity.EnrollmentStatus, nextRunAt uint64) (bool, error) {
	values := map[string]interface{}{
		"current_step_index": fromStepIndex + 1,
		"status":             uint32(toStatus),
		"next_run_at":        nextRunAt,
		"update_time":        time.Now().Unix(),
	}
	if toStatus != entity.EnrollmentStatusActive {
		values["active_key"] = nil
	}

	rows, err := r.baseRepo.UpdateWhere(ctx, new(SequenceEnrollment), values, &Filter{
		Conditions: []*Condition{
			{Field: "id", Value: enrollment.GetID(), Op: OpEq, NextLogicalOp: And},
			{Field: "current_step_index", Value: fromStepIndex, Op: OpEq, NextLogicalOp: And},
			{Field: "status", Value: uint32(entity.EnrollmentStatusActive), Op: OpEq},
		},
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *sequenceRepo) CancelEnrollment(ctx context.Context, tenantID, id uint64) (bool, error) {
	rows, err := r.baseRepo.UpdateWhere(ctx, new(SequenceEnrollment), map[string]interface{}{
		"status":      uint32(entity.EnrollmentStatusCancelled),
		"active_key":  nil,
		"update_time": time.Now().Unix(),
	}, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq, NextLogicalOp: And},
			{Field: "status", Value: uint32(entity.EnrollmentStatusActive), Op: OpEq},
		},
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func ToSequence(m *Sequence, stepModels []*SequenceStep) *entity.Sequence {
	var status entity.SequenceStatus
	if m.Status != nil {
		status = entity.SequenceStatus(*m.Status)
	}

	steps := make([]*entity.SequenceStep, 0, len(stepModels))
	for _, stepModel := range stepModels {
		steps = append(steps, &entity.SequenceStep{
			ID:           stepModel.ID,
			SequenceID:   stepModel.SequenceID,
			StepIndex:    stepModel.StepIndex,
			TemplateID:   stepModel.TemplateID,
			DelaySeconds: stepModel.DelaySeconds,
		})
	}

	return &entity.Sequence{
		ID:         m.ID,
		TenantID:   m.TenantID,
		OwnerID:    m.OwnerID,
		Department: m.Department,
		Name:       m.Name,
		Status:     status,
		Steps:      steps,
		CreateTime: m.CreateTime,
		UpdateTime: m.UpdateTime,
	}
}

func ToSequenceModel(e *entity.Sequence) *Sequence {
	return &Sequence{
		ID:         e.ID,
		TenantID:   e.TenantID,
		OwnerID:    e.OwnerID,
		Department: e.Department,
		Name:       e.Name,
		Status:     goutil.Uint32(uint32(e.GetStatus())),
		CreateTime: e.CreateTime,
		UpdateTime: e.UpdateTime,
	}
}

func ToSequenceEnrollment(m *SequenceEnrollment) *entity.SequenceEnrollment {
	var status entity.EnrollmentStatus
	if m.Status != nil {
		status = entity.EnrollmentStatus(*m.Status)
	}
	return &entity.SequenceEnrollment{
		ID:               m.ID,
		TenantID:         m.TenantID,
		SequenceID:       m.SequenceID,
		LeadID:           m.LeadID,
		EnrollerID:       m.EnrollerID,
		CurrentStepIndex: m.CurrentStepIndex,
		Status:           status,
		NextRunAt:        m.NextRunAt,
		CreateTime:       m.CreateTime,
		UpdateTime:       m.UpdateTime,
	}
}

func ToSequenceEnrollmentModel(e *entity.SequenceEnrollment) *SequenceEnrollment {
	m := &SequenceEnrollment{
		ID:               e.ID,
		TenantID:         e.TenantID,
		SequenceID:       e.SequenceID,
		LeadID:           e.LeadID,
		EnrollerID:       e.EnrollerID,
		CurrentStepIndex: e.CurrentStepIndex,
		Status:           goutil.Uint32(uint32(e.GetStatus())),
		NextRunAt:        e.NextRunAt,
		CreateTime:       e.CreateTime,
		UpdateTime:       e.UpdateTime,
	}
	if e.GetStatus() == entity.EnrollmentStatusActive {
		m.ActiveKey = goutil.String(fmt.Sprintf("%d:%d", e.GetSequenceID(), e.GetLeadID()))
	}
	return m
}
