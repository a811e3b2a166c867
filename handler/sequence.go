package handler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
	"crm/pkg/validator"
	"crm/repo"
)

var (
	ErrSequenceNotVisible   = errutil.PermissionDeniedError(errors.New("sequence not accessible"))
	ErrEnrollmentNotOwned   = errutil.PermissionDeniedError(errors.New("enrollment not accessible"))
	ErrEnrollmentNotActive  = errutil.InvalidStateError(errors.New("enrollment is not active"))
	ErrLeadOutsideSendScope = errutil.PermissionDeniedError(errors.New("lead outside enroller scope"))
)

type SequenceHandler interface {
	CreateSequence(ctx context.Context, req *CreateSequenceRequest, res *CreateSequenceResponse) error
	GetSequences(ctx context.Context, req *GetSequencesRequest, res *GetSequencesResponse) error
	EnrollLead(ctx context.Context, req *EnrollLeadRequest, res *EnrollLeadResponse) error
	CancelEnrollment(ctx context.Context, req *CancelEnrollmentRequest, res *CancelEnrollmentResponse) error
	GetEnrollments(ctx context.Context, req *GetEnrollmentsRequest, res *GetEnrollmentsResponse) error
}

type sequenceHandler struct {
	sequenceRepo    repo.SequenceRepo
	leadRepo        repo.LeadRepo
	templateHandler TemplateHandler
}

func NewSequenceHandler(sequenceRepo repo.SequenceRepo, leadRepo repo.LeadRepo, templateHandler TemplateHandler) SequenceHandler {
	return &sequenceHandler{
		sequenceRepo,
		leadRepo,
		templateHandler,
	}
}

type SequenceStepRequest struct {
	TemplateID   *uint64 `json:"template_id,omitempty"`
	DelaySeconds *uint64 `json:"delay_seconds,omitempty"`
}

type CreateSequenceRequest struct {
	ContextInfo

	Name  *string                `json:"name,omitempty"`
	Steps []*SequenceStepRequest `json:"steps,omitempty"`
}

type CreateSequenceResponse struct {
	Sequence *entity.Sequence `json:"sequence"`
}

var CreateSequenceValidator = validator.MustForm(map[string]validator.Validator{
	"name": ResourceNameValidator(false),
	"steps": &validator.Slice{
		MinLen: 1,
		MaxLen: 20,
		Validator: validator.MustForm(map[string]validator.Validator{
			"template_id":   &validator.UInt64{},
			"delay_seconds": &validator.UInt64{Optional: true},
		}),
	},
})

func (h *sequenceHandler) CreateSequence(ctx context.Context, req *CreateSequenceRequest, res *CreateSequenceResponse) error {
	if err := CreateSequenceValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	steps := make([]*entity.SequenceStep, 0, len(req.Steps))
	for _, step := range req.Steps {
		// every step's template must be usable by the sequence owner
		if _, err := h.templateHandler.GetUsableTemplate(ctx, req.User, req.GetTenantID(), *step.TemplateID); err != nil {
			return err
		}
		delaySeconds := uint64(0)
		if step.DelaySeconds != nil {
			delaySeconds = *step.DelaySeconds
		}
		steps = append(steps, &entity.SequenceStep{
			TemplateID:   step.TemplateID,
			DelaySeconds: goutil.Uint64(delaySeconds),
		})
	}

	sequence := entity.NewSequence(req.GetTenantID(), req.User, req.GetName(), steps)

	id, err := h.sequenceRepo.Create(ctx, sequence)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("create sequence err: %v", err)
		return err
	}
	sequence.ID = goutil.Uint64(id)

	res.Sequence = sequence
	return nil
}

func (r *CreateSequenceRequest) GetName() string {
	if r != nil && r.Name != nil {
		return *r.Name
	}
	return ""
}

type GetSequencesRequest struct {
	ContextInfo

	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

type GetSequencesResponse struct {
	Sequences  []*entity.Sequence `json:"sequences"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

func (h *sequenceHandler) GetSequences(ctx context.Context, req *GetSequencesRequest, res *GetSequencesResponse) error {
	scope := entity.ResolveScope(req.User, entity.ResourceSequence)

	sequences, pagination, err := h.sequenceRepo.GetMany(ctx, req.GetTenantID(), scope, req.Pagination)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get sequences err: %v", err)
		return err
	}

	res.Sequences = sequences
	res.Pagination = pagination
	return nil
}

type EnrollLeadRequest struct {
	ContextInfo

	SequenceID *uint64 `json:"sequence_id,omitempty"`
	LeadID     *uint64 `json:"lead_id,omitempty"`
}

type EnrollLeadResponse struct {
	Enrollment *entity.SequenceEnrollment `json:"enrollment"`
}

var EnrollLeadValidator = validator.MustForm(map[string]validator.Validator{
	"sequence_id": &validator.UInt64{},
	"lead_id":     &validator.UInt64{},
})

// EnrollLead starts a lead on a sequence. The lead must be visible to the
// enroller, and a lead can hold only one active enrollment per sequence.
func (h *sequenceHandler) EnrollLead(ctx context.Context, req *EnrollLeadRequest, res *EnrollLeadResponse) error {
	if err := EnrollLeadValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	sequence, err := h.sequenceRepo.GetByID(ctx, req.GetTenantID(), *req.SequenceID)
	if err != nil {
		return err
	}

	sequenceScope := entity.ResolveScope(req.User, entity.ResourceSequence)
	if !sequenceScope.Match(sequence) {
		return ErrSequenceNotVisible
	}

	lead, err := h.leadRepo.GetByID(ctx, req.GetTenantID(), *req.LeadID)
	if err != nil {
		return err
	}

	leadScope := entity.ResolveScope(req.User, entity.ResourceLead)
	if !leadScope.Match(lead) {
		return ErrLeadOutsideSendScope
	}

	enrollment, err := entity.NewSequenceEnrollment(sequence, lead.GetID(), req.GetUserID(), time.Now())
	if err != nil {
		return err
	}

	id, err := h.sequenceRepo.CreateEnrollment(ctx, enrollment)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateEnrollment) {
			return err
		}
		log.Ctx(ctx).Error().Msgf("create enrollment err: %v", err)
		return err
	}
	enrollment.ID = goutil.Uint64(id)

	res.Enrollment = enrollment
	return nil
}

type CancelEnrollmentRequest struct {
	ContextInfo

	EnrollmentID *uint64 `json:"enrollment_id,omitempty"`
}

type CancelEnrollmentResponse struct {
	Enrollment *entity.SequenceEnrollment `json:"enrollment"`
}

var CancelEnrollmentValidator = validator.MustForm(map[string]validator.Validator{
	"enrollment_id": &validator.UInt64{},
})

// CancelEnrollment stops future steps. Steps already sent stand.
func (h *sequenceHandler) CancelEnrollment(ctx context.Context, req *CancelEnrollmentRequest, res *CancelEnrollmentResponse) error {
	if err := CancelEnrollmentValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	enrollment, err := h.sequenceRepo.GetEnrollmentByID(ctx, req.GetTenantID(), *req.EnrollmentID)
	if err != nil {
		return err
	}

	sequence, err := h.sequenceRepo.GetByID(ctx, req.GetTenantID(), enrollment.GetSequenceID())
	if err != nil {
		return err
	}

	scope := entity.ResolveScope(req.User, entity.ResourceSequence)
	if !scope.Match(sequence) {
		return ErrEnrollmentNotOwned
	}

	cancelled, err := h.sequenceRepo.CancelEnrollment(ctx, req.GetTenantID(), enrollment.GetID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("cancel enrollment err: %v", err)
		return err
	}
	if !cancelled {
		return ErrEnrollmentNotActive
	}

	enrollment.Status = entity.EnrollmentStatusCancelled
	res.Enrollment = enrollment
	return nil
}

type GetEnrollmentsRequest struct {
	ContextInfo

	SequenceID *uint64            `json:"sequence_id,omitempty" schema:"sequence_id"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

type GetEnrollmentsResponse struct {
	Enrollments []*entity.SequenceEnrollment `json:"enrollments"`
	Pagination  *entity.Pagination           `json:"pagination,omitempty"`
}

var GetEnrollmentsValidator = validator.MustForm(map[string]validator.Validator{
	"sequence_id": &validator.UInt64{},
})

func (h *sequenceHandler) GetEnrollments(ctx context.Context, req *GetEnrollmentsRequest, res *GetEnrollmentsResponse) error {
	if err := GetEnrollmentsValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	sequence, err := h.sequenceRepo.GetByID(ctx, req.GetTenantID(), *req.SequenceID)
	if err != nil {
		return err
	}

	scope := entity.ResolveScope(req.User, entity.ResourceSequence)
	if !scope.Match(sequence) {
		return ErrSequenceNotVisible
	}

	enrollments, pagination, err := h.sequenceRepo.GetEnrollments(ctx, req.GetTenantID(), sequence.GetID(), req.Pagination)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get enrollments err: %v", err)
		return err
	}

	res.Enrollments = enrollments
	res.Pagination = pagination
	return nil
}
