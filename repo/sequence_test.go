package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/goutil"
)

type stubBaseRepo struct {
	BaseRepo

	createErr error
	created   interface{}
}

func (r *stubBaseRepo) Create(_ context.Context, model interface{}) error {
	r.created = model
	return r.createErr
}

func activeEnrollment() *entity.SequenceEnrollment {
	return &entity.SequenceEnrollment{
		TenantID:         goutil.Uint64(1),
		SequenceID:       goutil.Uint64(50),
		LeadID:           goutil.Uint64(42),
		EnrollerID:       goutil.Uint64(3),
		CurrentStepIndex: goutil.Uint32(0),
		Status:           entity.EnrollmentStatusActive,
	}
}

func TestSequenceEnrollmentActiveKey(t *testing.T) {
	model := ToSequenceEnrollmentModel(activeEnrollment())
	require.NotNil(t, model.ActiveKey)
	assert.Equal(t, "50:42", *model.ActiveKey)

	done := activeEnrollment()
	done.Status = entity.EnrollmentStatusCompleted
	assert.Nil(t, ToSequenceEnrollmentModel(done).ActiveKey)

	cancelled := activeEnrollment()
	cancelled.Status = entity.EnrollmentStatusCancelled
	assert.Nil(t, ToSequenceEnrollmentModel(cancelled).ActiveKey)
}

func TestCreateEnrollmentDuplicateKey(t *testing.T) {
	// the unique index on active_key rejects the second of two concurrent
	// enrolls for the same sequence and lead
	base := &stubBaseRepo{createErr: gorm.ErrDuplicatedKey}
	r := NewSequenceRepo(context.Background(), base)

	_, err := r.CreateEnrollment(context.Background(), activeEnrollment())
	assert.ErrorIs(t, err, ErrDuplicateEnrollment)
}
