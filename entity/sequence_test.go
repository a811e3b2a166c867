package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/pkg/goutil"
)

func makeSequence(delays ...uint64) *Sequence {
	steps := make([]*SequenceStep, 0, len(delays))
	for i, delay := range delays {
		steps = append(steps, &SequenceStep{
			TemplateID:   goutil.Uint64(uint64(i + 100)),
			DelaySeconds: goutil.Uint64(delay),
		})
	}
	sequence := NewSequence(1, makeUser(2, RoleSalesRep, "emea"), "followups", steps)
	sequence.ID = goutil.Uint64(50)
	return sequence
}

func TestNewSequenceAssignsStepIndexes(t *testing.T) {
	sequence := makeSequence(0, 3600, 86400)

	require.Len(t, sequence.GetSteps(), 3)
	for i, step := range sequence.GetSteps() {
		assert.Equal(t, uint32(i), step.GetStepIndex())
	}

	assert.Equal(t, uint64(101), sequence.GetStep(1).GetTemplateID())
	assert.Nil(t, sequence.GetStep(3))

	assert.Equal(t, SequenceStatusNormal, sequence.GetStatus())
	assert.Equal(t, SequenceStatusUnknown, (*Sequence)(nil).GetStatus())
}

func TestNewSequenceEnrollment(t *testing.T) {
	now := time.Unix(2_000_000_000, 0)

	t.Run("first step delay sets next run", func(t *testing.T) {
		sequence := makeSequence(600, 3600)

		enrollment, err := NewSequenceEnrollment(sequence, 42, 2, now)
		require.NoError(t, err)
		assert.Equal(t, uint64(50), enrollment.GetSequenceID())
		assert.Equal(t, uint64(42), enrollment.GetLeadID())
		assert.Equal(t, uint64(2), enrollment.GetEnrollerID())
		assert.Equal(t, uint32(0), enrollment.GetCurrentStepIndex())
		assert.Equal(t, uint64(2_000_000_600), enrollment.GetNextRunAt())
		assert.True(t, enrollment.IsActive())
	})

	t.Run("zero delay is due immediately", func(t *testing.T) {
		sequence := makeSequence(0)

		enrollment, err := NewSequenceEnrollment(sequence, 42, 2, now)
		require.NoError(t, err)
		assert.True(t, enrollment.IsDue(now))
	})

	t.Run("sequence without steps is rejected", func(t *testing.T) {
		sequence := makeSequence()

		_, err := NewSequenceEnrollment(sequence, 42, 2, now)
		assert.Error(t, err)
	})
}

func TestEnrollmentIsDue(t *testing.T) {
	now := time.Unix(2_000_000_000, 0)

	tests := []struct {
		name       string
		enrollment *SequenceEnrollment
		want       bool
	}{
		{
			name:       "active and past next run",
			enrollment: &SequenceEnrollment{Status: EnrollmentStatusActive, NextRunAt: goutil.Uint64(1_999_999_999)},
			want:       true,
		},
		{
			name:       "active but not yet due",
			enrollment: &SequenceEnrollment{Status: EnrollmentStatusActive, NextRunAt: goutil.Uint64(2_000_000_001)},
			want:       false,
		},
		{
			name:       "cancelled is never due",
			enrollment: &SequenceEnrollment{Status: EnrollmentStatusCancelled, NextRunAt: goutil.Uint64(1)},
			want:       false,
		},
		{
			name:       "completed is never due",
			enrollment: &SequenceEnrollment{Status: EnrollmentStatusCompleted, NextRunAt: goutil.Uint64(1)},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.enrollment.IsDue(now))
		})
	}
}

func TestEnrollmentCancel(t *testing.T) {
	enrollment := &SequenceEnrollment{Status: EnrollmentStatusActive}
	require.NoError(t, enrollment.Cancel())
	assert.Equal(t, EnrollmentStatusCancelled, enrollment.GetStatus())

	// only active enrollments cancel
	assert.Error(t, enrollment.Cancel())
	assert.Error(t, (&SequenceEnrollment{Status: EnrollmentStatusCompleted}).Cancel())
}
