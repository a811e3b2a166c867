package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crm/pkg/goutil"
)

func TestCampaignTransitions(t *testing.T) {
	tests := []struct {
		from    CampaignStatus
		to      CampaignStatus
		allowed bool
	}{
		{CampaignStatusDraft, CampaignStatusScheduled, true},
		{CampaignStatusDraft, CampaignStatusSending, false},
		{CampaignStatusScheduled, CampaignStatusDraft, false},
		{CampaignStatusScheduled, CampaignStatusSending, true},
		{CampaignStatusScheduled, CampaignStatusPaused, false},
		{CampaignStatusSending, CampaignStatusPaused, true},
		{CampaignStatusSending, CampaignStatusCompleted, true},
		{CampaignStatusSending, CampaignStatusFailed, true},
		{CampaignStatusSending, CampaignStatusDraft, false},
		{CampaignStatusPaused, CampaignStatusSending, true},
		{CampaignStatusPaused, CampaignStatusDraft, false},
		{CampaignStatusCompleted, CampaignStatusSending, false},
		{CampaignStatusFailed, CampaignStatusSending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransitCampaignStatus(tt.from, tt.to))

			campaign := &Campaign{Status: tt.from}
			err := campaign.Transit(tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCampaignTerminal(t *testing.T) {
	assert.True(t, (&Campaign{Status: CampaignStatusCompleted}).IsTerminal())
	assert.True(t, (&Campaign{Status: CampaignStatusFailed}).IsTerminal())
	assert.False(t, (&Campaign{Status: CampaignStatusPaused}).IsTerminal())
}

func TestCampaignSchedule(t *testing.T) {
	campaign := NewCampaign(1, makeUser(2, RoleSalesManager, "emea"), "launch", 10, nil)
	assert.True(t, campaign.IsDraft())

	assert.NoError(t, campaign.Schedule(1_700_000_000))
	assert.Equal(t, CampaignStatusScheduled, campaign.GetStatus())
	assert.Equal(t, uint64(1_700_000_000), campaign.GetScheduleTime())

	// scheduling twice is invalid
	assert.Error(t, campaign.Schedule(1_700_000_000))
}

func TestCampaignIsDue(t *testing.T) {
	now := time.Unix(2_000_000_000, 0)

	tests := []struct {
		name     string
		campaign *Campaign
		want     bool
	}{
		{
			name:     "scheduled in the past is due",
			campaign: &Campaign{Status: CampaignStatusScheduled, ScheduleTime: goutil.Uint64(1_999_999_999)},
			want:     true,
		},
		{
			name:     "scheduled exactly now is due",
			campaign: &Campaign{Status: CampaignStatusScheduled, ScheduleTime: goutil.Uint64(2_000_000_000)},
			want:     true,
		},
		{
			name:     "scheduled in the future is not due",
			campaign: &Campaign{Status: CampaignStatusScheduled, ScheduleTime: goutil.Uint64(2_000_000_001)},
			want:     false,
		},
		{
			name:     "draft is never due",
			campaign: &Campaign{Status: CampaignStatusDraft, ScheduleTime: goutil.Uint64(1)},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.campaign.IsDue(now))
		})
	}
}

func TestAudienceFilterMatch(t *testing.T) {
	lead := &Lead{
		ID:       goutil.Uint64(42),
		Status:   LeadStatusQualified,
		Priority: LeadPriorityHot,
	}

	tests := []struct {
		name   string
		filter *AudienceFilter
		want   bool
	}{
		{
			name:   "nil filter matches everything",
			filter: nil,
			want:   true,
		},
		{
			name:   "empty filter matches everything",
			filter: &AudienceFilter{},
			want:   true,
		},
		{
			name:   "status match",
			filter: &AudienceFilter{Statuses: []uint32{uint32(LeadStatusNew), uint32(LeadStatusQualified)}},
			want:   true,
		},
		{
			name:   "status mismatch",
			filter: &AudienceFilter{Statuses: []uint32{uint32(LeadStatusLost)}},
			want:   false,
		},
		{
			name:   "priority mismatch",
			filter: &AudienceFilter{Priorities: []uint32{uint32(LeadPriorityCold)}},
			want:   false,
		},
		{
			name:   "explicit lead ids",
			filter: &AudienceFilter{LeadIDs: []uint64{41, 42}},
			want:   true,
		},
		{
			name: "criteria are conjunctive",
			filter: &AudienceFilter{
				Statuses: []uint32{uint32(LeadStatusQualified)},
				LeadIDs:  []uint64{7},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(lead))
		})
	}
}
