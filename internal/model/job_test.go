package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusProcessing, true},
		{JobStatusFailed, JobStatusProcessing, true},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusCompleted, JobStatusFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestModuleState_Done(t *testing.T) {
	assert.True(t, ModuleState{Status: JobStatusCompleted}.Done(true))
	assert.True(t, ModuleState{Status: JobStatusFailed}.Done(false))
	assert.False(t, ModuleState{Status: JobStatusFailed}.Done(true))
	assert.False(t, ModuleState{Status: JobStatusProcessing}.Done(false))
}

func TestNewJob_RoundTripsTrigger(t *testing.T) {
	tr := Trigger{
		CompanyID:   "c1",
		JobID:       "j1",
		BusinessID:  "1234567-8",
		CompanyName: "Acme Oy",
		UserID:      "u1",
		Config:      JobConfig{Locale: "fi"},
	}
	job := NewJob(tr, time.Unix(0, 0))
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, tr, job.Trigger())
	assert.NotNil(t, job.ModuleStatus)
}

func TestParseConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ParseConfidence(" high "))
	assert.Equal(t, ConfidenceMedium, ParseConfidence("Medium"))
	assert.Equal(t, ConfidenceLow, ParseConfidence("LOW"))
	assert.Equal(t, Confidence(""), ParseConfidence("certain"))
	assert.Greater(t, ConfidenceHigh.Rank(), ConfidenceLow.Rank())
}

func TestModuleName_Valid(t *testing.T) {
	assert.True(t, ModuleBasicInfo.Valid())
	assert.False(t, ModuleName("horoscope").Valid())
}

func TestModuleName_Mandatory(t *testing.T) {
	assert.True(t, ModuleBasicInfo.Mandatory())
	assert.True(t, ModuleFinancialData.Mandatory())
	assert.False(t, ModuleRegistryFinancials.Mandatory())
	assert.False(t, ModuleMarketTrends.Mandatory())
}
