package donation

import (
	"testing"
	"time"

	"bloodlink/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDonation() *types.Donation {
	d := &types.Donation{
		ID:             "don_1",
		OrganizationID: "org_1",
		Stage:          types.DonationStageNewDonor,
		Status:         types.DonationStatusActive,
	}
	appendEntry(d, ActionPledged, Event{By: "donor", At: time.Now()})
	return d
}

func lastStage(t *testing.T, d *types.Donation) types.DonationStage {
	t.Helper()
	last, ok := d.LastHistory()
	require.True(t, ok)
	return last.Stage
}

func TestAdvanceForwardOnly(t *testing.T) {
	d := newDonation()
	ev := Event{By: "staff", At: time.Now()}

	for _, stage := range types.DonationStages[1:] {
		entry, err := Advance(d, stage, ev)
		require.NoError(t, err)
		assert.Equal(t, stage, entry.Stage)
		assert.Equal(t, stage, lastStage(t, d))
	}
	assert.Len(t, d.History, len(types.DonationStages))

	_, err := Advance(d, types.DonationStageReadyStorage, ev)
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
	assert.Len(t, d.History, len(types.DonationStages))
}

func TestAdvanceRejectsSkipsAndBackwardMoves(t *testing.T) {
	tests := []struct {
		name string
		from types.DonationStage
		to   types.DonationStage
	}{
		{"skip", types.DonationStageNewDonor, types.DonationStageInProgress},
		{"repeat", types.DonationStageScreening, types.DonationStageScreening},
		{"backward", types.DonationStageCompleted, types.DonationStageScreening},
		{"unknown", types.DonationStageNewDonor, types.DonationStage("frozen")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDonation()
			d.Stage = tt.from
			before := len(d.History)

			_, err := Advance(d, tt.to, Event{At: time.Now()})
			assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
			assert.Equal(t, tt.from, d.Stage)
			assert.Len(t, d.History, before)
		})
	}
}

func TestAdvanceRejectsTerminalDonation(t *testing.T) {
	d := newDonation()
	d.Stage = types.DonationStageCompleted
	d.Status = types.DonationStatusUsed

	_, err := Advance(d, types.DonationStageReadyStorage, Event{At: time.Now()})
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestRecordLab(t *testing.T) {
	t.Run("pass at completed moves status", func(t *testing.T) {
		d := newDonation()
		d.Stage = types.DonationStageCompleted

		entry, err := RecordLab(d, true, Event{At: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, types.DonationStatusCompleted, d.Status)
		assert.Equal(t, ActionLabPassed, entry.Action)
		require.NotNil(t, d.AllTestsPassed)
		assert.True(t, *d.AllTestsPassed)
	})

	t.Run("failure keeps donation active", func(t *testing.T) {
		d := newDonation()
		d.Stage = types.DonationStageCompleted

		entry, err := RecordLab(d, false, Event{At: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, types.DonationStatusActive, d.Status)
		assert.Equal(t, ActionLabFailed, entry.Action)
	})

	t.Run("too early", func(t *testing.T) {
		d := newDonation()
		d.Stage = types.DonationStageInProgress

		_, err := RecordLab(d, true, Event{At: time.Now()})
		assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
	})
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name       string
		orgType    types.OrganizationType
		stage      types.DonationStage
		status     types.DonationStatus
		wantStatus types.DonationStatus
		wantAction string
		wantUnit   bool
		wantKind   types.ErrorKind
	}{
		{
			name:       "hospital uses blood",
			orgType:    types.OrganizationTypeHospital,
			stage:      types.DonationStageCompleted,
			status:     types.DonationStatusCompleted,
			wantStatus: types.DonationStatusUsed,
			wantAction: ActionUsedOnPatient,
		},
		{
			name:       "bank stores blood",
			orgType:    types.OrganizationTypeBank,
			stage:      types.DonationStageReadyStorage,
			status:     types.DonationStatusCompleted,
			wantStatus: types.DonationStatusStored,
			wantAction: ActionAddedToStock,
			wantUnit:   true,
		},
		{
			name:       "both behaves like a bank",
			orgType:    types.OrganizationTypeBoth,
			stage:      types.DonationStageReadyStorage,
			status:     types.DonationStatusCompleted,
			wantStatus: types.DonationStatusStored,
			wantAction: ActionAddedToStock,
			wantUnit:   true,
		},
		{
			name:     "bank needs ready-storage",
			orgType:  types.OrganizationTypeBank,
			stage:    types.DonationStageCompleted,
			status:   types.DonationStatusCompleted,
			wantKind: types.KindInvalidStateTransition,
		},
		{
			name:     "still active",
			orgType:  types.OrganizationTypeHospital,
			stage:    types.DonationStageCompleted,
			status:   types.DonationStatusActive,
			wantKind: types.KindInvalidStateTransition,
		},
		{
			name:     "already terminal",
			orgType:  types.OrganizationTypeHospital,
			stage:    types.DonationStageCompleted,
			status:   types.DonationStatusUsed,
			wantKind: types.KindInvalidStateTransition,
		},
		{
			name:     "unknown organization type",
			orgType:  types.OrganizationType("CLINIC"),
			stage:    types.DonationStageCompleted,
			status:   types.DonationStatusCompleted,
			wantKind: types.KindReferentialIntegrity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDonation()
			d.Stage = tt.stage
			d.Status = tt.status
			before := len(d.History)

			outcome, entry, err := Finalize(d, tt.orgType, Event{By: "staff", At: time.Now()})
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, types.KindOf(err))
				assert.Equal(t, tt.status, d.Status)
				assert.Len(t, d.History, before)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.wantAction, entry.Action)
			assert.Equal(t, tt.wantUnit, outcome.CreatesUnit)
			assert.Len(t, d.History, before+1)
			assert.Equal(t, d.Stage, lastStage(t, d))
		})
	}
}

func TestCollectedAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fallback := base.Add(72 * time.Hour)

	d := newDonation()
	assert.Equal(t, fallback, CollectedAt(d, fallback))

	tested := base.Add(2 * time.Hour)
	d.TestedAt = &tested
	assert.Equal(t, tested, CollectedAt(d, fallback))

	for i, stage := range types.DonationStages[1:] {
		_, err := Advance(d, stage, Event{By: "staff", At: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	// completed is the third advance; ready-storage comes a minute later
	assert.Equal(t, base.Add(2*time.Minute), CollectedAt(d, fallback))
}
