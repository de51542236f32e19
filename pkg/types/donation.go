package types

import "time"

type DonationStage string

const (
	DonationStageNewDonor     DonationStage = "new-donor"
	DonationStageScreening    DonationStage = "screening"
	DonationStageInProgress   DonationStage = "in-progress"
	DonationStageCompleted    DonationStage = "completed"
	DonationStageReadyStorage DonationStage = "ready-storage"
)

// DonationStages lists the collection pipeline in its only legal order.
var DonationStages = []DonationStage{
	DonationStageNewDonor,
	DonationStageScreening,
	DonationStageInProgress,
	DonationStageCompleted,
	DonationStageReadyStorage,
}

// Index returns the stage's position in DonationStages, or -1.
func (s DonationStage) Index() int {
	for i, v := range DonationStages {
		if v == s {
			return i
		}
	}
	return -1
}

type DonationStatus string

const (
	DonationStatusActive    DonationStatus = "active"
	DonationStatusCompleted DonationStatus = "completed"
	DonationStatusUsed      DonationStatus = "used"
	DonationStatusStored    DonationStatus = "stored"
)

func (s DonationStatus) Terminal() bool {
	return s == DonationStatusUsed || s == DonationStatusStored
}

type Donation struct {
	ID             string         `db:"id" json:"id"`
	DonorID        string         `db:"donor_id" json:"donorId"`
	OrganizationID string         `db:"organization_id" json:"organizationId"`
	BloodGroup     BloodGroup     `db:"blood_group" json:"bloodGroup"`
	Stage          DonationStage  `db:"stage" json:"stage"`
	Status         DonationStatus `db:"status" json:"status"`

	LabTests

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	History []DonationHistoryEntry `db:"-" json:"history"`
}

type LabTests struct {
	AllTestsPassed *bool      `db:"lab_all_tests_passed" json:"allTestsPassed,omitempty"`
	TestedAt       *time.Time `db:"lab_tested_at" json:"testedAt,omitempty"`
}

// DonationHistoryEntry is one row of a donation's append-only trail.
type DonationHistoryEntry struct {
	ID          string        `db:"id" json:"-"`
	DonationID  string        `db:"donation_id" json:"-"`
	Stage       DonationStage `db:"stage" json:"stage"`
	Action      string        `db:"action" json:"action"`
	PerformedBy string        `db:"performed_by" json:"performedBy"`
	PerformedAt time.Time     `db:"performed_at" json:"performedAt"`
	Notes       *string       `db:"notes" json:"notes,omitempty"`
	Position    int           `db:"position" json:"-"`
}

// LastHistory returns the most recent history entry, if any.
func (d *Donation) LastHistory() (DonationHistoryEntry, bool) {
	if len(d.History) == 0 {
		return DonationHistoryEntry{}, false
	}
	return d.History[len(d.History)-1], true
}
