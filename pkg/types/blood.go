package types

import "time"

type BloodGroup string

const (
	BloodGroupAPos  BloodGroup = "A+"
	BloodGroupANeg  BloodGroup = "A-"
	BloodGroupBPos  BloodGroup = "B+"
	BloodGroupBNeg  BloodGroup = "B-"
	BloodGroupABPos BloodGroup = "AB+"
	BloodGroupABNeg BloodGroup = "AB-"
	BloodGroupOPos  BloodGroup = "O+"
	BloodGroupONeg  BloodGroup = "O-"
)

var AllBloodGroups = []BloodGroup{
	BloodGroupAPos, BloodGroupANeg,
	BloodGroupBPos, BloodGroupBNeg,
	BloodGroupABPos, BloodGroupABNeg,
	BloodGroupOPos, BloodGroupONeg,
}

func (g BloodGroup) Valid() bool {
	for _, v := range AllBloodGroups {
		if g == v {
			return true
		}
	}
	return false
}

type UnitStatus string

const (
	UnitStatusAvailable UnitStatus = "AVAILABLE"
	UnitStatusIssued    UnitStatus = "ISSUED"
)

// BloodUnit is one discrete bag of blood held by a bank.
type BloodUnit struct {
	ID             string     `db:"id" json:"id"`
	OrganizationID string     `db:"organization_id" json:"organizationId"`
	BloodGroup     BloodGroup `db:"blood_group" json:"bloodGroup"`
	Status         UnitStatus `db:"status" json:"status"`
	DonationID     *string    `db:"donation_id" json:"donationId,omitempty"`
	RequestID      *string    `db:"request_id" json:"requestId,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	IssuedAt       *time.Time `db:"issued_at" json:"issuedAt,omitempty"`
}

// UnitOwnerMismatch pairs a unit with the organization of the donation that
// produced it when the two disagree.
type UnitOwnerMismatch struct {
	UnitID                 string `db:"unit_id"`
	UnitOrganizationID     string `db:"unit_organization_id"`
	DonationID             string `db:"donation_id"`
	DonationOrganizationID string `db:"donation_organization_id"`
}

// InventorySnapshot is the AVAILABLE count per blood group for one organization.
type InventorySnapshot struct {
	OrganizationID string             `json:"organizationId"`
	Counts         map[BloodGroup]int `json:"counts"`
	TakenAt        time.Time          `json:"takenAt"`
}

func (s *InventorySnapshot) Total() int {
	var total int
	for _, c := range s.Counts {
		total += c
	}
	return total
}
