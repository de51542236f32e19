package coordinator

import (
	"bloodlink/pkg/types"
)

type PledgeInput struct {
	DonorID string `json:"donorId" validate:"required"`
	// OrganizationID defaults to the caller's organization.
	OrganizationID string `json:"organizationId"`
	Notes          string `json:"notes" validate:"max=500"`
}

type AdvanceInput struct {
	// Stage defaults to the stage after the current one.
	Stage  types.DonationStage `json:"stage" validate:"omitempty,oneof=screening in-progress completed ready-storage"`
	Action string              `json:"action" validate:"max=120"`
	Notes  string              `json:"notes" validate:"max=500"`
}

type LabInput struct {
	AllTestsPassed *bool  `json:"allTestsPassed" validate:"required"`
	Notes          string `json:"notes" validate:"max=500"`
}

type FinalizeInput struct {
	Notes string `json:"notes" validate:"max=500"`
}

type UnitInput struct {
	// OrganizationID defaults to the caller's organization.
	OrganizationID string           `json:"organizationId"`
	BloodGroup     types.BloodGroup `json:"bloodGroup" validate:"required,blood_group"`
	Count          int              `json:"count" validate:"omitempty,min=1,max=500"`
}

type FinalizeResult struct {
	Donation *types.Donation  `json:"donation"`
	Unit     *types.BloodUnit `json:"unit,omitempty"`
}

type ResetResult struct {
	Request       *types.Request `json:"request"`
	UnitsReleased int            `json:"unitsReleased"`
}
