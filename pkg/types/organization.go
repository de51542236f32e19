package types

import "time"

type OrganizationType string

const (
	OrganizationTypeHospital OrganizationType = "HOSPITAL"
	OrganizationTypeBank     OrganizationType = "BANK"
	OrganizationTypeBoth     OrganizationType = "BOTH"
)

// HoldsStock reports whether organizations of this type may own blood units.
func (t OrganizationType) HoldsStock() bool {
	return t == OrganizationTypeBank || t == OrganizationTypeBoth
}

func (t OrganizationType) Valid() bool {
	switch t {
	case OrganizationTypeHospital, OrganizationTypeBank, OrganizationTypeBoth:
		return true
	}
	return false
}

type Organization struct {
	ID   string           `db:"id" json:"id"`
	Name string           `db:"name" json:"name" validate:"required"`
	Type OrganizationType `db:"type" json:"type" validate:"required,oneof=HOSPITAL BANK BOTH"`

	Location

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Location is a geo point plus a free-form address.
type Location struct {
	Latitude  float64 `db:"latitude" json:"latitude" form:"lat" validate:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude" form:"lng" validate:"longitude"`
	Address   string  `db:"address" json:"address,omitempty" form:"address"`
}
