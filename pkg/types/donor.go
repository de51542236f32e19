package types

import "time"

// Donor is owned by the identity subsystem; only LastDonationDate is written here.
type Donor struct {
	ID               string     `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	BloodGroup       BloodGroup `db:"blood_group" json:"bloodGroup"`
	LastDonationDate *time.Time `db:"last_donation_date" json:"lastDonationDate,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}
