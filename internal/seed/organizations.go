package seed

import (
	"context"
	"errors"
	"fmt"
	"io"

	"bloodlink/internal/store"
	"bloodlink/pkg/types"
)

// Organizations is the fixed set of demo organizations. IDs are stable so a
// second seed run finds and skips them.
//
// To generate new IDs: `go run ./cmd/bloodlink nanoid --prefix org`
var Organizations = []types.Organization{
	{
		ID:       "org_Zq3vN8kT1mWb6YxR0pLc4HsJ",
		Name:     "Central Blood Bank",
		Type:     types.OrganizationTypeBank,
		Location: types.Location{Latitude: 6.4541, Longitude: 3.3947, Address: "12 Marina Road"},
	},
	{
		ID:       "org_p7GfK2sD9qLw4XnB1tVh8RcM",
		Name:     "Lakeside Teaching Hospital",
		Type:     types.OrganizationTypeBoth,
		Location: types.Location{Latitude: 6.5095, Longitude: 3.3711, Address: "1 Lakeside Avenue"},
	},
	{
		ID:       "org_Hd5mQ0wE3rTy7UiO2aSz6XcV",
		Name:     "St. Mary Clinic",
		Type:     types.OrganizationTypeHospital,
		Location: types.Location{Latitude: 6.6018, Longitude: 3.3515, Address: "40 Church Street"},
	},
	{
		ID:       "org_bN4jK8lP1zXc5VmQ9wEr2TyU",
		Name:     "Northern Regional Blood Service",
		Type:     types.OrganizationTypeBank,
		Location: types.Location{Latitude: 7.3775, Longitude: 3.9470, Address: "Ring Road"},
	},
}

// SeedOrganizations creates the demo organizations that do not exist yet.
func SeedOrganizations(ctx context.Context, s store.Store, out io.Writer) error {
	created := 0
	err := s.WithTx(ctx, func(tx store.Tx) error {
		for _, org := range Organizations {
			_, err := tx.Organization(ctx, org.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, types.ErrOrganizationNotFound) {
				return fmt.Errorf("failed to fetch organization %s: %w", org.ID, err)
			}

			if err := tx.CreateOrganization(ctx, &org); err != nil {
				return fmt.Errorf("failed to create organization %s: %w", org.ID, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Organizations seeded: %d created, %d already present\n", created, len(Organizations)-created)
	return nil
}
