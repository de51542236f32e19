package seed

import (
	"context"
	"errors"
	"fmt"
	"io"

	"bloodlink/internal/store"
	"bloodlink/pkg/types"
)

var Donors = []types.Donor{
	{ID: "dnr_d1Fq8ZrT5kLm2NwX7cVb0HsA", Name: "Ava Williams", BloodGroup: types.BloodGroupOPos},
	{ID: "dnr_d2Gh3JkL9pQw4ErT6yUi1OzX", Name: "Liam Johnson", BloodGroup: types.BloodGroupANeg},
	{ID: "dnr_d3Mn5BvC2xZa8SdF0gHj7KlQ", Name: "Noah Brown", BloodGroup: types.BloodGroupBPos},
	{ID: "dnr_d4Rt6YuI1oPa3SdF9gHj2KlZ", Name: "Mia Davis", BloodGroup: types.BloodGroupABPos},
	{ID: "dnr_d5Xc7VbN4mQw0ErT2yUi8OpL", Name: "Elijah Garcia", BloodGroup: types.BloodGroupONeg},
	{ID: "dnr_d6Lk9JhG3fDs1ApO5iUy7TrE", Name: "Olivia Miller", BloodGroup: types.BloodGroupAPos},
}

// SeedDonors creates the demo donors that do not exist yet. Existing donors
// keep their donation history.
func SeedDonors(ctx context.Context, s store.Store, out io.Writer) error {
	created := 0
	err := s.WithTx(ctx, func(tx store.Tx) error {
		for _, donor := range Donors {
			_, err := tx.Donor(ctx, donor.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, types.ErrDonorNotFound) {
				return fmt.Errorf("failed to fetch donor %s: %w", donor.ID, err)
			}

			if err := tx.CreateDonor(ctx, &donor); err != nil {
				return fmt.Errorf("failed to create donor %s: %w", donor.ID, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Donors seeded: %d created\n", created)
	return nil
}
