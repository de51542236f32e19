package seed

import (
	"context"
	"fmt"
	"io"

	"bloodlink/internal/inventory"
	"bloodlink/internal/store"
	"bloodlink/pkg/types"
)

type weightedGroup struct {
	Group  types.BloodGroup
	Weight int
}

// Rough population frequencies, in percent.
var weightedGroups = []weightedGroup{
	{Group: types.BloodGroupOPos, Weight: 38},
	{Group: types.BloodGroupAPos, Weight: 27},
	{Group: types.BloodGroupBPos, Weight: 15},
	{Group: types.BloodGroupONeg, Weight: 7},
	{Group: types.BloodGroupANeg, Weight: 6},
	{Group: types.BloodGroupABPos, Weight: 4},
	{Group: types.BloodGroupBNeg, Weight: 2},
	{Group: types.BloodGroupABNeg, Weight: 1},
}

// StockTargets splits total units across blood groups by frequency. Every
// group gets at least one unit.
func StockTargets(total int) map[types.BloodGroup]int {
	targets := make(map[types.BloodGroup]int, len(weightedGroups))
	for _, wg := range weightedGroups {
		targets[wg.Group] = max(1, total*wg.Weight/100)
	}
	return targets
}

// SeedUnits tops up every stock-holding demo organization to StockTargets(perOrg)
// AVAILABLE units per group. Units already issued are not counted, so a run
// after matching refills what was used.
func SeedUnits(ctx context.Context, s store.Store, ledger *inventory.Ledger, perOrg int, out io.Writer) error {
	if perOrg <= 0 {
		fmt.Fprintln(out, "Skipping unit seed because count <= 0")
		return nil
	}

	targets := StockTargets(perOrg)
	added := 0
	for _, org := range Organizations {
		if !org.Type.HoldsStock() {
			continue
		}

		err := s.WithTx(ctx, func(tx store.Tx) error {
			counts, err := ledger.CountAvailableByGroup(ctx, tx, org.ID)
			if err != nil {
				return fmt.Errorf("failed to count units for %s: %w", org.ID, err)
			}

			for _, wg := range weightedGroups {
				for range targets[wg.Group] - counts[wg.Group] {
					if _, err := ledger.AddUnit(ctx, tx, org.ID, wg.Group, nil); err != nil {
						return fmt.Errorf("failed to add %s unit for %s: %w", wg.Group, org.ID, err)
					}
					added++
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Units seeded: %d added\n", added)
	return nil
}

// All seeds organizations, donors and stock in order.
func All(ctx context.Context, s store.Store, ledger *inventory.Ledger, unitsPerOrg int, out io.Writer) error {
	if err := SeedOrganizations(ctx, s, out); err != nil {
		return err
	}
	if err := SeedDonors(ctx, s, out); err != nil {
		return err
	}
	return SeedUnits(ctx, s, ledger, unitsPerOrg, out)
}
