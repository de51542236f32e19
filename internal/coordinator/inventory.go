package coordinator

import (
	"context"
	"errors"

	"bloodlink/internal/store"
	"bloodlink/pkg/types"
)

// GetInventorySnapshot returns the AVAILABLE count per blood group for an
// organization. organizationID defaults to the caller's organization.
func (c *Coordinator) GetInventorySnapshot(ctx context.Context, p types.Principal, organizationID string) (*types.InventorySnapshot, error) {
	const op = "GetInventorySnapshot"

	if organizationID == "" {
		organizationID = p.OrganizationID
	}
	if !actsFor(p, organizationID) {
		return nil, forbidden(op, p, "cannot read inventory of organization %s", organizationID)
	}

	var snapshot *types.InventorySnapshot
	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			if _, err := tx.Organization(ctx, organizationID); err != nil {
				if errors.Is(err, types.ErrOrganizationNotFound) {
					return types.WrapError(types.KindNotFound, op, err, "organization %s", organizationID)
				}
				return err
			}
			var err error
			snapshot, err = c.ledger.Snapshot(ctx, tx, organizationID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// AddUnit records manual stock intake, outside of a donation.
func (c *Coordinator) AddUnit(ctx context.Context, p types.Principal, in UnitInput) ([]*types.BloodUnit, error) {
	const op = "AddUnit"

	if in.OrganizationID == "" {
		in.OrganizationID = p.OrganizationID
	}
	if in.Count == 0 {
		in.Count = 1
	}
	if err := c.check(op, in); err != nil {
		return nil, err
	}
	if !actsFor(p, in.OrganizationID) {
		return nil, forbidden(op, p, "cannot add units for organization %s", in.OrganizationID)
	}

	var units []*types.BloodUnit
	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			units = make([]*types.BloodUnit, 0, in.Count)
			for range in.Count {
				unit, err := c.ledger.AddUnit(ctx, tx, in.OrganizationID, in.BloodGroup, nil)
				if err != nil {
					return err
				}
				units = append(units, unit)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	for range units {
		c.metrics.IncrementUnitsAdded(string(in.BloodGroup), "intake")
	}
	return units, nil
}
