package coordinator

import (
	"context"
	"errors"

	"bloodlink/internal/donation"
	"bloodlink/internal/store"
	"bloodlink/pkg/types"
)

// PledgeDonation opens a donation for an eligible donor. A donor may pledge
// for themself; organization staff may pledge on a donor's behalf.
func (c *Coordinator) PledgeDonation(ctx context.Context, p types.Principal, in PledgeInput) (*types.Donation, error) {
	const op = "PledgeDonation"

	if in.OrganizationID == "" {
		in.OrganizationID = p.OrganizationID
	}
	if err := c.check(op, in); err != nil {
		return nil, err
	}
	if in.OrganizationID == "" {
		return nil, types.NewError(types.KindValidation, op, "organizationId is required")
	}
	if p.ID != in.DonorID && !actsFor(p, in.OrganizationID) {
		return nil, forbidden(op, p, "cannot pledge donor %s at organization %s", in.DonorID, in.OrganizationID)
	}

	var pledged *types.Donation
	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			pledged, err = c.donations.Pledge(ctx, tx, in.DonorID, in.OrganizationID, c.event(p, "", in.Notes))
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	c.notifyDonation(ctx, pledged, "")
	return pledged, nil
}

// AdvanceDonationStage moves a donation exactly one stage forward.
func (c *Coordinator) AdvanceDonationStage(ctx context.Context, p types.Principal, donationID string, in AdvanceInput) (*types.Donation, error) {
	const op = "AdvanceDonationStage"

	if err := c.check(op, in); err != nil {
		return nil, err
	}

	var (
		advanced *types.Donation
		from     types.DonationStage
	)
	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			d, err := c.authorizedDonation(ctx, tx, op, p, donationID)
			if err != nil {
				return err
			}
			from = d.Stage

			to := in.Stage
			if to == "" {
				next, ok := donation.NextStage(d.Stage)
				if !ok {
					return types.NewError(types.KindInvalidStateTransition, op,
						"donation %s is at final stage %s", d.ID, d.Stage)
				}
				to = next
			}

			if _, err := c.donations.AdvanceLoaded(ctx, tx, d, to, c.event(p, in.Action, in.Notes)); err != nil {
				return err
			}
			advanced = d
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.notifyDonation(ctx, advanced, from)
	return advanced, nil
}

// RecordLabResult stores a lab result; a pass on a collected donation
// completes it.
func (c *Coordinator) RecordLabResult(ctx context.Context, p types.Principal, donationID string, in LabInput) (*types.Donation, error) {
	const op = "RecordLabResult"

	if err := c.check(op, in); err != nil {
		return nil, err
	}

	var recorded *types.Donation
	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			if _, err := c.authorizedDonation(ctx, tx, op, p, donationID); err != nil {
				return err
			}
			var err error
			recorded, _, err = c.donations.RecordLabResult(ctx, tx, donationID, *in.AllTestsPassed, c.event(p, "", in.Notes))
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	c.notifyDonation(ctx, recorded, recorded.Stage)
	return recorded, nil
}

// FinalizeDonation applies the terminal outcome for the owning organization's
// type. For banks the new inventory unit is committed with the donation.
func (c *Coordinator) FinalizeDonation(ctx context.Context, p types.Principal, donationID string, in FinalizeInput) (*FinalizeResult, error) {
	const op = "FinalizeDonation"

	if err := c.check(op, in); err != nil {
		return nil, err
	}

	var result *FinalizeResult
	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			d, err := c.authorizedDonation(ctx, tx, op, p, donationID)
			if err != nil {
				return err
			}
			res, err := c.donations.FinalizeLoaded(ctx, tx, d, c.event(p, "", in.Notes))
			if err != nil {
				return err
			}
			result = &FinalizeResult{Donation: res.Donation, Unit: res.Unit}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Unit != nil {
		c.metrics.IncrementUnitsAdded(string(result.Unit.BloodGroup), "donation")
	}
	c.notifyDonation(ctx, result.Donation, result.Donation.Stage)
	return result, nil
}

// authorizedDonation loads a donation and checks p acts for its organization.
func (c *Coordinator) authorizedDonation(ctx context.Context, tx store.Tx, op string, p types.Principal, donationID string) (*types.Donation, error) {
	d, err := tx.Donation(ctx, donationID)
	if errors.Is(err, types.ErrDonationNotFound) {
		return nil, types.WrapError(types.KindNotFound, op, err, "donation %s", donationID)
	}
	if err != nil {
		return nil, err
	}
	if !actsFor(p, d.OrganizationID) {
		return nil, forbidden(op, p, "donation %s belongs to organization %s", d.ID, d.OrganizationID)
	}
	return d, nil
}

func (c *Coordinator) event(p types.Principal, action, notes string) donation.Event {
	return donation.Event{By: p.ID, At: c.now(), Action: action, Notes: notes}
}
