package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bloodlink/internal/donation"
	"bloodlink/internal/store"
	"bloodlink/internal/utils"
	"bloodlink/pkg/types"
)

// errSkip leaves an entity untouched after a violation has been noted.
var errSkip = errors.New("skip")

func (r *Reconciler) stuckDonations(ctx context.Context, report *Report) error {
	cutoff := r.now().Add(-r.grace)

	var stuck []*types.Donation
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		candidates, err := tx.CompletedDonationsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, d := range candidates {
			if d.Stage == types.DonationStageCompleted || d.Stage == types.DonationStageReadyStorage {
				stuck = append(stuck, d)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list stuck donations: %w", err)
	}
	report.Examined = len(stuck)

	for _, observed := range stuck {
		var (
			changes []Change
			reason  string
		)
		err := r.store.WithTx(ctx, func(tx store.Tx) error {
			d, err := tx.Donation(ctx, observed.ID)
			if err != nil {
				return err
			}
			if d.Version != observed.Version {
				return types.NewError(types.KindConcurrentModification, "reconcile.stuckDonations",
					"donation %s moved to version %d", d.ID, d.Version)
			}

			org, err := tx.Organization(ctx, d.OrganizationID)
			if errors.Is(err, types.ErrOrganizationNotFound) {
				reason = fmt.Sprintf("organization %s does not exist", d.OrganizationID)
				return errSkip
			}
			if err != nil {
				return err
			}
			outcome, known := donation.TerminalOutcomes[org.Type]
			if !known {
				reason = fmt.Sprintf("organization %s has unknown type %q", org.ID, org.Type)
				return errSkip
			}

			ev := donation.Event{
				By:    Performer,
				At:    r.now(),
				Notes: fmt.Sprintf("completed for longer than %s", r.grace),
			}

			if outcome.RequiredStage != "" && d.Stage != outcome.RequiredStage {
				from := d.Stage
				if _, err := r.finalizer.AdvanceLoaded(ctx, tx, d, outcome.RequiredStage, ev); err != nil {
					return err
				}
				changes = append(changes, Change{EntityID: d.ID, Field: "stage", Before: string(from), After: string(d.Stage)})
			}

			existing, err := tx.UnitsByDonation(ctx, d.ID)
			if err != nil {
				return err
			}

			from := d.Status
			result, err := r.finalizer.FinalizeLoaded(ctx, tx, d, ev)
			if err != nil {
				return err
			}
			changes = append(changes, Change{EntityID: d.ID, Field: "status", Before: string(from), After: string(d.Status)})
			if result.Unit != nil && len(existing) == 0 {
				changes = append(changes, Change{EntityID: d.ID, Field: "unit", After: result.Unit.ID})
			}
			return nil
		})
		if errors.Is(err, errSkip) {
			r.violation(report, observed.ID, "%s", reason)
			continue
		}
		if err := r.settle(report, observed.ID, changes, err); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reconciler) unitOwners(ctx context.Context, report *Report) error {
	var mismatches []*types.UnitOwnerMismatch
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		mismatches, err = tx.UnitOwnerMismatches(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list unit owner mismatches: %w", err)
	}
	report.Examined = len(mismatches)

	for _, m := range mismatches {
		var (
			changes []Change
			reason  string
		)
		err := r.store.WithTx(ctx, func(tx store.Tx) error {
			org, err := tx.Organization(ctx, m.DonationOrganizationID)
			if errors.Is(err, types.ErrOrganizationNotFound) {
				reason = fmt.Sprintf("donation %s belongs to missing organization %s", m.DonationID, m.DonationOrganizationID)
				return errSkip
			}
			if err != nil {
				return err
			}
			if !org.Type.HoldsStock() {
				reason = fmt.Sprintf("donation %s belongs to %s organization %s, which may not hold units", m.DonationID, org.Type, org.ID)
				return errSkip
			}

			moved, err := tx.RepointUnit(ctx, m.UnitID, m.UnitOrganizationID, m.DonationOrganizationID)
			if err != nil {
				return err
			}
			if !moved {
				return types.NewError(types.KindConcurrentModification, "reconcile.unitOwners",
					"unit %s no longer owned by %s", m.UnitID, m.UnitOrganizationID)
			}

			changes = append(changes, Change{
				EntityID: m.UnitID,
				Field:    "organizationId",
				Before:   m.UnitOrganizationID,
				After:    m.DonationOrganizationID,
			})
			return nil
		})
		if errors.Is(err, errSkip) {
			r.violation(report, m.UnitID, "%s", reason)
			continue
		}
		if err := r.settle(report, m.UnitID, changes, err); err != nil {
			return err
		}
	}

	var held []*types.BloodUnit
	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		held, err = tx.UnitsHeldBy(ctx, types.OrganizationTypeHospital)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list units held by hospitals: %w", err)
	}
	report.Examined += len(held)
	for _, unit := range held {
		r.violation(report, unit.ID, "unit is owned by hospital %s", unit.OrganizationID)
	}

	return nil
}

func (r *Reconciler) requestFulfillment(ctx context.Context, report *Report) error {
	var inconsistent []*types.Request
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		inconsistent, err = tx.InconsistentRequests(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list inconsistent requests: %w", err)
	}
	report.Examined = len(inconsistent)

	for _, observed := range inconsistent {
		var changes []Change
		err := r.store.WithTx(ctx, func(tx store.Tx) error {
			request, err := tx.Request(ctx, observed.ID)
			if err != nil {
				return err
			}
			if request.Version != observed.Version {
				return types.NewError(types.KindConcurrentModification, "reconcile.requestFulfillment",
					"request %s moved to version %d", request.ID, request.Version)
			}

			units, err := tx.UnitsByRequest(ctx, request.ID)
			if err != nil {
				return err
			}
			units = issuedOnly(units)

			// A cancelled request never consumes stock.
			if request.Status == types.RequestStatusCancelled && len(units) > 0 {
				released, err := tx.ReleaseUnits(ctx, request.ID)
				if err != nil {
					return err
				}
				changes = append(changes, Change{EntityID: request.ID, Field: "issuedUnits", Before: strconv.Itoa(released), After: "0"})
				units = nil
			}

			before := *request
			repairRequest(request, units, r.now())
			requestChanges := diffRequest(&before, request)
			if len(requestChanges) == 0 {
				return nil
			}

			if err := tx.UpdateRequest(ctx, request); err != nil {
				return err
			}
			changes = append(changes, requestChanges...)
			return nil
		})
		if err := r.settle(report, observed.ID, changes, err); err != nil {
			return err
		}
	}

	return nil
}

func issuedOnly(units []*types.BloodUnit) []*types.BloodUnit {
	out := units[:0]
	for _, unit := range units {
		if unit.Status == types.UnitStatusIssued {
			out = append(out, unit)
		}
	}
	return out
}

// repairRequest makes status agree with assignedTo and fulfilledAt, using the
// units issued to the request as the source of truth. Units already issued
// to an OPEN request are adopted rather than issued again.
func repairRequest(request *types.Request, units []*types.BloodUnit, now time.Time) {
	revert := func() {
		request.Status = types.RequestStatusOpen
		request.AssignedTo = nil
		request.FulfilledAt = nil
		request.UnitsIssued = 0
	}

	switch request.Status {
	case types.RequestStatusFulfilled:
		if len(units) == 0 {
			revert()
			return
		}
		if request.AssignedTo == nil {
			request.AssignedTo = utils.StringPtr(units[0].OrganizationID)
		}
		if request.FulfilledAt == nil {
			request.FulfilledAt = utils.TimePtr(latestIssue(units, now))
		}
		if request.UnitsIssued == 0 {
			request.UnitsIssued = len(units)
		}
	case types.RequestStatusAssigned:
		request.FulfilledAt = nil
		if request.AssignedTo == nil {
			if len(units) == 0 {
				revert()
				return
			}
			request.AssignedTo = utils.StringPtr(units[0].OrganizationID)
		}
	case types.RequestStatusOpen:
		if len(units) == 0 {
			revert()
			return
		}
		request.AssignedTo = utils.StringPtr(units[0].OrganizationID)
		request.UnitsIssued = len(units)
		if len(units) >= request.UnitsNeeded {
			request.Status = types.RequestStatusFulfilled
			request.FulfilledAt = utils.TimePtr(latestIssue(units, now))
			return
		}
		request.Status = types.RequestStatusAssigned
		request.FulfilledAt = nil
	default:
		request.FulfilledAt = nil
		request.AssignedTo = nil
		request.UnitsIssued = 0
	}
}

func latestIssue(units []*types.BloodUnit, fallback time.Time) time.Time {
	var latest time.Time
	for _, unit := range units {
		if unit.IssuedAt != nil && unit.IssuedAt.After(latest) {
			latest = *unit.IssuedAt
		}
	}
	if latest.IsZero() {
		return fallback
	}
	return latest
}

func diffRequest(before, after *types.Request) []Change {
	var changes []Change
	add := func(field, b, a string) {
		if b != a {
			changes = append(changes, Change{EntityID: after.ID, Field: field, Before: b, After: a})
		}
	}

	add("status", string(before.Status), string(after.Status))
	add("assignedTo", utils.PtrString(before.AssignedTo), utils.PtrString(after.AssignedTo))
	add("fulfilledAt", formatTime(before.FulfilledAt), formatTime(after.FulfilledAt))
	add("unitsIssued", strconv.Itoa(before.UnitsIssued), strconv.Itoa(after.UnitsIssued))
	return changes
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
