// Package inventory is the per-organization ledger of discrete blood units.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloodlink/internal/store"
	"bloodlink/pkg/types"

	"github.com/sirupsen/logrus"
)

// Ledger enforces who may hold stock and how it is issued. It holds no state
// of its own; every method runs inside the caller's transaction.
type Ledger struct {
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewLedger(logger logrus.FieldLogger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{logger: logger, now: now}
}

// AddUnit creates one AVAILABLE unit. Only BANK and BOTH organizations may
// hold stock.
func (l *Ledger) AddUnit(ctx context.Context, tx store.Tx, organizationID string, group types.BloodGroup, donationID *string) (*types.BloodUnit, error) {
	const op = "inventory.AddUnit"

	if !group.Valid() {
		return nil, types.NewError(types.KindValidation, op, "unknown blood group %q", group)
	}

	org, err := tx.Organization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, types.ErrOrganizationNotFound) {
			return nil, types.WrapError(types.KindReferentialIntegrity, op, err, "organization %s", organizationID)
		}
		return nil, fmt.Errorf("failed to load organization %s: %w", organizationID, err)
	}

	if !org.Type.HoldsStock() {
		return nil, types.NewError(types.KindIneligibleOrganizationType, op,
			"organization %s is %s; only BANK or BOTH may hold units", org.ID, org.Type)
	}

	unit := &types.BloodUnit{
		OrganizationID: org.ID,
		BloodGroup:     group,
		Status:         types.UnitStatusAvailable,
		DonationID:     donationID,
		CreatedAt:      l.now(),
	}
	if err := tx.CreateUnit(ctx, unit); err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"unit_id":         unit.ID,
		"organization_id": org.ID,
		"blood_group":     group,
	}).Info("blood unit added")

	return unit, nil
}

// CountAvailableByGroup aggregates AVAILABLE units for one organization. The
// counts come from a single read inside tx, so units being issued by another
// transaction are either fully counted or not counted at all.
func (l *Ledger) CountAvailableByGroup(ctx context.Context, tx store.Tx, organizationID string) (map[types.BloodGroup]int, error) {
	counts, err := tx.CountAvailableByGroup(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Snapshot returns the AVAILABLE count for all eight groups, zeros included.
func (l *Ledger) Snapshot(ctx context.Context, tx store.Tx, organizationID string) (*types.InventorySnapshot, error) {
	counts, err := l.CountAvailableByGroup(ctx, tx, organizationID)
	if err != nil {
		return nil, err
	}

	full := make(map[types.BloodGroup]int, len(types.AllBloodGroups))
	for _, group := range types.AllBloodGroups {
		full[group] = counts[group]
	}

	return &types.InventorySnapshot{OrganizationID: organizationID, Counts: full, TakenAt: l.now()}, nil
}

// StockHolders returns organization id -> AVAILABLE count of one group.
func (l *Ledger) StockHolders(ctx context.Context, tx store.Tx, group types.BloodGroup) (map[string]int, error) {
	return tx.AvailableByOrganization(ctx, group)
}

// IssueUnits moves exactly count AVAILABLE units to ISSUED against a request,
// or fails with InsufficientStock leaving stock untouched.
func (l *Ledger) IssueUnits(ctx context.Context, tx store.Tx, organizationID string, group types.BloodGroup, count int, requestID string) error {
	if count <= 0 {
		return types.NewError(types.KindValidation, "inventory.IssueUnits", "count must be positive, got %d", count)
	}

	if err := tx.IssueUnits(ctx, organizationID, group, count, requestID, l.now()); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"organization_id": organizationID,
		"blood_group":     group,
		"count":           count,
		"request_id":      requestID,
	}).Info("blood units issued")

	return nil
}

// ReleaseUnits puts units issued to a request back into stock.
func (l *Ledger) ReleaseUnits(ctx context.Context, tx store.Tx, requestID string) (int, error) {
	released, err := tx.ReleaseUnits(ctx, requestID)
	if err != nil {
		return 0, err
	}

	if released > 0 {
		l.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"count":      released,
		}).Info("blood units released")
	}

	return released, nil
}
