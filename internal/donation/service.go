package donation

import (
	"context"
	"errors"
	"fmt"

	"bloodlink/internal/eligibility"
	"bloodlink/internal/store"
	"bloodlink/pkg/types"

	"github.com/sirupsen/logrus"
)

// UnitCreator adds a stored donation to its bank's inventory.
type UnitCreator interface {
	AddUnit(ctx context.Context, tx store.Tx, organizationID string, group types.BloodGroup, donationID *string) (*types.BloodUnit, error)
}

// Service persists stage machine transitions. Every method runs inside the
// caller's transaction so the donation row, its history, and any unit it
// creates commit together.
type Service struct {
	logger             logrus.FieldLogger
	units              UnitCreator
	missingOrgFallback bool
}

type Option func(*Service)

// WithMissingOrgFallback restores the legacy behaviour of finalizing a
// donation whose organization is missing or untyped as if it belonged to a
// hospital. Off by default; every use is logged as a warning.
func WithMissingOrgFallback(enabled bool) Option {
	return func(s *Service) { s.missingOrgFallback = enabled }
}

func NewService(logger logrus.FieldLogger, units UnitCreator, opts ...Option) *Service {
	s := &Service{logger: logger, units: units}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FinalizeResult is returned by Finalize.
type FinalizeResult struct {
	Donation *types.Donation
	Outcome  Outcome
	Entry    types.DonationHistoryEntry
	// Unit is set when the outcome created an inventory unit.
	Unit *types.BloodUnit
}

// Pledge opens a new donation for an eligible donor at an organization.
func (s *Service) Pledge(ctx context.Context, tx store.Tx, donorID, organizationID string, ev Event) (*types.Donation, error) {
	const op = "donation.Pledge"

	donor, err := tx.Donor(ctx, donorID)
	if err != nil {
		return nil, referenceError(op, err, "donor %s", donorID)
	}

	if _, err := s.organization(ctx, tx, op, organizationID); err != nil {
		return nil, err
	}

	if !eligibility.IsEligible(donor.LastDonationDate, ev.At) {
		next := eligibility.NextEligibleDate(donor.LastDonationDate)
		return nil, types.NewError(types.KindDonorNotEligible, op,
			"donor %s may donate again from %s", donorID, next.Format("2006-01-02"))
	}

	if ev.Action == "" {
		ev.Action = ActionPledged
	}

	donation := &types.Donation{
		DonorID:        donor.ID,
		OrganizationID: organizationID,
		BloodGroup:     donor.BloodGroup,
		Stage:          types.DonationStageNewDonor,
		Status:         types.DonationStatusActive,
	}
	appendEntry(donation, ev.Action, ev)

	if err := tx.CreateDonation(ctx, donation); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"donation_id":     donation.ID,
		"donor_id":        donorID,
		"organization_id": organizationID,
	}).Info("donation pledged")

	return donation, nil
}

// Advance moves a donation one stage forward.
func (s *Service) Advance(ctx context.Context, tx store.Tx, donationID string, to types.DonationStage, ev Event) (*types.Donation, types.DonationHistoryEntry, error) {
	const op = "donation.Advance"

	donation, err := s.load(ctx, tx, op, donationID)
	if err != nil {
		return nil, types.DonationHistoryEntry{}, err
	}

	if _, err := s.organization(ctx, tx, op, donation.OrganizationID); err != nil {
		return nil, types.DonationHistoryEntry{}, err
	}

	entry, err := s.AdvanceLoaded(ctx, tx, donation, to, ev)
	if err != nil {
		return nil, types.DonationHistoryEntry{}, err
	}

	return donation, entry, nil
}

// AdvanceLoaded is Advance for a donation already read in this transaction.
func (s *Service) AdvanceLoaded(ctx context.Context, tx store.Tx, donation *types.Donation, to types.DonationStage, ev Event) (types.DonationHistoryEntry, error) {
	from := donation.Stage
	entry, err := Advance(donation, to, ev)
	if err != nil {
		return types.DonationHistoryEntry{}, err
	}

	if err := s.persist(ctx, tx, donation, &entry); err != nil {
		return types.DonationHistoryEntry{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"donation_id": donation.ID,
		"from":        from,
		"to":          to,
	}).Info("donation stage advanced")

	return entry, nil
}

// RecordLabResult stores a lab result for a donation.
func (s *Service) RecordLabResult(ctx context.Context, tx store.Tx, donationID string, passed bool, ev Event) (*types.Donation, types.DonationHistoryEntry, error) {
	const op = "donation.RecordLabResult"

	donation, err := s.load(ctx, tx, op, donationID)
	if err != nil {
		return nil, types.DonationHistoryEntry{}, err
	}

	entry, err := RecordLab(donation, passed, ev)
	if err != nil {
		return nil, types.DonationHistoryEntry{}, err
	}

	if err := s.persist(ctx, tx, donation, &entry); err != nil {
		return nil, types.DonationHistoryEntry{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"donation_id": donation.ID,
		"passed":      passed,
		"status":      donation.Status,
	}).Info("lab result recorded")

	return donation, entry, nil
}

// Finalize applies the terminal transition required of every completed
// donation. A bank-owned donation is stored and becomes an AVAILABLE unit; a
// hospital-owned donation is marked used.
func (s *Service) Finalize(ctx context.Context, tx store.Tx, donationID string, ev Event) (*FinalizeResult, error) {
	const op = "donation.Finalize"

	donation, err := s.load(ctx, tx, op, donationID)
	if err != nil {
		return nil, err
	}

	return s.FinalizeLoaded(ctx, tx, donation, ev)
}

// FinalizeLoaded is Finalize for a donation the caller has already read in
// this transaction. The write is conditional on the donation's version.
func (s *Service) FinalizeLoaded(ctx context.Context, tx store.Tx, donation *types.Donation, ev Event) (*FinalizeResult, error) {
	const op = "donation.Finalize"

	orgType, err := s.outcomeType(ctx, tx, op, donation)
	if err != nil {
		return nil, err
	}

	outcome, entry, err := Finalize(donation, orgType, ev)
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, tx, donation, &entry); err != nil {
		return nil, err
	}

	result := &FinalizeResult{Donation: donation, Outcome: outcome, Entry: entry}

	if outcome.CreatesUnit {
		existing, err := tx.UnitsByDonation(ctx, donation.ID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			result.Unit = existing[0]
		} else {
			unit, err := s.units.AddUnit(ctx, tx, donation.OrganizationID, donation.BloodGroup, &donation.ID)
			if err != nil {
				return nil, err
			}
			result.Unit = unit
		}
	}

	if err := tx.SetLastDonationDate(ctx, donation.DonorID, CollectedAt(donation, ev.At)); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"donation_id":     donation.ID,
		"organization_id": donation.OrganizationID,
		"status":          donation.Status,
		"unit_created":    result.Unit != nil,
	}).Info("donation finalized")

	return result, nil
}

// outcomeType resolves the organization type that selects the terminal
// outcome, applying the hospital fallback only when it is enabled.
func (s *Service) outcomeType(ctx context.Context, tx store.Tx, op string, donation *types.Donation) (types.OrganizationType, error) {
	org, err := s.organization(ctx, tx, op, donation.OrganizationID)
	if err == nil {
		if _, known := TerminalOutcomes[org.Type]; known {
			return org.Type, nil
		}
		err = types.NewError(types.KindReferentialIntegrity, op,
			"organization %s has unknown type %q", org.ID, org.Type)
	}

	if !s.missingOrgFallback || types.KindOf(err) != types.KindReferentialIntegrity {
		return "", err
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"donation_id":     donation.ID,
		"organization_id": donation.OrganizationID,
	}).Warn("finalizing donation with hospital fallback")

	return types.OrganizationTypeHospital, nil
}

func (s *Service) organization(ctx context.Context, tx store.Tx, op, organizationID string) (*types.Organization, error) {
	org, err := tx.Organization(ctx, organizationID)
	if err != nil {
		return nil, referenceError(op, err, "organization %s", organizationID)
	}
	return org, nil
}

func (s *Service) load(ctx context.Context, tx store.Tx, op, donationID string) (*types.Donation, error) {
	donation, err := tx.Donation(ctx, donationID)
	if errors.Is(err, types.ErrDonationNotFound) {
		return nil, types.WrapError(types.KindNotFound, op, err, "donation %s", donationID)
	}
	return donation, err
}

// persist writes the donation row and then its new history entry; the version
// check on the row rejects a concurrent writer before the entry is appended.
func (s *Service) persist(ctx context.Context, tx store.Tx, donation *types.Donation, entry *types.DonationHistoryEntry) error {
	if err := tx.UpdateDonation(ctx, donation); err != nil {
		return err
	}
	if err := tx.AppendDonationHistory(ctx, entry); err != nil {
		return err
	}
	donation.History[len(donation.History)-1] = *entry
	return nil
}

func referenceError(op string, err error, format string, args ...any) error {
	if errors.Is(err, types.ErrOrganizationNotFound) || errors.Is(err, types.ErrDonorNotFound) {
		return types.WrapError(types.KindReferentialIntegrity, op, err, format, args...)
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}
