package memory

import (
	"context"
	"sort"
	"time"

	"bloodlink/internal/utils"
	"bloodlink/pkg/types"
)

func (tx *transaction) Organization(_ context.Context, id string) (*types.Organization, error) {
	org, ok := tx.state.organizations[id]
	if !ok {
		return nil, types.ErrOrganizationNotFound
	}
	return &org, nil
}

func (tx *transaction) OrganizationsByIDs(_ context.Context, ids []string) ([]*types.Organization, error) {
	out := make([]*types.Organization, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		org, ok := tx.state.organizations[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, &org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *transaction) CreateOrganization(_ context.Context, org *types.Organization) error {
	now := tx.now()
	if org.ID == "" {
		org.ID = utils.PrefixedID(utils.PrefixOrganization)
	}
	org.CreatedAt = now
	org.UpdatedAt = now
	tx.state.organizations[org.ID] = *org
	return nil
}

func (tx *transaction) Donor(_ context.Context, id string) (*types.Donor, error) {
	donor, ok := tx.state.donors[id]
	if !ok {
		return nil, types.ErrDonorNotFound
	}
	donor = cloneDonor(donor)
	return &donor, nil
}

func (tx *transaction) CreateDonor(_ context.Context, donor *types.Donor) error {
	now := tx.now()
	if donor.ID == "" {
		donor.ID = utils.PrefixedID(utils.PrefixDonor)
	}
	donor.CreatedAt = now
	donor.UpdatedAt = now
	tx.state.donors[donor.ID] = cloneDonor(*donor)
	return nil
}

func (tx *transaction) SetLastDonationDate(_ context.Context, donorID string, at time.Time) error {
	donor, ok := tx.state.donors[donorID]
	if !ok {
		return nil
	}
	if donor.LastDonationDate != nil && !donor.LastDonationDate.Before(at) {
		return nil
	}
	donor.LastDonationDate = utils.TimePtr(at)
	donor.UpdatedAt = tx.now()
	tx.state.donors[donorID] = donor
	return nil
}

func (tx *transaction) Donation(_ context.Context, id string) (*types.Donation, error) {
	donation, ok := tx.state.donations[id]
	if !ok {
		return nil, types.ErrDonationNotFound
	}
	donation = cloneDonation(donation)
	return &donation, nil
}

func (tx *transaction) CreateDonation(_ context.Context, donation *types.Donation) error {
	now := tx.now()
	if donation.ID == "" {
		donation.ID = utils.PrefixedID(utils.PrefixDonation)
	}
	donation.Version = 1
	donation.CreatedAt = now
	donation.UpdatedAt = now
	for i := range donation.History {
		entry := &donation.History[i]
		if entry.ID == "" {
			entry.ID = utils.PrefixedID(utils.PrefixHistory)
		}
		entry.DonationID = donation.ID
		entry.Position = i
	}
	tx.state.donations[donation.ID] = cloneDonation(*donation)
	return nil
}

func (tx *transaction) UpdateDonation(_ context.Context, donation *types.Donation) error {
	stored, ok := tx.state.donations[donation.ID]
	if !ok || stored.Version != donation.Version {
		return types.NewError(types.KindConcurrentModification, "store.UpdateDonation",
			"donation %s changed since version %d was read", donation.ID, donation.Version)
	}

	now := tx.now()
	stored.Stage = donation.Stage
	stored.Status = donation.Status
	stored.OrganizationID = donation.OrganizationID
	stored.LabTests = donation.LabTests
	stored.UpdatedAt = now
	stored.Version++
	tx.state.donations[donation.ID] = cloneDonation(stored)

	donation.Version = stored.Version
	donation.UpdatedAt = now
	return nil
}

func (tx *transaction) AppendDonationHistory(_ context.Context, entry *types.DonationHistoryEntry) error {
	stored, ok := tx.state.donations[entry.DonationID]
	if !ok {
		return types.ErrDonationNotFound
	}
	if entry.Position != len(stored.History) {
		return types.NewError(types.KindConcurrentModification, "store.AppendDonationHistory",
			"history position %d of donation %s already written", entry.Position, entry.DonationID)
	}
	if entry.ID == "" {
		entry.ID = utils.PrefixedID(utils.PrefixHistory)
	}
	e := *entry
	e.Notes = cloneString(entry.Notes)
	stored.History = append(stored.History, e)
	tx.state.donations[entry.DonationID] = stored
	return nil
}

func (tx *transaction) CompletedDonationsBefore(_ context.Context, cutoff time.Time) ([]*types.Donation, error) {
	var out []*types.Donation
	for _, id := range sortedKeys(tx.state.donations) {
		donation := tx.state.donations[id]
		if donation.Status != types.DonationStatusCompleted || !donation.UpdatedAt.Before(cutoff) {
			continue
		}
		donation = cloneDonation(donation)
		out = append(out, &donation)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (tx *transaction) CreateUnit(_ context.Context, unit *types.BloodUnit) error {
	if unit.ID == "" {
		unit.ID = utils.PrefixedID(utils.PrefixUnit)
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = tx.now()
	}
	tx.state.units[unit.ID] = cloneUnit(*unit)
	return nil
}

func (tx *transaction) CountAvailableByGroup(_ context.Context, organizationID string) (map[types.BloodGroup]int, error) {
	counts := make(map[types.BloodGroup]int)
	for _, unit := range tx.state.units {
		if unit.OrganizationID == organizationID && unit.Status == types.UnitStatusAvailable {
			counts[unit.BloodGroup]++
		}
	}
	return counts, nil
}

func (tx *transaction) AvailableByOrganization(_ context.Context, group types.BloodGroup) (map[string]int, error) {
	counts := make(map[string]int)
	for _, unit := range tx.state.units {
		if unit.BloodGroup == group && unit.Status == types.UnitStatusAvailable {
			counts[unit.OrganizationID]++
		}
	}
	return counts, nil
}

func (tx *transaction) availableUnits(organizationID string, group types.BloodGroup) []types.BloodUnit {
	var units []types.BloodUnit
	for _, unit := range tx.state.units {
		if unit.OrganizationID == organizationID && unit.BloodGroup == group && unit.Status == types.UnitStatusAvailable {
			units = append(units, unit)
		}
	}
	sort.Slice(units, func(i, j int) bool {
		if !units[i].CreatedAt.Equal(units[j].CreatedAt) {
			return units[i].CreatedAt.Before(units[j].CreatedAt)
		}
		return units[i].ID < units[j].ID
	})
	return units
}

// IssueUnits needs no extra locking: the transaction already holds the store
// mutex for its whole lifetime.
func (tx *transaction) IssueUnits(_ context.Context, organizationID string, group types.BloodGroup, count int, requestID string, at time.Time) error {
	if count <= 0 {
		return types.NewError(types.KindValidation, "store.IssueUnits", "count must be positive, got %d", count)
	}

	units := tx.availableUnits(organizationID, group)
	if len(units) < count {
		return types.NewError(types.KindInsufficientStock, "store.IssueUnits",
			"organization %s has %d %s units, %d requested", organizationID, len(units), group, count)
	}

	for _, unit := range units[:count] {
		unit.Status = types.UnitStatusIssued
		unit.RequestID = utils.StringPtr(requestID)
		unit.IssuedAt = utils.TimePtr(at)
		tx.state.units[unit.ID] = unit
	}
	return nil
}

func (tx *transaction) ReleaseUnits(_ context.Context, requestID string) (int, error) {
	var released int
	for id, unit := range tx.state.units {
		if unit.Status != types.UnitStatusIssued || utils.PtrString(unit.RequestID) != requestID {
			continue
		}
		unit.Status = types.UnitStatusAvailable
		unit.RequestID = nil
		unit.IssuedAt = nil
		tx.state.units[id] = unit
		released++
	}
	return released, nil
}

func (tx *transaction) unitsWhere(match func(types.BloodUnit) bool) []*types.BloodUnit {
	var out []*types.BloodUnit
	for _, id := range sortedKeys(tx.state.units) {
		unit := tx.state.units[id]
		if !match(unit) {
			continue
		}
		unit = cloneUnit(unit)
		out = append(out, &unit)
	}
	return out
}

func (tx *transaction) UnitsByDonation(_ context.Context, donationID string) ([]*types.BloodUnit, error) {
	return tx.unitsWhere(func(u types.BloodUnit) bool {
		return utils.PtrString(u.DonationID) == donationID
	}), nil
}

func (tx *transaction) UnitsByRequest(_ context.Context, requestID string) ([]*types.BloodUnit, error) {
	return tx.unitsWhere(func(u types.BloodUnit) bool {
		return utils.PtrString(u.RequestID) == requestID
	}), nil
}

func (tx *transaction) UnitOwnerMismatches(_ context.Context) ([]*types.UnitOwnerMismatch, error) {
	var out []*types.UnitOwnerMismatch
	for _, id := range sortedKeys(tx.state.units) {
		unit := tx.state.units[id]
		if unit.DonationID == nil {
			continue
		}
		donation, ok := tx.state.donations[*unit.DonationID]
		if !ok || donation.OrganizationID == unit.OrganizationID {
			continue
		}
		out = append(out, &types.UnitOwnerMismatch{
			UnitID:                 unit.ID,
			UnitOrganizationID:     unit.OrganizationID,
			DonationID:             donation.ID,
			DonationOrganizationID: donation.OrganizationID,
		})
	}
	return out, nil
}

func (tx *transaction) RepointUnit(_ context.Context, unitID, from, to string) (bool, error) {
	unit, ok := tx.state.units[unitID]
	if !ok || unit.OrganizationID != from {
		return false, nil
	}
	unit.OrganizationID = to
	tx.state.units[unitID] = unit
	return true, nil
}

func (tx *transaction) UnitsHeldBy(_ context.Context, orgType types.OrganizationType) ([]*types.BloodUnit, error) {
	return tx.unitsWhere(func(u types.BloodUnit) bool {
		org, ok := tx.state.organizations[u.OrganizationID]
		return ok && org.Type == orgType
	}), nil
}

func (tx *transaction) Request(_ context.Context, id string) (*types.Request, error) {
	request, ok := tx.state.requests[id]
	if !ok {
		return nil, types.ErrRequestNotFound
	}
	request = cloneRequest(request)
	return &request, nil
}

func (tx *transaction) CreateRequest(_ context.Context, request *types.Request) error {
	now := tx.now()
	if request.ID == "" {
		request.ID = utils.PrefixedID(utils.PrefixRequest)
	}
	request.Version = 1
	request.CreatedAt = now
	request.UpdatedAt = now
	tx.state.requests[request.ID] = cloneRequest(*request)
	return nil
}

func (tx *transaction) UpdateRequest(_ context.Context, request *types.Request) error {
	stored, ok := tx.state.requests[request.ID]
	if !ok || stored.Version != request.Version {
		return types.NewError(types.KindConcurrentModification, "store.UpdateRequest",
			"request %s changed since version %d was read", request.ID, request.Version)
	}

	now := tx.now()
	stored.Status = request.Status
	stored.AssignedTo = cloneString(request.AssignedTo)
	stored.FulfilledAt = cloneTime(request.FulfilledAt)
	stored.UnitsIssued = request.UnitsIssued
	stored.UpdatedAt = now
	stored.Version++
	tx.state.requests[request.ID] = stored

	request.Version = stored.Version
	request.UpdatedAt = now
	return nil
}

func (tx *transaction) requestsWhere(match func(types.Request) bool) []*types.Request {
	var out []*types.Request
	for _, id := range sortedKeys(tx.state.requests) {
		request := tx.state.requests[id]
		if !match(request) {
			continue
		}
		request = cloneRequest(request)
		out = append(out, &request)
	}
	return out
}

func (tx *transaction) OpenRequests(_ context.Context, limit int) ([]*types.Request, error) {
	out := tx.requestsWhere(func(r types.Request) bool { return r.Status == types.RequestStatusOpen })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgency.Rank() != out[j].Urgency.Rank() {
			return out[i].Urgency.Rank() < out[j].Urgency.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *transaction) InconsistentRequests(_ context.Context) ([]*types.Request, error) {
	holding := make(map[string]bool)
	for _, unit := range tx.state.units {
		if unit.Status == types.UnitStatusIssued && unit.RequestID != nil {
			holding[*unit.RequestID] = true
		}
	}
	out := tx.requestsWhere(func(r types.Request) bool {
		if !r.FulfillmentConsistent() {
			return true
		}
		idle := r.Status == types.RequestStatusOpen || r.Status == types.RequestStatusCancelled
		return idle && (holding[r.ID] || r.UnitsIssued != 0)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
