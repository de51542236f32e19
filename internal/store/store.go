// Package store defines the persistence ports used by the coordination core
// and their PostgreSQL implementation.
package store

import (
	"context"
	"time"

	"bloodlink/pkg/types"

	sq "github.com/Masterminds/squirrel"
)

const schemaName = "bloodlink"

// Store runs fn inside one transaction. The transaction commits only when fn
// returns nil; any error, including a failed persistence call, discards every
// write fn made.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of repository operations available inside a transaction.
type Tx interface {
	OrganizationStore
	DonorStore
	DonationStore
	UnitStore
	RequestStore
}

type OrganizationStore interface {
	Organization(ctx context.Context, id string) (*types.Organization, error)
	OrganizationsByIDs(ctx context.Context, ids []string) ([]*types.Organization, error)
	CreateOrganization(ctx context.Context, org *types.Organization) error
}

type DonorStore interface {
	Donor(ctx context.Context, id string) (*types.Donor, error)
	CreateDonor(ctx context.Context, donor *types.Donor) error
	SetLastDonationDate(ctx context.Context, donorID string, at time.Time) error
}

type DonationStore interface {
	// Donation returns the donation with its full history, oldest first.
	Donation(ctx context.Context, id string) (*types.Donation, error)
	CreateDonation(ctx context.Context, donation *types.Donation) error
	// UpdateDonation writes stage, status and lab fields when the stored
	// version still equals donation.Version, then bumps the version.
	UpdateDonation(ctx context.Context, donation *types.Donation) error
	AppendDonationHistory(ctx context.Context, entry *types.DonationHistoryEntry) error
	// CompletedDonationsBefore lists donations stuck at status=completed that
	// were last touched before the cutoff.
	CompletedDonationsBefore(ctx context.Context, cutoff time.Time) ([]*types.Donation, error)
}

type UnitStore interface {
	CreateUnit(ctx context.Context, unit *types.BloodUnit) error
	CountAvailableByGroup(ctx context.Context, organizationID string) (map[types.BloodGroup]int, error)
	// AvailableByOrganization returns organization id -> AVAILABLE count for
	// one blood group, omitting organizations with none.
	AvailableByOrganization(ctx context.Context, group types.BloodGroup) (map[string]int, error)
	// IssueUnits moves exactly count AVAILABLE units of the group to ISSUED
	// against requestID. It returns InsufficientStock without writing when
	// fewer are available. Calls for the same organization and group are
	// serialized.
	IssueUnits(ctx context.Context, organizationID string, group types.BloodGroup, count int, requestID string, at time.Time) error
	// ReleaseUnits returns units issued to requestID to AVAILABLE.
	ReleaseUnits(ctx context.Context, requestID string) (int, error)
	UnitsByDonation(ctx context.Context, donationID string) ([]*types.BloodUnit, error)
	UnitsByRequest(ctx context.Context, requestID string) ([]*types.BloodUnit, error)
	UnitOwnerMismatches(ctx context.Context) ([]*types.UnitOwnerMismatch, error)
	// RepointUnit moves a unit from one owner to another, only if it is still
	// owned by from. It reports whether the unit moved.
	RepointUnit(ctx context.Context, unitID, from, to string) (bool, error)
	UnitsHeldBy(ctx context.Context, orgType types.OrganizationType) ([]*types.BloodUnit, error)
}

type RequestStore interface {
	Request(ctx context.Context, id string) (*types.Request, error)
	CreateRequest(ctx context.Context, request *types.Request) error
	// UpdateRequest writes the mutable request fields when the stored version
	// still equals request.Version, then bumps the version.
	UpdateRequest(ctx context.Context, request *types.Request) error
	// OpenRequests lists OPEN requests, most urgent and then oldest first.
	OpenRequests(ctx context.Context, limit int) ([]*types.Request, error)
	// InconsistentRequests lists requests whose status disagrees with
	// assigned_to / fulfilled_at, and OPEN or CANCELLED requests that still
	// hold issued units.
	InconsistentRequests(ctx context.Context) ([]*types.Request, error)
}

func psql() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func table(name string) string {
	return schemaName + "." + name
}
