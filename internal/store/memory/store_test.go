package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"bloodlink/internal/store"
	"bloodlink/pkg/types"

	"github.com/stretchr/testify/suite"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
	now   time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.now = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) seedBank(id string, units int, group types.BloodGroup) {
	err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
		if err := tx.CreateOrganization(s.ctx, &types.Organization{ID: id, Name: id, Type: types.OrganizationTypeBank}); err != nil {
			return err
		}
		for range units {
			if err := tx.CreateUnit(s.ctx, &types.BloodUnit{OrganizationID: id, BloodGroup: group, Status: types.UnitStatusAvailable}); err != nil {
				return err
			}
		}
		return nil
	})
	s.Require().NoError(err)
}

func (s *MemoryStoreSuite) count(org string, group types.BloodGroup) int {
	var n int
	err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
		counts, err := tx.CountAvailableByGroup(s.ctx, org)
		n = counts[group]
		return err
	})
	s.Require().NoError(err)
	return n
}

func (s *MemoryStoreSuite) TestFailedTransactionLeavesNoTrace() {
	s.seedBank("org_a", 3, types.BloodGroupOPos)

	boom := errors.New("boom")
	err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
		if err := tx.IssueUnits(s.ctx, "org_a", types.BloodGroupOPos, 2, "req_1", s.now); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)
	s.Equal(3, s.count("org_a", types.BloodGroupOPos))
}

func (s *MemoryStoreSuite) TestCancelledContextAbortsTransaction() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	called := false
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		called = true
		return nil
	})
	s.ErrorIs(err, context.Canceled)
	s.False(called)
}

func (s *MemoryStoreSuite) TestIssueUnits() {
	s.seedBank("org_a", 2, types.BloodGroupANeg)

	s.Run("insufficient stock writes nothing", func() {
		err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
			return tx.IssueUnits(s.ctx, "org_a", types.BloodGroupANeg, 3, "req_1", s.now)
		})
		s.ErrorIs(err, types.ErrInsufficientStock)
		s.Equal(2, s.count("org_a", types.BloodGroupANeg))
	})

	s.Run("issues and releases against a request", func() {
		err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
			return tx.IssueUnits(s.ctx, "org_a", types.BloodGroupANeg, 2, "req_2", s.now)
		})
		s.Require().NoError(err)
		s.Equal(0, s.count("org_a", types.BloodGroupANeg))

		err = s.store.WithTx(s.ctx, func(tx store.Tx) error {
			units, err := tx.UnitsByRequest(s.ctx, "req_2")
			s.Require().NoError(err)
			s.Len(units, 2)
			for _, u := range units {
				s.Equal(types.UnitStatusIssued, u.Status)
			}

			released, err := tx.ReleaseUnits(s.ctx, "req_2")
			s.Equal(2, released)
			return err
		})
		s.Require().NoError(err)
		s.Equal(2, s.count("org_a", types.BloodGroupANeg))
	})
}

func (s *MemoryStoreSuite) TestOptimisticVersions() {
	request := &types.Request{OrganizationID: "org_h", BloodGroup: types.BloodGroupOPos, UnitsNeeded: 1, Status: types.RequestStatusOpen}
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.CreateRequest(s.ctx, request)
	}))
	s.Equal(1, request.Version)

	stale := *request
	request.Status = types.RequestStatusCancelled
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.UpdateRequest(s.ctx, request)
	}))
	s.Equal(2, request.Version)

	stale.Status = types.RequestStatusFulfilled
	err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.UpdateRequest(s.ctx, &stale)
	})
	s.ErrorIs(err, types.ErrConcurrentModification)
}

func (s *MemoryStoreSuite) TestHistoryIsAppendOnly() {
	donation := &types.Donation{
		DonorID: "dnr_1", OrganizationID: "org_a", Stage: types.DonationStageNewDonor, Status: types.DonationStatusActive,
		History: []types.DonationHistoryEntry{{Stage: types.DonationStageNewDonor, Action: "Donation pledged", PerformedBy: "staff"}},
	}
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.CreateDonation(s.ctx, donation)
	}))

	err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.AppendDonationHistory(s.ctx, &types.DonationHistoryEntry{
			DonationID: donation.ID, Position: 0, Stage: types.DonationStageScreening, Action: "overwrite",
		})
	})
	s.ErrorIs(err, types.ErrConcurrentModification)

	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.AppendDonationHistory(s.ctx, &types.DonationHistoryEntry{
			DonationID: donation.ID, Position: 1, Stage: types.DonationStageScreening, Action: "Stage advanced",
		})
	}))

	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		got, err := tx.Donation(s.ctx, donation.ID)
		s.Require().NoError(err)
		s.Require().Len(got.History, 2)
		s.Equal("Donation pledged", got.History[0].Action)
		s.Equal(types.DonationStageScreening, got.History[1].Stage)
		return nil
	}))
}

func (s *MemoryStoreSuite) TestReturnedRecordsAreCopies() {
	s.seedBank("org_a", 0, types.BloodGroupOPos)
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		org, err := tx.Organization(s.ctx, "org_a")
		s.Require().NoError(err)
		org.Type = types.OrganizationTypeHospital
		return nil
	}))
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		org, err := tx.Organization(s.ctx, "org_a")
		s.Require().NoError(err)
		s.Equal(types.OrganizationTypeBank, org.Type)
		return nil
	}))
}

func (s *MemoryStoreSuite) TestOpenRequestsOrdering() {
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		for i, u := range []types.Urgency{types.UrgencyLow, types.UrgencyCritical, types.UrgencyMedium, types.UrgencyCritical} {
			s.now = s.now.Add(time.Duration(i) * time.Minute)
			r := &types.Request{ID: string(rune('a' + i)), Urgency: u, Status: types.RequestStatusOpen, UnitsNeeded: 1}
			if err := tx.CreateRequest(s.ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		open, err := tx.OpenRequests(s.ctx, 3)
		s.Require().NoError(err)
		s.Require().Len(open, 3)
		s.Equal("b", open[0].ID)
		s.Equal("d", open[1].ID)
		s.Equal("c", open[2].ID)
		return nil
	}))
}
