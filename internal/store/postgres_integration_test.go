//go:build integration

package store_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"bloodlink/internal/db"
	"bloodlink/internal/store"
	"bloodlink/pkg/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"
)

type PostgresSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *store.Postgres
	logger    logrus.FieldLogger
	now       time.Time
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s.logger = logger

	container, err := tcpostgres.Run(s.ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bloodlink"),
		tcpostgres.WithUsername("bloodlink"),
		tcpostgres.WithPassword("bloodlink"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err, "failed to start postgres container")
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = db.Connect(s.ctx, &types.Config{DatabaseURL: dsn}, s.logger)
	s.Require().NoError(err)

	s.Require().NoError(store.Migrate(s.ctx, s.pool, s.logger))
	s.store = store.NewPostgres(s.pool)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(testcontainers.TerminateContainer(s.container))
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE bloodlink.blood_units, bloodlink.donation_history, bloodlink.donations,
		bloodlink.requests, bloodlink.donors, bloodlink.organizations CASCADE`)
	s.Require().NoError(err)
}

func (s *PostgresSuite) seedOrg(id string, orgType types.OrganizationType, units int, group types.BloodGroup) {
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		if err := tx.CreateOrganization(s.ctx, &types.Organization{ID: id, Name: id, Type: orgType}); err != nil {
			return err
		}
		for range units {
			if err := tx.CreateUnit(s.ctx, &types.BloodUnit{OrganizationID: id, BloodGroup: group, Status: types.UnitStatusAvailable}); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *PostgresSuite) count(org string, group types.BloodGroup) int {
	var n int
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		counts, err := tx.CountAvailableByGroup(s.ctx, org)
		n = counts[group]
		return err
	}))
	return n
}

func (s *PostgresSuite) TestMigrateIsRepeatable() {
	s.NoError(store.Migrate(s.ctx, s.pool, s.logger))
}

func (s *PostgresSuite) TestFailedTransactionRollsBack() {
	s.seedOrg("org_bank", types.OrganizationTypeBank, 3, types.BloodGroupOPos)

	boom := errors.New("boom")
	err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
		if err := tx.IssueUnits(s.ctx, "org_bank", types.BloodGroupOPos, 2, "req_1", s.now); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)
	s.Equal(3, s.count("org_bank", types.BloodGroupOPos))
}

func (s *PostgresSuite) TestConcurrentIssueNeverOversells() {
	s.seedOrg("org_bank", types.OrganizationTypeBank, 10, types.BloodGroupOPos)

	var issued atomic.Int32
	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
				return tx.IssueUnits(s.ctx, "org_bank", types.BloodGroupOPos, 3, "req_"+string(rune('a'+i)), s.now)
			})
			switch {
			case err == nil:
				issued.Add(1)
				return nil
			case errors.Is(err, types.ErrInsufficientStock):
				return nil
			}
			return err
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(int32(3), issued.Load())
	s.Equal(1, s.count("org_bank", types.BloodGroupOPos))
}

func (s *PostgresSuite) TestRequestVersions() {
	s.seedOrg("org_h", types.OrganizationTypeHospital, 0, types.BloodGroupOPos)

	request := &types.Request{
		OrganizationID: "org_h", BloodGroup: types.BloodGroupOPos, UnitsNeeded: 2,
		Urgency: types.UrgencyHigh, Status: types.RequestStatusOpen,
	}
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

	stale.Status = types.RequestStatusAssigned
	err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.UpdateRequest(s.ctx, &stale)
	})
	s.ErrorIs(err, types.ErrConcurrentModification)

	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		got, err := tx.Request(s.ctx, request.ID)
		s.Require().NoError(err)
		s.Equal(types.RequestStatusCancelled, got.Status)
		return nil
	}))
}

func (s *PostgresSuite) TestDonationHistoryRoundTrip() {
	s.seedOrg("org_bank", types.OrganizationTypeBank, 0, types.BloodGroupOPos)

	donation := &types.Donation{
		DonorID: "dnr_1", OrganizationID: "org_bank", BloodGroup: types.BloodGroupOPos,
		Stage: types.DonationStageNewDonor, Status: types.DonationStatusActive,
		History: []types.DonationHistoryEntry{{
			Stage: types.DonationStageNewDonor, Action: "Donation pledged", PerformedBy: "staff", PerformedAt: s.now,
		}},
	}
	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		if err := tx.CreateDonor(s.ctx, &types.Donor{ID: "dnr_1", Name: "Ada", BloodGroup: types.BloodGroupOPos}); err != nil {
			return err
		}
		return tx.CreateDonation(s.ctx, donation)
	}))

	err := s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.AppendDonationHistory(s.ctx, &types.DonationHistoryEntry{
			DonationID: donation.ID, Position: 0, Stage: types.DonationStageScreening, Action: "overwrite", PerformedAt: s.now,
		})
	})
	s.ErrorIs(err, types.ErrConcurrentModification)

	s.Require().NoError(s.store.WithTx(s.ctx, func(tx store.Tx) error {
		return tx.AppendDonationHistory(s.ctx, &types.DonationHistoryEntry{
			DonationID: donation.ID, Position: 1, Stage: types.DonationStageScreening,
			Action: "Stage advanced", PerformedBy: "staff", PerformedAt: s.now.Add(time.Minute),
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
