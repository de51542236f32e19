package store

import (
	"context"
	"fmt"
	"time"

	"bloodlink/internal/utils"
	"bloodlink/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

var (
	donationTableName = table("donations")
	donationColumns   = utils.StructTagValues(types.Donation{})
)

type DonationRepository struct {
	db DBTX
}

func NewDonationRepository(db DBTX) *DonationRepository {
	return &DonationRepository{db: db}
}

func (r *DonationRepository) Donation(ctx context.Context, id string) (*types.Donation, error) {
	query, args, err := psql().
		Select(donationColumns...).
		From(donationTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate donation query: %w", err)
	}

	var donation = new(types.Donation)
	err = pgxscan.Get(ctx, r.db, donation, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, types.ErrDonationNotFound
		}
		return nil, fmt.Errorf("failed to fetch donation: %w", err)
	}

	history, err := r.HistoryByDonation(ctx, id)
	if err != nil {
		return nil, err
	}
	donation.History = history

	return donation, nil
}

// CreateDonation inserts the donation and any history entries it already
// carries (normally the single pledge entry).
func (r *DonationRepository) CreateDonation(ctx context.Context, donation *types.Donation) error {
	now := time.Now()
	if donation.ID == "" {
		donation.ID = utils.PrefixedID(utils.PrefixDonation)
	}
	donation.Version = 1
	donation.CreatedAt = now
	donation.UpdatedAt = now

	query, args, err := psql().
		Insert(donationTableName).
		SetMap(utils.StructToMap(donation)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert donation query: %w", err)
	}

	if _, err = r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create donation: %w", err)
	}

	for i := range donation.History {
		entry := &donation.History[i]
		entry.DonationID = donation.ID
		entry.Position = i
		if err := r.AppendDonationHistory(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

func (r *DonationRepository) UpdateDonation(ctx context.Context, donation *types.Donation) error {
	now := time.Now()

	query, args, err := psql().
		Update(donationTableName).
		Set("stage", donation.Stage).
		Set("status", donation.Status).
		Set("organization_id", donation.OrganizationID).
		Set("lab_all_tests_passed", donation.AllTestsPassed).
		Set("lab_tested_at", donation.TestedAt).
		Set("updated_at", now).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": donation.ID, "version": donation.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate update donation query for donation %s: %w", donation.ID, err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update donation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return types.NewError(types.KindConcurrentModification, "store.UpdateDonation",
			"donation %s changed since version %d was read", donation.ID, donation.Version)
	}

	donation.Version++
	donation.UpdatedAt = now

	return nil
}

func (r *DonationRepository) CompletedDonationsBefore(ctx context.Context, cutoff time.Time) ([]*types.Donation, error) {
	query, args, err := psql().
		Select(donationColumns...).
		From(donationTableName).
		Where(sq.Eq{"status": types.DonationStatusCompleted}).
		Where(sq.Lt{"updated_at": cutoff}).
		OrderBy("updated_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate stuck donations query: %w", err)
	}

	var donations []*types.Donation
	err = pgxscan.Select(ctx, r.db, &donations, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stuck donations: %w", err)
	}

	for _, donation := range donations {
		history, err := r.HistoryByDonation(ctx, donation.ID)
		if err != nil {
			return nil, err
		}
		donation.History = history
	}

	return donations, nil
}
