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
	donorTableName = table("donors")
	donorColumns   = utils.StructTagValues(types.Donor{})
)

type DonorRepository struct {
	db DBTX
}

func NewDonorRepository(db DBTX) *DonorRepository {
	return &DonorRepository{db: db}
}

func (r *DonorRepository) Donor(ctx context.Context, id string) (*types.Donor, error) {
	query, args, err := psql().
		Select(donorColumns...).
		From(donorTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate donor query: %w", err)
	}

	var donor types.Donor
	err = pgxscan.Get(ctx, r.db, &donor, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, types.ErrDonorNotFound
		}
		return nil, fmt.Errorf("failed to fetch donor: %w", err)
	}

	return &donor, nil
}

func (r *DonorRepository) CreateDonor(ctx context.Context, donor *types.Donor) error {
	now := time.Now()
	if donor.ID == "" {
		donor.ID = utils.PrefixedID(utils.PrefixDonor)
	}
	donor.CreatedAt = now
	donor.UpdatedAt = now

	query, args, err := psql().
		Insert(donorTableName).
		SetMap(utils.StructToMap(donor)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate create donor query: %w", err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	return utils.ErrorWrapOrNil(err, "failed to create donor")
}

// SetLastDonationDate only ever moves the date forward.
func (r *DonorRepository) SetLastDonationDate(ctx context.Context, donorID string, at time.Time) error {
	query, args, err := psql().
		Update(donorTableName).
		Set("last_donation_date", at).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": donorID}).
		Where(sq.Or{sq.Eq{"last_donation_date": nil}, sq.Lt{"last_donation_date": at}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate update donor query for donor %s: %w", donorID, err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	return utils.ErrorWrapOrNil(err, "failed to update donor last donation date")
}
