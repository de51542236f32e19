package store

import (
	"context"
	"fmt"

	"bloodlink/internal/utils"
	"bloodlink/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

var (
	donationHistoryTableName = table("donation_history")
	donationHistoryColumns   = utils.StructTagValues(types.DonationHistoryEntry{})
)

// AppendDonationHistory inserts one history row. Rows are never updated or
// deleted; the unique (donation_id, position) key rejects a second writer
// appending at the same position.
func (r *DonationRepository) AppendDonationHistory(ctx context.Context, entry *types.DonationHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = utils.PrefixedID(utils.PrefixHistory)
	}

	query, args, err := psql().
		Insert(donationHistoryTableName).
		SetMap(utils.StructToMap(entry)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert history query: %w", err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	if isUniqueViolation(err) {
		return types.WrapError(types.KindConcurrentModification, "store.AppendDonationHistory", err,
			"history position %d of donation %s already written", entry.Position, entry.DonationID)
	}

	return utils.ErrorWrapOrNil(err, "failed to append donation history")
}

// HistoryByDonation returns the donation's trail in append order.
func (r *DonationRepository) HistoryByDonation(ctx context.Context, donationID string) ([]types.DonationHistoryEntry, error) {
	query, args, err := psql().
		Select(donationHistoryColumns...).
		From(donationHistoryTableName).
		Where(sq.Eq{"donation_id": donationID}).
		OrderBy("position ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate history query: %w", err)
	}

	var history []types.DonationHistoryEntry
	err = pgxscan.Select(ctx, r.db, &history, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to get donation history")
	}

	return history, nil
}
