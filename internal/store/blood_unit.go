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
	unitTableName = table("blood_units")
	unitColumns   = utils.StructTagValues(types.BloodUnit{})
)

type UnitRepository struct {
	db DBTX
}

func NewUnitRepository(db DBTX) *UnitRepository {
	return &UnitRepository{db: db}
}

func (r *UnitRepository) CreateUnit(ctx context.Context, unit *types.BloodUnit) error {
	if unit.ID == "" {
		unit.ID = utils.PrefixedID(utils.PrefixUnit)
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now()
	}

	query, args, err := psql().
		Insert(unitTableName).
		SetMap(utils.StructToMap(unit)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert unit query: %w", err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	return utils.ErrorWrapOrNil(err, "failed to create blood unit")
}

type groupCount struct {
	BloodGroup types.BloodGroup `db:"blood_group"`
	Available  int              `db:"available"`
}

type organizationCount struct {
	OrganizationID string `db:"organization_id"`
	Available      int    `db:"available"`
}

func (r *UnitRepository) CountAvailableByGroup(ctx context.Context, organizationID string) (map[types.BloodGroup]int, error) {
	query, args, err := psql().
		Select("blood_group", "count(*) AS available").
		From(unitTableName).
		Where(sq.Eq{"organization_id": organizationID, "status": types.UnitStatusAvailable}).
		GroupBy("blood_group").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate count units query: %w", err)
	}

	var rows []*groupCount
	err = pgxscan.Select(ctx, r.db, &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count available units: %w", err)
	}

	counts := make(map[types.BloodGroup]int, len(rows))
	for _, row := range rows {
		counts[row.BloodGroup] = row.Available
	}

	return counts, nil
}

func (r *UnitRepository) AvailableByOrganization(ctx context.Context, group types.BloodGroup) (map[string]int, error) {
	query, args, err := psql().
		Select("organization_id", "count(*) AS available").
		From(unitTableName).
		Where(sq.Eq{"blood_group": group, "status": types.UnitStatusAvailable}).
		GroupBy("organization_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate stock by organization query: %w", err)
	}

	var rows []*organizationCount
	err = pgxscan.Select(ctx, r.db, &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count stock by organization: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.OrganizationID] = row.Available
	}

	return counts, nil
}

const issueUnitsQuery = `
	UPDATE ` + schemaName + `.blood_units
	SET status = $1, request_id = $2, issued_at = $3
	WHERE id IN (
		SELECT id FROM ` + schemaName + `.blood_units
		WHERE organization_id = $4 AND blood_group = $5 AND status = $6
		ORDER BY created_at ASC, id ASC
		LIMIT $7
		FOR UPDATE
	)`

// IssueUnits takes a transaction-scoped advisory lock on (organization,
// group) before counting, so two transactions can never both see the same
// units as available. The lock is released on commit or rollback.
func (r *UnitRepository) IssueUnits(ctx context.Context, organizationID string, group types.BloodGroup, count int, requestID string, at time.Time) error {
	if count <= 0 {
		return types.NewError(types.KindValidation, "store.IssueUnits", "count must be positive, got %d", count)
	}

	_, err := r.db.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", stockLockKey(organizationID, group))
	if err != nil {
		return fmt.Errorf("failed to lock stock %s/%s: %w", organizationID, group, err)
	}

	var available int
	err = r.db.QueryRow(ctx,
		"SELECT count(*) FROM "+unitTableName+" WHERE organization_id = $1 AND blood_group = $2 AND status = $3",
		organizationID, group, types.UnitStatusAvailable,
	).Scan(&available)
	if err != nil {
		return fmt.Errorf("failed to count stock %s/%s: %w", organizationID, group, err)
	}

	if available < count {
		return types.NewError(types.KindInsufficientStock, "store.IssueUnits",
			"organization %s has %d %s units, %d requested", organizationID, available, group, count)
	}

	tag, err := r.db.Exec(ctx, issueUnitsQuery,
		types.UnitStatusIssued, requestID, at,
		organizationID, group, types.UnitStatusAvailable, count,
	)
	if err != nil {
		return fmt.Errorf("failed to issue units: %w", err)
	}

	if tag.RowsAffected() != int64(count) {
		return fmt.Errorf("issued %d units of %s at %s, expected %d", tag.RowsAffected(), group, organizationID, count)
	}

	return nil
}

func stockLockKey(organizationID string, group types.BloodGroup) string {
	return "stock:" + organizationID + ":" + string(group)
}

func (r *UnitRepository) ReleaseUnits(ctx context.Context, requestID string) (int, error) {
	query, args, err := psql().
		Update(unitTableName).
		Set("status", types.UnitStatusAvailable).
		Set("request_id", nil).
		Set("issued_at", nil).
		Where(sq.Eq{"request_id": requestID, "status": types.UnitStatusIssued}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to generate release units query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to release units for request %s: %w", requestID, err)
	}

	return int(tag.RowsAffected()), nil
}

func (r *UnitRepository) UnitsByDonation(ctx context.Context, donationID string) ([]*types.BloodUnit, error) {
	return r.unitsWhere(ctx, sq.Eq{"donation_id": donationID})
}

func (r *UnitRepository) UnitsByRequest(ctx context.Context, requestID string) ([]*types.BloodUnit, error) {
	return r.unitsWhere(ctx, sq.Eq{"request_id": requestID})
}

func (r *UnitRepository) unitsWhere(ctx context.Context, pred sq.Sqlizer) ([]*types.BloodUnit, error) {
	query, args, err := psql().
		Select(unitColumns...).
		From(unitTableName).
		Where(pred).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate units query: %w", err)
	}

	var units []*types.BloodUnit
	err = pgxscan.Select(ctx, r.db, &units, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch units: %w", err)
	}

	return units, nil
}

func (r *UnitRepository) UnitOwnerMismatches(ctx context.Context) ([]*types.UnitOwnerMismatch, error) {
	query, args, err := psql().
		Select(
			"u.id AS unit_id",
			"u.organization_id AS unit_organization_id",
			"d.id AS donation_id",
			"d.organization_id AS donation_organization_id",
		).
		From(unitTableName + " u").
		Join(donationTableName + " d ON d.id = u.donation_id").
		Where("u.organization_id <> d.organization_id").
		OrderBy("u.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate unit owner mismatch query: %w", err)
	}

	var mismatches []*types.UnitOwnerMismatch
	err = pgxscan.Select(ctx, r.db, &mismatches, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unit owner mismatches: %w", err)
	}

	return mismatches, nil
}

func (r *UnitRepository) RepointUnit(ctx context.Context, unitID, from, to string) (bool, error) {
	query, args, err := psql().
		Update(unitTableName).
		Set("organization_id", to).
		Where(sq.Eq{"id": unitID, "organization_id": from}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to generate repoint unit query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to repoint unit %s: %w", unitID, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *UnitRepository) UnitsHeldBy(ctx context.Context, orgType types.OrganizationType) ([]*types.BloodUnit, error) {
	query, args, err := psql().
		Select(utils.PrefixSliceOfStrings("u", unitColumns)...).
		From(unitTableName + " u").
		Join(organizationTableName + " o ON o.id = u.organization_id").
		Where(sq.Eq{"o.type": orgType}).
		OrderBy("u.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate units held by query: %w", err)
	}

	var units []*types.BloodUnit
	err = pgxscan.Select(ctx, r.db, &units, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch units held by %s organizations: %w", orgType, err)
	}

	return units, nil
}
