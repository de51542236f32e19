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
	organizationTableName = table("organizations")
	organizationColumns   = utils.StructTagValues(types.Organization{})
)

type OrganizationRepository struct {
	db DBTX
}

func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Organization(ctx context.Context, id string) (*types.Organization, error) {
	query, args, err := psql().
		Select(organizationColumns...).
		From(organizationTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate organization query: %w", err)
	}

	var org types.Organization
	err = pgxscan.Get(ctx, r.db, &org, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, types.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to fetch organization: %w", err)
	}

	return &org, nil
}

func (r *OrganizationRepository) OrganizationsByIDs(ctx context.Context, ids []string) ([]*types.Organization, error) {
	if len(ids) == 0 {
		return []*types.Organization{}, nil
	}

	query, args, err := psql().
		Select(organizationColumns...).
		From(organizationTableName).
		Where(sq.Eq{"id": ids}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate organizations-by-ids query: %w", err)
	}

	var orgs []*types.Organization
	err = pgxscan.Select(ctx, r.db, &orgs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch organizations by ids: %w", err)
	}

	return orgs, nil
}

func (r *OrganizationRepository) CreateOrganization(ctx context.Context, org *types.Organization) error {
	now := time.Now()
	if org.ID == "" {
		org.ID = utils.PrefixedID(utils.PrefixOrganization)
	}
	org.CreatedAt = now
	org.UpdatedAt = now

	query, args, err := psql().
		Insert(organizationTableName).
		SetMap(utils.StructToMap(org)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate create organization query: %w", err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	return utils.ErrorWrapOrNil(err, "failed to create organization")
}
