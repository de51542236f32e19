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
	requestTableName = table("requests")
	requestColumns   = utils.StructTagValues(types.Request{})
)

const urgencyOrder = "CASE urgency WHEN 'CRITICAL' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END"

type RequestRepository struct {
	db DBTX
}

func NewRequestRepository(db DBTX) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Request(ctx context.Context, id string) (*types.Request, error) {
	query, args, err := psql().
		Select(requestColumns...).
		From(requestTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate request query: %w", err)
	}

	var request = new(types.Request)
	err = pgxscan.Get(ctx, r.db, request, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, types.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to fetch request: %w", err)
	}

	return request, nil
}

func (r *RequestRepository) CreateRequest(ctx context.Context, request *types.Request) error {
	now := time.Now()
	if request.ID == "" {
		request.ID = utils.PrefixedID(utils.PrefixRequest)
	}
	request.Version = 1
	request.CreatedAt = now
	request.UpdatedAt = now

	query, args, err := psql().
		Insert(requestTableName).
		SetMap(utils.StructToMap(request)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert request query: %w", err)
	}

	_, err = r.db.Exec(ctx, query, args...)
	return utils.ErrorWrapOrNil(err, "failed to create request")
}

func (r *RequestRepository) UpdateRequest(ctx context.Context, request *types.Request) error {
	now := time.Now()

	query, args, err := psql().
		Update(requestTableName).
		Set("status", request.Status).
		Set("assigned_to", request.AssignedTo).
		Set("fulfilled_at", request.FulfilledAt).
		Set("units_issued", request.UnitsIssued).
		Set("updated_at", now).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": request.ID, "version": request.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate update request query for request %s: %w", request.ID, err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return types.NewError(types.KindConcurrentModification, "store.UpdateRequest",
			"request %s changed since version %d was read", request.ID, request.Version)
	}

	request.Version++
	request.UpdatedAt = now

	return nil
}

func (r *RequestRepository) OpenRequests(ctx context.Context, limit int) ([]*types.Request, error) {
	builder := psql().
		Select(requestColumns...).
		From(requestTableName).
		Where(sq.Eq{"status": types.RequestStatusOpen}).
		OrderBy(urgencyOrder, "created_at ASC", "id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate open requests query: %w", err)
	}

	var requests []*types.Request
	err = pgxscan.Select(ctx, r.db, &requests, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open requests: %w", err)
	}

	return requests, nil
}

func (r *RequestRepository) InconsistentRequests(ctx context.Context) ([]*types.Request, error) {
	query, args, err := psql().
		Select(requestColumns...).
		From(requestTableName).
		Where(sq.Or{
			sq.And{
				sq.Eq{"status": types.RequestStatusFulfilled},
				sq.Or{sq.Eq{"assigned_to": nil}, sq.Eq{"fulfilled_at": nil}},
			},
			sq.And{
				sq.NotEq{"status": types.RequestStatusFulfilled},
				sq.NotEq{"fulfilled_at": nil},
			},
			sq.And{
				sq.Eq{"status": types.RequestStatusAssigned},
				sq.Eq{"assigned_to": nil},
			},
			sq.And{
				sq.Eq{"status": []types.RequestStatus{types.RequestStatusOpen, types.RequestStatusCancelled}},
				sq.Or{
					sq.NotEq{"assigned_to": nil},
					sq.NotEq{"units_issued": 0},
					sq.Expr("EXISTS (SELECT 1 FROM "+unitTableName+" u WHERE u.request_id = requests.id AND u.status = ?)",
						types.UnitStatusIssued),
				},
			},
		}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate inconsistent requests query: %w", err)
	}

	var requests []*types.Request
	err = pgxscan.Select(ctx, r.db, &requests, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch inconsistent requests: %w", err)
	}

	return requests, nil
}
