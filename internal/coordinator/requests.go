package coordinator

import (
	"context"
	"errors"
	"time"

	"bloodlink/internal/matching"
	"bloodlink/internal/store"
	"bloodlink/pkg/types"

	"github.com/sirupsen/logrus"
)

// PostRequest opens a blood request for the caller's organization.
func (c *Coordinator) PostRequest(ctx context.Context, p types.Principal, in types.NewRequest) (*types.Request, error) {
	const op = "PostRequest"

	requester, ok := in.Requester()
	if !ok {
		return nil, types.NewError(types.KindValidation, op,
			"createdBy %q does not match organizationId %q", in.CreatedBy, in.OrganizationID)
	}
	if requester == "" {
		requester = p.OrganizationID
	}
	if requester == "" {
		return nil, types.NewError(types.KindValidation, op, "organizationId is required")
	}
	if err := c.check(op, in); err != nil {
		return nil, err
	}
	if !actsFor(p, requester) {
		return nil, forbidden(op, p, "cannot post requests for organization %s", requester)
	}

	request := &types.Request{
		OrganizationID: requester,
		BloodGroup:     in.BloodGroup,
		UnitsNeeded:    in.UnitsNeeded,
		Urgency:        in.Urgency,
		Status:         types.RequestStatusOpen,
		Location:       in.Location,
	}

	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			org, err := tx.Organization(ctx, requester)
			if errors.Is(err, types.ErrOrganizationNotFound) {
				return types.WrapError(types.KindReferentialIntegrity, op, err, "organization %s", requester)
			}
			if err != nil {
				return err
			}
			if request.Latitude == 0 && request.Longitude == 0 {
				request.Location = org.Location
			}
			return tx.CreateRequest(ctx, request)
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"request_id":      request.ID,
		"organization_id": request.OrganizationID,
		"blood_group":     request.BloodGroup,
		"units_needed":    request.UnitsNeeded,
		"urgency":         request.Urgency,
	}).Info("request posted")

	return request, nil
}

// CancelRequest closes an OPEN request.
func (c *Coordinator) CancelRequest(ctx context.Context, p types.Principal, requestID string) (*types.Request, error) {
	const op = "CancelRequest"

	var cancelled *types.Request
	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			request, err := c.authorizedRequest(ctx, tx, op, p, requestID)
			if err != nil {
				return err
			}
			if request.Status != types.RequestStatusOpen {
				return types.NewError(types.KindInvalidStateTransition, op,
					"request %s is %s; only OPEN requests can be cancelled", request.ID, request.Status)
			}

			request.Status = types.RequestStatusCancelled
			if err := tx.UpdateRequest(ctx, request); err != nil {
				return err
			}
			cancelled = request
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return cancelled, nil
}

// ResetRequest is the administrative way back from ASSIGNED or FULFILLED to
// OPEN. Units issued to the request return to AVAILABLE in the same
// transaction.
func (c *Coordinator) ResetRequest(ctx context.Context, p types.Principal, requestID string) (*ResetResult, error) {
	const op = "ResetRequest"

	if !p.IsAdmin() {
		return nil, forbidden(op, p, "resetting requests needs the admin role")
	}

	var result *ResetResult
	err := c.run(ctx, op, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx store.Tx) error {
			request, err := c.authorizedRequest(ctx, tx, op, p, requestID)
			if err != nil {
				return err
			}
			if request.Status != types.RequestStatusFulfilled && request.Status != types.RequestStatusAssigned {
				return types.NewError(types.KindInvalidStateTransition, op,
					"request %s is %s; only ASSIGNED or FULFILLED requests can be reset", request.ID, request.Status)
			}

			released, err := c.ledger.ReleaseUnits(ctx, tx, request.ID)
			if err != nil {
				return err
			}

			request.Status = types.RequestStatusOpen
			request.AssignedTo = nil
			request.FulfilledAt = nil
			request.UnitsIssued = 0
			if err := tx.UpdateRequest(ctx, request); err != nil {
				return err
			}

			result = &ResetResult{Request: request, UnitsReleased: released}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"released":   result.UnitsReleased,
		"by":         p.ID,
	}).Warn("request reset")

	return result, nil
}

// MatchRequest runs the matching engine for one request. NO_MATCH is
// returned as an outcome with a nil error.
func (c *Coordinator) MatchRequest(ctx context.Context, p types.Principal, requestID string) (*matching.Result, error) {
	const op = "MatchRequest"

	var result *matching.Result
	err := c.run(ctx, op, func(ctx context.Context) error {
		err := c.store.WithTx(ctx, func(tx store.Tx) error {
			_, err := c.authorizedRequest(ctx, tx, op, p, requestID)
			return err
		})
		if err != nil {
			return err
		}

		result, err = c.engine.Match(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.afterMatch(ctx, result)
	return result, nil
}

// MatchOpenRequests runs one pass over OPEN requests, most urgent first.
func (c *Coordinator) MatchOpenRequests(ctx context.Context, p types.Principal, limit int) ([]matching.BatchResult, error) {
	const op = "MatchOpenRequests"

	if !p.IsAdmin() {
		return nil, forbidden(op, p, "batch matching needs the admin role")
	}
	if limit <= 0 || limit > c.batchSize {
		limit = c.batchSize
	}

	var results []matching.BatchResult
	// A batch gets the operation timeout for every request it may touch.
	err := c.runFor(ctx, op, c.opTimeout*time.Duration(limit), func(ctx context.Context) error {
		var err error
		results, err = c.engine.MatchOpen(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.Result != nil {
			c.afterMatch(ctx, r.Result)
		}
	}
	return results, nil
}

func (c *Coordinator) afterMatch(ctx context.Context, result *matching.Result) {
	c.metrics.IncrementMatchOutcome(string(result.Outcome))
	if !result.Matched() {
		return
	}
	c.metrics.AddUnitsIssued(string(result.Request.BloodGroup), result.UnitsIssued)
	c.notifyRequest(ctx, result)
}

// authorizedRequest loads a request and checks p acts for its requester.
func (c *Coordinator) authorizedRequest(ctx context.Context, tx store.Tx, op string, p types.Principal, requestID string) (*types.Request, error) {
	request, err := tx.Request(ctx, requestID)
	if errors.Is(err, types.ErrRequestNotFound) {
		return nil, types.WrapError(types.KindNotFound, op, err, "request %s", requestID)
	}
	if err != nil {
		return nil, err
	}
	if !actsFor(p, request.OrganizationID) {
		return nil, forbidden(op, p, "request %s belongs to organization %s", request.ID, request.OrganizationID)
	}
	return request, nil
}
