// Package matching pairs open blood requests with stock held by other
// organizations and commits the fulfillment.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloodlink/internal/store"
	"bloodlink/internal/utils"
	"bloodlink/pkg/types"

	"github.com/sirupsen/logrus"
)

type Outcome string

const (
	OutcomeFulfilled Outcome = "FULFILLED"
	OutcomePartial   Outcome = "PARTIAL"
	OutcomeNoMatch   Outcome = "NO_MATCH"
)

// Stock is the slice of the inventory ledger the engine needs.
type Stock interface {
	StockHolders(ctx context.Context, tx store.Tx, group types.BloodGroup) (map[string]int, error)
	IssueUnits(ctx context.Context, tx store.Tx, organizationID string, group types.BloodGroup, count int, requestID string) error
}

// Result describes one match attempt. NoMatch is a normal outcome, not an
// error: the request simply stays OPEN.
type Result struct {
	Outcome     Outcome        `json:"outcome"`
	Request     *types.Request `json:"request"`
	AssignedTo  string         `json:"assignedTo,omitempty"`
	UnitsIssued int            `json:"unitsIssued"`
	Candidates  []Candidate    `json:"candidates"`
	Attempts    int            `json:"attempts"`
}

func (r *Result) Matched() bool {
	return r.Outcome == OutcomeFulfilled || r.Outcome == OutcomePartial
}

// Err returns a NoMatchFound error for callers that require a match.
func (r *Result) Err() error {
	if r.Outcome != OutcomeNoMatch {
		return nil
	}
	return types.NewError(types.KindNoMatchFound, "matching.Match",
		"no organization can supply %d %s units for request %s", r.Request.UnitsNeeded, r.Request.BloodGroup, r.Request.ID)
}

type Option func(*Engine)

// WithPartialFulfillment lets the engine issue everything the best
// insufficient holder has when no single holder can cover the request.
func WithPartialFulfillment(enabled bool) Option {
	return func(e *Engine) { e.partial = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	store   store.Store
	stock   Stock
	logger  logrus.FieldLogger
	now     func() time.Time
	partial bool
}

func NewEngine(s store.Store, stock Stock, logger logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{store: s, stock: stock, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// plan is what the engine read before committing anything.
type plan struct {
	request    *types.Request
	needed     int
	candidates []Candidate
}

// Match tries to satisfy one request. Candidates are read in one
// transaction; each commit attempt then runs in its own transaction that
// re-checks the request version, issues the units, and updates the request,
// so the request is never FULFILLED without its inventory decrement or the
// other way round. A lost stock race moves on to the next candidate.
func (e *Engine) Match(ctx context.Context, requestID string) (*Result, error) {
	p, err := e.plan(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result := &Result{Outcome: OutcomeNoMatch, Request: p.request, Candidates: p.candidates}
	log := e.logger.WithFields(logrus.Fields{
		"request_id":  p.request.ID,
		"blood_group": p.request.BloodGroup,
		"needed":      p.needed,
	})

	for _, c := range p.candidates {
		if !c.Sufficient {
			continue
		}
		result.Attempts++

		committed, err := e.commit(ctx, p.request, c.OrganizationID, p.needed)
		if types.KindOf(err) == types.KindInsufficientStock {
			log.WithField("candidate", c.OrganizationID).WithError(err).Info("candidate lost stock race, trying next")
			continue
		}
		if err != nil {
			return nil, err
		}

		result.Outcome = OutcomeFulfilled
		result.Request = committed
		result.AssignedTo = c.OrganizationID
		result.UnitsIssued = p.needed
		log.WithField("assigned_to", c.OrganizationID).Info("request fulfilled")
		return result, nil
	}

	if e.partial && p.request.Status == types.RequestStatusOpen {
		for _, c := range p.candidates {
			if c.Sufficient {
				continue
			}
			result.Attempts++

			committed, err := e.commit(ctx, p.request, c.OrganizationID, c.Available)
			if types.KindOf(err) == types.KindInsufficientStock {
				continue
			}
			if err != nil {
				return nil, err
			}

			result.Outcome = OutcomePartial
			result.Request = committed
			result.AssignedTo = c.OrganizationID
			result.UnitsIssued = c.Available
			log.WithFields(logrus.Fields{
				"assigned_to": c.OrganizationID,
				"issued":      c.Available,
			}).Info("request partially assigned")
			return result, nil
		}
	}

	log.WithField("candidates", len(p.candidates)).Info("no match found")
	return result, nil
}

func (e *Engine) plan(ctx context.Context, requestID string) (*plan, error) {
	const op = "matching.Match"

	var p plan
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		request, err := tx.Request(ctx, requestID)
		if errors.Is(err, types.ErrRequestNotFound) {
			return types.WrapError(types.KindNotFound, op, err, "request %s", requestID)
		}
		if err != nil {
			return err
		}

		switch request.Status {
		case types.RequestStatusOpen:
			p.needed = request.UnitsNeeded
		case types.RequestStatusAssigned:
			// A partially assigned request can only be completed by the
			// organization it is assigned to.
			p.needed = request.UnitsNeeded - request.UnitsIssued
		default:
			return types.NewError(types.KindInvalidStateTransition, op,
				"request %s is %s; only OPEN or ASSIGNED requests can be matched", request.ID, request.Status)
		}
		p.request = request

		holders, err := e.stock.StockHolders(ctx, tx, request.BloodGroup)
		if err != nil {
			return err
		}
		if request.Status == types.RequestStatusAssigned {
			assigned := utils.PtrString(request.AssignedTo)
			holders = map[string]int{assigned: holders[assigned]}
		}

		ids := make([]string, 0, len(holders))
		for id := range holders {
			ids = append(ids, id)
		}
		orgs, err := tx.OrganizationsByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]*types.Organization, len(orgs))
		for _, org := range orgs {
			byID[org.ID] = org
			if !org.Type.HoldsStock() {
				e.logger.WithFields(logrus.Fields{
					"organization_id": org.ID,
					"type":            org.Type,
				}).Warn("organization of a type that may not hold stock owns units")
			}
		}

		p.candidates = Rank(request, p.needed, holders, byID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// commit issues count units from supplier and records the assignment in one
// transaction. It fails with ConcurrentModification when the request changed
// after it was planned.
func (e *Engine) commit(ctx context.Context, planned *types.Request, supplier string, count int) (*types.Request, error) {
	const op = "matching.commit"

	var committed *types.Request
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		request, err := tx.Request(ctx, planned.ID)
		if err != nil {
			return err
		}
		if request.Version != planned.Version {
			return types.NewError(types.KindConcurrentModification, op,
				"request %s changed while matching (version %d, planned %d)", request.ID, request.Version, planned.Version)
		}
		if supplier == request.OrganizationID {
			return types.NewError(types.KindInvalidStateTransition, op,
				"organization %s cannot fulfill its own request %s", supplier, request.ID)
		}
		if request.Status == types.RequestStatusAssigned && utils.PtrString(request.AssignedTo) != supplier {
			return types.NewError(types.KindInvalidStateTransition, op,
				"request %s is assigned to %s", request.ID, utils.PtrString(request.AssignedTo))
		}

		if err := e.stock.IssueUnits(ctx, tx, supplier, request.BloodGroup, count, request.ID); err != nil {
			return err
		}

		now := e.now()
		request.UnitsIssued += count
		request.AssignedTo = utils.StringPtr(supplier)
		if request.UnitsIssued >= request.UnitsNeeded {
			request.Status = types.RequestStatusFulfilled
			request.FulfilledAt = utils.TimePtr(now)
		} else {
			request.Status = types.RequestStatusAssigned
			request.FulfilledAt = nil
		}

		if err := tx.UpdateRequest(ctx, request); err != nil {
			return err
		}

		committed = request
		return nil
	})
	if err != nil {
		return nil, err
	}

	return committed, nil
}

// BatchResult is the per-request outcome of MatchOpen.
type BatchResult struct {
	RequestID string  `json:"requestId"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// MatchOpen runs Match over OPEN requests, most urgent first. A request that
// fails is reported in its BatchResult and does not stop the pass.
func (e *Engine) MatchOpen(ctx context.Context, limit int) ([]BatchResult, error) {
	var open []*types.Request
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		open, err = tx.OpenRequests(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}

	results := make([]BatchResult, 0, len(open))
	for _, request := range open {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := e.Match(ctx, request.ID)
		br := BatchResult{RequestID: request.ID, Result: res}
		if err != nil {
			br.Error = err.Error()
			e.logger.WithError(err).WithField("request_id", request.ID).Warn("match failed")
		}
		results = append(results, br)
	}

	return results, nil
}
