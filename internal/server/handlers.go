package server

import (
	"context"
	"net/http"

	"bloodlink/internal/coordinator"
	"bloodlink/internal/reconcile"
	"bloodlink/pkg/types"

	"github.com/alexedwards/flow"
)

type inventoryQuery struct {
	OrganizationID string `form:"organizationId"`
}

type matchOpenQuery struct {
	Limit int `form:"limit"`
}

type reconcileBody struct {
	Sweeps []reconcile.Sweep `json:"sweeps"`
}

// principalHandler is an authenticated handler that returns the response
// body or an error.
type principalHandler func(ctx context.Context, p types.Principal, r *http.Request) (any, error)

// handle adapts fn to http, answering with status on success.
func (s *Service) handle(status int, fn principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		p, err := s.principalFromContext(ctx)
		if err != nil {
			s.writeMessage(w, http.StatusUnauthorized, "authentication required")
			return
		}

		out, err := fn(ctx, p, r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, status, out)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handlePledgeDonation(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusCreated, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var in coordinator.PledgeInput
		if err := decodeJSON(r, &in); err != nil {
			return nil, err
		}
		return s.coordinator.PledgeDonation(ctx, p, in)
	})(w, r)
}

func (s *Service) handleAdvanceDonation(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var in coordinator.AdvanceInput
		if err := decodeJSON(r, &in); err != nil {
			return nil, err
		}
		return s.coordinator.AdvanceDonationStage(ctx, p, flow.Param(ctx, "id"), in)
	})(w, r)
}

func (s *Service) handleRecordLab(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var in coordinator.LabInput
		if err := decodeJSON(r, &in); err != nil {
			return nil, err
		}
		return s.coordinator.RecordLabResult(ctx, p, flow.Param(ctx, "id"), in)
	})(w, r)
}

func (s *Service) handleFinalizeDonation(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var in coordinator.FinalizeInput
		if err := decodeJSON(r, &in); err != nil {
			return nil, err
		}
		return s.coordinator.FinalizeDonation(ctx, p, flow.Param(ctx, "id"), in)
	})(w, r)
}

func (s *Service) handlePostRequest(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusCreated, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var in types.NewRequest
		if err := decodeJSON(r, &in); err != nil {
			return nil, err
		}
		return s.coordinator.PostRequest(ctx, p, in)
	})(w, r)
}

func (s *Service) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		return s.coordinator.CancelRequest(ctx, p, flow.Param(ctx, "id"))
	})(w, r)
}

func (s *Service) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		return s.coordinator.ResetRequest(ctx, p, flow.Param(ctx, "id"))
	})(w, r)
}

// A match that finds no holder still answers 200; the outcome field says so.
func (s *Service) handleMatchRequest(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		return s.coordinator.MatchRequest(ctx, p, flow.Param(ctx, "id"))
	})(w, r)
}

func (s *Service) handleMatchOpen(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var q matchOpenQuery
		if err := decoder.Decode(&q, r.URL.Query()); err != nil {
			return nil, invalidQuery(err)
		}
		return s.coordinator.MatchOpenRequests(ctx, p, q.Limit)
	})(w, r)
}

func (s *Service) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var q inventoryQuery
		if err := decoder.Decode(&q, r.URL.Query()); err != nil {
			return nil, invalidQuery(err)
		}
		return s.coordinator.GetInventorySnapshot(ctx, p, q.OrganizationID)
	})(w, r)
}

func (s *Service) handleAddUnits(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusCreated, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var in coordinator.UnitInput
		if err := decodeJSON(r, &in); err != nil {
			return nil, err
		}
		return s.coordinator.AddUnit(ctx, p, in)
	})(w, r)
}

func (s *Service) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.handle(http.StatusOK, func(ctx context.Context, p types.Principal, r *http.Request) (any, error) {
		var body reconcileBody
		if err := decodeJSON(r, &body); err != nil {
			return nil, err
		}
		return s.coordinator.RunReconciliationSweep(ctx, p, body.Sweeps...)
	})(w, r)
}
