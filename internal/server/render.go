package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bloodlink/pkg/types"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

var kindStatus = map[types.ErrorKind]int{
	types.KindValidation:                 http.StatusBadRequest,
	types.KindNotFound:                   http.StatusNotFound,
	types.KindForbidden:                  http.StatusForbidden,
	types.KindInvalidStateTransition:     http.StatusConflict,
	types.KindConcurrentModification:     http.StatusConflict,
	types.KindInsufficientStock:          http.StatusConflict,
	types.KindNoMatchFound:               http.StatusConflict,
	types.KindReferentialIntegrity:       http.StatusUnprocessableEntity,
	types.KindIneligibleOrganizationType: http.StatusUnprocessableEntity,
	types.KindDonorNotEligible:           http.StatusUnprocessableEntity,
}

func statusFor(err error) int {
	if status, ok := kindStatus[types.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Service) writeMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: http.StatusText(status), Message: msg})
}

// writeError maps a domain error to its status. Anything else is logged and
// reported as a bare 500.
func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.internalServerError(w, err)
		return
	}

	body := errorBody{Error: http.StatusText(status), Kind: string(types.KindOf(err))}
	var e *types.Error
	if errors.As(err, &e) {
		body.Message = e.Msg
	}
	s.writeJSON(w, status, body)
}

func (s *Service) internalServerError(w http.ResponseWriter, err error) {
	s.logger.WithError(err).Error("request failed")
	s.writeMessage(w, http.StatusInternalServerError, "")
}

// decodeJSON reads one JSON object from the body. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return types.WrapError(types.KindValidation, "decode", err, "malformed request body")
	}
	if dec.More() {
		return types.NewError(types.KindValidation, "decode", "request body must hold a single object")
	}
	return nil
}

func invalidQuery(err error) error {
	return types.WrapError(types.KindValidation, "decode", err, "malformed query")
}
