// Package notify tells the outside world about committed state changes.
// Notifiers are called after the transaction commits; a failed notification
// never undoes the change it describes.
package notify

import (
	"context"
	"errors"
	"time"

	"bloodlink/pkg/types"

	"github.com/sirupsen/logrus"
)

const (
	EventRequestFulfilled     = "request.fulfilled"
	EventDonationStageChanged = "donation.stage_changed"
)

type RequestEvent struct {
	RequestID      string              `json:"requestId"`
	OrganizationID string              `json:"organizationId"`
	AssignedTo     string              `json:"assignedTo"`
	BloodGroup     types.BloodGroup    `json:"bloodGroup"`
	UnitsIssued    int                 `json:"unitsIssued"`
	Status         types.RequestStatus `json:"status"`
	At             time.Time           `json:"at"`
}

type DonationEvent struct {
	DonationID     string               `json:"donationId"`
	DonorID        string               `json:"donorId"`
	OrganizationID string               `json:"organizationId"`
	From           types.DonationStage  `json:"from"`
	To             types.DonationStage  `json:"to"`
	Status         types.DonationStatus `json:"status"`
	Action         string               `json:"action"`
	At             time.Time            `json:"at"`
}

type Notifier interface {
	// RequestFulfilled is sent when a match assigns units to a request,
	// including partial assignments.
	RequestFulfilled(ctx context.Context, event RequestEvent) error
	// DonationStageChanged is sent for every history entry a donation gains.
	DonationStageChanged(ctx context.Context, event DonationEvent) error
}

// Log writes notifications to the application log.
type Log struct {
	logger logrus.FieldLogger
}

func NewLog(logger logrus.FieldLogger) *Log {
	return &Log{logger: logger}
}

func (l *Log) RequestFulfilled(_ context.Context, event RequestEvent) error {
	l.logger.WithFields(logrus.Fields{
		"event":           EventRequestFulfilled,
		"request_id":      event.RequestID,
		"organization_id": event.OrganizationID,
		"assigned_to":     event.AssignedTo,
		"units_issued":    event.UnitsIssued,
		"status":          event.Status,
	}).Info("notify")
	return nil
}

func (l *Log) DonationStageChanged(_ context.Context, event DonationEvent) error {
	l.logger.WithFields(logrus.Fields{
		"event":       EventDonationStageChanged,
		"donation_id": event.DonationID,
		"donor_id":    event.DonorID,
		"from":        event.From,
		"to":          event.To,
		"status":      event.Status,
		"action":      event.Action,
	}).Info("notify")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) RequestFulfilled(ctx context.Context, event RequestEvent) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.RequestFulfilled(ctx, event))
	}
	return errors.Join(errs...)
}

func (m Multi) DonationStageChanged(ctx context.Context, event DonationEvent) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.DonationStageChanged(ctx, event))
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) RequestFulfilled(context.Context, RequestEvent) error     { return nil }
func (Nop) DonationStageChanged(context.Context, DonationEvent) error { return nil }
