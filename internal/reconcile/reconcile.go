// Package reconcile repairs records left inconsistent by interrupted writes.
// Every sweep is idempotent: a second run over repaired data changes nothing.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"bloodlink/internal/donation"
	"bloodlink/internal/store"
	"bloodlink/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Sweep string

const (
	SweepStuckDonations     Sweep = "stuck-donations"
	SweepUnitOwners         Sweep = "unit-owners"
	SweepRequestFulfillment Sweep = "request-fulfillment"
)

var AllSweeps = []Sweep{SweepStuckDonations, SweepUnitOwners, SweepRequestFulfillment}

func (s Sweep) Valid() bool {
	for _, v := range AllSweeps {
		if s == v {
			return true
		}
	}
	return false
}

// Performer is recorded as performedBy on history entries the reconciler writes.
const Performer = "system:reconciler"

type Change struct {
	EntityID string `json:"entityId"`
	Field    string `json:"field"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

type Violation struct {
	EntityID string `json:"entityId"`
	Reason   string `json:"reason"`
}

// Report is the outcome of one sweep. Changed counts entities, Changes lists
// every field that moved. Skipped lists entities another writer touched
// while the sweep ran; the next run picks them up again.
type Report struct {
	Sweep      Sweep       `json:"sweep"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Examined   int         `json:"examined"`
	Changed    int         `json:"changed"`
	Changes    []Change    `json:"changes"`
	Violations []Violation `json:"violations"`
	Skipped    []string    `json:"skipped"`
}

// Finalizer applies donation transitions inside a transaction.
type Finalizer interface {
	AdvanceLoaded(ctx context.Context, tx store.Tx, d *types.Donation, to types.DonationStage, ev donation.Event) (types.DonationHistoryEntry, error)
	FinalizeLoaded(ctx context.Context, tx store.Tx, d *types.Donation, ev donation.Event) (*donation.FinalizeResult, error)
}

// Archiver stores finished reports somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, reports []*Report) (string, error)
}

type Option func(*Reconciler)

func WithGracePeriod(d time.Duration) Option {
	return func(r *Reconciler) { r.grace = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithArchiver(a Archiver) Option {
	return func(r *Reconciler) { r.archiver = a }
}

type Reconciler struct {
	store     store.Store
	finalizer Finalizer
	logger    logrus.FieldLogger
	now       func() time.Time
	grace     time.Duration
	archiver  Archiver
}

func New(s store.Store, finalizer Finalizer, logger logrus.FieldLogger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     s,
		finalizer: finalizer,
		logger:    logger,
		now:       time.Now,
		grace:     24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the named sweeps, or all of them when none are given. Sweeps
// run concurrently; each one uses its own transactions. Reports come back in
// the order the sweeps were named.
func (r *Reconciler) Run(ctx context.Context, sweeps ...Sweep) ([]*Report, error) {
	if len(sweeps) == 0 {
		sweeps = AllSweeps
	}
	for _, sweep := range sweeps {
		if !sweep.Valid() {
			return nil, types.NewError(types.KindValidation, "reconcile.Run", "unknown sweep %q", sweep)
		}
	}

	reports := make([]*Report, len(sweeps))
	g, gctx := errgroup.WithContext(ctx)
	for i, sweep := range sweeps {
		g.Go(func() error {
			report, err := r.RunSweep(gctx, sweep)
			if err != nil {
				return fmt.Errorf("failed to run %s sweep: %w", sweep, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if r.archiver != nil {
		key, err := r.archiver.Archive(ctx, reports)
		if err != nil {
			r.logger.WithError(err).Error("failed to archive reconciliation reports")
		} else {
			r.logger.WithField("key", key).Info("reconciliation reports archived")
		}
	}

	return reports, nil
}

// RunSweep executes a single sweep.
func (r *Reconciler) RunSweep(ctx context.Context, sweep Sweep) (*Report, error) {
	report := &Report{
		Sweep:      sweep,
		StartedAt:  r.now(),
		Changes:    []Change{},
		Violations: []Violation{},
		Skipped:    []string{},
	}

	var err error
	switch sweep {
	case SweepStuckDonations:
		err = r.stuckDonations(ctx, report)
	case SweepUnitOwners:
		err = r.unitOwners(ctx, report)
	case SweepRequestFulfillment:
		err = r.requestFulfillment(ctx, report)
	default:
		err = types.NewError(types.KindValidation, "reconcile.RunSweep", "unknown sweep %q", sweep)
	}
	if err != nil {
		return nil, err
	}

	report.FinishedAt = r.now()
	r.logger.WithFields(logrus.Fields{
		"sweep":      sweep,
		"examined":   report.Examined,
		"changed":    report.Changed,
		"violations": len(report.Violations),
		"skipped":    len(report.Skipped),
	}).Info("reconciliation sweep finished")

	return report, nil
}

// record adds the changes for one entity to the report and logs each one.
func (r *Reconciler) record(report *Report, changes []Change) {
	if len(changes) == 0 {
		return
	}
	report.Changed++
	report.Changes = append(report.Changes, changes...)
	for _, c := range changes {
		r.logger.WithFields(logrus.Fields{
			"sweep":     report.Sweep,
			"entity_id": c.EntityID,
			"field":     c.Field,
			"before":    c.Before,
			"after":     c.After,
		}).Info("reconciled")
	}
}

func (r *Reconciler) violation(report *Report, entityID, format string, args ...any) {
	v := Violation{EntityID: entityID, Reason: fmt.Sprintf(format, args...)}
	report.Violations = append(report.Violations, v)
	r.logger.WithFields(logrus.Fields{
		"sweep":     report.Sweep,
		"entity_id": entityID,
	}).Warn(v.Reason)
}

// settle folds the error of one entity's transaction into the report. A
// concurrent write skips the entity; anything else aborts the sweep.
func (r *Reconciler) settle(report *Report, entityID string, changes []Change, err error) error {
	if types.KindOf(err) == types.KindConcurrentModification {
		report.Skipped = append(report.Skipped, entityID)
		r.logger.WithError(err).WithFields(logrus.Fields{
			"sweep":     report.Sweep,
			"entity_id": entityID,
		}).Info("entity changed during sweep, skipped")
		return nil
	}
	if err != nil {
		return err
	}
	r.record(report, changes)
	return nil
}
