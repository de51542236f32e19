// Package coordinator exposes the operations other services call. It checks
// the caller, validates input, bounds each call with a timeout, runs the work
// in one store transaction, and sends notifications once the transaction has
// committed.
package coordinator

import (
	"context"
	"errors"
	"time"

	"bloodlink/internal/donation"
	"bloodlink/internal/inventory"
	"bloodlink/internal/matching"
	"bloodlink/internal/metrics"
	"bloodlink/internal/notify"
	"bloodlink/internal/reconcile"
	"bloodlink/internal/store"
	"bloodlink/pkg/types"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type Options struct {
	PartialFulfillment   bool
	MissingOrgFallback   bool
	OperationTimeout     time.Duration
	NotifyTimeout        time.Duration
	MatchBatchSize       int
	ReconcileGracePeriod time.Duration
	ReconcileTimeout     time.Duration

	Archiver reconcile.Archiver
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// OptionsFromConfig copies the tunables from the loaded configuration.
// Archiver, Notifier and Metrics are left for the caller to wire.
func OptionsFromConfig(cfg *types.Config) Options {
	return Options{
		PartialFulfillment:   cfg.PartialFulfillment,
		MissingOrgFallback:   cfg.MissingOrgFallback,
		OperationTimeout:     cfg.OperationTimeout,
		NotifyTimeout:        cfg.NotifyTimeout,
		MatchBatchSize:       cfg.MatchBatchSize,
		ReconcileGracePeriod: cfg.ReconcileGracePeriod,
		ReconcileTimeout:     cfg.ReconcileTimeout,
	}
}

type Coordinator struct {
	store      store.Store
	ledger     *inventory.Ledger
	donations  *donation.Service
	engine     *matching.Engine
	reconciler *reconcile.Reconciler
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	logger     logrus.FieldLogger
	validate   *validator.Validate
	now        func() time.Time

	opTimeout        time.Duration
	notifyTimeout    time.Duration
	reconcileTimeout time.Duration
	batchSize        int
}

func New(s store.Store, logger logrus.FieldLogger, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 5 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 2 * time.Second
	}
	if opts.MatchBatchSize <= 0 {
		opts.MatchBatchSize = 50
	}
	if opts.ReconcileGracePeriod <= 0 {
		opts.ReconcileGracePeriod = 24 * time.Hour
	}
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = 2 * time.Minute
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLog(logger)
	}

	ledger := inventory.NewLedger(logger, opts.Now)
	donations := donation.NewService(logger, ledger, donation.WithMissingOrgFallback(opts.MissingOrgFallback))

	reconcileOpts := []reconcile.Option{
		reconcile.WithClock(opts.Now),
		reconcile.WithGracePeriod(opts.ReconcileGracePeriod),
	}
	if opts.Archiver != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithArchiver(opts.Archiver))
	}

	return &Coordinator{
		store:     s,
		ledger:    ledger,
		donations: donations,
		engine: matching.NewEngine(s, ledger, logger,
			matching.WithClock(opts.Now),
			matching.WithPartialFulfillment(opts.PartialFulfillment),
		),
		reconciler:    reconcile.New(s, donations, logger, reconcileOpts...),
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		logger:        logger,
		validate:      newValidator(),
		now:           opts.Now,

		opTimeout:        opts.OperationTimeout,
		notifyTimeout:    opts.NotifyTimeout,
		reconcileTimeout: opts.ReconcileTimeout,
		batchSize:        opts.MatchBatchSize,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("blood_group", func(fl validator.FieldLevel) bool {
		return types.BloodGroup(fl.Field().String()).Valid()
	})
	return v
}

// run bounds op with the operation timeout and records its latency and
// result kind.
func (c *Coordinator) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.runFor(ctx, op, c.opTimeout, fn)
}

func (c *Coordinator) runFor(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)

	result := "ok"
	if err != nil {
		result = "error"
		if kind := types.KindOf(err); kind != "" {
			result = string(kind)
		} else if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		if result == "error" || result == "timeout" {
			c.logger.WithError(err).WithField("operation", op).Error("operation failed")
		}
	}
	c.metrics.ObserveOperation(op, result, time.Since(start))

	return err
}

func (c *Coordinator) check(op string, input any) error {
	if err := c.validate.Struct(input); err != nil {
		return types.WrapError(types.KindValidation, op, err, "invalid input")
	}
	return nil
}

// notifyContext detaches from the caller so a notification still goes out
// when the caller's request has just finished.
func (c *Coordinator) notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
}

func (c *Coordinator) notifyDonation(ctx context.Context, d *types.Donation, from types.DonationStage) {
	last, ok := d.LastHistory()
	if !ok {
		return
	}

	ctx, cancel := c.notifyContext(ctx)
	defer cancel()

	err := c.notifier.DonationStageChanged(ctx, notify.DonationEvent{
		DonationID:     d.ID,
		DonorID:        d.DonorID,
		OrganizationID: d.OrganizationID,
		From:           from,
		To:             d.Stage,
		Status:         d.Status,
		Action:         last.Action,
		At:             last.PerformedAt,
	})
	if err != nil {
		c.metrics.IncrementNotifyFailure(notify.EventDonationStageChanged)
		c.logger.WithError(err).WithField("donation_id", d.ID).Warn("failed to send donation notification")
	}
}

func (c *Coordinator) notifyRequest(ctx context.Context, res *matching.Result) {
	ctx, cancel := c.notifyContext(ctx)
	defer cancel()

	r := res.Request
	err := c.notifier.RequestFulfilled(ctx, notify.RequestEvent{
		RequestID:      r.ID,
		OrganizationID: r.OrganizationID,
		AssignedTo:     res.AssignedTo,
		BloodGroup:     r.BloodGroup,
		UnitsIssued:    res.UnitsIssued,
		Status:         r.Status,
		At:             r.UpdatedAt,
	})
	if err != nil {
		c.metrics.IncrementNotifyFailure(notify.EventRequestFulfilled)
		c.logger.WithError(err).WithField("request_id", r.ID).Warn("failed to send request notification")
	}
}

func forbidden(op string, p types.Principal, format string, args ...any) error {
	err := types.NewError(types.KindForbidden, op, format, args...)
	err.Msg = "principal " + p.ID + ": " + err.Msg
	return err
}

// actsFor reports whether p may act on behalf of organizationID.
func actsFor(p types.Principal, organizationID string) bool {
	return p.IsAdmin() || (p.OrganizationID != "" && p.OrganizationID == organizationID)
}
