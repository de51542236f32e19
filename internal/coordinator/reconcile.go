package coordinator

import (
	"context"

	"bloodlink/internal/reconcile"
	"bloodlink/pkg/types"
)

// RunReconciliationSweep runs the named sweeps, or all of them.
func (c *Coordinator) RunReconciliationSweep(ctx context.Context, p types.Principal, sweeps ...reconcile.Sweep) ([]*reconcile.Report, error) {
	const op = "RunReconciliationSweep"

	if !p.IsAdmin() {
		return nil, forbidden(op, p, "reconciliation needs the admin role")
	}

	var reports []*reconcile.Report
	err := c.runFor(ctx, op, c.reconcileTimeout, func(ctx context.Context) error {
		var err error
		reports, err = c.reconciler.Run(ctx, sweeps...)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, report := range reports {
		c.metrics.AddReconcileChanges(string(report.Sweep), report.Changed)
	}
	return reports, nil
}
