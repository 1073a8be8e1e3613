package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/lock"
)

// Runner schedules the two sweeps on independent tickers. Each run is
// bounded by the configured sweep timeout, and a TryLock per sweep skips a
// tick if the previous run is still in flight — an overdue VM just waits
// for the next scheduled run.
type Runner struct {
	rec  *Reconciler
	conf config.ReconcileConfig

	expiryLock lock.Locker
	driftLock  lock.Locker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner for the Reconciler.
func NewRunner(conf config.ReconcileConfig, rec *Reconciler) *Runner {
	return &Runner{
		rec:        rec,
		conf:       conf,
		expiryLock: lock.NewInProcess(),
		driftLock:  lock.NewInProcess(),
	}
}

// Start launches both sweep loops. Call Stop to shut them down.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.loop(ctx, "expiry", time.Duration(r.conf.ExpiryIntervalSeconds)*time.Second,
		r.expiryLock, r.rec.ExpirySweep)
	go r.loop(ctx, "drift", time.Duration(r.conf.DriftIntervalSeconds)*time.Second,
		r.driftLock, r.rec.DriftSync)
}

// Stop cancels both loops and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// RunOnce triggers both sweeps immediately (the manual reconciliation
// entry point). The two sweeps are independent and separately locked, so
// they run concurrently. Returns the expiry result and the drift result.
func (r *Runner) RunOnce(ctx context.Context, withDrift bool) (Result, Result, error) {
	var expiry, drift Result
	wg := errgroup.Group{}
	wg.Go(func() error {
		var err error
		expiry, err = r.runOne(ctx, "expiry", r.expiryLock, r.rec.ExpirySweep)
		return err
	})
	if withDrift {
		wg.Go(func() error {
			var err error
			drift, err = r.runOne(ctx, "drift", r.driftLock, r.rec.DriftSync)
			return err
		})
	}
	return expiry, drift, wg.Wait()
}

func (r *Runner) loop(ctx context.Context, name string, interval time.Duration,
	l lock.Locker, sweep func(context.Context) (Result, error),
) {
	defer r.wg.Done()
	logger := log.WithFunc("reconcile.loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.runOne(ctx, name, l, sweep); err != nil {
				logger.Errorf(ctx, err, "%s sweep failed", name)
			}
		}
	}
}

// runOne executes a single bounded sweep, skipping if one is in flight.
func (r *Runner) runOne(ctx context.Context, name string, l lock.Locker,
	sweep func(context.Context) (Result, error),
) (Result, error) {
	logger := log.WithFunc("reconcile.runOne")

	ok, err := l.TryLock(ctx)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		logger.Warnf(ctx, "%s sweep still running, skipping this tick", name)
		return Result{}, nil
	}
	defer l.Unlock(ctx) //nolint:errcheck

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(r.conf.SweepTimeoutSeconds)*time.Second)
	defer cancel()

	res, err := sweep(runCtx)
	if err != nil {
		return res, err
	}
	if res.Affected > 0 || res.Failed > 0 {
		logger.Infof(ctx, "%s sweep: %d affected, %d failed", name, res.Affected, res.Failed)
	}
	return res, nil
}
