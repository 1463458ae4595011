// Package gcphase runs the parallel parts of a collection phase. The driver
// fixes the work of every participant before any of them starts and returns
// only after all of them have finished, so callers see a phase as a single
// blocking step.
package gcphase

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/heapregion/internal/runtime/heap"
	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

// Driver coordinates the workers of a phase.
type Driver struct {
	sched    Scheduler
	logger   log.Logger
	duration prometheus.Histogram
}

// NewDriver returns a driver taking its worker count from sched. A nil
// registerer leaves the metrics unregistered.
func NewDriver(sched Scheduler, logger log.Logger, reg prometheus.Registerer) *Driver {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Driver{
		sched:  sched,
		logger: log.With(logger, "component", "gcphase"),
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "orizon",
			Subsystem: "heap",
			Name:      "zero_seconds",
			Help:      "Time taken to zero a range with all phase workers.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

// Workers is the worker count the next phase will use.
func (d *Driver) Workers() int {
	if w := d.sched.ActiveWorkers(); w > 0 {
		return w
	}
	return 1
}

// ZeroRange clears [s, e) of r with every worker zeroing its own slice. The
// context is checked once before the workers start; a started phase always
// runs to completion. A worker that stops on a fatal heap condition is
// reported as an error.
func (d *Driver) ZeroRange(ctx context.Context, r *heap.Region, s, e memory.Address) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "zero phase not started")
	}
	workers := d.Workers()
	begin := time.Now()

	var g errgroup.Group
	for ordinal := 1; ordinal <= workers; ordinal++ {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = workerError(ordinal, p)
				}
			}()
			r.ZeroParallel(s, e, ordinal, workers)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		level.Error(d.logger).Log("msg", "zero phase failed", "heap", r.Name(), "workers", workers, "err", err)
		return err
	}

	elapsed := time.Since(begin)
	d.duration.Observe(elapsed.Seconds())
	level.Debug(d.logger).Log("msg", "zero phase finished", "heap", r.Name(), "start", s, "end", e, "workers", workers, "duration", elapsed)
	return nil
}

// ZeroRegion clears the whole of r.
func (d *Driver) ZeroRegion(ctx context.Context, r *heap.Region) error {
	return d.ZeroRange(ctx, r, r.Start(), r.End())
}

func workerError(ordinal int, p interface{}) error {
	if err, ok := p.(error); ok {
		return errors.Wrapf(err, "zero worker %d", ordinal)
	}
	return errors.Errorf("zero worker %d: %v", ordinal, p)
}
