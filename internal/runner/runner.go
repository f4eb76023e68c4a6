// Package runner drives the tick jobs inside a long-running process.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/postpilot/postpilot/pkg/logging"
)

// Job is one periodic tick
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner runs every job on its own ticker until the context ends
type Runner struct {
	jobs   []Job
	logger *zap.Logger
}

// New creates a runner; jobs with a non-positive interval are skipped
func New(jobs ...Job) *Runner {
	r := &Runner{logger: logging.WithComponent("runner")}
	for _, j := range jobs {
		if j.Interval > 0 && j.Run != nil {
			r.jobs = append(r.jobs, j)
		}
	}
	return r
}

// Jobs returns the names of the scheduled jobs
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		names = append(names, j.Name)
	}
	return names
}

// Run blocks until ctx is done. Each job runs once immediately, then on its interval;
// a run never overlaps with the previous run of the same job.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		job := job // per-iteration copy; go 1.21 shares loop variables
		g.Go(func() error {
			r.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	log := r.logger.With(zap.String("job", job.Name))
	log.Info("Job started", zap.Duration("interval", job.Interval))

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		r.runOnce(ctx, job, log)
		select {
		case <-ctx.Done():
			log.Info("Job stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job, log *zap.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("Job panicked", zap.Any("panic", p))
		}
	}()
	start := time.Now()
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("Job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
	}
}
