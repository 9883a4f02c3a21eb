package pipeline

import (
	"context"
	"errors"

	"github.com/matheus3301/wppsync/internal/report"
	"golang.org/x/sync/errgroup"
)

// RunAll syncs every job, up to the runner's concurrency at a time. Each job
// gets its own store and artifacts, so explicit artifact paths in opts are
// ignored. Reports are returned in job order; a job that failed outright
// leaves a nil entry. The error joins every per-job error.
func (r *Runner) RunAll(ctx context.Context, jobs []Job, opts Options) ([]*report.SyncReport, error) {
	opts.ManifestPath = ""
	opts.ReportPath = ""

	reports := make([]*report.SyncReport, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			reports[i], errs[i] = r.RunSync(ctx, job, opts)
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}
