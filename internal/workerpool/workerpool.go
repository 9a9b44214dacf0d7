// internal/workerpool/workerpool.go
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vansales/stockadvisor/internal/logging"

	"go.uber.org/zap"
)

// Pool runs independent jobs across a fixed number of workers. The nightly
// pre-generation fans one job per route through it so a slow route does not
// serialize the rest of the fleet.
type Pool struct {
	workers int
	logger  logging.AdvisorLogger

	jobsProcessed int64
	jobsFailed    int64
}

// Job is one unit of work. Execute returns an error for accounting only;
// failures never stop the other jobs.
type Job interface {
	ID() string
	Execute(ctx context.Context) error
}

// New creates a pool with the given concurrency.
func New(workers int, logger logging.AdvisorLogger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Pool{workers: workers, logger: logger}
}

// Run executes all jobs and blocks until every one finished or the context
// is cancelled. Jobs submitted after cancellation are skipped.
func (p *Pool) Run(ctx context.Context, jobs []Job) {
	queue := make(chan Job)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for job := range queue {
				if ctx.Err() != nil {
					continue
				}
				if err := job.Execute(ctx); err != nil {
					atomic.AddInt64(&p.jobsFailed, 1)
					p.logger.Warn("Job failed",
						zap.String("job", job.ID()),
						zap.Int("worker", worker),
						zap.Error(err),
					)
				}
				atomic.AddInt64(&p.jobsProcessed, 1)
			}
		}(i)
	}

	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()
}

// Stats reports processed and failed job counts over the pool's lifetime.
func (p *Pool) Stats() (processed, failed int64) {
	return atomic.LoadInt64(&p.jobsProcessed), atomic.LoadInt64(&p.jobsFailed)
}
