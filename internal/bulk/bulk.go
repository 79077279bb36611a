// Package bulk runs a batch of JobSpecs to completion with a bounded
// worker pool, recording each result to a ledger.Ledger as it
// finishes. Grounded on the teacher's build.BuildContext/Worker
// pattern (build/build.go): a buffered channel of work items drained
// by a fixed number of goroutines, a sync.WaitGroup to await
// completion, and a mutex-guarded stats accumulator — generalized from
// dsynth's dependency-aware worker loop (which pulls only
// dependency-satisfied packages off the queue) to reprise's model,
// where dependency ordering is already resolved per-job inside
// jobrunner's own planner.Run call, so the pool here only needs to
// bound concurrency across independent JobSpecs.
package bulk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"reprise/internal/ledger"
	"reprise/internal/model"
	"reprise/internal/rlog"
)

// Runner executes one JobSpec and returns its result; jobrunner.Runner
// satisfies this.
type Runner interface {
	Run(ctx context.Context, spec *model.JobSpec) (*model.JobResult, error)
}

// Stats accumulates terminal counts across a bulk run.
type Stats struct {
	mu      sync.Mutex
	Total   int
	Results map[model.JobStatus]int
}

func newStats() *Stats {
	return &Stats{Results: make(map[model.JobStatus]int)}
}

func (s *Stats) record(status model.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Total++
	s.Results[status]++
}

// Snapshot returns a copy of the current counts, safe to read while
// the run is still in progress.
func (s *Stats) Snapshot() (int, map[model.JobStatus]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.JobStatus]int, len(s.Results))
	for k, v := range s.Results {
		out[k] = v
	}
	return s.Total, out
}

// ResultHandler is invoked once per completed JobSpec, in whichever
// goroutine finished it; implementations must be safe for concurrent
// calls if Options.Workers > 1.
type ResultHandler func(spec *model.JobSpec, result *model.JobResult)

// Options configures one bulk run.
type Options struct {
	Workers int
	Ledger  *ledger.Ledger
	OnResult ResultHandler
}

// Run fans specs out across Options.Workers goroutines (or runs them
// sequentially if Workers <= 1, matching the teacher's single-worker
// degenerate case), blocking until every spec has a terminal result.
func Run(ctx context.Context, runner Runner, specs []*model.JobSpec, opts Options) *Stats {
	stats := newStats()
	log := rlog.With("component", "bulk")

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	queue := make(chan *model.JobSpec, len(specs))
	for _, s := range specs {
		queue <- s
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for spec := range queue {
				jobStart := time.Now()
				result, err := runner.Run(ctx, spec)
				jobEnd := time.Now()
				if err != nil {
					log.Warnf("bulk: worker %d: job %s errored before completion: %v", workerID, spec.TargetOrigin, err)
					result = &model.JobResult{Spec: spec, Status: model.StatusCrashed, Details: err.Error()}
				}
				stats.record(result.Status)
				if opts.Ledger != nil {
					rec := ledger.FromResult(uuid.New().String(), result, jobStart, jobEnd)
					if err := opts.Ledger.Record(rec); err != nil {
						log.Warnf("bulk: worker %d: record ledger entry for %s: %v", workerID, spec.TargetOrigin, err)
					}
				}
				if opts.OnResult != nil {
					opts.OnResult(spec, result)
				}
			}
		}(i)
	}
	wg.Wait()

	return stats
}
