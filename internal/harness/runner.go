package harness

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report summarizes a successful run.
type Report struct {
	Start      time.Time     `json:"start"`
	Requests   int           `json:"requests"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Throughput float64       `json:"throughput"`
}

// Runner drives a fixed pool of workers over Requests.
type Runner struct {
	Client   Client
	Requests []Request
	// Concurrency is the pool size; 0 means one worker per CPU.
	Concurrency int

	// now is the clock used for the run timestamps.
	now func() time.Time
}

// NewRunner creates a runner.
func NewRunner(client Client, reqs []Request, concurrency int) *Runner {
	return &Runner{Client: client, Requests: reqs, Concurrency: concurrency}
}

// Run replays every request and validates each response. The first failure
// stops the dispatch of new requests, lets in-flight requests finish and is
// returned as a *Failure. Nothing is retried. Only the run as a whole is
// timed.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("harness: no client configured")
	}
	now := r.now
	if now == nil {
		now = time.Now
	}
	workers := r.Concurrency
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		g         errgroup.Group
		stop      atomic.Bool
		completed atomic.Int64
		once      sync.Once
		first     *Failure
	)
	g.SetLimit(workers)

	fail := func(f *Failure) {
		once.Do(func() {
			first = f
			stop.Store(true)
		})
	}

	start := now()
	for i := range r.Requests {
		if stop.Load() || ctx.Err() != nil {
			break
		}
		req := &r.Requests[i]
		g.Go(func() error {
			// A slot may free up after the first failure.
			if stop.Load() {
				return nil
			}
			env, err := r.Client.Complete(ctx, req.Messages)
			if err == nil {
				err = Validate(req, env)
			}
			if err != nil {
				// Calls cut short by cancellation are not failures of the service.
				if ctx.Err() == nil {
					fail(newFailure(req, err))
				}
				return nil
			}
			completed.Add(1)
			return nil
		})
	}
	g.Wait()
	elapsed := now().Sub(start)

	if first != nil {
		return nil, first
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("harness: run interrupted after %d requests: %w", completed.Load(), err)
	}

	rep := &Report{
		Start:    start,
		Requests: int(completed.Load()),
		Elapsed:  elapsed,
	}
	if elapsed > 0 {
		rep.Throughput = float64(rep.Requests) / elapsed.Seconds()
	}
	return rep, nil
}
