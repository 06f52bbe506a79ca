// Package compqueue is the compilation queue: a fixed-size worker pool
// that runs compiler/linker jobs without ever blocking a submitter past
// the pool's own capacity control. Submission returns once the job is
// buffered (waiting only for buffer space, never for a job to finish)
// or fails with a "shutting down" error; a failing job never cancels
// its siblings.
package compqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/subprocess"
)

// Job is a self-contained compile/link/upload invocation. IncludePaths
// is expected to already be trampoline-rewritten by the caller on
// Windows when a header-trampoline cache is active.
type Job struct {
	ID           string
	Compiler     string
	Flags        []string
	IncludePaths []string
	SourcePath   string
	OutputPath   string
	WorkDir      string
	IdleTimeout  time.Duration
	TotalTimeout time.Duration
}

// Outcome is a job's result, delivered through its Future.
type Outcome struct {
	OK       bool
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// Future is the handle returned by Submit; callers block on Done() or
// poll it to retrieve the Outcome once the job completes.
type Future struct {
	done    chan struct{}
	outcome Outcome
}

// Done returns a channel closed once the job completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// Outcome returns the job's result; only valid after Done() is closed.
func (f *Future) Outcome() Outcome { return f.outcome }

// Queue is a fixed-size compilation worker pool.
type Queue struct {
	jobs   chan queuedJob
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	shutdown bool
}

type queuedJob struct {
	job    Job
	future *Future
}

// QueuedJobs returns the number of jobs currently buffered (not yet
// picked up by a worker), for the metrics collector.
func (q *Queue) QueuedJobs() int {
	return len(q.jobs)
}

// New starts a Queue with the given number of workers (default = CPU
// count is the caller's responsibility to pass in, per config).
func New(workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{jobs: make(chan queuedJob, workers*4), ctx: ctx, cancel: cancel}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case qj, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(qj)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) run(qj queuedJob) {
	rest := []string{"-o", qj.job.OutputPath, qj.job.SourcePath}
	args, cleanup, err := maybeResponseFile(qj.job.Compiler, qj.job.Flags, qj.job.IncludePaths, rest)
	defer cleanup()
	if err != nil {
		qj.future.outcome = Outcome{Err: err}
		close(qj.future.done)
		return
	}

	result, err := subprocess.Run(q.ctx, qj.job.Compiler, args, subprocess.Options{
		Dir:          qj.job.WorkDir,
		TotalTimeout: qj.job.TotalTimeout,
		IdleTimeout:  qj.job.IdleTimeout,
	})

	outcome := Outcome{}
	if err != nil {
		outcome.Err = err
		if te, ok := err.(*subprocess.TimeoutError); ok {
			outcome.Stdout = string(te.Stdout)
			outcome.Stderr = string(te.Stderr)
			outcome.Duration = te.Elapsed
		}
	} else {
		outcome.OK = result.ExitCode == 0
		outcome.Stdout = string(result.Stdout)
		outcome.Stderr = string(result.Stderr)
		outcome.Duration = result.Elapsed
	}

	qj.future.outcome = outcome
	close(qj.future.done)
}

// Submit enqueues job for execution, returning a Future. It never
// blocks on pool capacity to completion: if the internal buffer is full
// it waits only until a worker takes a queued job off the buffer, and it
// returns a "shutting down" error immediately if Shutdown has already
// been called.
func (q *Queue) Submit(job Job) (*Future, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return nil, errs.New("compqueue.Submit", errs.KindInternal)
	}
	q.mu.Unlock()

	future := &Future{done: make(chan struct{})}
	select {
	case q.jobs <- queuedJob{job: job, future: future}:
		return future, nil
	case <-q.ctx.Done():
		return nil, errs.New("compqueue.Submit", errs.KindInternal)
	}
}

// Shutdown stops accepting new jobs; in-flight jobs are allowed to
// finish. It blocks until every worker has drained its current job.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	q.mu.Unlock()

	close(q.jobs)
	q.wg.Wait()
}
