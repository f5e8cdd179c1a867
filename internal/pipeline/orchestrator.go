package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dgallion1/docprep/internal/doctree"
	"github.com/google/uuid"
)

// Source supplies the pages of a batch. Page may read from disk; it is only
// called by the worker that processes page i.
type Source interface {
	Len() int
	URL(i int) string
	Page(i int) (doctree.RawPage, error)
}

// Pages adapts in-memory pages to a Source.
func Pages(pages []doctree.RawPage) Source { return memSource(pages) }

type memSource []doctree.RawPage

func (m memSource) Len() int                            { return len(m) }
func (m memSource) URL(i int) string                    { return m[i].SourceURL }
func (m memSource) Page(i int) (doctree.RawPage, error) { return m[i], nil }

// Options size the worker pool.
type Options struct {
	Workers   int           // Defaults to runtime.NumCPU().
	QueueSize int           // Pages waiting for a worker; defaults to 2*Workers.
	JobTTL    time.Duration // How long finished jobs stay queryable.
}

// Report aggregates a batch run.
type Report struct {
	RunID     string        `json:"run_id"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Processed int           `json:"processed"`
	Written   int           `json:"written"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Canceled  int           `json:"canceled"` // never dispatched
	Pages     []JobSnapshot `json:"pages"`
}

// Coordinator runs batches of pages through a bounded worker pool. Pages are
// independent: one page's failure never stops the others.
type Coordinator struct {
	worker *Worker
	jobs   *JobStore
	opts   Options
	log    *slog.Logger
}

// NewCoordinator creates a coordinator around w.
func NewCoordinator(w *Worker, opts Options, log *slog.Logger) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 2 * opts.Workers
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = time.Hour
	}
	return &Coordinator{
		worker: w,
		jobs:   NewJobStore(opts.JobTTL),
		opts:   opts,
		log:    log,
	}
}

// Run processes every page of src and returns when all dispatched pages are
// finished. Cancelling ctx stops dispatch; pages already taken by a worker
// run to completion.
func (c *Coordinator) Run(ctx context.Context, src Source) *Report {
	c.jobs.Cleanup()

	rep := &Report{RunID: uuid.NewString(), Started: time.Now().UTC()}
	log := c.log.With("run_id", rep.RunID)
	log.Info("batch started", "pages", src.Len(), "workers", c.opts.Workers)

	type task struct {
		job *Job
		i   int
	}
	queue := make(chan task, c.opts.QueueSize)
	jobs := make([]*Job, src.Len())

	var wg sync.WaitGroup
	for range c.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				c.worker.Process(ctx, t.job, func() (doctree.RawPage, error) { return src.Page(t.i) })
			}
		}()
	}

	dispatched := 0
dispatch:
	for i := range src.Len() {
		job := newJob(rep.RunID, i, src.URL(i))
		c.jobs.Put(job)
		jobs[i] = job
		if ctx.Err() != nil {
			break
		}
		select {
		case queue <- task{job: job, i: i}:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(queue)
	wg.Wait()

	for i, job := range jobs {
		if job == nil {
			job = newJob(rep.RunID, i, src.URL(i))
			c.jobs.Put(job)
		}
		snap := job.Snapshot()
		if snap.Status == StatusQueued {
			// Created but never accepted by the queue.
			rep.Canceled++
			job.AddError("batch canceled")
			job.SetStatus(StatusFailed, "canceled")
			rep.Pages = append(rep.Pages, job.Snapshot())
			continue
		}
		rep.Processed++
		switch snap.Status {
		case StatusCompleted:
			rep.Written++
		case StatusSkipped:
			rep.Skipped++
		case StatusFailed:
			rep.Failed++
		}
		rep.Pages = append(rep.Pages, snap)
	}
	rep.Finished = time.Now().UTC()

	log.Info("batch finished",
		"dispatched", dispatched,
		"processed", rep.Processed,
		"written", rep.Written,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
		"canceled", rep.Canceled,
		"tracked_jobs", c.jobs.Len(),
		"duration", rep.Finished.Sub(rep.Started).String(),
	)
	return rep
}

// GetJob returns a job by ID.
func (c *Coordinator) GetJob(id string) *Job {
	return c.jobs.Get(id)
}
