package manager

import (
	"Go2DNSPrint/internal/config"
	coremodel "Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/extractor"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/model"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RowObserver is told about every row handed to a writer.
type RowObserver interface {
	RowWritten(writer string)
}

type nopRowObserver struct{}

func (nopRowObserver) RowWritten(string) {}

// Job is one capture of a batch, numbered by its position in the input.
type Job struct {
	Index   int
	Capture coremodel.Capture
}

// Summary describes how a batch ended.
type Summary struct {
	Captures int
	Rows     int
	Failed   int
	Dropped  int // not started before the batch deadline
}

type result struct {
	job Job
	row *coremodel.FeatureRow
	err error
}

// Manager runs a batch of captures over a worker pool and appends their rows
// to every writer in input order.
type Manager struct {
	extractor  *extractor.Extractor
	writers    []model.Writer
	numWorkers int
	timeout    time.Duration
	observer   RowObserver
	header     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRowObserver reports written rows to o.
func WithRowObserver(o RowObserver) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithoutHeader skips the header write, for appending to an existing artifact.
func WithoutHeader() Option {
	return func(m *Manager) { m.header = false }
}

// NewManager creates a manager using the batch section of cfg.
func NewManager(cfg *config.Config, ex *extractor.Extractor, writers []model.Writer, opts ...Option) (*Manager, error) {
	timeout, err := cfg.BatchTimeout()
	if err != nil {
		return nil, err
	}
	if timeout < 0 {
		return nil, fmt.Errorf("batch timeout must not be negative")
	}
	m := &Manager{
		extractor:  ex,
		writers:    writers,
		numWorkers: max(cfg.Batch.NumWorkers, 1),
		timeout:    timeout,
		observer:   nopRowObserver{},
		header:     true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Jobs numbers captures in input order.
func Jobs(captures []coremodel.Capture) []Job {
	jobs := make([]Job, len(captures))
	for i, c := range captures {
		jobs[i] = Job{Index: i, Capture: extractor.Normalize(c)}
	}
	return jobs
}

// ForEach runs work for every job on the worker pool. It stops feeding jobs
// once ctx is done or the batch timeout expires, and returns the number of
// jobs that were never started. work may be called concurrently.
func (m *Manager) ForEach(ctx context.Context, jobs []Job, work func(Job)) int {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	jobChannel := make(chan Job)
	var workerWg sync.WaitGroup
	workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go func() {
			defer workerWg.Done()
			for job := range jobChannel {
				work(job)
			}
		}()
	}

	fed := 0
feed:
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobChannel <- job:
			fed++
		case <-ctx.Done():
			break feed
		}
	}
	close(jobChannel)
	workerWg.Wait()

	if dropped := len(jobs) - fed; dropped > 0 {
		logger.Warnf("Batch stopped (%v), %d of %d captures were not processed", context.Cause(ctx), dropped, len(jobs))
		return dropped
	}
	return 0
}

// Run extracts every capture and writes the resulting rows. A capture that
// fails is logged and skipped. An error that invalidates the run cancels
// the remaining captures and is returned; rows already written are kept.
func (m *Manager) Run(ctx context.Context, captures []coremodel.Capture) (*Summary, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	jobs := Jobs(captures)
	summary := &Summary{Captures: len(jobs)}
	logger.Infof("Manager starting batch of %d captures with %d workers.", len(jobs), m.numWorkers)

	if m.header {
		header := m.extractor.Header()
		for _, w := range m.writers {
			if err := w.WriteHeader(header); err != nil {
				return summary, fmt.Errorf("writer %s: failed to write header: %w", w.Name(), err)
			}
		}
	}

	results := make(chan result, m.numWorkers)
	collected := make(chan error, 1)
	go func() {
		collected <- m.collect(results, summary, cancel)
	}()

	dropped := m.ForEach(ctx, jobs, func(job Job) {
		if ctx.Err() != nil {
			results <- result{job: job, err: context.Cause(ctx)}
			return
		}
		row, err := m.extractor.Extract(job.Capture)
		results <- result{job: job, row: row, err: err}
	})
	close(results)

	err := <-collected
	summary.Dropped += dropped
	logger.Infof("Batch finished: %d captures, %d rows, %d failed, %d dropped.",
		summary.Captures, summary.Rows, summary.Failed, summary.Dropped)
	return summary, err
}

// collect is the single writer of the batch. Results arrive in completion
// order and are released to the writers in job order through a reorder
// buffer.
func (m *Manager) collect(results <-chan result, summary *Summary, cancel context.CancelCauseFunc) error {
	pending := make(map[int]result)
	next := 0
	var fatal error

	release := func(r result) {
		if fatal != nil {
			return
		}
		switch {
		case r.err == nil:
			if err := m.write(r.row); err != nil {
				fatal = err
				cancel(err)
				return
			}
			summary.Rows++
		case extractor.IsFatalRun(r.err):
			fatal = fmt.Errorf("capture %s: %w", r.job.Capture.EncPath, r.err)
			logger.Errorf("Aborting batch: %v", fatal)
			cancel(fatal)
		case errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded):
			summary.Dropped++
		default:
			summary.Failed++
			logger.Errorf("No row for capture %s (label %s): %v", r.job.Capture.EncPath, r.job.Capture.Label, r.err)
		}
	}

	for r := range results {
		pending[r.job.Index] = r
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			release(ready)
			next++
		}
	}
	// Jobs never fed leave gaps; release what finished behind them in order.
	for len(pending) > 0 {
		if ready, ok := pending[next]; ok {
			delete(pending, next)
			release(ready)
		}
		next++
	}
	return fatal
}

func (m *Manager) write(row *coremodel.FeatureRow) error {
	for _, w := range m.writers {
		if err := w.WriteRow(row); err != nil {
			return fmt.Errorf("writer %s: failed to write row for %s: %w", w.Name(), row.Source, err)
		}
		m.observer.RowWritten(w.Name())
	}
	return nil
}

// Close closes every writer and reports every failure.
func (m *Manager) Close() error {
	logger.Infof("Manager closing %d writers...", len(m.writers))
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("writer %s: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}
