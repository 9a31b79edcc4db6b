// Package runner executes the evaluation loop: claim a (document,
// pipeline) job, extract, align against ground truth, score, persist,
// and emit a JSON artifact. Failures are classified and counted; one
// bad document never stops the sweep.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/lexalign/align"
	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/idgen"
	"github.com/hazyhaar/lexalign/pipelines"
	"github.com/hazyhaar/lexalign/queue"
	"github.com/hazyhaar/lexalign/score"
	"github.com/hazyhaar/lexalign/store"
)

// Error categories counted across a sweep.
const (
	ErrExtractionFailure   = "extraction_failure"
	ErrTimeout             = "timeout"
	ErrAlignmentAmbiguity  = "alignment_ambiguity"
	ErrValidationRejection = "validation_rejection"
	ErrMalformedGT         = "malformed_ground_truth"
)

// Counters accumulates per-category error counts across jobs. A
// document can contribute to several categories at once.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int
	jobs   int
}

func newCounters() *Counters {
	return &Counters{counts: make(map[string]int)}
}

func (c *Counters) add(category string, n int) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.counts[category] += n
	c.mu.Unlock()
}

func (c *Counters) jobDone() {
	c.mu.Lock()
	c.jobs++
	c.mu.Unlock()
}

// Snapshot returns the processed-job count and a copy of the counters.
func (c *Counters) Snapshot() (jobs int, counts map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return c.jobs, out
}

// Runner wires the registry, alignment engine, store and queue.
type Runner struct {
	cfg      *Config
	store    *store.Store
	queue    *queue.Q
	registry *pipelines.Registry
	engine   *align.Engine
	runIDs   idgen.Generator
	logger   *slog.Logger
	counters *Counters
}

// New creates a Runner. The queue must share the store's database.
func New(cfg *Config, st *store.Store, q *queue.Q, reg *pipelines.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		store:    st,
		queue:    q,
		registry: reg,
		engine:   align.New(cfg.Align),
		runIDs:   idgen.Prefixed("run_", idgen.UUIDv7()),
		logger:   logger,
		counters: newCounters(),
	}
}

// Counters exposes the sweep counters for summary reporting.
func (r *Runner) Counters() *Counters { return r.counters }

// EnqueueSweep schedules every stored document against every registered
// pipeline and returns the number of jobs enqueued.
func (r *Runner) EnqueueSweep(ctx context.Context) (int, error) {
	docs, err := r.store.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	n := 0
	for _, doc := range docs {
		for _, pid := range r.registry.IDs() {
			if err := r.queue.Enqueue(ctx, doc.ID, pid); err != nil {
				return n, fmt.Errorf("enqueue %s/%s: %w", doc.ID, pid, err)
			}
			n++
		}
	}
	return n, nil
}

// Run consumes jobs until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.queue.Run(ctx, r.cfg.Workers, r.Process)
}

// Process runs one job end to end. Extraction failures and timeouts are
// terminal run states, recorded and acked; only infrastructure errors
// (store, unknown document) propagate for redelivery.
func (r *Runner) Process(ctx context.Context, job *queue.Job) error {
	log := r.logger.With("document", job.DocumentID, "pipeline", job.PipelineID)

	doc, err := r.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document %s not found", job.DocumentID)
	}
	backend, ok := r.registry.Get(job.PipelineID)
	if !ok {
		return fmt.Errorf("pipeline %s not registered", job.PipelineID)
	}

	run := &store.Run{
		ID: r.runIDs(),
		PipelineRun: corpus.PipelineRun{
			PipelineID: job.PipelineID,
			DocumentID: job.DocumentID,
		},
		StartedAt: time.Now().UnixMilli(),
	}

	extractCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	start := time.Now()
	ex, err := backend.Extract(extractCtx, doc.PDFPath)
	cancel()
	run.ElapsedMs = time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Batch shutdown, not a pipeline verdict; redeliver the job.
			return fmt.Errorf("extraction canceled: %w", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			run.Status = corpus.RunTimeout
			r.counters.add(ErrTimeout, 1)
			log.Warn("extraction timed out", "elapsed_ms", run.ElapsedMs)
		} else {
			run.Status = corpus.RunExtractionFailed
			r.counters.add(ErrExtractionFailure, 1)
			log.Warn("extraction failed", "error", err)
		}
		run.ErrorMessage = err.Error()
		r.counters.jobDone()
		return r.store.InsertRun(ctx, run)
	}

	// A pipeline that produces nothing has failed on this document, even
	// if the backend reported no error. Recording it ok would let its
	// zeroed matrices drag down the quality aggregates.
	if len(ex.Fragments) == 0 {
		run.Status = corpus.RunExtractionFailed
		run.PageCount = ex.PageCount
		run.ErrorMessage = "pipeline returned zero fragments"
		r.counters.add(ErrExtractionFailure, 1)
		log.Warn("extraction produced no fragments", "pages", ex.PageCount)
		r.counters.jobDone()
		return r.store.InsertRun(ctx, run)
	}

	run.Status = corpus.RunOK
	run.PageCount = ex.PageCount
	run.FragmentCount = len(ex.Fragments)

	if len(doc.Paragraphs) == 0 {
		r.counters.add(ErrMalformedGT, 1)
		log.Warn("document has no ground-truth paragraphs, everything will be unmatched")
	}

	results, stats := r.engine.AlignDocument(ex.Fragments, doc.Paragraphs)
	r.counters.add(ErrAlignmentAmbiguity, stats.Ambiguities)
	for _, n := range stats.Rejections {
		r.counters.add(ErrValidationRejection, n)
	}

	matrices, err := score.AllLabels(score.Input{
		PipelineID: job.PipelineID,
		DocumentID: job.DocumentID,
		Fragments:  ex.Fragments,
		Results:    results,
		Paragraphs: doc.Paragraphs,
		PageCount:  ex.PageCount,
	})
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	if err := r.persist(ctx, run, ex.Fragments, results, matrices); err != nil {
		return err
	}
	if err := r.writeArtifact(doc, run, ex.Fragments, results, matrices, stats); err != nil {
		// The database copy is authoritative; a failed artifact write is
		// not worth redelivering the whole job.
		log.Warn("artifact write failed", "error", err)
	}

	r.counters.jobDone()
	log.Info("run complete",
		"run", run.ID,
		"fragments", run.FragmentCount,
		"pages", run.PageCount,
		"elapsed_ms", run.ElapsedMs,
		"merges", stats.Merges,
	)
	return nil
}

func (r *Runner) persist(ctx context.Context, run *store.Run, frags []corpus.Fragment,
	results []corpus.AlignmentResult, matrices []corpus.ConfusionMatrix) error {
	if err := r.store.InsertRun(ctx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := r.store.InsertFragments(ctx, run.ID, frags); err != nil {
		return fmt.Errorf("insert fragments: %w", err)
	}
	if err := r.store.InsertResults(ctx, run.ID, results); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}
	if err := r.store.InsertMatrices(ctx, run.ID, matrices); err != nil {
		return fmt.Errorf("insert matrices: %w", err)
	}
	return nil
}
