// Package queue schedules (document, pipeline) evaluation jobs through
// a visibility-timeout table in SQLite.
//
// A claimed job is invisible to other workers for the visibility
// window. Workers that finish ack (delete) the job; workers that crash
// or stall past the window lose the claim and the job reappears, so a
// corpus sweep survives worker restarts without a broker.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS eval_jobs (
//	    id           TEXT PRIMARY KEY,       -- "<document>:<pipeline>"
//	    document_id  TEXT NOT NULL,
//	    pipeline_id  TEXT NOT NULL,
//	    visible_at   INTEGER NOT NULL DEFAULT 0,  -- ms since epoch
//	    created_at   INTEGER NOT NULL,
//	    attempts     INTEGER NOT NULL DEFAULT 0
//	);
package queue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job is one (document, pipeline) evaluation to run.
type Job struct {
	ID         string
	DocumentID string
	PipelineID string
	VisibleAt  time.Time
	CreatedAt  time.Time
	Attempts   int
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. It must
	// exceed the per-job timeout or healthy jobs get redelivered.
	// Default: 5m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts discards a job after this many deliveries. 0 means
	// unlimited. Default: 3.
	MaxAttempts int
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the eval_jobs table and index if absent.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS eval_jobs (
			id           TEXT PRIMARY KEY,
			document_id  TEXT NOT NULL,
			pipeline_id  TEXT NOT NULL,
			visible_at   INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			attempts     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_eval_jobs_visible ON eval_jobs (visible_at);
	`)
	return err
}

// JobID is the canonical id for a (document, pipeline) pair.
func JobID(documentID, pipelineID string) string {
	return documentID + ":" + pipelineID
}

// Enqueue inserts an immediately visible job. Re-enqueueing a pair that
// is already pending is a no-op, so a corpus sweep can be restarted
// without doubling work.
func (q *Q) Enqueue(ctx context.Context, documentID, pipelineID string) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO eval_jobs (id, document_id, pipeline_id, visible_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		JobID(documentID, pipelineID), documentID, pipelineID, now, now,
	)
	return err
}

// Claim atomically picks the oldest visible job and hides it for the
// visibility window. Returns nil, nil when nothing is visible.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE eval_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM eval_jobs
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, document_id, pipeline_id, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var visAt, creAt int64
	err := row.Scan(&j.ID, &j.DocumentID, &j.PipelineID, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a finished job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM eval_jobs WHERE id = ?`, id)
	return err
}

// Nack makes a job immediately visible again.
func (q *Q) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE eval_jobs SET visible_at = 0 WHERE id = ?`, id)
	return err
}

// Extend pushes the visibility window forward for a job still being
// processed (heartbeat pattern for slow OCR documents).
func (q *Q) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE eval_jobs SET visible_at = ? WHERE id = ?`, hideUntil, id)
	return err
}

// ResetOrphans makes every invisible job visible again. Run at startup
// when no other worker shares the database: claims held by a dead
// process become runnable immediately instead of after the window.
func (q *Q) ResetOrphans(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE eval_jobs SET visible_at = 0 WHERE visible_at > ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Len returns the number of jobs, visible and claimed.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM eval_jobs`).Scan(&n)
	return n, err
}

// Handler processes a claimed job. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// Run polls for visible jobs and dispatches them to handler with at
// most maxConcurrency in flight. It blocks until ctx is cancelled,
// draining in-flight handlers before returning.
func (q *Q) Run(ctx context.Context, maxConcurrency int, handler Handler) {
	log := q.opts.Logger
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	log.Info("queue: consumer started",
		"visibility", q.opts.Visibility,
		"poll", q.opts.PollInterval,
		"max_concurrency", maxConcurrency,
	)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("queue: consumer stopping, draining in-flight jobs")
			wg.Wait()
			log.Info("queue: consumer stopped")
			return
		case <-ticker.C:
			for {
				job, err := q.Claim(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Warn("queue: claim failed", "error", err)
					}
					break
				}
				if job == nil {
					break
				}

				if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
					log.Warn("queue: job exceeded max attempts, discarding",
						"id", job.ID, "attempts", job.Attempts)
					_ = q.Ack(ctx, job.ID)
					continue
				}

				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					_ = q.Nack(context.Background(), job.ID)
					wg.Wait()
					return
				}

				wg.Add(1)
				go func(j *Job) {
					defer wg.Done()
					defer func() { <-sem }()

					if err := handler(ctx, j); err != nil {
						log.Warn("queue: handler failed, nacking", "id", j.ID, "error", err)
						_ = q.Nack(context.Background(), j.ID)
					} else {
						_ = q.Ack(context.Background(), j.ID)
					}
				}(job)
			}
		}
	}
}
