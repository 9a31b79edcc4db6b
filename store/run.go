package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/lexalign/corpus"
)

// Run is a stored pipeline invocation.
type Run struct {
	ID string
	corpus.PipelineRun
	ErrorMessage string
	StartedAt    int64
}

// InsertRun stores a terminal run record.
func (s *Store) InsertRun(ctx context.Context, r *Run) error {
	if r.StartedAt == 0 {
		r.StartedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, document_id, pipeline_id, status, page_count, fragment_count, elapsed_ms, error_message, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DocumentID, r.PipelineID, string(r.Status), r.PageCount,
		r.FragmentCount, r.ElapsedMs, r.ErrorMessage, r.StartedAt,
	)
	return err
}

// GetRun retrieves a run by id, nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, document_id, pipeline_id, status, page_count, fragment_count, elapsed_ms, error_message, started_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns runs, newest first, optionally filtered by pipeline.
func (s *Store) ListRuns(ctx context.Context, pipelineID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if pipelineID == "" {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT id, document_id, pipeline_id, status, page_count, fragment_count, elapsed_ms, error_message, started_at
			FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT id, document_id, pipeline_id, status, page_count, fragment_count, elapsed_ms, error_message, started_at
			FROM runs WHERE pipeline_id = ? ORDER BY started_at DESC LIMIT ?`, pipelineID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// LatestRun returns the most recent run of a pipeline on a document,
// nil when the pair has never run.
func (s *Store) LatestRun(ctx context.Context, documentID, pipelineID string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, document_id, pipeline_id, status, page_count, fragment_count, elapsed_ms, error_message, started_at
		FROM runs WHERE document_id = ? AND pipeline_id = ?
		ORDER BY started_at DESC LIMIT 1`, documentID, pipelineID)
	return scanRun(row)
}

// LatestRuns returns the most recent run of every (document, pipeline)
// pair, the working set for cross-pipeline comparison.
func (s *Store) LatestRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT r.id, r.document_id, r.pipeline_id, r.status, r.page_count, r.fragment_count, r.elapsed_ms, r.error_message, r.started_at
		FROM runs r
		JOIN (
			SELECT document_id, pipeline_id, MAX(started_at) AS latest
			FROM runs GROUP BY document_id, pipeline_id
		) m ON r.document_id = m.document_id AND r.pipeline_id = m.pipeline_id AND r.started_at = m.latest
		ORDER BY r.pipeline_id, r.document_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var status string
	err := row.Scan(&r.ID, &r.DocumentID, &r.PipelineID, &status, &r.PageCount,
		&r.FragmentCount, &r.ElapsedMs, &r.ErrorMessage, &r.StartedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = corpus.RunStatus(status)
	return &r, nil
}
