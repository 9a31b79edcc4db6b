package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/lexalign/corpus"
)

// InsertFragments stores a run's extracted fragments in one transaction.
func (s *Store) InsertFragments(ctx context.Context, runID string, frags []corpus.Fragment) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fragments (run_id, fragment_id, order_index, page_number, text,
		y_position, relative_font_size, origin_label, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range frags {
		if _, err := stmt.ExecContext(ctx, runID, f.ID, f.OrderIndex, f.PageNumber,
			f.Text, f.YPosition, f.RelativeFontSize, string(f.OriginLabel), f.Confidence); err != nil {
			return fmt.Errorf("insert fragment %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// GetFragments returns a run's fragments in reading order.
func (s *Store) GetFragments(ctx context.Context, runID string) ([]corpus.Fragment, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT fragment_id, order_index, page_number, text, y_position, relative_font_size, origin_label, confidence
		FROM fragments WHERE run_id = ? ORDER BY order_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []corpus.Fragment
	for rows.Next() {
		var f corpus.Fragment
		var label string
		if err := rows.Scan(&f.ID, &f.OrderIndex, &f.PageNumber, &f.Text,
			&f.YPosition, &f.RelativeFontSize, &label, &f.Confidence); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		f.OriginLabel = corpus.Label(label)
		result = append(result, f)
	}
	return result, rows.Err()
}

// InsertResults stores a run's alignment results in one transaction.
func (s *Store) InsertResults(ctx context.Context, runID string, results []corpus.AlignmentResult) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, fragment_id, paragraph_id, similarity, corrected_label, tier, merged)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.FragmentID, r.ParagraphID,
			r.Similarity, string(r.CorrectedLabel), string(r.Tier), boolInt(r.Merged)); err != nil {
			return fmt.Errorf("insert result %s: %w", r.FragmentID, err)
		}
	}
	return tx.Commit()
}

// GetResults returns a run's alignment results in fragment reading order.
func (s *Store) GetResults(ctx context.Context, runID string) ([]corpus.AlignmentResult, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT r.fragment_id, r.paragraph_id, r.similarity, r.corrected_label, r.tier, r.merged
		FROM results r
		JOIN fragments f ON f.run_id = r.run_id AND f.fragment_id = r.fragment_id
		WHERE r.run_id = ? ORDER BY f.order_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []corpus.AlignmentResult
	for rows.Next() {
		var r corpus.AlignmentResult
		var label, tier string
		var merged int
		if err := rows.Scan(&r.FragmentID, &r.ParagraphID, &r.Similarity, &label, &tier, &merged); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.CorrectedLabel = corpus.Label(label)
		r.Tier = corpus.Tier(tier)
		r.Merged = merged != 0
		result = append(result, r)
	}
	return result, rows.Err()
}

// InsertMatrices stores a run's confusion matrices, replacing any from
// an earlier scoring pass over the same run.
func (s *Store) InsertMatrices(ctx context.Context, runID string, matrices []corpus.ConfusionMatrix) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO matrices (run_id, target_label, tp, fp, fn, tn, precision, recall, f1, fragmentation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range matrices {
		if _, err := stmt.ExecContext(ctx, runID, string(m.TargetLabel), m.TP, m.FP, m.FN, m.TN,
			m.Precision, m.Recall, m.F1, m.FragmentationRatio); err != nil {
			return fmt.Errorf("insert matrix %s: %w", m.TargetLabel, err)
		}
	}
	return tx.Commit()
}

// GetMatrix returns the confusion matrix for a run and target label,
// nil when the run has not been scored.
func (s *Store) GetMatrix(ctx context.Context, runID string, target corpus.Label) (*corpus.ConfusionMatrix, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT tp, fp, fn, tn, precision, recall, f1, fragmentation
		FROM matrices WHERE run_id = ? AND target_label = ?`, runID, string(target))

	m := corpus.ConfusionMatrix{
		PipelineID:  run.PipelineID,
		DocumentID:  run.DocumentID,
		TargetLabel: target,
	}
	err = row.Scan(&m.TP, &m.FP, &m.FN, &m.TN, &m.Precision, &m.Recall, &m.F1, &m.FragmentationRatio)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan matrix: %w", err)
	}
	return &m, nil
}
