package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hazyhaar/lexalign/align"
	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/store"
)

// Artifact is the per-run JSON written for training-label consumers:
// the fragments as extracted, the alignment verdict for each, and the
// run's confusion matrices.
type Artifact struct {
	RunID       string                   `json:"run_id"`
	DocumentID  string                   `json:"document_id"`
	PipelineID  string                   `json:"pipeline_id"`
	Status      corpus.RunStatus         `json:"status"`
	GTFallback  bool                     `json:"ground_truth_fallback,omitempty"`
	PageCount   int                      `json:"page_count"`
	ElapsedMs   int64                    `json:"elapsed_ms"`
	Fragments   []corpus.Fragment        `json:"fragments"`
	Results     []corpus.AlignmentResult `json:"results"`
	Matrices    []corpus.ConfusionMatrix `json:"matrices"`
	Ambiguities int                      `json:"ambiguities"`
	Merges      int                      `json:"merges"`
	Rejections  map[string]int           `json:"rejections"`
}

// writeArtifact writes the run artifact atomically: temp file in the
// target directory, then rename, so a reader never sees a partial JSON.
func (r *Runner) writeArtifact(doc *store.Document, run *store.Run, frags []corpus.Fragment,
	results []corpus.AlignmentResult, matrices []corpus.ConfusionMatrix, stats align.Stats) error {
	if r.cfg.ArtifactDir == "" {
		return nil
	}
	dir := filepath.Join(r.cfg.ArtifactDir, doc.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	art := Artifact{
		RunID:       run.ID,
		DocumentID:  doc.ID,
		PipelineID:  run.PipelineID,
		Status:      run.Status,
		GTFallback:  doc.GTFallback,
		PageCount:   run.PageCount,
		ElapsedMs:   run.ElapsedMs,
		Fragments:   frags,
		Results:     results,
		Matrices:    matrices,
		Ambiguities: stats.Ambiguities,
		Merges:      stats.Merges,
		Rejections:  stats.Rejections,
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	final := filepath.Join(dir, run.PipelineID+".json")
	tmp, err := os.CreateTemp(dir, "."+run.PipelineID+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// ReadArtifact loads a previously written run artifact.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	return &art, nil
}
