package compare

import (
	"context"
	"fmt"

	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/store"
)

// BuildReport assembles a ranked report from the store: the latest run
// of every (document, pipeline) pair, scored against target.
func BuildReport(ctx context.Context, st *store.Store, target corpus.Label, cfg Config) (*Report, error) {
	runs, err := st.LatestRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest runs: %w", err)
	}

	groups := make(map[string]string)
	scores := make([]DocScore, 0, len(runs))
	for _, run := range runs {
		group, ok := groups[run.DocumentID]
		if !ok {
			doc, err := st.GetDocument(ctx, run.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("document %s: %w", run.DocumentID, err)
			}
			if doc != nil {
				group = doc.SourceGroup
			}
			groups[run.DocumentID] = group
		}

		ds := DocScore{Run: run.PipelineRun, SourceGroup: group}
		m, err := st.GetMatrix(ctx, run.ID, target)
		if err != nil {
			return nil, fmt.Errorf("matrix for %s: %w", run.ID, err)
		}
		if m != nil {
			ds.Matrix = *m
		} else {
			// Failed or unscored run: keep the attribution so failure
			// rates count it, with empty counts.
			ds.Matrix = corpus.ConfusionMatrix{
				PipelineID:  run.PipelineID,
				DocumentID:  run.DocumentID,
				TargetLabel: target,
			}
		}
		scores = append(scores, ds)
	}

	return Aggregate(scores, cfg), nil
}
