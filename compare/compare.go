// Package compare aggregates per-document confusion matrices across a
// corpus and ranks competing extraction pipelines.
//
// Quality aggregates (F1, recall, fragmentation) only ever include runs
// that completed; extraction failures and timeouts surface as a separate
// failure rate so a degraded pipeline is distinguishable from a broken
// one.
package compare

import (
	"math"
	"sort"
	"strings"

	"github.com/hazyhaar/lexalign/corpus"
)

// DocScore is one scored (pipeline, document) pair.
type DocScore struct {
	Run    corpus.PipelineRun
	Matrix corpus.ConfusionMatrix
	// SourceGroup identifies where the document came from. Empty values
	// fall back to the document ID prefix before the first underscore.
	SourceGroup string
}

// Config tunes ranking.
type Config struct {
	// MinPagesPerSecond is the throughput floor. Pipelines below it are
	// ranked after all pipelines that meet it, regardless of quality.
	// 0 disables the floor.
	MinPagesPerSecond float64 `yaml:"min_pages_per_second"`
}

// SourceSummary is the per-source-group quality breakdown.
type SourceSummary struct {
	Documents int     `json:"documents"`
	MeanF1    float64 `json:"mean_f1"`
}

// Summary holds one pipeline's aggregates across the corpus.
type Summary struct {
	PipelineID        string  `json:"pipeline_id"`
	Documents         int     `json:"documents"` // completed runs in quality aggregates
	Failures          int     `json:"failures"`  // extraction_failed + timeout
	FailureRate       float64 `json:"failure_rate"`
	MeanF1            float64 `json:"mean_f1"`
	VarF1             float64 `json:"var_f1"`
	MeanRecall        float64 `json:"mean_recall"`
	MeanFragmentation float64 `json:"mean_fragmentation"`
	PagesPerSecond    float64 `json:"pages_per_second"`
	MeetsFloor        bool    `json:"meets_floor"`

	BySource map[string]SourceSummary `json:"by_source,omitempty"`
}

// Report is the ranked comparison output.
type Report struct {
	TargetLabel corpus.Label `json:"target_label"`
	Pipelines   []Summary    `json:"pipelines"` // best first
	Recommended string       `json:"recommended,omitempty"`
}

// Aggregate groups scores by pipeline and produces a ranked report.
// Deterministic: equal aggregates fall back to pipeline ID ordering.
func Aggregate(scores []DocScore, cfg Config) *Report {
	byPipeline := make(map[string][]DocScore)
	for _, s := range scores {
		byPipeline[s.Run.PipelineID] = append(byPipeline[s.Run.PipelineID], s)
	}

	report := &Report{TargetLabel: corpus.LabelBody}
	for _, s := range scores {
		if s.Matrix.TargetLabel != "" {
			report.TargetLabel = s.Matrix.TargetLabel
			break
		}
	}
	for id, group := range byPipeline {
		report.Pipelines = append(report.Pipelines, summarize(id, group, cfg))
	}

	sort.SliceStable(report.Pipelines, func(i, j int) bool {
		a, b := report.Pipelines[i], report.Pipelines[j]
		if a.MeetsFloor != b.MeetsFloor {
			return a.MeetsFloor
		}
		if a.MeanF1 != b.MeanF1 {
			return a.MeanF1 > b.MeanF1
		}
		if a.PagesPerSecond != b.PagesPerSecond {
			return a.PagesPerSecond > b.PagesPerSecond
		}
		return a.PipelineID < b.PipelineID
	})

	for _, p := range report.Pipelines {
		if p.MeetsFloor && p.Documents > 0 {
			report.Recommended = p.PipelineID
			break
		}
	}
	return report
}

func summarize(id string, group []DocScore, cfg Config) Summary {
	s := Summary{PipelineID: id, BySource: make(map[string]SourceSummary)}

	var f1s, recalls, frags []float64
	var totalPages, totalElapsedMs float64

	type srcAcc struct {
		n   int
		sum float64
	}
	bySrc := make(map[string]*srcAcc)

	for _, d := range group {
		if d.Run.Status != corpus.RunOK {
			s.Failures++
			continue
		}
		s.Documents++
		f1s = append(f1s, d.Matrix.F1)
		recalls = append(recalls, d.Matrix.Recall)
		frags = append(frags, d.Matrix.FragmentationRatio)
		totalPages += float64(d.Run.PageCount)
		totalElapsedMs += float64(d.Run.ElapsedMs)

		src := d.SourceGroup
		if src == "" {
			src = sourceOf(d.Run.DocumentID)
		}
		acc := bySrc[src]
		if acc == nil {
			acc = &srcAcc{}
			bySrc[src] = acc
		}
		acc.n++
		acc.sum += d.Matrix.F1
	}

	total := s.Documents + s.Failures
	if total > 0 {
		s.FailureRate = float64(s.Failures) / float64(total)
	}
	s.MeanF1, s.VarF1 = meanVar(f1s)
	s.MeanRecall, _ = meanVar(recalls)
	s.MeanFragmentation, _ = meanVar(frags)
	if totalElapsedMs > 0 {
		s.PagesPerSecond = totalPages / (totalElapsedMs / 1000)
	}
	s.MeetsFloor = cfg.MinPagesPerSecond <= 0 || s.PagesPerSecond >= cfg.MinPagesPerSecond

	for src, acc := range bySrc {
		s.BySource[src] = SourceSummary{Documents: acc.n, MeanF1: acc.sum / float64(acc.n)}
	}
	return s
}

// sourceOf extracts the source group from a document ID: the prefix
// before the first underscore ("harvlrev_2019_044" → "harvlrev").
func sourceOf(documentID string) string {
	if i := strings.IndexByte(documentID, '_'); i > 0 {
		return documentID[:i]
	}
	return documentID
}

// meanVar returns population mean and variance, zero for empty input.
func meanVar(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	if math.IsNaN(variance) {
		variance = 0
	}
	return mean, variance
}
