// Package score converts one document's alignment results into
// confusion-matrix metrics for one extraction pipeline.
package score

import (
	"fmt"

	"github.com/hazyhaar/lexalign/corpus"
)

// Input bundles everything needed to score one (pipeline, document) pair.
type Input struct {
	PipelineID string
	DocumentID string
	Fragments  []corpus.Fragment
	Results    []corpus.AlignmentResult
	Paragraphs []corpus.Paragraph
	PageCount  int
}

// Matrix computes the confusion matrix for target against the ground
// truth. Counting follows the fragment/paragraph duality:
//
//   - TP: fragments whose corrected label equals target via an accepted
//     match.
//   - FP: fragments assigned target without an accepted match backing it
//     (the pipeline's own label claimed target and alignment disagreed),
//     or whose accepted match points at a paragraph of another label.
//   - FN: target-labeled ground-truth paragraphs no fragment matched.
//   - TN: everything else (fragments neither claiming nor deserving
//     target).
//
// The fragmentation ratio (fragments per page) rides along as a
// text-independent diagnostic of pathological splitting.
func Matrix(in Input) (corpus.ConfusionMatrix, error) {
	if len(in.Results) != len(in.Fragments) {
		return corpus.ConfusionMatrix{}, fmt.Errorf("score: %d results for %d fragments", len(in.Results), len(in.Fragments))
	}
	return matrixFor(in, corpus.LabelBody), nil
}

// MatrixFor computes the confusion matrix for an arbitrary target label.
func MatrixFor(in Input, target corpus.Label) (corpus.ConfusionMatrix, error) {
	if len(in.Results) != len(in.Fragments) {
		return corpus.ConfusionMatrix{}, fmt.Errorf("score: %d results for %d fragments", len(in.Results), len(in.Fragments))
	}
	return matrixFor(in, target), nil
}

func matrixFor(in Input, target corpus.Label) corpus.ConfusionMatrix {
	paraLabel := make(map[string]corpus.Label, len(in.Paragraphs))
	for _, p := range in.Paragraphs {
		paraLabel[p.ID] = p.Label
	}

	matchedParas := make(map[string]bool, len(in.Results))

	m := corpus.ConfusionMatrix{
		PipelineID:  in.PipelineID,
		DocumentID:  in.DocumentID,
		TargetLabel: target,
	}

	for _, r := range in.Results {
		if r.Matched() {
			matchedParas[r.ParagraphID] = true
		}
		claims := r.CorrectedLabel == target
		// A claim is genuine only when backed by an accepted match to a
		// paragraph that really carries the target label. Cross-check
		// escapes and below-threshold origin labels count against the
		// pipeline, not for it.
		genuine := claims && r.Matched() && paraLabel[r.ParagraphID] == target
		switch {
		case genuine:
			m.TP++
		case claims:
			m.FP++
		default:
			m.TN++
		}
	}

	for _, p := range in.Paragraphs {
		if p.Label == target && !matchedParas[p.ID] {
			m.FN++
		}
	}

	if m.TP+m.FP > 0 {
		m.Precision = float64(m.TP) / float64(m.TP+m.FP)
	}
	if m.TP+m.FN > 0 {
		m.Recall = float64(m.TP) / float64(m.TP+m.FN)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	if in.PageCount > 0 {
		m.FragmentationRatio = float64(len(in.Fragments)) / float64(in.PageCount)
	}
	return m
}

// AllLabels computes one matrix per ground-truth label.
func AllLabels(in Input) ([]corpus.ConfusionMatrix, error) {
	if len(in.Results) != len(in.Fragments) {
		return nil, fmt.Errorf("score: %d results for %d fragments", len(in.Results), len(in.Fragments))
	}
	out := make([]corpus.ConfusionMatrix, 0, len(corpus.Labels()))
	for _, lbl := range corpus.Labels() {
		out = append(out, matrixFor(in, lbl))
	}
	return out, nil
}
