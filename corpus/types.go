// Package corpus defines the shared data model for the label-alignment
// pipeline: extracted text fragments, ground-truth paragraphs, alignment
// results, and per-run evaluation records.
//
// Everything here is a plain value type. Fragments and paragraphs are
// immutable once created; derived records (AlignmentResult,
// ConfusionMatrix) are recomputable from their inputs and never mutated
// after creation.
package corpus

// Label is a semantic layout label assigned to text.
type Label string

const (
	LabelBody     Label = "body"
	LabelFootnote Label = "footnote"
	LabelHeader   Label = "header"
	LabelFooter   Label = "footer"
	LabelCaption  Label = "caption"
	LabelOther    Label = "other"

	// LabelUnmatched marks a fragment that could not be aligned to any
	// ground-truth paragraph. It is a result state, never a ground-truth
	// label.
	LabelUnmatched Label = "unmatched"
)

// Labels lists the ground-truth label set in a stable order.
func Labels() []Label {
	return []Label{LabelBody, LabelFootnote, LabelHeader, LabelFooter, LabelCaption, LabelOther}
}

// Fragment is one unit of extractor-produced text with position and
// typography metadata. OrderIndex is strictly increasing in reading order
// within a document.
type Fragment struct {
	ID               string  `json:"id"`
	Text             string  `json:"text"`
	PageNumber       int     `json:"page_number"`
	YPosition        float64 `json:"y_position_normalized"` // 0 = top of page, 1 = bottom
	RelativeFontSize float64 `json:"relative_font_size"`    // 1.0 = page median size
	OriginLabel      Label   `json:"origin_label"`          // label assigned by the extraction pipeline
	OrderIndex       int     `json:"document_order_index"`
	// Confidence is an optional engine self-estimate (0-100), e.g. OCR
	// word confidence. Diagnostic only; alignment never reads it.
	Confidence float64 `json:"confidence,omitempty"`
}

// Paragraph is a semantically labeled unit of the reference document.
// Shared read-only by every pipeline run on the same document.
type Paragraph struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Label      Label  `json:"semantic_label"`
	OrderIndex int    `json:"document_order_index"`
}

// Tier describes how a match was accepted or rejected.
type Tier string

const (
	TierUnmatched Tier = "unmatched"
	TierLow       Tier = "low"
	TierHigh      Tier = "high"
)

// AlignmentResult is the outcome of aligning a single fragment. Exactly
// one result exists per fragment. ParagraphID is empty when no match was
// accepted; a paragraph may be the target of several fragments
// (pagination splits are legitimate), but a fragment matches at most one
// paragraph.
type AlignmentResult struct {
	FragmentID     string  `json:"fragment_id"`
	ParagraphID    string  `json:"matched_paragraph_id,omitempty"`
	Similarity     float64 `json:"similarity_score"` // 0..100
	CorrectedLabel Label   `json:"corrected_label"`
	Tier           Tier    `json:"confidence_tier"`
	Merged         bool    `json:"merged,omitempty"` // accepted via merge with the preceding fragment
}

// Matched reports whether this result represents an accepted match.
func (r AlignmentResult) Matched() bool { return r.ParagraphID != "" }

// ConfusionMatrix holds binary classification counts and derived metrics
// for one (pipeline, document, target label) triple.
type ConfusionMatrix struct {
	PipelineID         string  `json:"pipeline_id"`
	DocumentID         string  `json:"document_id"`
	TargetLabel        Label   `json:"target_label"`
	TP                 int     `json:"tp"`
	FP                 int     `json:"fp"`
	FN                 int     `json:"fn"`
	TN                 int     `json:"tn"`
	Precision          float64 `json:"precision"`
	Recall             float64 `json:"recall"`
	F1                 float64 `json:"f1"`
	FragmentationRatio float64 `json:"fragmentation_ratio"` // fragments per page
}

// RunStatus is the terminal state of a pipeline invocation on a document.
type RunStatus string

const (
	RunOK               RunStatus = "ok"
	RunExtractionFailed RunStatus = "extraction_failed"
	RunTimeout          RunStatus = "timeout"
)

// PipelineRun records one pipeline invocation on one document. Terminal
// once written.
type PipelineRun struct {
	PipelineID    string    `json:"pipeline_id"`
	DocumentID    string    `json:"document_id"`
	ElapsedMs     int64     `json:"elapsed_ms"`
	FragmentCount int       `json:"fragment_count"`
	PageCount     int       `json:"page_count"`
	Status        RunStatus `json:"status"`
}
