// Package align matches extracted text fragments against ground-truth
// paragraphs and assigns each fragment a corrected label.
//
// The engine walks fragments in document order, keeping a monotonic
// cursor over ground-truth paragraph indices. Matching is guarded by a
// minimum-length gate, structural-marker exclusion, length-scaled
// acceptance thresholds, and a semantic cross-check for footnote targets;
// fragments that fail to match outright get one merge retry with their
// immediately preceding sibling to recover footnotes split across page
// boundaries.
//
// Identical inputs always yield identical results. Ties between equally
// scoring paragraphs are broken toward the lowest document order index.
package align

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/hazyhaar/lexalign/corpus"
)

// Rejection categories tracked in Stats.Rejections.
const (
	RejectLengthGate     = "length_gate"
	RejectMarker         = "structural_marker"
	RejectCrossCheck     = "footnote_crosscheck"
	RejectBelowThreshold = "below_threshold"
)

// Config holds the alignment tuning constants. All thresholds are
// empirical calibration points, not invariants; override them from the
// runner config when recalibrating against a labeled validation set.
type Config struct {
	// WindowWidth bounds the paragraph search window. Default: 300.
	WindowWidth int `yaml:"window_width"`
	// BackTolerance is how far behind the cursor the window may reach,
	// allowing revisits of the current paragraph across page breaks.
	// Default: 2.
	BackTolerance int `yaml:"back_tolerance"`
	// MinLength is the minimum normalized character count for a fragment
	// to be considered for matching at all. Default: 15.
	MinLength int `yaml:"min_length"`
	// ShortLen and LongLen bound the threshold bands. Defaults: 30, 100.
	ShortLen int `yaml:"short_len"`
	LongLen  int `yaml:"long_len"`
	// ShortThreshold, MediumThreshold, LongThreshold are the minimum
	// acceptable scores per band. Short fragments need near-exact
	// similarity because substring scoring trivially flatters them.
	// Defaults: 99, 88, 70.
	ShortThreshold  float64 `yaml:"short_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold"`
	LongThreshold   float64 `yaml:"long_threshold"`
	// HighConfidence is the score at or above which a match is tiered
	// high and the footnote cross-check is waived. Default: 95.
	HighConfidence float64 `yaml:"high_confidence"`
	// AmbiguityMargin: competing paragraphs scoring within this margin of
	// the best increment the ambiguity counter. Default: 2.
	AmbiguityMargin float64 `yaml:"ambiguity_margin"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.WindowWidth <= 0 {
		c.WindowWidth = 300
	}
	if c.BackTolerance <= 0 {
		c.BackTolerance = 2
	}
	if c.MinLength <= 0 {
		c.MinLength = 15
	}
	if c.ShortLen <= 0 {
		c.ShortLen = 30
	}
	if c.LongLen <= 0 {
		c.LongLen = 100
	}
	if c.ShortThreshold <= 0 {
		c.ShortThreshold = 99
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = 88
	}
	if c.LongThreshold <= 0 {
		c.LongThreshold = 70
	}
	if c.HighConfidence <= 0 {
		c.HighConfidence = 95
	}
	if c.AmbiguityMargin <= 0 {
		c.AmbiguityMargin = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats carries per-document diagnostic counters. Never fatal.
type Stats struct {
	Ambiguities int            `json:"ambiguities"`
	Merges      int            `json:"merges"`
	Rejections  map[string]int `json:"rejections"`
}

// Cursor is the monotonic position over ground-truth paragraph indices.
// It is threaded through each step as a value so documents can be aligned
// concurrently without shared state.
type Cursor struct {
	Index int
}

// Engine aligns fragment sequences against paragraph sequences.
type Engine struct {
	cfg Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// prepared is a paragraph with its normalization precomputed.
type prepared struct {
	para corpus.Paragraph
	norm string
}

// AlignDocument produces exactly one AlignmentResult per fragment, in
// fragment order, plus diagnostic stats. Fragments and paragraphs must
// belong to the same document and be sorted by OrderIndex.
func (e *Engine) AlignDocument(frags []corpus.Fragment, paras []corpus.Paragraph) ([]corpus.AlignmentResult, Stats) {
	stats := Stats{Rejections: make(map[string]int)}
	results := make([]corpus.AlignmentResult, 0, len(frags))

	prep := make([]prepared, len(paras))
	for i, p := range paras {
		prep[i] = prepared{para: p, norm: corpus.Normalize(p.Text)}
	}

	cur := Cursor{}
	for i, frag := range frags {
		raw := strings.TrimSpace(frag.Text)
		norm := corpus.Normalize(raw)

		// Structural markers never match, regardless of length: outline
		// tokens like "I." or "a." co-occur inside footnote citation
		// numbering and only produce false positives.
		if isStructuralMarker(raw) {
			stats.Rejections[RejectMarker]++
			results = append(results, corpus.AlignmentResult{
				FragmentID:     frag.ID,
				CorrectedLabel: corpus.LabelUnmatched,
				Tier:           corpus.TierUnmatched,
			})
			continue
		}

		// Minimum-length gate: too little signal to trust any score.
		// These are terminal; merge recovery must not resurrect them or
		// the gate property stops being absolute.
		if len([]rune(norm)) < e.cfg.MinLength {
			stats.Rejections[RejectLengthGate]++
			results = append(results, corpus.AlignmentResult{
				FragmentID:     frag.ID,
				CorrectedLabel: corpus.LabelUnmatched,
				Tier:           corpus.TierUnmatched,
			})
			continue
		}

		res, next, reason := e.alignOne(cur, frag, raw, norm, prep, &stats)

		if !res.Matched() {
			// Merge retry: the previous fragment with the same pipeline
			// label that failed or matched only weakly may be the first
			// half of a footnote split across a page boundary.
			if i > 0 && e.mergeEligible(frags[i-1], frag, results[i-1]) {
				mraw := strings.TrimSpace(frags[i-1].Text) + " " + raw
				mnorm := corpus.Normalize(mraw)
				mres, mnext, _ := e.alignOne(cur, frag, mraw, mnorm, prep, &stats)
				if mres.Matched() {
					mres.Merged = true
					stats.Merges++
					results = append(results, mres)
					cur = mnext
					continue
				}
			}
			stats.Rejections[reason]++
		}

		results = append(results, res)
		cur = next
	}

	return results, stats
}

// alignOne runs scoring, threshold, and cross-check for one fragment text
// against the current window. It returns the result, the advanced cursor,
// and the rejection reason when no match was accepted.
func (e *Engine) alignOne(cur Cursor, frag corpus.Fragment, raw, norm string, prep []prepared, stats *Stats) (corpus.AlignmentResult, Cursor, string) {
	start := cur.Index - e.cfg.BackTolerance
	if start < 0 {
		start = 0
	}
	end := start + e.cfg.WindowWidth
	if end > len(prep) {
		end = len(prep)
	}

	bestIdx := -1
	bestScore := -1.0
	scores := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		s := Score(norm, prep[i].norm)
		scores = append(scores, s)
		// Strict > keeps the lowest index on exact ties.
		if s > bestScore {
			bestScore = s
			bestIdx = i
		}
	}
	contenders := 0
	for _, s := range scores {
		if bestScore-s <= e.cfg.AmbiguityMargin {
			contenders++
		}
	}

	unmatched := corpus.AlignmentResult{
		FragmentID:     frag.ID,
		Similarity:     maxf(bestScore, 0),
		CorrectedLabel: frag.OriginLabel,
		Tier:           corpus.TierUnmatched,
	}

	if bestIdx < 0 {
		return unmatched, cur, RejectBelowThreshold
	}

	if bestScore < e.threshold(norm) {
		return unmatched, cur, RejectBelowThreshold
	}

	best := prep[bestIdx].para

	// Semantic cross-check: a below-high-confidence match into a footnote
	// must look like a footnote. Substring scoring happily lands body
	// sentences inside long citation strings otherwise.
	if best.Label == corpus.LabelFootnote && bestScore < e.cfg.HighConfidence && !hasFootnoteSignal(raw) {
		unmatched.CorrectedLabel = corpus.LabelUnmatched
		return unmatched, cur, RejectCrossCheck
	}

	if contenders > 1 {
		stats.Ambiguities++
	}

	tier := corpus.TierLow
	if bestScore >= e.cfg.HighConfidence {
		tier = corpus.TierHigh
	}

	next := cur
	if bestIdx > next.Index {
		next.Index = bestIdx
	}

	return corpus.AlignmentResult{
		FragmentID:     frag.ID,
		ParagraphID:    best.ID,
		Similarity:     bestScore,
		CorrectedLabel: best.Label,
		Tier:           tier,
	}, next, ""
}

// threshold returns the minimum acceptable score for a fragment of the
// given normalized text. Short fragments demand near-exact similarity.
func (e *Engine) threshold(norm string) float64 {
	n := len([]rune(norm))
	switch {
	case n < e.cfg.ShortLen:
		return e.cfg.ShortThreshold
	case n <= e.cfg.LongLen:
		return e.cfg.MediumThreshold
	default:
		return e.cfg.LongThreshold
	}
}

// mergeEligible reports whether prev may be concatenated with the current
// fragment for a retry: same pipeline-origin label, and prev either
// failed outright or matched only at low confidence.
func (e *Engine) mergeEligible(prev, cur corpus.Fragment, prevRes corpus.AlignmentResult) bool {
	if prev.OriginLabel != cur.OriginLabel {
		return false
	}
	return !prevRes.Matched() || prevRes.Tier == corpus.TierLow
}

var markerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[IVXLCDM]+\.$`),     // Roman numeral outline: "I.", "IV."
	regexp.MustCompile(`^[ivxlcdm]+\.$`),     // lowercase variant: "iv."
	regexp.MustCompile(`^[A-Za-z]\.$`),       // lettered outline: "A.", "b."
	regexp.MustCompile(`^\d{1,3}\.$`),        // numbered outline: "3."
	regexp.MustCompile(`^\([A-Za-z0-9]+\)$`), // parenthesized: "(a)", "(12)"
}

// isStructuralMarker reports whether raw is a pure section/outline
// numbering token. Checked against raw text: normalization strips the
// very punctuation these patterns rely on.
func isStructuralMarker(raw string) bool {
	if raw == "" || len(raw) > 8 {
		return false
	}
	for _, pat := range markerPatterns {
		if pat.MatchString(raw) {
			return true
		}
	}
	return false
}

var (
	footnoteLeadRe = regexp.MustCompile(`^\[?\d{1,4}[\.\)\]]?(\s|$)`)
	citationRe     = regexp.MustCompile(`(?i)(\bsee\b|\bsupra\b|\binfra\b|\bid\.|\bibid\.|\bcf\.|\baccord\b)`)
)

// hasFootnoteSignal reports whether fragment text exhibits at least one
// footnote-like cue: a leading footnote numeral or a citation keyword.
func hasFootnoteSignal(raw string) bool {
	return footnoteLeadRe.MatchString(raw) || citationRe.MatchString(raw)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
