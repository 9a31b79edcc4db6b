package align

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hazyhaar/lexalign/corpus"
)

func mkParas(labels []corpus.Label, texts []string) []corpus.Paragraph {
	paras := make([]corpus.Paragraph, len(texts))
	for i := range texts {
		paras[i] = corpus.Paragraph{
			ID:         fmt.Sprintf("gt_%d", i),
			Text:       texts[i],
			Label:      labels[i],
			OrderIndex: i,
		}
	}
	return paras
}

func mkFrags(origin corpus.Label, texts ...string) []corpus.Fragment {
	frags := make([]corpus.Fragment, len(texts))
	for i := range texts {
		frags[i] = corpus.Fragment{
			ID:          fmt.Sprintf("frg_%d", i),
			Text:        texts[i],
			PageNumber:  1,
			OriginLabel: origin,
			OrderIndex:  i,
		}
	}
	return frags
}

func TestLengthGate(t *testing.T) {
	// WHAT: a fragment below the minimum normalized length is always
	// unmatched, independent of its raw substring similarity.
	// WHY: "SAUCE" scores near-exact against "Jaymo's Sauces LLC v.
	// Wendy's Co." by substring coincidence alone.
	paras := mkParas(
		[]corpus.Label{corpus.LabelFootnote},
		[]string{"Jaymo's Sauces LLC v. Wendy's Co."},
	)
	frags := mkFrags(corpus.LabelBody, "SAUCE")

	e := New(Config{})
	results, stats := e.AlignDocument(frags, paras)

	r := results[0]
	if r.Matched() {
		t.Fatalf("short fragment matched %s", r.ParagraphID)
	}
	if r.CorrectedLabel != corpus.LabelUnmatched || r.Tier != corpus.TierUnmatched {
		t.Errorf("got label %s tier %s, want unmatched/unmatched", r.CorrectedLabel, r.Tier)
	}
	if stats.Rejections[RejectLengthGate] != 1 {
		t.Errorf("length gate rejections = %d, want 1", stats.Rejections[RejectLengthGate])
	}
}

func TestStructuralMarkerExclusion(t *testing.T) {
	// WHAT: pure outline tokens never match, even a footnote that begins
	// with compatible numbering.
	paras := mkParas(
		[]corpus.Label{corpus.LabelFootnote},
		[]string{"[1]. See, e.g., McCulloch v. Maryland, 17 U.S. 316 (1819)."},
	)

	for _, marker := range []string{"I.", "IV.", "a.", "B.", "3.", "(ii)"} {
		frags := mkFrags(corpus.LabelBody, marker)
		e := New(Config{})
		results, stats := e.AlignDocument(frags, paras)
		if results[0].Matched() {
			t.Errorf("marker %q matched a footnote", marker)
		}
		if results[0].CorrectedLabel != corpus.LabelUnmatched {
			t.Errorf("marker %q: label %s, want unmatched", marker, results[0].CorrectedLabel)
		}
		if stats.Rejections[RejectMarker] != 1 {
			t.Errorf("marker %q: marker rejections = %d, want 1", marker, stats.Rejections[RejectMarker])
		}
	}
}

func TestMergeRecovery_SplitFootnote(t *testing.T) {
	// WHAT: two consecutive same-origin fragments that each fail the
	// near-exact band standalone are concatenated and retried; the merged
	// text matches the full footnote at ≥ 90.
	// WHY: extraction pipelines split footnotes across page boundaries.
	paras := mkParas(
		[]corpus.Label{corpus.LabelFootnote},
		[]string{"2 Charles Black, Jr., noted in 1969 that structure matters. See Charles Black, Structure and Relationship in Constitutional Law (1969)."},
	)
	// One OCR edit in each half keeps both under the 99 short-band
	// threshold while the merged medium-band text clears 88 comfortably.
	frags := mkFrags(corpus.LabelFootnote,
		"2 Charles Blaok, Jr., noted in",
		"1969 that struxture matters.",
	)

	e := New(Config{})
	results, stats := e.AlignDocument(frags, paras)

	if results[0].Matched() {
		t.Fatalf("first half matched standalone with %v", results[0].Similarity)
	}
	second := results[1]
	if !second.Matched() {
		t.Fatalf("merged retry did not match (similarity %v)", second.Similarity)
	}
	if !second.Merged {
		t.Error("result should be flagged as merged")
	}
	if second.Similarity < 90 {
		t.Errorf("merged similarity = %v, want ≥ 90", second.Similarity)
	}
	if second.CorrectedLabel != corpus.LabelFootnote {
		t.Errorf("corrected label = %s, want footnote", second.CorrectedLabel)
	}
	if stats.Merges != 1 {
		t.Errorf("merges = %d, want 1", stats.Merges)
	}
}

func TestFootnoteCrossCheck(t *testing.T) {
	// WHAT: a sub-high-confidence match into a footnote is rejected unless
	// the fragment shows a footnote-like signal.
	paras := mkParas(
		[]corpus.Label{corpus.LabelFootnote},
		[]string{"the structural method draws inferences from institutional relationships"},
	)

	// ~94: above the medium threshold, below the high-confidence cutoff.
	noisy := "the struktural methad draws inferxnces from institutionxl relationships"

	e := New(Config{})
	results, stats := e.AlignDocument(mkFrags(corpus.LabelBody, noisy), paras)
	if results[0].Matched() {
		t.Fatalf("body-looking text matched a footnote at %v", results[0].Similarity)
	}
	if results[0].CorrectedLabel != corpus.LabelUnmatched {
		t.Errorf("label = %s, want unmatched", results[0].CorrectedLabel)
	}
	if stats.Rejections[RejectCrossCheck] != 1 {
		t.Errorf("crosscheck rejections = %d, want 1", stats.Rejections[RejectCrossCheck])
	}

	// Same text with a citation keyword passes the cross-check.
	withSignal := "see " + noisy
	results, _ = e.AlignDocument(mkFrags(corpus.LabelBody, withSignal), paras)
	if !results[0].Matched() {
		t.Fatalf("fragment with citation keyword rejected at %v", results[0].Similarity)
	}
	if results[0].CorrectedLabel != corpus.LabelFootnote {
		t.Errorf("label = %s, want footnote", results[0].CorrectedLabel)
	}
}

func TestBelowThresholdKeepsOriginLabel(t *testing.T) {
	// WHAT: a fragment that attempted matching but scored below threshold
	// keeps its pipeline label, with tier unmatched.
	paras := mkParas(
		[]corpus.Label{corpus.LabelBody},
		[]string{"completely different sentence about admiralty jurisdiction"},
	)
	frags := mkFrags(corpus.LabelHeader, "quantum electrodynamics for the working lawyer")

	e := New(Config{})
	results, stats := e.AlignDocument(frags, paras)
	r := results[0]
	if r.Matched() {
		t.Fatal("unrelated fragment matched")
	}
	if r.CorrectedLabel != corpus.LabelHeader {
		t.Errorf("label = %s, want origin label header", r.CorrectedLabel)
	}
	if stats.Rejections[RejectBelowThreshold] != 1 {
		t.Errorf("below-threshold rejections = %d, want 1", stats.Rejections[RejectBelowThreshold])
	}
}

func TestMonotonicity(t *testing.T) {
	// WHAT: matched paragraph indices never decrease beyond the cursor
	// back-tolerance as fragments advance; many-to-one is allowed.
	texts := []string{
		"the first paragraph discusses separation of powers doctrine",
		"the second paragraph turns to federalism and its structural limits",
		"the third paragraph examines judicial review of executive action",
		"the fourth paragraph considers the nondelegation doctrine revival",
		"the fifth paragraph concludes with remarks on constitutional structure",
	}
	labels := make([]corpus.Label, len(texts))
	for i := range labels {
		labels[i] = corpus.LabelBody
	}
	paras := mkParas(labels, texts)

	// In-order fragments, with the third paragraph split into two pieces
	// long enough to clear the gate.
	frags := mkFrags(corpus.LabelBody,
		"the first paragraph discusses separation of powers doctrine",
		"the second paragraph turns to federalism and its structural limits",
		"the third paragraph examines judicial review",
		"judicial review of executive action",
		"the fourth paragraph considers the nondelegation doctrine revival",
		"the fifth paragraph concludes with remarks on constitutional structure",
	)

	e := New(Config{})
	results, _ := e.AlignDocument(frags, paras)

	idx := func(paraID string) int {
		for i, p := range paras {
			if p.ID == paraID {
				return i
			}
		}
		t.Fatalf("unknown paragraph %s", paraID)
		return -1
	}

	prev := -1
	for i, r := range results {
		if !r.Matched() {
			t.Fatalf("fragment %d unmatched (similarity %v)", i, r.Similarity)
		}
		cur := idx(r.ParagraphID)
		if prev >= 0 && cur < prev-2 {
			t.Errorf("fragment %d regressed: paragraph %d after %d", i, cur, prev)
		}
		if cur > prev {
			prev = cur
		}
	}

	// The split pieces both map to paragraph 2.
	if idx(results[2].ParagraphID) != 2 || idx(results[3].ParagraphID) != 2 {
		t.Errorf("split fragments mapped to %s and %s, want gt_2 twice",
			results[2].ParagraphID, results[3].ParagraphID)
	}
}

func TestDeterministicTieBreak(t *testing.T) {
	// WHAT: when two paragraphs score identically, the lowest order index
	// wins and the ambiguity counter increments.
	dup := "12. See generally the same repeated footnote text for this test"
	paras := mkParas(
		[]corpus.Label{corpus.LabelFootnote, corpus.LabelFootnote},
		[]string{dup, dup},
	)
	frags := mkFrags(corpus.LabelFootnote, dup)

	e := New(Config{})
	results, stats := e.AlignDocument(frags, paras)
	if !results[0].Matched() {
		t.Fatal("exact fragment did not match")
	}
	if results[0].ParagraphID != "gt_0" {
		t.Errorf("matched %s, want gt_0 (lowest index)", results[0].ParagraphID)
	}
	if stats.Ambiguities != 1 {
		t.Errorf("ambiguities = %d, want 1", stats.Ambiguities)
	}
}

func TestIdempotence(t *testing.T) {
	// WHAT: aligning the same input twice yields byte-identical output.
	paras := mkParas(
		[]corpus.Label{corpus.LabelBody, corpus.LabelFootnote},
		[]string{
			"the inference from structure is a legitimate mode of argument",
			"3. See Charles Black, Structure and Relationship in Constitutional Law (1969).",
		},
	)
	frags := mkFrags(corpus.LabelBody,
		"the inference from structure is a legitimate mode",
		"3. See Charles Black, Structure and Relationship",
		"xx",
	)

	e := New(Config{})
	r1, s1 := e.AlignDocument(frags, paras)
	r2, s2 := e.AlignDocument(frags, paras)

	b1, _ := json.Marshal(r1)
	b2, _ := json.Marshal(r2)
	if string(b1) != string(b2) {
		t.Errorf("results differ:\n%s\n%s", b1, b2)
	}
	sb1, _ := json.Marshal(s1)
	sb2, _ := json.Marshal(s2)
	if string(sb1) != string(sb2) {
		t.Errorf("stats differ:\n%s\n%s", sb1, sb2)
	}
}

func TestWindowBoundsSearch(t *testing.T) {
	// WHAT: a paragraph beyond the search window is never considered,
	// even when it would score perfectly.
	texts := []string{
		"alpha paragraph with entirely unrelated content number one",
		"beta paragraph with entirely unrelated content number two",
		"gamma paragraph with entirely unrelated content number three",
		"delta paragraph with entirely unrelated content number four",
		"the fragment text lives here far beyond the narrow window",
	}
	labels := []corpus.Label{corpus.LabelBody, corpus.LabelBody, corpus.LabelBody, corpus.LabelBody, corpus.LabelBody}
	paras := mkParas(labels, texts)
	frags := mkFrags(corpus.LabelBody, "the fragment text lives here far beyond the narrow window")

	e := New(Config{WindowWidth: 2, BackTolerance: 1})
	results, _ := e.AlignDocument(frags, paras)
	if results[0].Matched() {
		t.Fatalf("matched %s outside the window", results[0].ParagraphID)
	}
}

func TestIsStructuralMarker(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"I.", true},
		{"XIV.", true},
		{"iv.", true},
		{"A.", true},
		{"b.", true},
		{"12.", true},
		{"(a)", true},
		{"(12)", true},
		{"I", false},        // no period
		{"Id.", false},      // citation, not outline
		{"IV. Part", false}, // not a lone token
		{"SAUCE", false},    // short but not a marker
		{"1969", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := isStructuralMarker(tc.in); got != tc.want {
			t.Errorf("isStructuralMarker(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestHasFootnoteSignal(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2 Charles Black, Jr., noted in 1969 that", true},
		{"[14] The court reasoned otherwise.", true},
		{"See, e.g., McCulloch v. Maryland.", true},
		{"supra note 12, at 44.", true},
		{"Id. at 311.", true},
		{"The structural method draws inferences.", false},
		{"Part II develops the argument.", false},
	}
	for _, tc := range tests {
		if got := hasFootnoteSignal(tc.in); got != tc.want {
			t.Errorf("hasFootnoteSignal(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
