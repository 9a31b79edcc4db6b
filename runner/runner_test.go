package runner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/pipelines"
	"github.com/hazyhaar/lexalign/queue"
	"github.com/hazyhaar/lexalign/store"
)

// stubBackend returns canned output, a canned error, or blocks until
// the context dies.
type stubBackend struct {
	id    string
	ex    *pipelines.Extraction
	err   error
	block bool
}

func (s *stubBackend) ID() string { return s.id }
func (s *stubBackend) Extract(ctx context.Context, path string) (*pipelines.Extraction, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.ex, nil
}

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.ArtifactDir = t.TempDir()
	cfg.JobTimeout = 50 * time.Millisecond
	return cfg
}

func seedDocument(t *testing.T, st *store.Store, id string, paras []corpus.Paragraph) {
	t.Helper()
	if err := st.InsertDocument(context.Background(), &store.Document{
		ID: id, PDFPath: "/corpus/" + id + ".pdf", HTMLPath: "/corpus/" + id + ".html",
		Paragraphs: paras,
	}); err != nil {
		t.Fatal(err)
	}
}

func newRunner(t *testing.T, cfg *Config, backends ...pipelines.Extractor) (*Runner, *store.Store) {
	t.Helper()
	st := store.New(store.OpenMemory(t))
	q := queue.New(st.DB, queue.Options{})
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	reg, err := pipelines.NewRegistry(backends...)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, st, q, reg, nil), st
}

func TestProcess_EndToEnd(t *testing.T) {
	// WHAT: A successful job persists the run, fragments, results and
	// matrices, and writes the JSON artifact.
	// WHY: This is the whole point of the system; every downstream
	// consumer reads what Process writes.
	paras := []corpus.Paragraph{
		{ID: "gt_0", Text: "The structural method draws inferences from institutional relationships.", Label: corpus.LabelBody, OrderIndex: 0},
		{ID: "gt_1", Text: "Constitutional arguments rest on the document taken as a whole.", Label: corpus.LabelBody, OrderIndex: 1},
	}
	frags := []corpus.Fragment{
		{ID: "frg_0", Text: "The structural method draws inferences from institutional relationships.", PageNumber: 1, OriginLabel: corpus.LabelBody, OrderIndex: 0},
		{ID: "frg_1", Text: "Constitutional arguments rest on the document taken as a whole.", PageNumber: 2, OriginLabel: corpus.LabelBody, OrderIndex: 1},
	}
	cfg := testConfig(t)
	r, st := newRunner(t, cfg, &stubBackend{id: "textlayer", ex: &pipelines.Extraction{Fragments: frags, PageCount: 2}})
	seedDocument(t, st, "harvlrev_001", paras)
	ctx := context.Background()

	err := r.Process(ctx, &queue.Job{DocumentID: "harvlrev_001", PipelineID: "textlayer"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	runs, err := st.ListRuns(ctx, "textlayer", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs", len(runs))
	}
	run := runs[0]
	if run.Status != corpus.RunOK || run.FragmentCount != 2 || run.PageCount != 2 {
		t.Errorf("run = %+v", run)
	}

	results, err := st.GetResults(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	for i, res := range results {
		if !res.Matched() || res.Similarity < 99 {
			t.Errorf("result %d not an exact match: %+v", i, res)
		}
	}

	m, err := st.GetMatrix(ctx, run.ID, corpus.LabelBody)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.TP != 2 || m.FN != 0 {
		t.Errorf("matrix = %+v", m)
	}

	art, err := ReadArtifact(filepath.Join(cfg.ArtifactDir, "harvlrev_001", "textlayer.json"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if art.RunID != run.ID || len(art.Fragments) != 2 || len(art.Results) != 2 {
		t.Errorf("artifact = %+v", art)
	}
	if art.Status != corpus.RunOK {
		t.Errorf("artifact status = %v", art.Status)
	}
}

func TestProcess_ExtractionFailure(t *testing.T) {
	// WHAT: A failing backend produces a terminal extraction_failed run
	// and bumps the extraction_failure counter; Process still acks.
	// WHY: Engine crashes are data, not infrastructure errors.
	cfg := testConfig(t)
	r, st := newRunner(t, cfg, &stubBackend{id: "hocr", err: errors.New("no ocr_page elements")})
	seedDocument(t, st, "doc_1", []corpus.Paragraph{{ID: "gt_0", Text: "some paragraph text here", Label: corpus.LabelBody}})
	ctx := context.Background()

	if err := r.Process(ctx, &queue.Job{DocumentID: "doc_1", PipelineID: "hocr"}); err != nil {
		t.Fatalf("process should ack failures, got %v", err)
	}

	run, err := st.LatestRun(ctx, "doc_1", "hocr")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != corpus.RunExtractionFailed || run.ErrorMessage == "" {
		t.Errorf("run = %+v", run)
	}
	_, counts := r.Counters().Snapshot()
	if counts[ErrExtractionFailure] != 1 {
		t.Errorf("counters = %v", counts)
	}
}

func TestProcess_ZeroFragments(t *testing.T) {
	// WHAT: A backend that reports success but yields no fragments is an
	// extraction failure: the run records extraction_failed, the counter
	// bumps, and no matrices are persisted.
	// WHY: Averaging a zeroed F1 from an empty extraction into the
	// comparison would punish the pipeline twice and skew MeanF1;
	// failures belong in the failure rate, not the quality aggregates.
	cfg := testConfig(t)
	r, st := newRunner(t, cfg, &stubBackend{id: "gpuocr", ex: &pipelines.Extraction{PageCount: 3}})
	seedDocument(t, st, "doc_1", []corpus.Paragraph{{ID: "gt_0", Text: "some paragraph text here", Label: corpus.LabelBody}})
	ctx := context.Background()

	if err := r.Process(ctx, &queue.Job{DocumentID: "doc_1", PipelineID: "gpuocr"}); err != nil {
		t.Fatalf("process should ack zero-fragment runs, got %v", err)
	}

	run, err := st.LatestRun(ctx, "doc_1", "gpuocr")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != corpus.RunExtractionFailed || run.FragmentCount != 0 || run.ErrorMessage == "" {
		t.Errorf("run = %+v", run)
	}
	m, err := st.GetMatrix(ctx, run.ID, corpus.LabelBody)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("matrix persisted for zero-fragment run: %+v", m)
	}
	_, counts := r.Counters().Snapshot()
	if counts[ErrExtractionFailure] != 1 {
		t.Errorf("counters = %v", counts)
	}
}

func TestProcess_BatchCancellation(t *testing.T) {
	// WHAT: Cancelling the batch mid-extract propagates the error so the
	// queue redelivers the job; nothing is recorded or counted.
	// WHY: A shutdown is not a pipeline verdict — classifying it as
	// extraction_failed would pollute both the run table and the
	// counters.
	cfg := testConfig(t)
	cfg.JobTimeout = time.Second
	r, st := newRunner(t, cfg, &stubBackend{id: "gpuocr", block: true})
	seedDocument(t, st, "doc_1", []corpus.Paragraph{{ID: "gt_0", Text: "some paragraph text here", Label: corpus.LabelBody}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := r.Process(ctx, &queue.Job{DocumentID: "doc_1", PipelineID: "gpuocr"}); err == nil {
		t.Fatal("expected error on batch cancellation")
	}

	run, err := st.LatestRun(context.Background(), "doc_1", "gpuocr")
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Errorf("run persisted for cancelled job: %+v", run)
	}
	_, counts := r.Counters().Snapshot()
	if len(counts) != 0 {
		t.Errorf("counters = %v", counts)
	}
}

func TestProcess_Timeout(t *testing.T) {
	// WHAT: A backend that outlives the job timeout yields a timeout run.
	// WHY: Slow OCR must be classified separately from broken OCR, and
	// must not hold a worker forever.
	cfg := testConfig(t)
	r, st := newRunner(t, cfg, &stubBackend{id: "gpuocr", block: true})
	seedDocument(t, st, "doc_1", []corpus.Paragraph{{ID: "gt_0", Text: "some paragraph text here", Label: corpus.LabelBody}})
	ctx := context.Background()

	start := time.Now()
	if err := r.Process(ctx, &queue.Job{DocumentID: "doc_1", PipelineID: "gpuocr"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not enforced")
	}

	run, _ := st.LatestRun(ctx, "doc_1", "gpuocr")
	if run.Status != corpus.RunTimeout {
		t.Errorf("status = %v, want timeout", run.Status)
	}
	_, counts := r.Counters().Snapshot()
	if counts[ErrTimeout] != 1 {
		t.Errorf("counters = %v", counts)
	}
}

func TestProcess_UnknownDocument(t *testing.T) {
	// WHAT: A job for a document that is not in the store is an
	// infrastructure error and propagates for redelivery.
	cfg := testConfig(t)
	r, _ := newRunner(t, cfg, &stubBackend{id: "textlayer", ex: &pipelines.Extraction{}})
	if err := r.Process(context.Background(), &queue.Job{DocumentID: "ghost", PipelineID: "textlayer"}); err == nil {
		t.Fatal("expected error for unknown document")
	}
}

func TestProcess_EmptyGroundTruth(t *testing.T) {
	// WHAT: A document with zero ground-truth paragraphs still runs to a
	// terminal ok state — everything unmatched — and is counted as
	// malformed ground truth.
	// WHY: One bad reference HTML must not strand the pipeline's jobs.
	frags := []corpus.Fragment{
		{ID: "frg_0", Text: "Text with no reference to align against at all.", OriginLabel: corpus.LabelBody, OrderIndex: 0},
	}
	cfg := testConfig(t)
	r, st := newRunner(t, cfg, &stubBackend{id: "textlayer", ex: &pipelines.Extraction{Fragments: frags, PageCount: 1}})
	seedDocument(t, st, "doc_1", nil)
	ctx := context.Background()

	if err := r.Process(ctx, &queue.Job{DocumentID: "doc_1", PipelineID: "textlayer"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	run, _ := st.LatestRun(ctx, "doc_1", "textlayer")
	if run.Status != corpus.RunOK {
		t.Errorf("status = %v", run.Status)
	}
	results, _ := st.GetResults(ctx, run.ID)
	if len(results) != 1 || results[0].Matched() {
		t.Errorf("results = %+v", results)
	}
	_, counts := r.Counters().Snapshot()
	if counts[ErrMalformedGT] != 1 {
		t.Errorf("counters = %v", counts)
	}
}

func TestEnqueueSweep(t *testing.T) {
	// WHAT: Every stored document is scheduled against every pipeline.
	cfg := testConfig(t)
	r, st := newRunner(t, cfg,
		&stubBackend{id: "textlayer", ex: &pipelines.Extraction{}},
		&stubBackend{id: "hocr", ex: &pipelines.Extraction{}},
	)
	ctx := context.Background()
	seedDocument(t, st, "doc_1", nil)
	seedDocument(t, st, "doc_2", nil)
	seedDocument(t, st, "doc_3", nil)

	n, err := r.EnqueueSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 6 {
		t.Errorf("enqueued = %d, want 6", n)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, false},
		{"visibility below timeout", func(c *Config) { c.Visibility = c.JobTimeout }, false},
		{"remote missing url", func(c *Config) { c.Remotes = []RemoteSpec{{ID: "gpuocr"}} }, false},
		{"remote complete", func(c *Config) {
			c.Remotes = []RemoteSpec{{ID: "gpuocr", URL: "http://localhost:8001"}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
