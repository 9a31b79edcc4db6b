// Command lexalign evaluates PDF extraction pipelines against HTML ground truth.
//
// Usage:
//
//	lexalign ingest -id harvlrev_001 -pdf doc.pdf -html doc.html
//	lexalign sweep                        # enqueue every document x pipeline
//	lexalign worker                       # process evaluation jobs
//	lexalign compare -target body         # ranked pipeline report
//	lexalign serve -port 8080             # read-only HTTP API
//	lexalign mcp                          # MCP server on stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lexalign/align"
	"github.com/hazyhaar/lexalign/compare"
	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/groundtruth"
	"github.com/hazyhaar/lexalign/mcptool"
	"github.com/hazyhaar/lexalign/pipelines"
	"github.com/hazyhaar/lexalign/queue"
	"github.com/hazyhaar/lexalign/runner"
	"github.com/hazyhaar/lexalign/score"
	"github.com/hazyhaar/lexalign/store"
	"github.com/hazyhaar/lexalign/web"
)

const usage = `usage: lexalign <command> [flags]

commands:
  ingest    register a document (PDF + reference HTML) in the corpus
  sweep     enqueue an evaluation job for every document x pipeline
  worker    process queued evaluation jobs
  score     recompute confusion matrices from stored alignment results
  compare   print the ranked pipeline comparison report
  serve     run the read-only HTTP API
  mcp       run the MCP server on stdio
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, logger, os.Args[2:])
	case "sweep":
		err = runSweep(ctx, logger, os.Args[2:])
	case "worker":
		err = runWorker(ctx, logger, os.Args[2:])
	case "score":
		err = runScore(ctx, logger, os.Args[2:])
	case "compare":
		err = runCompare(ctx, logger, os.Args[2:])
	case "serve":
		err = runServe(ctx, logger, os.Args[2:])
	case "mcp":
		err = runMCP(ctx, logger, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("lexalign: fatal", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(path string) (*runner.Config, error) {
	if path == "" {
		return runner.DefaultConfig(), nil
	}
	return runner.LoadConfig(path)
}

func openStore(cfg *runner.Config) (*store.Store, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", cfg.DBPath, err)
	}
	return store.New(db), nil
}

// buildRegistry assembles the built-in backends plus any configured
// remote extraction services.
func buildRegistry(cfg *runner.Config, logger *slog.Logger) (*pipelines.Registry, error) {
	backends := []pipelines.Extractor{
		pipelines.NewTextLayer(pipelines.TextLayerConfig{Logger: logger}),
		pipelines.NewHOCR(pipelines.HOCRConfig{Logger: logger}),
	}
	for _, r := range cfg.Remotes {
		backends = append(backends, pipelines.NewRemote(pipelines.RemoteConfig{
			PipelineID: r.ID,
			BaseURL:    r.URL,
			Timeout:    cfg.JobTimeout,
			Logger:     logger,
		}))
	}
	return pipelines.NewRegistry(backends...)
}

func runIngest(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "path to lexalign.yaml")
	id := fs.String("id", "", "document id (source group prefix before first underscore)")
	pdfPath := fs.String("pdf", "", "path to the PDF")
	htmlPath := fs.String("html", "", "path to the reference HTML")
	fs.Parse(args)

	if *id == "" || *pdfPath == "" || *htmlPath == "" {
		return fmt.Errorf("ingest: -id, -pdf and -html are required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.DB.Close()

	ext := groundtruth.New(groundtruth.Config{Logger: logger})
	res, err := ext.ExtractFile(*id, *htmlPath)
	if err != nil {
		return fmt.Errorf("ground truth: %w", err)
	}
	if len(res.Paragraphs) == 0 {
		logger.Warn("ingest: reference document yielded no paragraphs", "document", *id)
	}

	doc := &store.Document{
		ID:         *id,
		PDFPath:    *pdfPath,
		HTMLPath:   *htmlPath,
		GTFallback: res.Fallback,
		Paragraphs: res.Paragraphs,
	}
	if err := st.InsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	logger.Info("document ingested",
		"document", *id,
		"source_group", doc.SourceGroup,
		"paragraphs", len(res.Paragraphs),
		"fallback", res.Fallback)
	return nil
}

func runSweep(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "path to lexalign.yaml")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.DB.Close()

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	q := queue.New(st.DB, queue.Options{
		Visibility:   cfg.Visibility,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
		Logger:       logger,
	})

	r := runner.New(cfg, st, q, reg, logger)
	n, err := r.EnqueueSweep(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweep enqueued", "jobs", n, "pipelines", reg.IDs())
	return nil
}

func runWorker(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "", "path to lexalign.yaml")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.DB.Close()

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	q := queue.New(st.DB, queue.Options{
		Visibility:   cfg.Visibility,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
		Logger:       logger,
	})

	// Jobs claimed by a worker that died stay invisible until their
	// visibility window lapses; reclaim them up front.
	if n, err := q.ResetOrphans(ctx); err != nil {
		logger.Warn("reset orphans", "error", err)
	} else if n > 0 {
		logger.Info("reclaimed orphaned jobs", "count", n)
	}

	r := runner.New(cfg, st, q, reg, logger)
	logger.Info("worker starting", "workers", cfg.Workers, "pipelines", reg.IDs())
	r.Run(ctx)

	jobs, counts := r.Counters().Snapshot()
	logger.Info("worker stopped", "jobs", jobs, "errors", counts)
	return nil
}

// runScore re-derives confusion matrices from persisted fragments and
// alignment results. Useful after a scoring change; alignment itself is
// not redone.
func runScore(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	configPath := fs.String("config", "", "path to lexalign.yaml")
	runID := fs.String("run", "", "rescore a single run (default: latest run per document x pipeline)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.DB.Close()

	var runs []*store.Run
	if *runID != "" {
		run, err := st.GetRun(ctx, *runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", *runID)
		}
		runs = append(runs, run)
	} else {
		// Comparison only reads the latest run per document x pipeline,
		// so that is the set worth rescoring.
		runs, err = st.LatestRuns(ctx)
		if err != nil {
			return err
		}
	}

	rescored := 0
	for _, run := range runs {
		if run.Status != corpus.RunOK {
			continue
		}
		doc, err := st.GetDocument(ctx, run.DocumentID)
		if err != nil {
			return err
		}
		if doc == nil {
			logger.Warn("score: run references missing document", "run", run.ID, "document", run.DocumentID)
			continue
		}
		frags, err := st.GetFragments(ctx, run.ID)
		if err != nil {
			return err
		}
		results, err := st.GetResults(ctx, run.ID)
		if err != nil {
			return err
		}
		matrices, err := score.AllLabels(score.Input{
			PipelineID: run.PipelineID,
			DocumentID: run.DocumentID,
			Fragments:  frags,
			Results:    results,
			Paragraphs: doc.Paragraphs,
			PageCount:  run.PageCount,
		})
		if err != nil {
			logger.Warn("score: skipping inconsistent run", "run", run.ID, "error", err)
			continue
		}
		if err := st.InsertMatrices(ctx, run.ID, matrices); err != nil {
			return fmt.Errorf("persist matrices for %s: %w", run.ID, err)
		}
		rescored++
	}

	logger.Info("rescore complete", "runs", rescored)
	return nil
}

func runCompare(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	configPath := fs.String("config", "", "path to lexalign.yaml")
	target := fs.String("target", string(corpus.LabelBody), "target label to rank by")
	fs.Parse(args)

	label := corpus.Label(*target)
	known := false
	for _, l := range corpus.Labels() {
		if label == l {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown target label %q", *target)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.DB.Close()

	report, err := compare.BuildReport(ctx, st, label, cfg.Compare)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runServe(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to lexalign.yaml")
	port := fs.String("port", "8080", "listen port")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.DB.Close()

	svc := web.New(st, cfg.Compare, logger)
	r := chi.NewRouter()
	svc.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func runMCP(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to lexalign.yaml")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.DB.Close()

	svc := mcptool.New(st,
		groundtruth.New(groundtruth.Config{Logger: logger}),
		align.New(cfg.Align),
		cfg.Compare,
		logger)

	srv := mcp.NewServer(&mcp.Implementation{Name: "lexalign", Version: "0.1.0"}, nil)
	svc.RegisterMCP(srv)

	logger.Info("mcp server starting", "transport", "stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}
