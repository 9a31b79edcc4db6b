// Package mcptool exposes the corpus over MCP so agent tooling can
// inspect ground truth, rerun alignment, and read the comparison report
// without going through the HTTP API.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lexalign/align"
	"github.com/hazyhaar/lexalign/compare"
	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/groundtruth"
	"github.com/hazyhaar/lexalign/store"
)

// Service bundles the dependencies the tools need.
type Service struct {
	store     *store.Store
	extractor *groundtruth.Extractor
	engine    *align.Engine
	compare   compare.Config
	logger    *slog.Logger
}

// New creates the MCP tool service.
func New(st *store.Store, ext *groundtruth.Extractor, eng *align.Engine, cmp compare.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, extractor: ext, engine: eng, compare: cmp, logger: logger}
}

// RegisterMCP registers all tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerGroundTruthTool(srv)
	s.registerDocumentsTool(srv)
	s.registerAlignTool(srv)
	s.registerResultsTool(srv)
	s.registerCompareTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// handler produces the tool response from raw JSON arguments.
type handler func(ctx context.Context, args json.RawMessage) (any, error)

func register(srv *mcp.Server, tool *mcp.Tool, h handler) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := h(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- ground truth ---

type groundTruthReq struct {
	DocumentID string `json:"document_id"`
	HTMLPath   string `json:"html_path"`
}

func (s *Service) registerGroundTruthTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexalign_groundtruth",
		Description: "Extract labeled ground-truth paragraphs from a reference HTML file.",
		InputSchema: inputSchema(map[string]any{
			"document_id": map[string]any{"type": "string", "description": "Document identifier"},
			"html_path":   map[string]any{"type": "string", "description": "Path to the reference HTML"},
		}, []string{"document_id", "html_path"}),
	}

	register(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r groundTruthReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		res, err := s.extractor.ExtractFile(r.DocumentID, r.HTMLPath)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"paragraphs": res.Paragraphs,
			"fallback":   res.Fallback,
		}, nil
	})
}

// --- documents ---

func (s *Service) registerDocumentsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexalign_documents",
		Description: "List corpus documents with their source group and paragraph counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	register(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		docs, err := s.store.ListDocuments(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			out = append(out, map[string]any{
				"id":           d.ID,
				"source_group": d.SourceGroup,
				"paragraphs":   len(d.Paragraphs),
				"fallback":     d.GTFallback,
			})
		}
		return map[string]any{"documents": out}, nil
	})
}

// --- align ---

type alignReq struct {
	RunID string `json:"run_id"`
}

func (s *Service) registerAlignTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexalign_align",
		Description: "Re-align a stored run's fragments against its document's ground truth; returns results without persisting.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run identifier"},
		}, []string{"run_id"}),
	}

	register(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r alignReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		run, err := s.store.GetRun(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, fmt.Errorf("run %s not found", r.RunID)
		}
		doc, err := s.store.GetDocument(ctx, run.DocumentID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("document %s not found", run.DocumentID)
		}
		frags, err := s.store.GetFragments(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		results, stats := s.engine.AlignDocument(frags, doc.Paragraphs)
		return map[string]any{
			"results": results,
			"stats":   stats,
		}, nil
	})
}

// --- results ---

type resultsReq struct {
	RunID string `json:"run_id"`
}

func (s *Service) registerResultsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexalign_run_results",
		Description: "Fetch a run's fragments with their stored alignment verdicts.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run identifier"},
		}, []string{"run_id"}),
	}

	register(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r resultsReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		run, err := s.store.GetRun(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, fmt.Errorf("run %s not found", r.RunID)
		}
		frags, err := s.store.GetFragments(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		results, err := s.store.GetResults(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"run":       run,
			"fragments": frags,
			"results":   results,
		}, nil
	})
}

// --- compare ---

type compareReq struct {
	Target string `json:"target"`
}

func (s *Service) registerCompareTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexalign_compare",
		Description: "Rank extraction pipelines by corpus-wide quality and throughput for a target label (default: body).",
		InputSchema: inputSchema(map[string]any{
			"target": map[string]any{"type": "string", "description": "Target label (body, footnote, header, footer, caption, other)"},
		}, nil),
	}

	register(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r compareReq
		if len(args) > 0 {
			if err := json.Unmarshal(args, &r); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		target := corpus.LabelBody
		if r.Target != "" {
			target = corpus.Label(r.Target)
			known := false
			for _, l := range corpus.Labels() {
				if target == l {
					known = true
					break
				}
			}
			if !known {
				return nil, fmt.Errorf("unknown target label %q", r.Target)
			}
		}
		return compare.BuildReport(ctx, s.store, target, s.compare)
	})
}
