package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/idgen"
)

// RemoteConfig configures a GPU OCR service backend.
type RemoteConfig struct {
	// PipelineID names this backend in runs and reports, so the same
	// client can front several remote engines ("gpuocr-a", "gpuocr-b").
	PipelineID string
	BaseURL    string
	Timeout    time.Duration
	IDs        idgen.Generator
	Logger     *slog.Logger
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

func (c *RemoteConfig) defaults() {
	if c.PipelineID == "" {
		c.PipelineID = "remote"
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.IDs == nil {
		c.IDs = idgen.Sequential("frg_")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
}

// Remote submits a document to an HTTP OCR service and maps its JSON
// response into fragments. The wire format is the service's native
// region list; Remote owns the translation so downstream code only ever
// sees Fragment.
type Remote struct {
	cfg RemoteConfig
}

// NewRemote creates a remote OCR backend.
func NewRemote(cfg RemoteConfig) *Remote {
	cfg.defaults()
	return &Remote{cfg: cfg}
}

func (r *Remote) ID() string { return r.cfg.PipelineID }

// remoteRegion is one detected region in the service response.
type remoteRegion struct {
	Text             string  `json:"text"`
	Page             int     `json:"page"`
	YPosition        float64 `json:"y_position"`
	RelativeFontSize float64 `json:"relative_font_size"`
	Label            string  `json:"label"`
	Confidence       float64 `json:"confidence"`
}

// remoteResponse is the service's document-level response.
type remoteResponse struct {
	Regions   []remoteRegion `json:"regions"`
	PageCount int            `json:"page_count"`
}

// Extract uploads the document and converts the response regions to
// fragments in response order.
func (r *Remote) Extract(ctx context.Context, path string) (*Extraction, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		f.Close()
		return nil, fmt.Errorf("read document: %w", err)
	}
	f.Close()
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.cfg.BaseURL+"/v1/extract", &body)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	r.cfg.Logger.Debug("submitting document to OCR service",
		"pipeline", r.cfg.PipelineID, "url", r.cfg.BaseURL, "document", filepath.Base(path))

	start := time.Now()
	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr http request failed: %w", err)
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		r.cfg.Logger.Error("OCR service error",
			"status", resp.StatusCode, "body", string(b), "duration", duration)
		return nil, fmt.Errorf("ocr service returned status %d: %s", resp.StatusCode, string(b))
	}

	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	r.cfg.Logger.Debug("OCR response received",
		"duration", duration, "regions", len(rr.Regions), "pages", rr.PageCount)

	frags := make([]corpus.Fragment, 0, len(rr.Regions))
	for i, reg := range rr.Regions {
		if reg.Text == "" {
			continue
		}
		label := corpus.Label(reg.Label)
		if !validRegionLabel(label) {
			label = classify(reg.YPosition, reg.RelativeFontSize)
		}
		frags = append(frags, corpus.Fragment{
			ID:               r.cfg.IDs(),
			Text:             reg.Text,
			PageNumber:       reg.Page,
			YPosition:        reg.YPosition,
			RelativeFontSize: reg.RelativeFontSize,
			OriginLabel:      label,
			OrderIndex:       i,
			Confidence:       reg.Confidence,
		})
	}
	if err := validateOrder(frags); err != nil {
		return nil, err
	}
	return &Extraction{Fragments: frags, PageCount: rr.PageCount}, nil
}

func validRegionLabel(l corpus.Label) bool {
	for _, known := range corpus.Labels() {
		if l == known {
			return true
		}
	}
	return false
}
