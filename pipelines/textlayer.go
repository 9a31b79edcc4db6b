package pipelines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/idgen"
)

// TextLayerConfig configures the embedded-text backend.
type TextLayerConfig struct {
	// MinFragmentRunes drops runs too short to be a paragraph candidate.
	MinFragmentRunes int
	// YGap is the vertical distance (in PDF units) below which two runs
	// at the same font size are merged into one fragment.
	YGap   float64
	IDs    idgen.Generator
	Logger *slog.Logger
}

func (c *TextLayerConfig) defaults() {
	if c.MinFragmentRunes == 0 {
		c.MinFragmentRunes = 3
	}
	if c.YGap == 0 {
		c.YGap = 20
	}
	if c.IDs == nil {
		c.IDs = idgen.Sequential("frg_")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// TextLayer extracts fragments from a PDF's embedded text layer using
// pdfcpu content-stream parsing. It tracks the text matrix and the
// active font size so each fragment carries a page-relative position
// and a relative font size.
type TextLayer struct {
	cfg TextLayerConfig
}

// NewTextLayer creates the embedded-text backend.
func NewTextLayer(cfg TextLayerConfig) *TextLayer {
	cfg.defaults()
	return &TextLayer{cfg: cfg}
}

func (t *TextLayer) ID() string { return "textlayer" }

// Extract reads the PDF at path and emits one fragment per positioned
// text run, in content-stream order.
func (t *TextLayer) Extract(ctx context.Context, path string) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	dims, err := pctx.PageDims()
	if err != nil {
		dims = nil
	}

	var frags []corpus.Fragment
	order := 0
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
		if err != nil {
			t.cfg.Logger.Warn("page content unavailable", "page", pageNr, "error", err)
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil || len(data) == 0 {
			continue
		}

		pageH := 792.0
		if dims != nil && pageNr-1 < len(dims) && dims[pageNr-1].Height > 0 {
			pageH = dims[pageNr-1].Height
		}

		runs := parseContentRuns(data)
		for _, fr := range mergeRuns(runs, t.cfg.YGap) {
			text := cleanRunText(fr.text)
			if len([]rune(text)) < t.cfg.MinFragmentRunes {
				continue
			}
			// PDF origin is bottom-left; flip so 0 is the top of the page.
			y := 1 - fr.y/pageH
			if y < 0 {
				y = 0
			}
			if y > 1 {
				y = 1
			}
			rel := 0.0
			if fr.maxSize > 0 && fr.size > 0 {
				rel = fr.size / fr.maxSize
			}
			frags = append(frags, corpus.Fragment{
				ID:               t.cfg.IDs(),
				Text:             text,
				PageNumber:       pageNr,
				YPosition:        y,
				RelativeFontSize: rel,
				OriginLabel:      classify(y, rel),
				OrderIndex:       order,
			})
			order++
		}
	}

	if err := validateOrder(frags); err != nil {
		return nil, err
	}
	return &Extraction{Fragments: frags, PageCount: pctx.PageCount}, nil
}

// textRun is one positioned stretch of shown text within a page.
type textRun struct {
	text    string
	y       float64
	size    float64
	maxSize float64
}

var (
	pdfStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
	tfRe        = regexp.MustCompile(`/\S+\s+([\d.]+)\s+Tf`)
	tdRe        = regexp.MustCompile(`(-?[\d.]+)\s+(-?[\d.]+)\s+(?:Td|TD)$`)
	tmRe        = regexp.MustCompile(`(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s+Tm$`)
)

// parseContentRuns walks the content stream operators and groups shown
// text by its vertical position and active font size. A new run starts
// whenever the font size changes or the cursor jumps.
func parseContentRuns(data []byte) []textRun {
	var runs []textRun
	var cur *textRun
	var sb strings.Builder

	fontSize := 0.0
	maxSize := 0.0
	curY := 0.0
	leading := 12.0

	flush := func() {
		if cur != nil && sb.Len() > 0 {
			cur.text = sb.String()
			runs = append(runs, *cur)
		}
		cur = nil
		sb.Reset()
	}
	ensure := func() {
		if cur == nil {
			cur = &textRun{y: curY, size: fontSize}
		}
	}
	show := func(line []byte) {
		for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
			text := decodePDFString(m[1])
			if text != "" {
				ensure()
				sb.WriteString(text)
			}
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if m := tfRe.FindSubmatch(line); m != nil {
			if sz, err := strconv.ParseFloat(string(m[1]), 64); err == nil && sz > 0 {
				if sz != fontSize {
					flush()
				}
				fontSize = sz
				leading = sz * 1.2
				if sz > maxSize {
					maxSize = sz
				}
			}
		}
		if m := tmRe.FindSubmatch(line); m != nil {
			if y, err := strconv.ParseFloat(string(m[6]), 64); err == nil {
				if abs(y-curY) > leading*1.5 {
					flush()
				}
				curY = y
			}
		}
		if m := tdRe.FindSubmatch(line); m != nil {
			if dy, err := strconv.ParseFloat(string(m[2]), 64); err == nil {
				if abs(dy) > leading*1.5 {
					flush()
				}
				curY += dy
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
			}
		}
		if bytes.Equal(line, []byte("T*")) {
			curY -= leading
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}

		if bytes.HasSuffix(line, []byte("Tj")) || bytes.HasSuffix(line, []byte("TJ")) {
			show(line)
		}
		if bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")) {
			curY -= leading
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			show(line)
		}
	}
	flush()

	for i := range runs {
		runs[i].maxSize = maxSize
	}
	return runs
}

// mergeRuns joins consecutive runs at the same font size whose vertical
// gap is within yGap, so a paragraph broken over lines stays one fragment.
func mergeRuns(runs []textRun, yGap float64) []textRun {
	var out []textRun
	for _, r := range runs {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.size == r.size && abs(prev.y-r.y) <= yGap {
				prev.text += " " + r.text
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\', '(', ')':
				sb.WriteByte(raw[i])
			default:
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
						i++
						val = val*8 + int(raw[i]-'0')
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanRunText normalises whitespace and strips non-printables.
func cleanRunText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
