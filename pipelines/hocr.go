package pipelines

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/idgen"
)

// HOCRConfig configures the hOCR backend.
type HOCRConfig struct {
	// MinFragmentRunes drops paragraphs too short to be candidates.
	MinFragmentRunes int
	IDs              idgen.Generator
	Logger           *slog.Logger
}

func (c *HOCRConfig) defaults() {
	if c.MinFragmentRunes == 0 {
		c.MinFragmentRunes = 3
	}
	if c.IDs == nil {
		c.IDs = idgen.Sequential("frg_")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// HOCR extracts fragments from an OCR engine's hOCR output. Each
// ocr_par element becomes one fragment; the y position comes from the
// paragraph bbox relative to the page bbox, the relative font size from
// word heights against the page-wide median, and Confidence is the mean
// x_wconf of the paragraph's words.
type HOCR struct {
	cfg HOCRConfig
}

// NewHOCR creates the hOCR backend.
func NewHOCR(cfg HOCRConfig) *HOCR {
	cfg.defaults()
	return &HOCR{cfg: cfg}
}

func (h *HOCR) ID() string { return "hocr" }

// Extract parses the hOCR file at path.
func (h *HOCR) Extract(ctx context.Context, path string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("hocr parse: %w", err)
	}

	var frags []corpus.Fragment
	order := 0
	pageNr := 0

	var walkPages func(*html.Node)
	walkPages = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Div && hasClass(n, "ocr_page") {
			pageNr++
			h.extractPage(n, pageNr, &frags, &order)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkPages(c)
		}
	}
	walkPages(doc)

	if pageNr == 0 {
		return nil, fmt.Errorf("hocr: no ocr_page elements in %s", path)
	}
	if err := validateOrder(frags); err != nil {
		return nil, err
	}
	return &Extraction{Fragments: frags, PageCount: pageNr}, nil
}

// hocrWord is one ocrx_word with its box and confidence.
type hocrWord struct {
	text   string
	height float64
	conf   float64
}

func (h *HOCR) extractPage(page *html.Node, pageNr int, frags *[]corpus.Fragment, order *int) {
	_, pageTop, _, pageBottom, pageOK := bboxOf(page)
	pageH := pageBottom - pageTop

	// Median word height across the page anchors the relative font size.
	var heights []float64
	var pars []*html.Node
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if hasClass(n, "ocr_par") {
				pars = append(pars, n)
				for _, w := range wordsOf(n) {
					if w.height > 0 {
						heights = append(heights, w.height)
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	for c := page.FirstChild; c != nil; c = c.NextSibling {
		collect(c)
	}
	median := medianOf(heights)

	for _, par := range pars {
		words := wordsOf(par)
		if len(words) == 0 {
			continue
		}
		var sb strings.Builder
		var confSum, hSum float64
		confN, hN := 0, 0
		for _, w := range words {
			if w.text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(w.text)
			if w.conf > 0 {
				confSum += w.conf
				confN++
			}
			if w.height > 0 {
				hSum += w.height
				hN++
			}
		}
		text := sb.String()
		if len([]rune(text)) < h.cfg.MinFragmentRunes {
			continue
		}

		y := 0.5
		if _, top, _, _, ok := bboxOf(par); ok && pageOK && pageH > 0 {
			y = (top - pageTop) / pageH
			if y < 0 {
				y = 0
			}
			if y > 1 {
				y = 1
			}
		}
		rel := 0.0
		if hN > 0 && median > 0 {
			rel = (hSum / float64(hN)) / median
		}
		conf := 0.0
		if confN > 0 {
			conf = confSum / float64(confN)
		}

		*frags = append(*frags, corpus.Fragment{
			ID:               h.cfg.IDs(),
			Text:             text,
			PageNumber:       pageNr,
			YPosition:        y,
			RelativeFontSize: rel,
			OriginLabel:      classify(y, rel),
			OrderIndex:       *order,
			Confidence:       conf,
		})
		*order++
	}
}

// wordsOf collects the ocrx_word descendants of a node.
func wordsOf(n *html.Node) []hocrWord {
	var out []hocrWord
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && hasClass(node, "ocrx_word") {
			w := hocrWord{text: textContent(node)}
			if _, top, _, bottom, ok := bboxOf(node); ok {
				w.height = bottom - top
			}
			for k, v := range parseTitle(attrVal(node, "title")) {
				if k == "x_wconf" && len(v) > 0 {
					w.conf, _ = strconv.ParseFloat(v[0], 64)
				}
			}
			out = append(out, w)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

// parseTitle splits an hOCR title attribute, e.g.
// "bbox 100 200 300 400; x_wconf 95", into property -> values.
func parseTitle(title string) map[string][]string {
	out := make(map[string][]string)
	for _, part := range strings.Split(title, ";") {
		items := strings.Fields(strings.TrimSpace(part))
		if len(items) > 0 {
			out[items[0]] = items[1:]
		}
	}
	return out
}

func bboxOf(n *html.Node) (x1, y1, x2, y2 float64, ok bool) {
	bbox, found := parseTitle(attrVal(n, "title"))["bbox"]
	if !found || len(bbox) < 4 {
		return 0, 0, 0, 0, false
	}
	x1, _ = strconv.ParseFloat(bbox[0], 64)
	y1, _ = strconv.ParseFloat(bbox[1], 64)
	x2, _ = strconv.ParseFloat(bbox[2], 64)
	y2, _ = strconv.ParseFloat(bbox[3], 64)
	return x1, y1, x2, y2, true
}

func hasClass(n *html.Node, class string) bool {
	return strings.Contains(attrVal(n, "class"), class)
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t := textContent(c)
		if t == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t)
	}
	return sb.String()
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}
