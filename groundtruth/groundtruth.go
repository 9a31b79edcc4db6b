// Package groundtruth parses a structured HTML reference document into an
// ordered list of semantically labeled paragraphs.
//
// Classification follows container conventions: paragraphs inside
// designated article-body containers are labeled body, paragraphs inside
// footnote/endnote containers (or ordered lists tagged as notes) are
// labeled footnote, heading elements are labeled header, and explicitly
// marked boilerplate/navigation text is dropped outright rather than
// labeled other, so it never pollutes the corpus.
//
// The extractor never fails on malformed input. When the expected
// containers are absent it emits a warning and falls back to a generic
// paragraph-tag scan, returning a possibly-partial list.
package groundtruth

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/idgen"
)

// Selector designates a container by tag name and an optional substring
// matched against the class and id attributes. An empty Class matches any
// element with the given tag.
type Selector struct {
	Tag   string `yaml:"tag"`
	Class string `yaml:"class,omitempty"`
}

func (s Selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != s.Tag {
		return false
	}
	if s.Class == "" {
		return true
	}
	for _, a := range n.Attr {
		if (a.Key == "class" || a.Key == "id") && strings.Contains(strings.ToLower(a.Val), s.Class) {
			return true
		}
	}
	return false
}

// Conventions identifies body, footnote, and droppable regions of a
// reference document. Zero value is unusable; use DefaultConventions or
// load from config.
type Conventions struct {
	Body     []Selector `yaml:"body"`
	Footnote []Selector `yaml:"footnote"`
	Drop     []Selector `yaml:"drop"`
}

// DefaultConventions covers the container vocabulary seen across the
// reference corpus (law-review article exports).
func DefaultConventions() Conventions {
	return Conventions{
		Body: []Selector{
			{Tag: "article"},
			{Tag: "div", Class: "article-body"},
			{Tag: "div", Class: "opinion"},
			{Tag: "section", Class: "body"},
			{Tag: "div", Class: "main-content"},
		},
		Footnote: []Selector{
			{Tag: "div", Class: "footnote"},
			{Tag: "section", Class: "footnote"},
			{Tag: "div", Class: "endnote"},
			{Tag: "aside", Class: "footnote"},
			{Tag: "ol", Class: "note"},
		},
		Drop: []Selector{
			{Tag: "nav"},
			{Tag: "div", Class: "nav"},
			{Tag: "div", Class: "sidebar"},
			{Tag: "div", Class: "share"},
			{Tag: "div", Class: "boilerplate"},
			{Tag: "div", Class: "cookie"},
		},
	}
}

// Config configures the extractor.
type Config struct {
	Conventions Conventions
	// IDs generates paragraph IDs. Default: sequential "gt_" IDs, so the
	// ID order mirrors document order.
	IDs idgen.Generator
	// Logger for fallback warnings.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if len(c.Conventions.Body) == 0 && len(c.Conventions.Footnote) == 0 && len(c.Conventions.Drop) == 0 {
		c.Conventions = DefaultConventions()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor turns reference HTML into ordered ground-truth paragraphs.
type Extractor struct {
	cfg Config
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{cfg: cfg}
}

// Result is the outcome of one extraction.
type Result struct {
	Paragraphs []corpus.Paragraph
	// Fallback is true when no designated containers were found and the
	// generic paragraph scan was used instead.
	Fallback bool
}

// ExtractFile reads and extracts a reference document from disk.
// documentID only annotates log output.
func (e *Extractor) ExtractFile(documentID, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("groundtruth: read %s: %w", path, err)
	}
	return e.Extract(documentID, data), nil
}

// Extract parses reference HTML and returns ordered labeled paragraphs.
// Malformed input yields an empty or partial list, never an error.
func (e *Extractor) Extract(documentID string, data []byte) *Result {
	ids := e.cfg.IDs
	if ids == nil {
		ids = idgen.Sequential("gt_")
	}

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		// html.Parse recovers from almost anything; treat the rare hard
		// failure as an empty document.
		e.cfg.Logger.Warn("groundtruth: unparseable reference document",
			"document", documentID, "error", err)
		return &Result{}
	}

	w := &walker{conv: e.cfg.Conventions, ids: ids}
	w.walk(doc, regionNone)

	if len(w.paragraphs) > 0 {
		return &Result{Paragraphs: w.paragraphs}
	}

	// No designated containers produced anything: generic scan.
	e.cfg.Logger.Warn("groundtruth: expected containers absent, falling back to generic paragraph scan",
		"document", documentID)
	fb := &walker{conv: e.cfg.Conventions, ids: ids, generic: true}
	fb.walk(doc, regionNone)
	return &Result{Paragraphs: fb.paragraphs, Fallback: true}
}

type region int

const (
	regionNone region = iota
	regionBody
	regionFootnote
)

type walker struct {
	conv       Conventions
	ids        idgen.Generator
	generic    bool
	paragraphs []corpus.Paragraph
	order      int
}

func (w *walker) emit(text string, label corpus.Label) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	w.paragraphs = append(w.paragraphs, corpus.Paragraph{
		ID:         w.ids(),
		Text:       text,
		Label:      label,
		OrderIndex: w.order,
	})
	w.order++
}

func (w *walker) walk(n *html.Node, reg region) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header:
			return
		}
		for _, sel := range w.conv.Drop {
			if sel.matches(n) {
				return
			}
		}

		if !w.generic {
			for _, sel := range w.conv.Footnote {
				if sel.matches(n) {
					w.collectRegion(n, regionFootnote)
					return
				}
			}
			for _, sel := range w.conv.Body {
				if sel.matches(n) {
					w.collectRegion(n, regionBody)
					return
				}
			}
		}

		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			w.emit(collectText(n), corpus.LabelHeader)
			return
		case atom.Figcaption, atom.Caption:
			w.emit(collectText(n), corpus.LabelCaption)
			return
		case atom.P:
			switch {
			case reg == regionBody:
				w.emit(collectText(n), corpus.LabelBody)
			case reg == regionFootnote:
				w.emit(collectText(n), corpus.LabelFootnote)
			case w.generic:
				w.emit(collectText(n), corpus.LabelBody)
			}
			return
		case atom.Li:
			// List items are paragraphs only inside note containers.
			if reg == regionFootnote {
				w.emit(collectText(n), corpus.LabelFootnote)
				return
			}
		case atom.Blockquote:
			if reg == regionBody {
				w.emit(collectText(n), corpus.LabelBody)
				return
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, reg)
	}
}

// collectRegion walks a designated container, labeling its content.
func (w *walker) collectRegion(n *html.Node, reg region) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, reg)
	}
}

// collectText extracts all visible text from a node subtree.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return sb.String()
}
