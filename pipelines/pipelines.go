// Package pipelines defines the adapter contract every extraction
// backend must satisfy, and the backends shipped with the repo.
//
// The contract is a single capability: produce an ordered Fragment
// sequence for a document. Downstream alignment and scoring never branch
// on backend identity; new engines (text-layer readers, CPU OCR, remote
// GPU OCR) are added by implementing Extractor and registering it.
package pipelines

import (
	"context"
	"fmt"
	"sort"

	"github.com/hazyhaar/lexalign/corpus"
)

// Extraction is the normalized output of one backend invocation on one
// document: fragments in strict reading order plus the page count.
type Extraction struct {
	Fragments []corpus.Fragment
	PageCount int
}

// Extractor produces an ordered fragment sequence for a document.
// Implementations must honor ctx cancellation and must emit fragments
// with strictly increasing OrderIndex.
type Extractor interface {
	// ID identifies the pipeline in runs, artifacts, and reports.
	ID() string
	Extract(ctx context.Context, path string) (*Extraction, error)
}

// Registry holds the configured backends.
type Registry struct {
	byID map[string]Extractor
}

// NewRegistry creates a Registry from the given backends.
func NewRegistry(backends ...Extractor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Extractor, len(backends))}
	for _, b := range backends {
		if _, dup := r.byID[b.ID()]; dup {
			return nil, fmt.Errorf("pipelines: duplicate backend id %q", b.ID())
		}
		r.byID[b.ID()] = b
	}
	return r, nil
}

// Get returns the backend with the given id.
func (r *Registry) Get(id string) (Extractor, bool) {
	b, ok := r.byID[id]
	return b, ok
}

// IDs lists registered backend ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// classify assigns the backend's own origin label from position and
// typography alone. It is deliberately crude: the whole point of the
// alignment engine is to correct it.
func classify(y, relSize float64) corpus.Label {
	switch {
	case y < 0.10:
		return corpus.LabelHeader
	case y > 0.92:
		return corpus.LabelFooter
	case relSize > 0 && relSize < 0.85:
		return corpus.LabelFootnote
	default:
		return corpus.LabelBody
	}
}

// validateOrder checks the strictly-increasing OrderIndex contract.
func validateOrder(frags []corpus.Fragment) error {
	for i := 1; i < len(frags); i++ {
		if frags[i].OrderIndex <= frags[i-1].OrderIndex {
			return fmt.Errorf("pipelines: order index not strictly increasing at %d (%d after %d)",
				i, frags[i].OrderIndex, frags[i-1].OrderIndex)
		}
	}
	return nil
}
