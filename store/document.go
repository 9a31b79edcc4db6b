package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/lexalign/corpus"
)

// Document is one (PDF, reference HTML) pair with its extracted
// ground-truth paragraphs.
type Document struct {
	ID          string
	SourceGroup string
	PDFPath     string
	HTMLPath    string
	// GTFallback records that ground-truth extraction fell back to
	// generic <p> parsing; footnote recall for the document is suspect.
	GTFallback bool
	Paragraphs []corpus.Paragraph
	CreatedAt  int64
}

// SourceOf derives the source group from a document id, the convention
// being "<group>_<rest>" ("harvlrev_2019_042" -> "harvlrev").
func SourceOf(documentID string) string {
	if i := strings.IndexByte(documentID, '_'); i > 0 {
		return documentID[:i]
	}
	return documentID
}

// InsertDocument stores a new document. An empty SourceGroup is derived
// from the id prefix.
func (s *Store) InsertDocument(ctx context.Context, d *Document) error {
	if d.SourceGroup == "" {
		d.SourceGroup = SourceOf(d.ID)
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().UnixMilli()
	}
	paras, err := json.Marshal(d.Paragraphs)
	if err != nil {
		return fmt.Errorf("marshal paragraphs: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO documents (id, source_group, pdf_path, html_path, gt_fallback, paragraphs_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SourceGroup, d.PDFPath, d.HTMLPath, boolInt(d.GTFallback), string(paras), d.CreatedAt,
	)
	return err
}

// GetDocument retrieves a document by id, nil when absent.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, source_group, pdf_path, html_path, gt_fallback, paragraphs_json, created_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns all documents, id order.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, source_group, pdf_path, html_path, gt_fallback, paragraphs_json, created_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// UpdateGroundTruth replaces a document's paragraphs and fallback flag,
// for re-extraction after a convention change.
func (s *Store) UpdateGroundTruth(ctx context.Context, id string, paragraphs []corpus.Paragraph, fallback bool) error {
	paras, err := json.Marshal(paragraphs)
	if err != nil {
		return fmt.Errorf("marshal paragraphs: %w", err)
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET paragraphs_json = ?, gt_fallback = ? WHERE id = ?`,
		string(paras), boolInt(fallback), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var fallback int
	var paras string
	err := row.Scan(&d.ID, &d.SourceGroup, &d.PDFPath, &d.HTMLPath, &fallback, &paras, &d.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.GTFallback = fallback != 0
	if err := json.Unmarshal([]byte(paras), &d.Paragraphs); err != nil {
		return nil, fmt.Errorf("unmarshal paragraphs for %s: %w", d.ID, err)
	}
	return &d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
