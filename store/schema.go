package store

// Schema is the complete corpus schema, applied on every Open.
const Schema = `
-- Documents: one row per (PDF, reference HTML) pair in the corpus
CREATE TABLE IF NOT EXISTS documents (
    id               TEXT PRIMARY KEY,
    source_group     TEXT NOT NULL DEFAULT '',
    pdf_path         TEXT NOT NULL,
    html_path        TEXT NOT NULL,
    gt_fallback      INTEGER NOT NULL DEFAULT 0,
    paragraphs_json  TEXT NOT NULL DEFAULT '[]',
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_group ON documents(source_group);

-- Runs: one pipeline invocation on one document, terminal once written
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    pipeline_id     TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'ok',
    page_count      INTEGER NOT NULL DEFAULT 0,
    fragment_count  INTEGER NOT NULL DEFAULT 0,
    elapsed_ms      INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    started_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_document ON runs(document_id);

-- Fragments as extracted, kept per run for training-label export
CREATE TABLE IF NOT EXISTS fragments (
    run_id             TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    fragment_id        TEXT NOT NULL,
    order_index        INTEGER NOT NULL,
    page_number        INTEGER NOT NULL DEFAULT 0,
    text               TEXT NOT NULL,
    y_position         REAL NOT NULL DEFAULT 0,
    relative_font_size REAL NOT NULL DEFAULT 0,
    origin_label       TEXT NOT NULL DEFAULT '',
    confidence         REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, fragment_id)
);
CREATE INDEX IF NOT EXISTS idx_fragments_order ON fragments(run_id, order_index);

-- Alignment results: exactly one per fragment per run
CREATE TABLE IF NOT EXISTS results (
    run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    fragment_id     TEXT NOT NULL,
    paragraph_id    TEXT NOT NULL DEFAULT '',
    similarity      REAL NOT NULL DEFAULT 0,
    corrected_label TEXT NOT NULL,
    tier            TEXT NOT NULL,
    merged          INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, fragment_id)
);

-- Confusion matrices, one per (run, target label)
CREATE TABLE IF NOT EXISTS matrices (
    run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    target_label  TEXT NOT NULL,
    tp            INTEGER NOT NULL DEFAULT 0,
    fp            INTEGER NOT NULL DEFAULT 0,
    fn            INTEGER NOT NULL DEFAULT 0,
    tn            INTEGER NOT NULL DEFAULT 0,
    precision     REAL NOT NULL DEFAULT 0,
    recall        REAL NOT NULL DEFAULT 0,
    f1            REAL NOT NULL DEFAULT 0,
    fragmentation REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, target_label)
);
`
