package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Postgres is the production Store backend, mirroring the connection and
// transactional-write patterns of the teacher's internal/db package.
type Postgres struct {
	pool *sql.DB
}

// NewPostgres opens a connection pool and runs migrations. The caller must
// import a PostgreSQL driver (e.g. _ "github.com/lib/pq").
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error { return p.pool.Close() }

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS document_types (
    id         TEXT PRIMARY KEY,
    name       TEXT UNIQUE NOT NULL,
    prompt     TEXT NOT NULL DEFAULT '',
    schema     JSONB
);

CREATE TABLE IF NOT EXISTS batches (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    document_count INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'processing',
    stage         TEXT NOT NULL DEFAULT 'input',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS documents (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    original_name    TEXT NOT NULL,
    document_type_id TEXT NOT NULL REFERENCES document_types(id),
    batch_id         TEXT NOT NULL REFERENCES batches(id),
    file_size        BIGINT NOT NULL DEFAULT 0,
    file_type        TEXT NOT NULL DEFAULT '',
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_documents_batch ON documents(batch_id);

CREATE TABLE IF NOT EXISTS pipeline_state (
    document_id      TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    stage            TEXT NOT NULL,
    status           TEXT NOT NULL,
    error_message    TEXT NOT NULL DEFAULT '',
    batch_id         TEXT NOT NULL DEFAULT '',
    document_type_id TEXT NOT NULL DEFAULT '',
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (document_id, stage)
);
CREATE INDEX IF NOT EXISTS idx_pipeline_state_stage_status ON pipeline_state(stage, status);
CREATE INDEX IF NOT EXISTS idx_pipeline_state_batch ON pipeline_state(batch_id);

CREATE TABLE IF NOT EXISTS pipeline_settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cleaning_rules (
    id               TEXT PRIMARY KEY,
    document_type_id TEXT NOT NULL DEFAULT '',
    pattern          TEXT NOT NULL,
    replacement      TEXT NOT NULL DEFAULT '',
    kind             TEXT NOT NULL DEFAULT 'exact',
    priority         INTEGER NOT NULL DEFAULT 100,
    context          TEXT NOT NULL DEFAULT 'all',
    active           BOOLEAN NOT NULL DEFAULT true,
    seq              SERIAL
);
CREATE INDEX IF NOT EXISTS idx_cleaning_rules_type ON cleaning_rules(document_type_id);

CREATE TABLE IF NOT EXISTS document_sections (
    id          TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    kind        TEXT NOT NULL,
    level       INTEGER NOT NULL DEFAULT 0,
    category    TEXT NOT NULL DEFAULT '',
    raw_text    TEXT NOT NULL DEFAULT '',
    cleaned_text TEXT NOT NULL DEFAULT '',
    seq         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_document_sections_doc ON document_sections(document_id);

CREATE TABLE IF NOT EXISTS processed_documents (
    document_id TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
    structured  JSONB NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func (p *Postgres) RegisterDocument(ctx context.Context, doc *Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = p.pool.ExecContext(ctx,
		`INSERT INTO documents (id, name, original_name, document_type_id, batch_id, file_size, file_type, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.Name, doc.OriginalName, doc.DocumentTypeID, doc.BatchID, doc.FileSize, doc.FileType, metaJSON,
	)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return doc.ID, nil
}

func (p *Postgres) UpsertPipelineState(ctx context.Context, rec *PipelineStateRecord) error {
	_, err := p.pool.ExecContext(ctx,
		`INSERT INTO pipeline_state (document_id, stage, status, error_message, batch_id, document_type_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (document_id, stage) DO UPDATE SET
		   status = EXCLUDED.status,
		   error_message = EXCLUDED.error_message,
		   batch_id = EXCLUDED.batch_id,
		   document_type_id = EXCLUDED.document_type_id,
		   updated_at = NOW()`,
		rec.DocumentID, string(rec.Stage), string(rec.Status), rec.ErrorMessage, rec.BatchID, rec.DocumentTypeID,
	)
	if err != nil {
		return fmt.Errorf("upsert pipeline_state: %w", err)
	}
	return nil
}

func (p *Postgres) PipelineState(ctx context.Context, documentID string, stage Stage) (*PipelineStateRecord, bool, error) {
	var rec PipelineStateRecord
	var status, errMsg string
	err := p.pool.QueryRowContext(ctx,
		`SELECT document_id, stage, status, error_message, batch_id, document_type_id, updated_at
		 FROM pipeline_state WHERE document_id = $1 AND stage = $2`,
		documentID, string(stage),
	).Scan(&rec.DocumentID, (*string)(&rec.Stage), &status, &errMsg, &rec.BatchID, &rec.DocumentTypeID, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get pipeline_state: %w", err)
	}
	rec.Status = Status(status)
	rec.ErrorMessage = errMsg
	return &rec, true, nil
}

// DocumentsForStage selects documents whose (document, previousStage) row
// has the given status and that have no pipeline-state row at all for any
// stage after previousStage — including the stage previousStage feeds
// into, so a document only ever gets offered to that stage once, ordered
// by document creation time.
func (p *Postgres) DocumentsForStage(ctx context.Context, previousStage Stage, status Status, limit int) ([]*Document, error) {
	previousIdx := stageIndex(previousStage)
	var excludeStages []string
	for i := previousIdx + 1; i < len(Stages); i++ {
		excludeStages = append(excludeStages, string(Stages[i]))
	}

	query := `
		SELECT d.id, d.name, d.original_name, d.document_type_id, d.batch_id, d.file_size, d.file_type, d.metadata, d.created_at, d.updated_at
		FROM documents d
		JOIN pipeline_state ps ON ps.document_id = d.id AND ps.stage = $1 AND ps.status = $2
		WHERE NOT EXISTS (
			SELECT 1 FROM pipeline_state ps2
			WHERE ps2.document_id = d.id AND ps2.stage = ANY($3)
		)
		ORDER BY d.created_at ASC
		LIMIT $4`

	rows, err := p.pool.QueryContext(ctx, query, string(previousStage), string(status), pqStringArray(excludeStages), limit)
	if err != nil {
		return nil, fmt.Errorf("documents for stage: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d := &Document{}
		var metaJSON []byte
		if err := rows.Scan(&d.ID, &d.Name, &d.OriginalName, &d.DocumentTypeID, &d.BatchID, &d.FileSize, &d.FileType, &metaJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		json.Unmarshal(metaJSON, &d.Metadata)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) FailedDocuments(ctx context.Context, stage Stage, limit int) ([]*Document, error) {
	rows, err := p.pool.QueryContext(ctx, `
		SELECT d.id, d.name, d.original_name, d.document_type_id, d.batch_id, d.file_size, d.file_type, d.metadata, d.created_at, d.updated_at
		FROM documents d
		JOIN pipeline_state ps ON ps.document_id = d.id AND ps.stage = $1 AND ps.status = 'failed'
		ORDER BY d.created_at ASC
		LIMIT $2`, string(stage), limit)
	if err != nil {
		return nil, fmt.Errorf("failed documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d := &Document{}
		var metaJSON []byte
		if err := rows.Scan(&d.ID, &d.Name, &d.OriginalName, &d.DocumentTypeID, &d.BatchID, &d.FileSize, &d.FileType, &metaJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		json.Unmarshal(metaJSON, &d.Metadata)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) DocumentsForBatch(ctx context.Context, batchID string) ([]*Document, error) {
	rows, err := p.pool.QueryContext(ctx, `
		SELECT id, name, original_name, document_type_id, batch_id, file_size, file_type, metadata, created_at, updated_at
		FROM documents
		WHERE batch_id = $1
		ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("documents for batch: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d := &Document{}
		var metaJSON []byte
		if err := rows.Scan(&d.ID, &d.Name, &d.OriginalName, &d.DocumentTypeID, &d.BatchID, &d.FileSize, &d.FileType, &metaJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		json.Unmarshal(metaJSON, &d.Metadata)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) ResetStage(ctx context.Context, stage Stage, batchID string) error {
	if batchID == "" {
		_, err := p.pool.ExecContext(ctx, `DELETE FROM pipeline_state WHERE stage = $1`, string(stage))
		if err != nil {
			return fmt.Errorf("reset stage: %w", err)
		}
		return nil
	}
	_, err := p.pool.ExecContext(ctx, `DELETE FROM pipeline_state WHERE stage = $1 AND batch_id = $2`, string(stage), batchID)
	if err != nil {
		return fmt.Errorf("reset stage: %w", err)
	}
	return nil
}

func (p *Postgres) CleanupOrphans(ctx context.Context) (int, int, error) {
	tx, err := p.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	docRes, err := tx.ExecContext(ctx, `
		DELETE FROM documents WHERE id NOT IN (SELECT DISTINCT document_id FROM pipeline_state)`)
	if err != nil {
		return 0, 0, fmt.Errorf("delete orphan documents: %w", err)
	}
	docsDeleted, _ := docRes.RowsAffected()

	batchRes, err := tx.ExecContext(ctx, `
		DELETE FROM batches WHERE id NOT IN (SELECT DISTINCT batch_id FROM documents)`)
	if err != nil {
		return 0, 0, fmt.Errorf("delete orphan batches: %w", err)
	}
	batchesDeleted, _ := batchRes.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return int(docsDeleted), int(batchesDeleted), nil
}

func (p *Postgres) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRowContext(ctx, `SELECT value FROM pipeline_settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

func (p *Postgres) PutSetting(ctx context.Context, key, value string) error {
	_, err := p.pool.ExecContext(ctx,
		`INSERT INTO pipeline_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

func (p *Postgres) GetDocumentType(ctx context.Context, name string) (*DocumentType, error) {
	dt := &DocumentType{}
	var schemaJSON []byte
	err := p.pool.QueryRowContext(ctx,
		`SELECT id, name, prompt, schema FROM document_types WHERE name = $1`, name,
	).Scan(&dt.ID, &dt.Name, &dt.Prompt, &schemaJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown document type: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get document type: %w", err)
	}
	if len(schemaJSON) > 0 {
		var s Schema
		if err := json.Unmarshal(schemaJSON, &s); err == nil {
			dt.Schema = &s
		}
	}
	return dt, nil
}

func (p *Postgres) GetSchema(ctx context.Context, documentTypeID string) (*Schema, error) {
	var schemaJSON []byte
	err := p.pool.QueryRowContext(ctx, `SELECT schema FROM document_types WHERE id = $1`, documentTypeID).Scan(&schemaJSON)
	if err == sql.ErrNoRows || len(schemaJSON) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(schemaJSON, &s); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return &s, nil
}

func (p *Postgres) GetPrompt(ctx context.Context, documentTypeID string) (string, bool, error) {
	var prompt string
	err := p.pool.QueryRowContext(ctx, `SELECT prompt FROM document_types WHERE id = $1`, documentTypeID).Scan(&prompt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get prompt: %w", err)
	}
	return prompt, prompt != "", nil
}

func (p *Postgres) GetCleaningRules(ctx context.Context, documentTypeID string) ([]CleaningRule, error) {
	rows, err := p.pool.QueryContext(ctx,
		`SELECT id, document_type_id, pattern, replacement, kind, priority, context, active, seq
		 FROM cleaning_rules WHERE (document_type_id = $1 OR document_type_id = '') AND active = true
		 ORDER BY priority ASC, seq ASC`, documentTypeID,
	)
	if err != nil {
		return nil, fmt.Errorf("get cleaning rules: %w", err)
	}
	defer rows.Close()

	var out []CleaningRule
	for rows.Next() {
		var r CleaningRule
		var documentTypeIDCol, kind string
		if err := rows.Scan(&r.ID, &documentTypeIDCol, &r.Pattern, &r.Replacement, &kind, &r.Priority, &r.Context, &r.Active, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan cleaning rule: %w", err)
		}
		r.Kind = PatternKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateBatch(ctx context.Context, b *Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := p.pool.ExecContext(ctx,
		`INSERT INTO batches (id, name, document_count, status, stage) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Name, b.DocumentCount, string(b.Status), string(b.Stage),
	)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (p *Postgres) GetBatch(ctx context.Context, id string) (*Batch, error) {
	b := &Batch{}
	var status, stage string
	err := p.pool.QueryRowContext(ctx,
		`SELECT id, name, document_count, status, stage, created_at, completed_at FROM batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.DocumentCount, &status, &stage, &b.CreatedAt, &b.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	b.Status = Status(status)
	b.Stage = Stage(stage)
	return b, nil
}

func (p *Postgres) ListBatches(ctx context.Context) ([]*Batch, error) {
	rows, err := p.pool.QueryContext(ctx,
		`SELECT id, name, document_count, status, stage, created_at, completed_at FROM batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	var out []*Batch
	for rows.Next() {
		b := &Batch{}
		var status, stage string
		if err := rows.Scan(&b.ID, &b.Name, &b.DocumentCount, &status, &stage, &b.CreatedAt, &b.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.Status = Status(status)
		b.Stage = Stage(stage)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) FinalizeBatch(ctx context.Context, id string, status Status) error {
	res, err := p.pool.ExecContext(ctx,
		`UPDATE batches SET status = $1, completed_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("batch %q not found", id)
	}
	return nil
}

func (p *Postgres) UpdateDocumentMetadata(ctx context.Context, documentID string, patch map[string]any) error {
	_, err := p.pool.ExecContext(ctx,
		`UPDATE documents SET metadata = metadata || $1::jsonb, updated_at = NOW() WHERE id = $2`,
		mustJSON(patch), documentID,
	)
	if err != nil {
		return fmt.Errorf("update document metadata: %w", err)
	}
	return nil
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (*Document, error) {
	d := &Document{}
	var metaJSON []byte
	err := p.pool.QueryRowContext(ctx,
		`SELECT id, name, original_name, document_type_id, batch_id, file_size, file_type, metadata, created_at, updated_at
		 FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.OriginalName, &d.DocumentTypeID, &d.BatchID, &d.FileSize, &d.FileType, &metaJSON, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	json.Unmarshal(metaJSON, &d.Metadata)
	return d, nil
}

func (p *Postgres) SaveDocumentSections(ctx context.Context, sections []DocumentSection) error {
	tx, err := p.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, s := range sections {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO document_sections (id, document_id, kind, level, category, raw_text, cleaned_text, seq)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			s.ID, s.DocumentID, s.Kind, s.Level, s.Category, s.RawText, s.CleanedText, s.Seq,
		)
		if err != nil {
			return fmt.Errorf("insert document_section: %w", err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) SaveProcessedDocument(ctx context.Context, documentID string, structured map[string]any) error {
	_, err := p.pool.ExecContext(ctx,
		`INSERT INTO processed_documents (document_id, structured, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (document_id) DO UPDATE SET structured = EXCLUDED.structured, updated_at = NOW()`,
		documentID, mustJSON(structured),
	)
	if err != nil {
		return fmt.Errorf("save processed document: %w", err)
	}
	return nil
}

func (p *Postgres) StageCounts(ctx context.Context, batchID string) (map[Stage]map[Status]int, error) {
	query := `SELECT stage, status, COUNT(*) FROM pipeline_state`
	args := []any{}
	if batchID != "" {
		query += ` WHERE batch_id = $1`
		args = append(args, batchID)
	}
	query += ` GROUP BY stage, status`

	rows, err := p.pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}
	defer rows.Close()

	out := make(map[Stage]map[Status]int)
	for _, st := range Stages {
		out[st] = map[Status]int{}
	}
	for rows.Next() {
		var stage, status string
		var count int
		if err := rows.Scan(&stage, &status, &count); err != nil {
			return nil, fmt.Errorf("scan stage count: %w", err)
		}
		if out[Stage(stage)] == nil {
			out[Stage(stage)] = map[Status]int{}
		}
		out[Stage(stage)][Status(status)] = count
	}
	return out, rows.Err()
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	if b == nil {
		return []byte("{}")
	}
	return b
}

// pqStringArray renders a Go string slice as a Postgres text[] literal
// suitable for = ANY($n) matching, without depending on pq.Array's
// driver-specific encoding so the store package stays driver-agnostic
// beyond the sql.Open("postgres", ...) call itself.
func pqStringArray(ss []string) string {
	if len(ss) == 0 {
		return "{}"
	}
	out := "{"
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out + "}"
}
