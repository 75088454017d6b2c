package store

import "context"

// Store is the durable state store contract consumed by every stage.
// Postgres backs production use (store.Postgres); store.Memory backs tests
// and single-shot local runs with no database configured.
type Store interface {
	// RegisterDocument inserts a new document row and returns its ID.
	RegisterDocument(ctx context.Context, doc *Document) (string, error)

	// UpsertPipelineState inserts or updates the (document, stage) status
	// row. Idempotent: never creates duplicates for the same key.
	UpsertPipelineState(ctx context.Context, rec *PipelineStateRecord) error

	// DocumentsForStage returns documents whose (document, previousStage)
	// row has the given status, excluding documents that already have a
	// pipeline-state record for any stage after previousStage (including
	// the stage previousStage feeds into, so a document is offered to a
	// stage exactly once), ordered by insertion time and bounded by limit.
	DocumentsForStage(ctx context.Context, previousStage Stage, status Status, limit int) ([]*Document, error)

	// PipelineState returns the (document, stage) record if one exists.
	PipelineState(ctx context.Context, documentID string, stage Stage) (*PipelineStateRecord, bool, error)

	// FailedDocuments returns documents whose (document, stage) row has
	// status failed, bounded by limit. Used to implement a stage's
	// retry_failed option.
	FailedDocuments(ctx context.Context, stage Stage, limit int) ([]*Document, error)

	// ResetStage deletes pipeline-state rows for stage, scoped to batchID
	// when non-empty.
	ResetStage(ctx context.Context, stage Stage, batchID string) error

	// CleanupOrphans deletes documents with no pipeline rows and batches
	// with no documents, returning counts deleted.
	CleanupOrphans(ctx context.Context) (docsDeleted, batchesDeleted int, err error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error

	GetDocumentType(ctx context.Context, name string) (*DocumentType, error)
	GetSchema(ctx context.Context, documentTypeID string) (*Schema, error)
	GetPrompt(ctx context.Context, documentTypeID string) (string, bool, error)
	GetCleaningRules(ctx context.Context, documentTypeID string) ([]CleaningRule, error)

	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context) ([]*Batch, error)
	FinalizeBatch(ctx context.Context, id string, status Status) error

	UpdateDocumentMetadata(ctx context.Context, documentID string, patch map[string]any) error
	GetDocument(ctx context.Context, id string) (*Document, error)

	SaveDocumentSections(ctx context.Context, sections []DocumentSection) error
	SaveProcessedDocument(ctx context.Context, documentID string, structured map[string]any) error

	// StageCounts returns, for a batch, the count of documents in each
	// status per stage — used by `batch status`.
	StageCounts(ctx context.Context, batchID string) (map[Stage]map[Status]int, error)

	// DocumentsForBatch returns every document registered under batchID,
	// regardless of pipeline stage or status. Unlike DocumentsForStage,
	// this never excludes documents that have already advanced past a
	// given stage — used by reporting commands that need a batch's full
	// membership rather than its next unit of stage work.
	DocumentsForBatch(ctx context.Context, batchID string) ([]*Document, error)
}
