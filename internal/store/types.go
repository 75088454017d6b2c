// Package store persists the pipeline's durable state: documents, batches,
// per-stage status, document types, schemas, prompts, cleaning rules, and
// pipeline settings.
package store

import "time"

// Stage identifies one of the five pipeline stages.
type Stage string

const (
	StageInput   Stage = "input"
	StageLoad    Stage = "load"
	StageClean   Stage = "clean"
	StageProcess Stage = "process"
	StageIndex   Stage = "index"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageInput, StageLoad, StageClean, StageProcess, StageIndex}

// Predecessor returns the stage that must be completed before s may run,
// or "" if s is the first stage.
func (s Stage) Predecessor() Stage {
	for i, st := range Stages {
		if st == s {
			if i == 0 {
				return ""
			}
			return Stages[i-1]
		}
	}
	return ""
}

// Status is the lifecycle state of a pipeline-state record or a batch.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusPartial    Status = "partial"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document is a single ingested file tracked through the pipeline.
type Document struct {
	ID             string
	Name           string // sanitized name
	OriginalName   string
	DocumentTypeID string
	BatchID        string
	FileSize       int64
	FileType       string // lowercased extension, no dot
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DocumentType is a named category carrying an AI prompt and schema.
type DocumentType struct {
	ID     string
	Name   string
	Prompt string
	Schema *Schema
}

// Schema describes the typed shape PROCESS and CLEAN's SPM extraction
// target for a document type.
type Schema struct {
	DocumentType string                 `json:"document_type"`
	Fields       map[string]SchemaField `json:"fields"`
}

// SchemaField is a single named field of a Schema: either an object (nested
// Fields) or a list of typed entries (ItemFields non-nil).
type SchemaField struct {
	Type       string                 `json:"type"` // "string" | "number" | "object" | "list"
	Fields     map[string]SchemaField `json:"fields,omitempty"`
	ItemFields map[string]SchemaField `json:"item_fields,omitempty"`
}

// PatternKind distinguishes how a CleaningRule's Pattern is interpreted.
type PatternKind string

const (
	PatternRegex PatternKind = "regex"
	PatternExact PatternKind = "exact"
)

// CleaningRule is one text-replacement rule applied during CLEAN.
type CleaningRule struct {
	ID          string
	Pattern     string
	Replacement string
	Kind        PatternKind
	Priority    int    // lower runs first
	Context     string // "all" or a section kind
	Active      bool
	Seq         int // insertion order, used as a priority tie-break
}

// Batch groups documents registered together at INPUT.
type Batch struct {
	ID             string
	Name           string
	DocumentCount  int
	Status         Status
	Stage          Stage
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// PipelineStateRecord is a (Document, Stage) -> status row.
type PipelineStateRecord struct {
	DocumentID     string
	Stage          Stage
	Status         Status
	ErrorMessage   string
	BatchID        string
	DocumentTypeID string
	UpdatedAt      time.Time
}

// DocumentSection is a persisted, denormalized view of one section produced
// by the cleaner, kept for introspection (resolves the Open Question in
// spec.md §9: both rag_data and document_sections are populated).
type DocumentSection struct {
	ID          string
	DocumentID  string
	Kind        string
	Level       int
	Category    string
	RawText     string
	CleanedText string
	Seq         int
}

// VectorChunkMeta is the persisted metadata side of a Vector Chunk; the
// embedding itself lives in the RAG index backend.
type VectorChunkMeta struct {
	ChunkID    string
	DocumentID string
	Stage      Stage
	Position   int
	Tags       map[string]string
}
