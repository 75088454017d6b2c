package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	memstore "github.com/spmedge/pipeline/internal/repository/memory"
)

// Memory is a thread-safe in-memory Store, used for tests and for local
// runs with no database configured. It mirrors the Postgres schema's
// semantics (upsert on (document, stage), read-committed-equivalent via a
// single mutex).
type Memory struct {
	mu sync.RWMutex

	documents     *memstore.Store[*Document]
	batches       *memstore.Store[*Batch]
	pipelineState map[string]*PipelineStateRecord // key: documentID+"|"+stage
	insertOrder   []string                        // documentID insertion order, for DocumentsForStage fairness
	settings      map[string]string
	docTypes      map[string]*DocumentType // by name
	cleaningRules map[string][]CleaningRule
	sections      []DocumentSection
	processed     map[string]map[string]any
	seq           int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		documents:     memstore.New(func(d *Document) string { return d.ID }),
		batches:       memstore.New(func(b *Batch) string { return b.ID }),
		pipelineState: make(map[string]*PipelineStateRecord),
		settings:      make(map[string]string),
		docTypes:      make(map[string]*DocumentType),
		cleaningRules: make(map[string][]CleaningRule),
		processed:     make(map[string]map[string]any),
	}
}

// SeedDocumentType registers a document type for tests/local runs (the
// Postgres backend expects these to be pre-provisioned by an operator).
func (m *Memory) SeedDocumentType(dt *DocumentType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docTypes[dt.Name] = dt
}

// SeedCleaningRules registers cleaning rules for a document type.
func (m *Memory) SeedCleaningRules(documentTypeID string, rules []CleaningRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaningRules[documentTypeID] = rules
}

func pipelineKey(documentID string, stage Stage) string {
	return documentID + "|" + string(stage)
}

func (m *Memory) RegisterDocument(ctx context.Context, doc *Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		return "", fmt.Errorf("register document: id is required")
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if err := m.documents.Set(ctx, doc); err != nil {
		return "", err
	}
	m.insertOrder = append(m.insertOrder, doc.ID)
	return doc.ID, nil
}

func (m *Memory) UpsertPipelineState(ctx context.Context, rec *PipelineStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now()
	cp := *rec
	m.pipelineState[pipelineKey(rec.DocumentID, rec.Stage)] = &cp
	return nil
}

func (m *Memory) PipelineState(ctx context.Context, documentID string, stage Stage) (*PipelineStateRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.pipelineState[pipelineKey(documentID, stage)]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// DocumentsForStage returns documents whose (document, previousStage) row
// has the given status, excluding documents that already have a successor
// stage record past index, ordered by registration order, bounded by limit.
func (m *Memory) DocumentsForStage(ctx context.Context, previousStage Stage, status Status, limit int) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	previousIdx := stageIndex(previousStage)
	var out []*Document
	for _, id := range m.insertOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec, ok := m.pipelineState[pipelineKey(id, previousStage)]
		if !ok || rec.Status != status {
			continue
		}
		if m.hasSuccessorPast(id, previousIdx) {
			continue
		}
		doc, err := m.documents.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// FailedDocuments returns documents whose (document, stage) row is failed,
// in insertion order, bounded by limit.
func (m *Memory) FailedDocuments(ctx context.Context, stage Stage, limit int) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Document
	for _, id := range m.insertOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec, ok := m.pipelineState[pipelineKey(id, stage)]
		if !ok || rec.Status != StatusFailed {
			continue
		}
		doc, err := m.documents.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func stageIndex(s Stage) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// hasSuccessorPast reports whether document id already has a pipeline-state
// record (of any status) for any stage after previousIdx — including the
// stage previousStage feeds into. This is what makes a completed-or-failed
// Load run stick: once a (document, load) row exists at all, the document
// is no longer offered to get_documents_for_stage(input, completed, …).
func (m *Memory) hasSuccessorPast(documentID string, previousIdx int) bool {
	for i := previousIdx + 1; i < len(Stages); i++ {
		if _, ok := m.pipelineState[pipelineKey(documentID, Stages[i])]; ok {
			return true
		}
	}
	return false
}

func (m *Memory) ResetStage(ctx context.Context, stage Stage, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, rec := range m.pipelineState {
		if rec.Stage != stage {
			continue
		}
		if batchID != "" && rec.BatchID != batchID {
			continue
		}
		delete(m.pipelineState, k)
	}
	return nil
}

func (m *Memory) CleanupOrphans(ctx context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	referenced := make(map[string]bool)
	batchesReferenced := make(map[string]bool)
	for _, rec := range m.pipelineState {
		referenced[rec.DocumentID] = true
	}

	docs, _ := m.documents.All(ctx)
	var docsDeleted int
	for _, d := range docs {
		if !referenced[d.ID] {
			m.documents.Delete(ctx, d.ID)
			docsDeleted++
			continue
		}
		batchesReferenced[d.BatchID] = true
	}

	batches, _ := m.batches.All(ctx)
	var batchesDeleted int
	for _, b := range batches {
		if !batchesReferenced[b.ID] {
			m.batches.Delete(ctx, b.ID)
			batchesDeleted++
		}
	}

	m.insertOrder = filterInsertOrder(m.insertOrder, referenced)
	return docsDeleted, batchesDeleted, nil
}

func filterInsertOrder(order []string, keep map[string]bool) []string {
	out := order[:0:0]
	for _, id := range order {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

func (m *Memory) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) PutSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *Memory) GetDocumentType(ctx context.Context, name string) (*DocumentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dt, ok := m.docTypes[name]
	if !ok {
		return nil, fmt.Errorf("unknown document type: %s", name)
	}
	return dt, nil
}

func (m *Memory) GetSchema(ctx context.Context, documentTypeID string) (*Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dt := range m.docTypes {
		if dt.ID == documentTypeID {
			return dt.Schema, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetPrompt(ctx context.Context, documentTypeID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dt := range m.docTypes {
		if dt.ID == documentTypeID {
			return dt.Prompt, dt.Prompt != "", nil
		}
	}
	return "", false, nil
}

func (m *Memory) GetCleaningRules(ctx context.Context, documentTypeID string) ([]CleaningRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := append([]CleaningRule(nil), m.cleaningRules[documentTypeID]...)
	all = append(all, m.cleaningRules[""]...) // "" key holds global/all-type rules

	var rules []CleaningRule
	for _, r := range all {
		if r.Active {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Seq < rules[j].Seq
	})
	return rules, nil
}

func (m *Memory) CreateBatch(ctx context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.CreatedAt = time.Now()
	return m.batches.Set(ctx, b)
}

func (m *Memory) GetBatch(ctx context.Context, id string) (*Batch, error) {
	return m.batches.Get(ctx, id)
}

func (m *Memory) ListBatches(ctx context.Context) ([]*Batch, error) {
	return m.batches.All(ctx)
}

func (m *Memory) FinalizeBatch(ctx context.Context, id string, status Status) error {
	b, err := m.batches.Get(ctx, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	now := time.Now()
	b.Status = status
	b.CompletedAt = &now
	m.mu.Unlock()
	return m.batches.Set(ctx, b)
}

func (m *Memory) UpdateDocumentMetadata(ctx context.Context, documentID string, patch map[string]any) error {
	doc, err := m.documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	for k, v := range patch {
		doc.Metadata[k] = v
	}
	doc.UpdatedAt = time.Now()
	m.mu.Unlock()
	return m.documents.Set(ctx, doc)
}

func (m *Memory) GetDocument(ctx context.Context, id string) (*Document, error) {
	return m.documents.Get(ctx, id)
}

func (m *Memory) SaveDocumentSections(ctx context.Context, sections []DocumentSection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range sections {
		m.seq++
		sections[i].Seq = m.seq
	}
	m.sections = append(m.sections, sections...)
	return nil
}

func (m *Memory) SaveProcessedDocument(ctx context.Context, documentID string, structured map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[documentID] = structured
	return nil
}

func (m *Memory) DocumentsForBatch(ctx context.Context, batchID string) ([]*Document, error) {
	all, err := m.documents.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Document
	for _, doc := range all {
		if doc.BatchID == batchID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *Memory) StageCounts(ctx context.Context, batchID string) (map[Stage]map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Stage]map[Status]int)
	for _, st := range Stages {
		out[st] = map[Status]int{}
	}
	for _, rec := range m.pipelineState {
		if batchID != "" && rec.BatchID != batchID {
			continue
		}
		out[rec.Stage][rec.Status]++
	}
	return out, nil
}
