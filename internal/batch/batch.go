// Package batch implements the INPUT stage: it brings files from an
// unprocessed/ directory into the controlled pipeline boundary, sanitizing
// names, registering documents, and grouping them into a batch.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/store"
)

var (
	invalidChars  = regexp.MustCompile(`[^A-Za-z0-9\-_.]`)
	repeatedUnder = regexp.MustCompile(`_+`)
)

// Sanitize reduces a filename to safe ASCII: letters, digits, '-', '_', '.',
// collapsing runs of '_' and truncating the stem to 100 chars. An empty
// result falls back to doc_<shortID>.
func Sanitize(name, shortID string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	clean := invalidChars.ReplaceAllString(stem, "_")
	clean = repeatedUnder.ReplaceAllString(clean, "_")
	clean = strings.Trim(clean, "_")
	if len(clean) > 100 {
		clean = clean[:100]
	}
	if clean == "" {
		clean = "doc_" + shortID
	}
	return clean + strings.ToLower(ext)
}

// Options controls a process_batch run.
type Options struct {
	Archive bool
	Delete  bool
	Limit   int // 0 means unbounded
}

// Manager implements the Batch Manager contract (spec §4.2).
type Manager struct {
	ctx *pipeline.Context
}

// NewManager builds a Manager bound to a pipeline context.
func NewManager(ctx *pipeline.Context) *Manager {
	return &Manager{ctx: ctx}
}

// Stage identifies this runner's produced stage, satisfying
// pipeline.StageRunner.
func (m *Manager) Stage() store.Stage { return store.StageInput }

// Run adapts ProcessBatch to the pipeline.StageRunner interface used by
// `batch run-all`.
func (m *Manager) Run(ctx context.Context, docType string, limit int) (*pipeline.StageSummary, error) {
	batchID, succeeded, total, err := m.ProcessBatch(ctx, docType, Options{Limit: limit})
	if err != nil {
		return nil, err
	}
	if batchID == "" {
		return &pipeline.StageSummary{Stage: store.StageInput}, nil
	}
	return &pipeline.StageSummary{Stage: store.StageInput, Succeeded: succeeded, Failed: total - succeeded, Total: total}, nil
}

type fileStat struct {
	path string
	info os.FileInfo
}

// ProcessBatch implements spec §4.2's six-step contract. It returns
// ("", 0, 0, nil) when unprocessed/ is empty.
func (m *Manager) ProcessBatch(ctx context.Context, docType string, opts Options) (batchID string, succeeded, total int, err error) {
	dt, err := m.ctx.Store.GetDocumentType(ctx, docType)
	if err != nil {
		return "", 0, 0, fmt.Errorf("unknown document type %q: %w", docType, err)
	}

	files, err := listFiles(m.ctx.Dir(pipeline.DirUnprocessed))
	if err != nil {
		return "", 0, 0, fmt.Errorf("enumerate unprocessed: %w", err)
	}
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}
	if len(files) == 0 {
		return "", 0, 0, nil
	}

	timestamp := time.Now().Format("20060102_150405")
	batchName := fmt.Sprintf("batch_%s_%s", docType, timestamp)
	newBatch := &store.Batch{
		ID:            uuid.New().String(),
		Name:          batchName,
		DocumentCount: len(files),
		Status:        store.StatusProcessing,
		Stage:         store.StageInput,
	}
	if err := m.ctx.Store.CreateBatch(ctx, newBatch); err != nil {
		return "", 0, 0, fmt.Errorf("create batch: %w", err)
	}
	batchID = newBatch.ID

	summary := batchSummary{
		BatchID:        batchID,
		BatchName:      batchName,
		DocumentType:   docType,
		DocumentCount:  len(files),
		CreatedAt:      time.Now(),
		FileTypeCounts: map[string]int{},
	}

	var totalBytes int64
	for _, f := range files {
		docID, fileType, size, regErr := m.registerOne(ctx, f, dt, batchID, opts)
		total++
		if regErr != nil {
			slog.Warn("batch: failed to register document", "file", f.path, "err", regErr)
			continue
		}
		succeeded++
		totalBytes += size
		summary.FileTypeCounts[fileType]++
		_ = docID
	}

	summary.SuccessCount = succeeded
	summary.TotalSizeBytes = totalBytes
	if succeeded > 0 {
		summary.AverageSizeBytes = totalBytes / int64(succeeded)
	}

	finalStatus := store.StatusCompleted
	switch {
	case succeeded == 0:
		finalStatus = store.StatusFailed
	case succeeded < total:
		finalStatus = store.StatusPartial
	}
	summary.Status = string(finalStatus)

	if err := writeBatchSummary(m.ctx.Dir(pipeline.DirStageInput), batchID, summary); err != nil {
		slog.Warn("batch: failed to write batch summary", "batch", batchID, "err", err)
	}

	if err := m.ctx.Store.FinalizeBatch(ctx, batchID, finalStatus); err != nil {
		return "", succeeded, total, fmt.Errorf("finalize batch: %w", err)
	}
	if succeeded == 0 {
		return "", succeeded, total, nil
	}
	return batchID, succeeded, total, nil
}

// registerOne sanitizes, registers, copies, and writes the sidecar metadata
// for a single unprocessed file.
func (m *Manager) registerOne(ctx context.Context, f fileStat, dt *store.DocumentType, batchID string, opts Options) (documentID, fileType string, size int64, err error) {
	start := time.Now()
	id := uuid.New().String()
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}

	original := filepath.Base(f.path)
	sanitized := Sanitize(original, short)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(original), "."))
	size = f.info.Size()

	doc := &store.Document{
		ID:             id,
		Name:           sanitized,
		OriginalName:   original,
		DocumentTypeID: dt.ID,
		BatchID:        batchID,
		FileSize:       size,
		FileType:       ext,
	}

	defer func() {
		status := store.StatusCompleted
		errMsg := ""
		if err != nil {
			status = store.StatusFailed
			errMsg = pipeline.FailureMessage(ctx, err)
		}
		upsertErr := m.ctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
			DocumentID: id, Stage: store.StageInput, Status: status, ErrorMessage: errMsg,
			BatchID: batchID, DocumentTypeID: dt.ID,
		})
		if upsertErr != nil {
			slog.Error("batch: failed to upsert pipeline state", "document", id, "err", upsertErr)
		}
	}()

	if _, err = m.ctx.Store.RegisterDocument(ctx, doc); err != nil {
		return "", ext, size, fmt.Errorf("register document: %w", err)
	}

	destPath := filepath.Join(m.ctx.Dir(pipeline.DirStageInput), sanitized)
	if err = copyFile(f.path, destPath); err != nil {
		return "", ext, size, fmt.Errorf("copy to stage_input: %w", err)
	}

	if err = writeSidecar(destPath, sidecar{
		DocumentID:        id,
		OriginalFilename:  original,
		FileType:          ext,
		FileSize:          size,
		DocumentType:      dt.Name,
		DocumentTypeID:    dt.ID,
		RegistrationTime:  time.Now(),
		BatchID:           batchID,
		ProcessingSeconds: time.Since(start).Seconds(),
	}); err != nil {
		return "", ext, size, fmt.Errorf("write sidecar: %w", err)
	}

	if opts.Archive {
		archivePath := filepath.Join(m.ctx.Dir(pipeline.DirArchive), original)
		if err = copyFile(f.path, archivePath); err != nil {
			return "", ext, size, fmt.Errorf("archive original: %w", err)
		}
	}
	if opts.Delete || opts.Archive {
		if rmErr := os.Remove(f.path); rmErr != nil {
			slog.Warn("batch: failed to remove source file", "file", f.path, "err", rmErr)
		}
	}

	return id, ext, size, nil
}

func listFiles(dir string) ([]fileStat, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []fileStat
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, fileStat{path: filepath.Join(dir, e.Name()), info: info})
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

type sidecar struct {
	DocumentID        string    `json:"document_id"`
	OriginalFilename  string    `json:"original_filename"`
	FileType          string    `json:"file_type"`
	FileSize          int64     `json:"file_size"`
	DocumentType      string    `json:"document_type"`
	DocumentTypeID    string    `json:"document_type_id"`
	RegistrationTime  time.Time `json:"registration_time"`
	BatchID           string    `json:"batch_id"`
	ProcessingSeconds float64   `json:"processing_time"`
}

func writeSidecar(destPath string, s sidecar) error {
	ext := filepath.Ext(destPath)
	stem := strings.TrimSuffix(destPath, ext)
	metaPath := stem + ".meta.json"

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, b, 0o644)
}

type batchSummary struct {
	BatchID          string         `json:"batch_id"`
	BatchName        string         `json:"batch_name"`
	DocumentType     string         `json:"document_type"`
	DocumentCount    int            `json:"document_count"`
	CreatedAt        time.Time      `json:"created_at"`
	Status           string         `json:"status"`
	FileTypeCounts   map[string]int `json:"file_types"`
	TotalSizeBytes   int64          `json:"total_size_bytes"`
	SuccessCount     int            `json:"success_count"`
	AverageSizeBytes int64          `json:"average_size_bytes"`
}

func writeBatchSummary(stageInputDir, batchID string, s batchSummary) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(stageInputDir, fmt.Sprintf("batch_summary_%s.json", batchID))
	return os.WriteFile(path, b, 0o644)
}

// ResetStages resets the given stages (or all stages in reverse dependency
// order when none are given), scoped to a batch when provided.
func (m *Manager) ResetStages(ctx context.Context, stages []store.Stage, batchID string) error {
	if len(stages) == 0 {
		for i := len(store.Stages) - 1; i >= 0; i-- {
			if err := m.ctx.Store.ResetStage(ctx, store.Stages[i], batchID); err != nil {
				return fmt.Errorf("reset stage %s: %w", store.Stages[i], err)
			}
		}
		return nil
	}
	for _, s := range stages {
		if err := m.ctx.Store.ResetStage(ctx, s, batchID); err != nil {
			return fmt.Errorf("reset stage %s: %w", s, err)
		}
	}
	return nil
}

// CleanupOrphans delegates to the store's orphan-removal operation.
func (m *Manager) CleanupOrphans(ctx context.Context) (docsDeleted, batchesDeleted int, err error) {
	return m.ctx.Store.CleanupOrphans(ctx)
}

// ListActiveBatches returns batches still processing or partial.
func (m *Manager) ListActiveBatches(ctx context.Context) ([]*store.Batch, error) {
	all, err := m.ctx.Store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	var active []*store.Batch
	for _, b := range all {
		if b.Status == store.StatusProcessing || b.Status == store.StatusPartial {
			active = append(active, b)
		}
	}
	return active, nil
}
