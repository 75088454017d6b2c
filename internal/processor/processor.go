// Package processor implements the PROCESS pipeline stage: it sends
// CLEAN-stage text through an LLM provider under rate-limit discipline and
// persists the structured extraction result.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spmedge/pipeline/internal/llmutil"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/provider"
	"github.com/spmedge/pipeline/internal/store"
)

const (
	maxContentLength = 15000
	truncationMarker = "... [content truncated]"

	defaultSystemPrompt = "You are an AI assistant skilled in structured data extraction. " +
		"Extract only ACTUAL information from the document, not fictional data."
	defaultUserPrompt = "Extract structured data from this document. " +
		"Extract only factual information from the document."

	defaultTemperature = 0.1
	defaultMaxTokens   = 2000
)

// Options configures a processor run (spec §4.5 / §6 `processor` flags).
type Options struct {
	Model     string // "provider/model"; empty uses the document type's configured default
	BatchSize int    // sub-batch size before a 1s pause; <=0 uses config default
}

// Processor implements the Document Processor contract (spec §4.5).
type Processor struct {
	ctx      *pipeline.Context
	registry *provider.Registry
	rateCfg  RateLimitParams
	limiter  *RateLimiter
}

// RateLimitParams mirrors config.RateLimitConfig without importing the
// config package, keeping internal/processor independent of config layout.
type RateLimitParams struct {
	MinInterval  time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	MaxRetries   int
	SubBatchSize int
}

func NewProcessor(ctx *pipeline.Context, registry *provider.Registry, params RateLimitParams) *Processor {
	return &Processor{
		ctx:      ctx,
		registry: registry,
		limiter:  NewRateLimiter(params.MinInterval),
		rateCfg:  params,
	}
}

func (p *Processor) Stage() store.Stage { return store.StageProcess }

func (p *Processor) Run(ctx context.Context, docType string, limit int) (*pipeline.StageSummary, error) {
	return p.ProcessDocuments(ctx, limit, Options{})
}

// ProcessDocuments extracts structured data for every document completed
// through CLEAN, in sub-batches of opts.BatchSize with a 1s pause between
// documents in the same sub-batch (spec §4.5 step "rate limit protection").
func (p *Processor) ProcessDocuments(ctx context.Context, limit int, opts Options) (*pipeline.StageSummary, error) {
	if limit <= 0 {
		if v, ok, _ := p.ctx.Store.GetSetting(ctx, "batch.size"); ok {
			fmt.Sscanf(v, "%d", &limit)
		}
		if limit <= 0 {
			limit = 10
		}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = p.rateCfg.SubBatchSize
	}
	if batchSize <= 0 {
		batchSize = 2
	}

	docs, err := p.ctx.Store.DocumentsForStage(ctx, store.StageClean, store.StatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents for process: %w", err)
	}

	summary := &pipeline.StageSummary{Stage: store.StageProcess, Total: len(docs)}
	for i := 0; i < len(docs); i += batchSize {
		end := i + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[i:end]
		for j, doc := range chunk {
			if err := p.processOne(ctx, doc, opts.Model); err != nil {
				slog.Warn("processor: document failed", "document", doc.ID, "err", err)
				summary.Failed++
			} else {
				summary.Succeeded++
			}
			if batchSize > 1 && j < len(chunk)-1 {
				time.Sleep(time.Second)
			}
		}
	}
	return summary, nil
}

func (p *Processor) processOne(ctx context.Context, doc *store.Document, modelOverride string) error {
	content, err := p.locateContent(doc)
	if err != nil || strings.TrimSpace(content) == "" {
		return p.fail(ctx, doc, "No content found")
	}

	prompt, err := p.buildPrompt(ctx, doc.DocumentTypeID)
	if err != nil {
		slog.Warn("processor: prompt lookup failed, using default", "document", doc.ID, "err", err)
	}

	if len(content) > maxContentLength {
		slog.Warn("processor: content too long, truncating", "document", doc.ID, "length", len(content))
		content = content[:maxContentLength] + truncationMarker
	}

	modelID := modelOverride
	if modelID == "" {
		modelID, err = p.defaultModelID(ctx, doc.DocumentTypeID)
		if err != nil {
			return p.fail(ctx, doc, err.Error())
		}
	}
	prov, modelName, err := p.registry.Resolve(modelID)
	if err != nil {
		return p.fail(ctx, doc, err.Error())
	}

	temp := defaultTemperature
	maxTok := defaultMaxTokens
	req := &provider.ChatRequest{
		Model: modelName,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: defaultSystemPrompt},
			{Role: provider.RoleUser, Content: prompt + "\n\n" + content},
		},
		Temperature:    &temp,
		MaxTokens:      &maxTok,
		ResponseFormat: provider.ResponseFormatJSON,
	}

	r := newRetryer(p.limiter, p.rateCfg.BaseBackoff, p.rateCfg.MaxBackoff, p.rateCfg.MaxRetries)

	var resp *provider.ChatResponse
	callErr := r.call(ctx, func(ctx context.Context) error {
		var innerErr error
		resp, innerErr = prov.ChatCompletion(ctx, req)
		return innerErr
	})
	if callErr != nil {
		return p.fail(ctx, doc, callErr.Error())
	}

	structured := parseStructured(resp.Content)

	filename := p.ctx.StageFilename(store.StageProcess, doc.ID, doc.BatchID, doc.Name, pipeline.DefaultExt(store.StageProcess))
	destPath := filepath.Join(p.ctx.StageDir(store.StageProcess), filename)
	data, err := json.MarshalIndent(structured, "", "  ")
	if err != nil {
		return p.fail(ctx, doc, err.Error())
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return p.fail(ctx, doc, fmt.Errorf("write processed content: %w", err).Error())
	}

	if err := p.ctx.Store.SaveProcessedDocument(ctx, doc.ID, structured); err != nil {
		slog.Warn("processor: failed to save processed document", "document", doc.ID, "err", err)
	}

	return p.ctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageProcess, Status: store.StatusCompleted,
		BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
	})
}

func (p *Processor) fail(ctx context.Context, doc *store.Document, message string) error {
	err := fmt.Errorf("%s", message)
	if ctx.Err() != nil {
		message = pipeline.CancelledMessage
	}
	if upsertErr := p.ctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageProcess, Status: store.StatusFailed,
		ErrorMessage: message, BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
	}); upsertErr != nil {
		slog.Error("processor: failed to upsert failure state", "document", doc.ID, "err", upsertErr)
	}
	return err
}

// buildPrompt loads the document type's custom prompt and schema, combining
// them the way the original processor composed its OpenAI prompt: a custom
// or default instruction, followed by the JSON schema the response must
// conform to when one is registered.
func (p *Processor) buildPrompt(ctx context.Context, documentTypeID string) (string, error) {
	prompt := defaultUserPrompt
	custom, ok, err := p.ctx.Store.GetPrompt(ctx, documentTypeID)
	if err == nil && ok && custom != "" {
		prompt = custom
	}

	schema, err := p.ctx.Store.GetSchema(ctx, documentTypeID)
	if err != nil {
		return prompt, err
	}
	if schema == nil {
		return prompt, nil
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return prompt, err
	}
	prompt += "\n\nReturn your response in the following JSON schema:\n" + string(schemaJSON)
	return prompt, nil
}

// defaultModelID resolves the provider/model pair to use when no --model
// override was given, reading the "model.default" setting. A missing
// setting is a misconfiguration the caller should fix, not default away.
func (p *Processor) defaultModelID(ctx context.Context, documentTypeID string) (string, error) {
	if v, ok, _ := p.ctx.Store.GetSetting(ctx, "model.default"); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no model configured: set a processor --model flag or the model.default setting")
}

// parseStructured parses resp as JSON after stripping markdown fences,
// falling back to a {"raw_text": ...} wrapper when parsing fails (spec
// §4.5 "response parsing").
func parseStructured(raw string) map[string]any {
	cleaned, err := llmutil.StripMarkdownJSON(raw)
	if err == nil {
		var structured map[string]any
		if jsonErr := json.Unmarshal([]byte(cleaned), &structured); jsonErr == nil {
			return structured
		}
	}
	return map[string]any{"raw_text": strings.TrimSpace(raw)}
}

// locateContent finds the CLEAN-stage artifact for doc and unwraps one
// level of nested JSON-in-string content, mirroring cleaner.locateContent
// (spec §4.5 step "find document content").
func (p *Processor) locateContent(doc *store.Document) (string, error) {
	short := strings.ReplaceAll(doc.ID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	needle := "doc" + short

	dir := p.ctx.StageDir(store.StageClean)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read stage_clean dir: %w", err)
	}
	var matchPath string
	for _, e := range entries {
		if strings.Contains(e.Name(), needle) {
			matchPath = filepath.Join(dir, e.Name())
			break
		}
	}
	if matchPath == "" {
		return "", fmt.Errorf("no content file found for document %s", doc.ID)
	}

	data, err := os.ReadFile(matchPath)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(matchPath), ".json") {
		return string(data), nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return string(data), nil
	}
	rawContent, ok := parsed["content"]
	if !ok {
		return string(data), nil
	}
	contentStr, ok := rawContent.(string)
	if !ok {
		return "", fmt.Errorf("content field is not a string")
	}

	trimmed := strings.TrimSpace(contentStr)
	if strings.HasPrefix(trimmed, "{") {
		var nested map[string]any
		if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
			if inner, ok := nested["content"].(string); ok {
				return inner, nil
			}
		}
	}
	return contentStr, nil
}
