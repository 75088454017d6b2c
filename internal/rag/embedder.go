package rag

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GenaiEmbedder generates embeddings via the Gemini embedding API, mirroring
// provider.GeminiProvider's lazy client setup for chat completions.
type GenaiEmbedder struct {
	model   string
	apiKey  string
	dims    int
	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGenaiEmbedder(model, apiKey string, dims int) *GenaiEmbedder {
	return &GenaiEmbedder{model: model, apiKey: apiKey, dims: dims}
}

func (e *GenaiEmbedder) Dimensions() int { return e.dims }

func (e *GenaiEmbedder) ensureClient(ctx context.Context) error {
	e.once.Do(func() {
		e.client, e.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  e.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return e.initErr
}

// Embed returns one vector per input text, in order.
func (e *GenaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.ensureClient(ctx); err != nil {
		return nil, fmt.Errorf("rag: embedder client init failed: %w", err)
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{}
	if e.dims > 0 {
		dims := int32(e.dims)
		cfg.OutputDimensionality = &dims
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("rag: embed content: %w", err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
