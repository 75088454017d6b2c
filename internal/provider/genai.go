package provider

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API directly through the
// google.golang.org/genai SDK rather than an OpenAI-compatible HTTP shim.
// The client is created lazily on first use since it performs network
// setup that should not run at construction time.
type GeminiProvider struct {
	name    string
	apiKey  string
	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGeminiProvider(name, apiKey string) *GeminiProvider {
	return &GeminiProvider{name: name, apiKey: apiKey}
}

func (g *GeminiProvider) Name() string { return g.name }

func (g *GeminiProvider) ensureClient(ctx context.Context) error {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.initErr
}

func (g *GeminiProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := g.ensureClient(ctx); err != nil {
		return nil, fmt.Errorf("gemini: client init failed: %w", err)
	}

	contents, systemInstruction := buildGeminiContents(req.Messages)
	cfg := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if req.ResponseFormat == ResponseFormatJSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return convertGeminiResponse(resp), nil
}

func (g *GeminiProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if err := g.ensureClient(ctx); err != nil {
		return nil, fmt.Errorf("gemini: client init failed: %w", err)
	}

	contents, systemInstruction := buildGeminiContents(req.Messages)
	cfg := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				out <- StreamChunk{Done: true}
				return
			}
			converted := convertGeminiResponse(resp)
			out <- StreamChunk{Content: converted.Content, Done: false}
		}
		out <- StreamChunk{Done: true}
	}()
	return out, nil
}

// buildGeminiContents translates our provider-neutral messages into genai's
// Content/Part shape. A leading system message becomes the Gemini system
// instruction rather than a turn, since the API treats it separately.
func buildGeminiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			continue
		}
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents, systemInstruction
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) *ChatResponse {
	if resp == nil || len(resp.Candidates) == 0 {
		return &ChatResponse{}
	}
	c := resp.Candidates[0]
	result := &ChatResponse{FinishReason: string(c.FinishReason)}
	if c.Content != nil {
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				result.Content += p.Text
			}
		}
	}
	return result
}
