// Package gemini adapts the Google Gemini API to the engine's Model
// contract and the retrieval Embedder contract. Both adapters share one
// client; the client is injected, never constructed from ambient state.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/zhiwen0/zhiwen/internal/engine"
	"github.com/zhiwen0/zhiwen/internal/retrieval"
)

// Config selects the model names used by the adapters.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Model is the generative model, e.g. "gemini-2.5-flash".
	Model string

	// EmbedderModel is the embedding model, e.g. "gemini-embedding-001".
	EmbedderModel string
}

func (c Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model name is required")
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("embedder model name is required")
	}
	return nil
}

// Client wraps the genai client with the configured model names.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Client backed by the Gemini API.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{client: client, cfg: cfg, logger: logger}, nil
}

// Generate produces the full answer in one call.
func (c *Client) Generate(ctx context.Context, promptText string, params engine.Params) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model,
		genai.Text(promptText), generateConfig(params))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}

// GenerateStream yields answer fragments as the model produces them. The
// underlying request is canceled when the consumer stops early, via the
// caller's context.
func (c *Client) GenerateStream(ctx context.Context, promptText string, params engine.Params) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := c.client.Models.GenerateContentStream(ctx, c.cfg.Model,
			genai.Text(promptText), generateConfig(params))
		for resp, err := range stream {
			if err != nil {
				yield("", fmt.Errorf("streaming content: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Embed produces a query embedding truncated to the retrieval dimension.
// Gemini embedding models support Matryoshka truncation, so asking for 768
// dimensions keeps the vectors compatible with the chunk index.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := retrieval.VectorDimension
	resp, err := c.client.Models.EmbedContent(ctx, c.cfg.EmbedderModel,
		genai.Text(text), &genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}

func generateConfig(params engine.Params) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(params.Temperature),
		MaxOutputTokens: params.MaxOutputTokens,
	}
}
