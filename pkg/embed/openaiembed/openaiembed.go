// Package openaiembed implements a cloud-backed EmbeddingModel for the
// Intent Recognizer using the OpenAI embeddings API, as an alternative to
// the local onnxembed model. Styled after the teacher's OpenAI plugin
// wrappers (pkg/plugin/openai/*.go): a thin client wrapper over
// sashabaranov/go-openai with its own model/credential defaults.
package openaiembed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Model calls the OpenAI embeddings API and satisfies pkg/intent.EmbeddingModel.
type Model struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// Option configures Model construction.
type Option func(*Model)

// WithModel overrides the embedding model, default openai.SmallEmbedding3.
func WithModel(m openai.EmbeddingModel) Option {
	return func(model *Model) { model.model = m }
}

// New constructs a Model. apiKey falls back to OPENAI_API_KEY when empty.
func New(apiKey string, opts ...Option) (*Model, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openaiembed: OpenAI API key is required (set OPENAI_API_KEY or pass one explicitly)")
	}

	m := &Model{
		client: openai.NewClient(apiKey),
		model:  openai.SmallEmbedding3,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Embed requests a single embedding for text from the OpenAI API.
func (m *Model) Embed(text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: m.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openaiembed: creating embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openaiembed: API returned no embedding data")
	}

	slog.Debug("openaiembed: embedding created", slog.Duration("latency", time.Since(start)), slog.String("model", string(m.model)))
	return resp.Data[0].Embedding, nil
}
