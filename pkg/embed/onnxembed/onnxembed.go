// Package onnxembed implements a local ONNX-backed EmbeddingModel for the
// Intent Recognizer, grounded on
// original_source/core/gemma-embedding-model.{h,cpp}: tokenize with BOS/EOS,
// run a sentence-embedding model, and L2-normalize the result.
package onnxembed

import (
	"fmt"
	"math"

	"github.com/lattice-audio/transcribe-go/internal/onnxadapter"
	"github.com/lattice-audio/transcribe-go/internal/tokenizer"
)

// Config mirrors GemmaEmbeddingConfig: the special token ids and sequence
// bound used when preparing model input.
type Config struct {
	MaxSeqLength int
	BOSTokenID   int64
	EOSTokenID   int64
}

// DefaultConfig matches the reference model's defaults.
func DefaultConfig() Config {
	return Config{MaxSeqLength: 2048, BOSTokenID: 2, EOSTokenID: 1}
}

const (
	inputIDsName      = "input_ids"
	attentionMaskName = "attention_mask"
	outputName        = "sentence_embedding"

	// QueryPrefix and DocumentPrefix select the asymmetric embedding the
	// reference model was trained with; Embed uses QueryPrefix, matching
	// the Intent Recognizer's "compare an utterance against trigger
	// phrases" use case.
	QueryPrefix    = "task: search result | query: "
	DocumentPrefix = "title: none | text: "
)

// runner is the subset of *onnxadapter.Model this package depends on.
type runner interface {
	Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error)
}

var _ runner = (*onnxadapter.Model)(nil)

// Model wraps a loaded Gemma-style sentence-embedding ONNX model and its
// tokenizer, and satisfies pkg/intent.EmbeddingModel.
type Model struct {
	session runner
	tok     *tokenizer.Tokenizer
	cfg     Config
}

// New wraps an already-loaded ONNX session and tokenizer. Loading is the
// caller's responsibility via internal/onnxadapter.LoadModel and
// internal/tokenizer.Load.
func New(session runner, tok *tokenizer.Tokenizer, cfg Config) *Model {
	return &Model{session: session, tok: tok, cfg: cfg}
}

// Embed tokenizes text with the query prefix, runs the embedding model,
// and returns an L2-normalized vector.
func (m *Model) Embed(text string) ([]float32, error) {
	return m.embedWithPrefix(QueryPrefix + text)
}

// EmbedDocument embeds text using the document prefix, for asymmetric
// query/document embedding setups.
func (m *Model) EmbedDocument(text string) ([]float32, error) {
	return m.embedWithPrefix(DocumentPrefix + text)
}

func (m *Model) embedWithPrefix(text string) ([]float32, error) {
	tokenIDs32, err := m.tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("onnxembed: tokenizing: %w", err)
	}

	ids := make([]int64, 0, len(tokenIDs32)+2)
	ids = append(ids, m.cfg.BOSTokenID)
	for _, id := range tokenIDs32 {
		ids = append(ids, int64(id))
	}
	ids = append(ids, m.cfg.EOSTokenID)

	if max := m.cfg.MaxSeqLength; max > 0 && len(ids) > max {
		ids = ids[:max]
		ids[len(ids)-1] = m.cfg.EOSTokenID
	}

	attentionMask := make([]int64, len(ids))
	for i := range attentionMask {
		attentionMask[i] = 1
	}

	seqLen := int64(len(ids))
	outputs, err := m.session.Run([]onnxadapter.Tensor{
		{Name: inputIDsName, Shape: []int64{1, seqLen}, Int64Data: ids},
		{Name: attentionMaskName, Shape: []int64{1, seqLen}, Int64Data: attentionMask},
	})
	if err != nil {
		return nil, fmt.Errorf("onnxembed: running model: %w", err)
	}

	var embedding []float32
	for _, out := range outputs {
		if out.Name == outputName {
			embedding = out.Float32Data
			break
		}
	}
	if embedding == nil && len(outputs) == 1 {
		embedding = outputs[0].Float32Data
	}
	if embedding == nil {
		return nil, fmt.Errorf("onnxembed: model did not produce output tensor %q", outputName)
	}

	normalize(embedding)
	return embedding, nil
}

// Truncate shortens embedding to targetDim and renormalizes it, matching
// the reference model's Matryoshka Representation Learning truncation.
func Truncate(embedding []float32, targetDim int) []float32 {
	if targetDim <= 0 || targetDim >= len(embedding) {
		return embedding
	}
	truncated := append([]float32(nil), embedding[:targetDim]...)
	normalize(truncated)
	return truncated
}

func normalize(embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	var sumSq float64
	for _, v := range embedding {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i, v := range embedding {
		embedding[i] = float32(float64(v) / norm)
	}
}
