// Package intent implements embedding-based phrase matching over complete
// transcript lines: register a trigger phrase and callback, then feed it
// transcripts as they're produced. Ported from
// original_source/core/intent-recognizer.{h,cpp}.
package intent

import (
	"sync"

	"github.com/lattice-audio/transcribe-go/internal/cluster"
	"github.com/lattice-audio/transcribe-go/pkg/orchestrator"
)

// EmbeddingModel produces a dense vector representation of a string. Both
// pkg/embed/onnxembed and pkg/embed/openaiembed satisfy this.
type EmbeddingModel interface {
	Embed(text string) ([]float32, error)
}

// Callback receives a matched utterance and its similarity score.
type Callback func(utterance string, similarity float32)

type registeredIntent struct {
	phrase    string
	embedding []float32
	callback  Callback
}

// Recognizer matches complete transcript lines against a set of registered
// trigger phrases using cosine similarity over an injected embedding model.
type Recognizer struct {
	model     EmbeddingModel
	threshold float32

	mu      sync.Mutex
	intents []registeredIntent

	processed map[uint64]struct{}
}

// New constructs a Recognizer. threshold is the minimum cosine similarity
// (1 - cosine distance) required to fire a callback; the reference engine
// defaults this to 0.7.
func New(model EmbeddingModel, threshold float32) *Recognizer {
	return &Recognizer{
		model:     model,
		threshold: threshold,
		processed: make(map[uint64]struct{}),
	}
}

// RegisterIntent computes phrase's embedding once and stores it alongside
// callback. Re-registering an existing phrase replaces its callback and
// recomputes its embedding.
func (r *Recognizer) RegisterIntent(phrase string, callback Callback) error {
	embedding, err := r.model.Embed(phrase)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.intents {
		if r.intents[i].phrase == phrase {
			r.intents[i].embedding = embedding
			r.intents[i].callback = callback
			return nil
		}
	}
	r.intents = append(r.intents, registeredIntent{phrase: phrase, embedding: embedding, callback: callback})
	return nil
}

// UnregisterIntent removes phrase's registration. Returns false if phrase
// was not registered.
func (r *Recognizer) UnregisterIntent(phrase string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.intents {
		if r.intents[i].phrase == phrase {
			r.intents = append(r.intents[:i], r.intents[i+1:]...)
			return true
		}
	}
	return false
}

// ProcessUtterance embeds utterance and invokes the best-matching intent's
// callback if its similarity meets the threshold. Returns whether a
// callback fired.
func (r *Recognizer) ProcessUtterance(utterance string) (bool, error) {
	if utterance == "" {
		return false, nil
	}

	embedding, err := r.model.Embed(utterance)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	best, bestSimilarity, found := r.findBestLocked(embedding)
	r.mu.Unlock()

	if found && bestSimilarity >= r.threshold {
		best.callback(utterance, bestSimilarity)
		return true, nil
	}
	return false, nil
}

func (r *Recognizer) findBestLocked(embedding []float32) (best registeredIntent, similarity float32, found bool) {
	for _, in := range r.intents {
		distance, err := cluster.CosineDistance(embedding, in.embedding)
		if err != nil {
			continue
		}
		sim := 1 - distance
		if !found || sim > similarity {
			best = in
			similarity = sim
			found = true
		}
	}
	return best, similarity, found
}

// ProcessTranscript processes every complete line in transcript whose id
// has not already been processed, in order. Idempotent across repeated
// calls with the same transcript: a line already seen is skipped.
func (r *Recognizer) ProcessTranscript(transcript *orchestrator.Transcript) error {
	if transcript == nil {
		return nil
	}
	for _, line := range transcript.Lines {
		if !line.IsComplete {
			continue
		}
		r.mu.Lock()
		_, seen := r.processed[line.ID]
		if !seen {
			r.processed[line.ID] = struct{}{}
		}
		r.mu.Unlock()
		if seen {
			continue
		}
		if line.HasText {
			if _, err := r.ProcessUtterance(line.Text); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetThreshold updates the similarity threshold.
func (r *Recognizer) SetThreshold(threshold float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = threshold
}

// Threshold returns the current similarity threshold.
func (r *Recognizer) Threshold() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// IntentCount returns the number of registered intents.
func (r *Recognizer) IntentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}

// ClearIntents removes every registered intent.
func (r *Recognizer) ClearIntents() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = nil
}
