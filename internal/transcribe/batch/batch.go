// Package batch implements the single-pass encoder / autoregressive
// decoder transcriber used for the tiny and base (non-streaming)
// architectures: the whole utterance is encoded in one forward pass, then
// decoded token-by-token with a growing KV cache until EOS or a length
// bound. Ported from original_source/core/moonshine-model.{h,cpp}.
package batch

import (
	"fmt"
	"math"

	"github.com/lattice-audio/transcribe-go/internal/onnxadapter"
	"github.com/lattice-audio/transcribe-go/internal/tokenizer"
	"github.com/lattice-audio/transcribe-go/internal/transcribe"
)

// Runner is the subset of onnxadapter.Model the transcriber needs, so tests
// can substitute a scripted double without touching a real session.
type Runner interface {
	Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error)
}

var _ Runner = (*onnxadapter.Model)(nil)

// Options configures a Transcriber.
type Options struct {
	Arch transcribe.Arch
}

// Transcriber runs the non-streaming (batch) Moonshine encoder/decoder
// pair: a full-utterance encoder forward pass followed by an
// autoregressive decode loop with a KV cache.
type Transcriber struct {
	encoder            Runner
	decoder            Runner
	tok                *tokenizer.Tokenizer
	params             transcribe.NonStreamingParams
	maxTokensPerSecond float32
}

// New constructs a Transcriber. arch must be ArchTiny or ArchBase; encoder
// and decoder are the corresponding ONNX sessions. maxTokensPerSecond
// bounds the decode loop's token count relative to the input audio's
// duration, so a broken or adversarial EOS never spins forever; it is a
// parameter rather than a fixed constant (the orchestrator passes its
// Options.MaxTokensPerSecond), so callers can tune it.
func New(encoder, decoder Runner, tok *tokenizer.Tokenizer, arch transcribe.Arch, maxTokensPerSecond float32) (*Transcriber, error) {
	params, ok := transcribe.NonStreamingArchTable[arch]
	if !ok {
		return nil, fmt.Errorf("batch: unsupported architecture %v", arch)
	}
	return &Transcriber{encoder: encoder, decoder: decoder, tok: tok, params: params, maxTokensPerSecond: maxTokensPerSecond}, nil
}

// Transcribe encodes audio (16 kHz mono float32) and decodes it into text.
// audioDurationS bounds the number of decode steps; callers pass the true
// segment duration rather than deriving it from len(audio), since the
// encoder may have already consumed padded or resampled audio.
func (t *Transcriber) Transcribe(audio []float32, audioDurationS float32) (string, error) {
	encOut, err := t.encoder.Run([]onnxadapter.Tensor{
		{
			Name:        "input_values",
			Shape:       []int64{1, int64(len(audio))},
			Float32Data: audio,
		},
	})
	if err != nil {
		return "", fmt.Errorf("batch: encoder run: %w", err)
	}
	hidden := findTensor(encOut, "last_hidden_state")
	if hidden == nil {
		return "", fmt.Errorf("batch: encoder output missing last_hidden_state")
	}

	maxLen := int(math.Ceil(float64(audioDurationS) * float64(t.maxTokensPerSecond)))
	if maxLen < 1 {
		maxLen = 1
	}

	tokens := []int64{transcribe.DecoderStartToken}
	pastKV := t.zeroPastKV()

	for step := 0; step < maxLen; step++ {
		useCache := step > 0

		var inputIDs int64
		if useCache {
			inputIDs = tokens[len(tokens)-1]
		} else {
			inputIDs = tokens[0]
		}

		inputs := []onnxadapter.Tensor{
			{Name: "input_ids", Shape: []int64{1, 1}, Int64Data: []int64{inputIDs}},
			{Name: "encoder_hidden_states", Shape: hidden.Shape, Float32Data: hidden.Float32Data},
			{Name: "use_cache_branch", Shape: []int64{1}, BoolData: []uint8{boolByte(useCache)}},
		}
		inputs = append(inputs, pastKV...)

		decOut, err := t.decoder.Run(inputs)
		if err != nil {
			return "", fmt.Errorf("batch: decoder step %d: %w", step, err)
		}

		logits := findTensor(decOut, "logits")
		if logits == nil {
			return "", fmt.Errorf("batch: decoder output missing logits")
		}
		next := argmaxLastStep(logits, t.tok.VocabSize())
		if next == transcribe.EOSToken {
			break
		}
		tokens = append(tokens, next)

		pastKV = t.refreshDecoderKV(pastKV, decOut, step == 0)
	}

	ids := make([]int32, len(tokens)-1)
	for i, tok := range tokens[1:] {
		ids[i] = int32(tok)
	}
	return t.tok.Decode(ids, true)
}

func (t *Transcriber) zeroPastKV() []onnxadapter.Tensor {
	shape := []int64{1, int64(t.params.KVHeads), 0, int64(t.params.HeadDim)}
	tensors := make([]onnxadapter.Tensor, 0, t.params.Layers*4)
	for layer := 0; layer < t.params.Layers; layer++ {
		for _, side := range []string{"decoder", "encoder"} {
			for _, kind := range []string{"key", "value"} {
				tensors = append(tensors, onnxadapter.Tensor{
					Name:        fmt.Sprintf("past_key_values.%d.%s.%s", layer, side, kind),
					Shape:       append([]int64(nil), shape...),
					Float32Data: []float32{},
				})
			}
		}
	}
	return tensors
}

// refreshDecoderKV replaces the decoder-side past-K/V tensors with the
// decode step's present outputs. Encoder-side K/V are taken from the first
// step's present outputs only (they're a function of the encoder output
// alone) and are carried forward unchanged after that, matching
// moonshine-model.cpp's cache policy.
func (t *Transcriber) refreshDecoderKV(pastKV []onnxadapter.Tensor, decOut []onnxadapter.Tensor, firstStep bool) []onnxadapter.Tensor {
	next := make([]onnxadapter.Tensor, len(pastKV))
	copy(next, pastKV)
	sides := []string{"decoder"}
	if firstStep {
		sides = append(sides, "encoder")
	}
	for layer := 0; layer < t.params.Layers; layer++ {
		for _, side := range sides {
			for _, kind := range []string{"key", "value"} {
				presentName := fmt.Sprintf("present.%d.%s.%s", layer, side, kind)
				pastName := fmt.Sprintf("past_key_values.%d.%s.%s", layer, side, kind)
				if present := findTensor(decOut, presentName); present != nil {
					for i := range next {
						if next[i].Name == pastName {
							next[i] = onnxadapter.Tensor{Name: pastName, Shape: present.Shape, Float32Data: present.Float32Data}
							break
						}
					}
				}
			}
		}
	}
	return next
}

func findTensor(tensors []onnxadapter.Tensor, name string) *onnxadapter.Tensor {
	for i := range tensors {
		if tensors[i].Name == name {
			return &tensors[i]
		}
	}
	return nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// argmaxLastStep returns the argmax of logits' last time step, interpreted
// as a [1, 1, vocabSize] or [1, vocabSize] tensor.
func argmaxLastStep(logits *onnxadapter.Tensor, vocabSize int) int64 {
	data := logits.Float32Data
	start := len(data) - vocabSize
	if start < 0 {
		start = 0
	}
	best := start
	for i := start + 1; i < len(data); i++ {
		if data[i] > data[best] {
			best = i
		}
	}
	return int64(best - start)
}
