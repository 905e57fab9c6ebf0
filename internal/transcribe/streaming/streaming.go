// Package streaming implements the frontend -> encoder -> adapter ->
// cross-KV -> decoder-KV pipeline used by the streaming (TINY_STREAMING,
// BASE_STREAMING, SMALL_STREAMING, MEDIUM_STREAMING) architectures: audio
// arrives in small chunks, a rolling frontend/encoder state accumulates
// features, and decoding can either run fully autoregressively or verify a
// batch of speculative tokens in one decoder pass. Ported from
// original_source/core/moonshine-streaming-model.{h,cpp}.
package streaming

import (
	"fmt"
	"math"

	"github.com/lattice-audio/transcribe-go/internal/onnxadapter"
	"github.com/lattice-audio/transcribe-go/internal/tokenizer"
)

// Runner is the subset of onnxadapter.Model the pipeline needs.
type Runner interface {
	Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error)
}

var _ Runner = (*onnxadapter.Model)(nil)

// Config mirrors streaming_config.json, the metadata file shipped beside a
// streaming model's ONNX graphs.
type Config struct {
	EncoderDim      int
	DecoderDim      int
	Depth           int
	NHeads          int
	HeadDim         int
	VocabSize       int
	BOSID           int64
	EOSID           int64
	FrameLen        int
	TotalLookahead  int
	DModelFrontend  int
	C1              int
	C2              int
	MaxSeqLen       int
}

// maxTokensPerSecond bounds decode_full's autoregressive length when no
// speculative tokens are supplied, matching spec.md's 6.5 tokens/sec figure
// applied to memory duration (20ms per frame).
const maxTokensPerSecond = 6.5
const frameDurationS = 0.02

// Pipeline wires the five ONNX sessions a streaming model is composed of.
type Pipeline struct {
	cfg      Config
	frontend Runner
	encoder  Runner
	adapter  Runner
	crossKV  Runner
	decoder  Runner
	tok      *tokenizer.Tokenizer
}

func New(cfg Config, frontend, encoder, adapter, crossKV, decoder Runner, tok *tokenizer.Tokenizer) *Pipeline {
	return &Pipeline{cfg: cfg, frontend: frontend, encoder: encoder, adapter: adapter, crossKV: crossKV, decoder: decoder, tok: tok}
}

// State is one stream's rolling neural state across chunks. Not safe for
// concurrent use; the orchestrator serializes calls per stream.
type State struct {
	sampleBuffer []float32 // up to 79 samples carried between chunks
	conv1Buffer  []float32 // d_model*4
	conv2Buffer  []float32 // c1*4
	frameCount   int64

	accumulatedFeatures []float32 // [T, encoder_dim] flattened
	featureCount        int

	encoderFramesEmitted int
	adapterPosOffset     int64

	memory    []float32 // [T, decoder_dim] flattened
	memoryLen int

	kSelf       []float32
	vSelf       []float32
	cacheSeqLen int

	kCross     []float32
	vCross     []float32
	crossLen   int
	crossValid bool
}

// NewState allocates a zeroed State sized for cfg.
func (p *Pipeline) NewState() *State {
	return &State{
		sampleBuffer: make([]float32, 0, 79),
		conv1Buffer:  make([]float32, p.cfg.DModelFrontend*4),
		conv2Buffer:  make([]float32, p.cfg.C1*4),
	}
}

// ResetSelfAttentionCache clears the decoder's self-attention KV cache
// between full-utterance decodes. Cross-attention KV remains valid: it is
// only invalidated when Encode grows memory.
func (s *State) ResetSelfAttentionCache() {
	s.kSelf = nil
	s.vSelf = nil
	s.cacheSeqLen = 0
}

// ProcessAudioChunk runs the frontend on chunk (expected ~80ms / frameLen-
// aligned), appending newly produced features to the accumulator and
// advancing the frontend's rolling buffers.
func (p *Pipeline) ProcessAudioChunk(s *State, chunk []float32) error {
	input := append(append([]float32(nil), s.sampleBuffer...), chunk...)

	out, err := p.frontend.Run([]onnxadapter.Tensor{
		{Name: "audio_chunk", Shape: []int64{1, int64(len(input))}, Float32Data: input},
		{Name: "conv1_buffer", Shape: []int64{1, int64(len(s.conv1Buffer))}, Float32Data: s.conv1Buffer},
		{Name: "conv2_buffer", Shape: []int64{1, int64(len(s.conv2Buffer))}, Float32Data: s.conv2Buffer},
	})
	if err != nil {
		return fmt.Errorf("streaming: frontend run: %w", err)
	}

	features := findTensor(out, "features")
	if features == nil {
		return fmt.Errorf("streaming: frontend output missing features")
	}
	if remainder := findTensor(out, "sample_buffer"); remainder != nil {
		s.sampleBuffer = append([]float32(nil), remainder.Float32Data...)
	}
	if c1 := findTensor(out, "conv1_buffer_out"); c1 != nil {
		s.conv1Buffer = append([]float32(nil), c1.Float32Data...)
	}
	if c2 := findTensor(out, "conv2_buffer_out"); c2 != nil {
		s.conv2Buffer = append([]float32(nil), c2.Float32Data...)
	}

	s.accumulatedFeatures = append(s.accumulatedFeatures, features.Float32Data...)
	s.featureCount += len(features.Float32Data) / maxInt(p.cfg.EncoderDim, 1)
	s.frameCount++
	return nil
}

// Encode runs the encoder over a sliding window of accumulated features and
// the adapter over any newly stable frames, appending to memory.
// isFinal treats the whole accumulator as stable (no lookahead withheld).
func (p *Pipeline) Encode(s *State, isFinal bool) (newFrames int, err error) {
	total := s.featureCount
	depth := p.cfg.Depth
	windowStart := s.encoderFramesEmitted - 16*depth
	if windowStart < 0 {
		windowStart = 0
	}

	window := s.accumulatedFeatures[windowStart*p.cfg.EncoderDim:]

	encOut, err := p.encoder.Run([]onnxadapter.Tensor{
		{Name: "features", Shape: []int64{1, int64(total - windowStart), int64(p.cfg.EncoderDim)}, Float32Data: window},
	})
	if err != nil {
		return 0, fmt.Errorf("streaming: encoder run: %w", err)
	}
	encHidden := findTensor(encOut, "encoder_output")
	if encHidden == nil {
		return 0, fmt.Errorf("streaming: encoder output missing encoder_output")
	}

	stable := total - p.cfg.TotalLookahead
	if isFinal || stable > total {
		stable = total
	}
	if stable <= s.encoderFramesEmitted {
		return 0, nil
	}

	newStableFrames := stable - s.encoderFramesEmitted
	frameWidth := len(encHidden.Float32Data) / maxInt(total-windowStart, 1)
	sliceStart := (s.encoderFramesEmitted - windowStart) * frameWidth
	sliceEnd := (stable - windowStart) * frameWidth
	if sliceStart < 0 {
		sliceStart = 0
	}
	if sliceEnd > len(encHidden.Float32Data) {
		sliceEnd = len(encHidden.Float32Data)
	}
	newHidden := encHidden.Float32Data[sliceStart:sliceEnd]

	adapOut, err := p.adapter.Run([]onnxadapter.Tensor{
		{Name: "encoder_output", Shape: []int64{1, int64(newStableFrames), int64(frameWidth)}, Float32Data: newHidden},
		{Name: "pos_offset", Shape: []int64{1}, Int64Data: []int64{s.adapterPosOffset}},
	})
	if err != nil {
		return 0, fmt.Errorf("streaming: adapter run: %w", err)
	}
	memOut := findTensor(adapOut, "memory")
	if memOut == nil {
		return 0, fmt.Errorf("streaming: adapter output missing memory")
	}

	s.memory = append(s.memory, memOut.Float32Data...)
	s.memoryLen += newStableFrames
	s.adapterPosOffset += int64(newStableFrames)
	s.encoderFramesEmitted = stable
	s.crossValid = false

	return newStableFrames, nil
}

func (p *Pipeline) computeCrossKV(s *State) error {
	if s.crossValid {
		return nil
	}
	out, err := p.crossKV.Run([]onnxadapter.Tensor{
		{Name: "memory", Shape: []int64{1, int64(s.memoryLen), int64(p.cfg.DecoderDim)}, Float32Data: s.memory},
	})
	if err != nil {
		return fmt.Errorf("streaming: cross-kv run: %w", err)
	}
	kCross := findTensor(out, "k_cross")
	vCross := findTensor(out, "v_cross")
	if kCross == nil || vCross == nil {
		return fmt.Errorf("streaming: cross-kv output missing k_cross/v_cross")
	}
	s.kCross = kCross.Float32Data
	s.vCross = vCross.Float32Data
	s.crossLen = s.memoryLen
	s.crossValid = true
	return nil
}

// runDecoderWithCrossKV runs the decoder-kv session over tokens, returning
// logits for every position ([len(tokens), vocabSize] flattened), and
// updates the self-attention cache to reflect having consumed all of
// tokens.
func (p *Pipeline) runDecoderWithCrossKV(s *State, tokens []int64) ([]float32, error) {
	if err := p.computeCrossKV(s); err != nil {
		return nil, err
	}

	inputs := []onnxadapter.Tensor{
		{Name: "input_ids", Shape: []int64{1, int64(len(tokens))}, Int64Data: tokens},
		{Name: "k_cross", Shape: []int64{1, int64(p.cfg.NHeads), int64(s.crossLen), int64(p.cfg.HeadDim)}, Float32Data: s.kCross},
		{Name: "v_cross", Shape: []int64{1, int64(p.cfg.NHeads), int64(s.crossLen), int64(p.cfg.HeadDim)}, Float32Data: s.vCross},
		{Name: "k_self", Shape: []int64{1, int64(p.cfg.NHeads), int64(s.cacheSeqLen), int64(p.cfg.HeadDim)}, Float32Data: s.kSelf},
		{Name: "v_self", Shape: []int64{1, int64(p.cfg.NHeads), int64(s.cacheSeqLen), int64(p.cfg.HeadDim)}, Float32Data: s.vSelf},
	}

	out, err := p.decoder.Run(inputs)
	if err != nil {
		return nil, fmt.Errorf("streaming: decoder-kv run: %w", err)
	}

	logits := findTensor(out, "logits")
	if logits == nil {
		return nil, fmt.Errorf("streaming: decoder output missing logits")
	}
	if kNew := findTensor(out, "k_self_new"); kNew != nil {
		s.kSelf = kNew.Float32Data
	}
	if vNew := findTensor(out, "v_self_new"); vNew != nil {
		s.vSelf = vNew.Float32Data
	}
	s.cacheSeqLen += len(tokens)

	return logits.Float32Data, nil
}

// DecodeFull decodes memory to a token sequence (BOS/EOS stripped).
// speculative, if non-nil, is verified in a single decoder pass: the
// longest prefix matching fresh argmax predictions is kept, and decoding
// continues from the verify pass's own prediction at the divergence point
// (logits[matched], the "free" next token that pass already produced)
// instead of re-feeding the last accepted token through another decoder
// call. The self-attention cache is only reset and replayed when the
// speculative sequence wasn't fully accepted: a full match leaves the
// cache exactly as the verify call built it, matching
// original_source/core/moonshine-streaming-model.cpp's diverge_point
// handling.
func (p *Pipeline) DecodeFull(s *State, speculative []int64) ([]int64, error) {
	maxLen := int(math.Ceil(float64(s.memoryLen) * frameDurationS * maxTokensPerSecond))
	if maxLen < 1 {
		maxLen = 1
	}

	bos := p.cfg.BOSID
	eos := p.cfg.EOSID

	var tokens []int64
	var last int64 = bos

	if len(speculative) > 0 {
		verify := append([]int64{bos}, speculative...)
		logits, err := p.runDecoderWithCrossKV(s, verify)
		if err != nil {
			return nil, err
		}
		vocab := p.cfg.VocabSize
		matched := 0
		for i := 0; i < len(speculative); i++ {
			pos := logits[i*vocab : (i+1)*vocab]
			if argmax(pos) == speculative[i] {
				matched++
			} else {
				break
			}
		}
		tokens = append(tokens, speculative[:matched]...)

		// logits[matched] is the prediction following the accepted prefix
		// (verify[matched], the last accepted token or bos if none matched):
		// the continuation token the verify pass already computed.
		next := argmax(logits[matched*vocab : (matched+1)*vocab])

		if matched < len(speculative) {
			s.ResetSelfAttentionCache()
			replay := append([]int64{bos}, tokens...)
			if _, err := p.runDecoderWithCrossKV(s, replay); err != nil {
				return nil, err
			}
		}

		if next == eos {
			return tokens, nil
		}
		tokens = append(tokens, next)
		last = next
	}

	for step := len(tokens); step < maxLen; step++ {
		logits, err := p.runDecoderWithCrossKV(s, []int64{last})
		if err != nil {
			return nil, err
		}
		next := argmax(logits)
		if next == eos {
			break
		}
		tokens = append(tokens, next)
		last = next
	}

	return tokens, nil
}

// TranscribeSegment transcribes one complete VAD segment from scratch: a
// fresh State, the whole segment pushed through the frontend/encoder/
// adapter pipeline in frameLen chunks, then a full autoregressive decode.
// It never reuses cross-call streaming state, matching
// transcribe_segment_with_streaming_model in the reference engine.
func (p *Pipeline) TranscribeSegment(audio []float32) (string, error) {
	s := p.NewState()

	frameLen := p.cfg.FrameLen
	if frameLen <= 0 {
		frameLen = 80
	}
	for offset := 0; offset < len(audio); offset += frameLen {
		end := offset + frameLen
		if end > len(audio) {
			end = len(audio)
		}
		if err := p.ProcessAudioChunk(s, audio[offset:end]); err != nil {
			return "", err
		}
	}
	if _, err := p.Encode(s, true); err != nil {
		return "", err
	}

	tokens, err := p.DecodeFull(s, nil)
	if err != nil {
		return "", err
	}

	ids := make([]int32, len(tokens))
	for i, t := range tokens {
		ids[i] = int32(t)
	}
	return p.tok.Decode(ids, true)
}

func findTensor(tensors []onnxadapter.Tensor, name string) *onnxadapter.Tensor {
	for i := range tensors {
		if tensors[i].Name == name {
			return &tensors[i]
		}
	}
	return nil
}

func argmax(logits []float32) int64 {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return int64(best)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
