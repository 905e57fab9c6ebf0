package streaming

import (
	"testing"

	"github.com/matryer/is"

	"github.com/lattice-audio/transcribe-go/internal/onnxadapter"
	"github.com/lattice-audio/transcribe-go/internal/tokenizer"
)

func testConfig() Config {
	return Config{
		EncoderDim:     4,
		DecoderDim:     4,
		Depth:          1,
		NHeads:         2,
		HeadDim:        2,
		VocabSize:      6,
		BOSID:          1,
		EOSID:          2,
		FrameLen:       80,
		TotalLookahead: 0,
		DModelFrontend: 4,
		C1:             4,
		C2:             4,
		MaxSeqLen:      50,
	}
}

// fakeFrontend echoes one frame of zeroed features per call, regardless of
// chunk length, and carries no rolling state forward.
type fakeFrontend struct{ dim int }

func (f fakeFrontend) Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error) {
	return []onnxadapter.Tensor{
		{Name: "features", Shape: []int64{1, 1, int64(f.dim)}, Float32Data: make([]float32, f.dim)},
		{Name: "sample_buffer", Shape: []int64{0}, Float32Data: []float32{}},
	}, nil
}

// fakeEncoder echoes its input features back as encoder_output, so
// frameWidth equals EncoderDim.
type fakeEncoder struct{}

func (fakeEncoder) Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error) {
	feat := findTensor(inputs, "features")
	return []onnxadapter.Tensor{
		{Name: "encoder_output", Shape: feat.Shape, Float32Data: append([]float32(nil), feat.Float32Data...)},
	}, nil
}

// fakeAdapter echoes its input encoder_output back as memory.
type fakeAdapter struct{}

func (fakeAdapter) Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error) {
	enc := findTensor(inputs, "encoder_output")
	return []onnxadapter.Tensor{
		{Name: "memory", Shape: enc.Shape, Float32Data: append([]float32(nil), enc.Float32Data...)},
	}, nil
}

// fakeCrossKV returns zeroed cross-attention tensors sized from memory length.
type fakeCrossKV struct{ nheads, headDim int }

func (f fakeCrossKV) Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error) {
	mem := findTensor(inputs, "memory")
	crossLen := len(mem.Float32Data) / 4 // DecoderDim == 4 in testConfig
	size := f.nheads * crossLen * f.headDim
	return []onnxadapter.Tensor{
		{Name: "k_cross", Shape: []int64{1, int64(f.nheads), int64(crossLen), int64(f.headDim)}, Float32Data: make([]float32, size)},
		{Name: "v_cross", Shape: []int64{1, int64(f.nheads), int64(crossLen), int64(f.headDim)}, Float32Data: make([]float32, size)},
	}, nil
}

// scriptedDecoder returns a hand-scripted logits argmax per call, letting
// the test drive an exact sequence of verify/replay/autoregressive steps.
// For call i (1-indexed), scriptOverride[i] plants argmax ids at the
// positions it names; otherwise script[i] plants one at position 0, and a
// call with neither predicts EOS at position 0.
type scriptedDecoder struct {
	vocab int
	call  int

	// scriptOverride[call] maps a logits position to the argmax id to plant
	// there, for calls that need more than one distinct prediction (the
	// verify pass).
	scriptOverride map[int]map[int]int64
	// script[call] is the argmax id planted at position 0 for calls with no
	// override entry (the single-token autoregressive steps).
	script map[int]int64
}

func setArgmax(logits []float32, vocab, pos int, id int64) {
	if (pos+1)*vocab > len(logits) {
		return
	}
	logits[pos*vocab+int(id)] = 10
}

func (d *scriptedDecoder) Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error) {
	ids := findTensor(inputs, "input_ids")
	n := len(ids.Int64Data)
	d.call++
	logits := make([]float32, n*d.vocab)

	if override, ok := d.scriptOverride[d.call]; ok {
		for pos, id := range override {
			setArgmax(logits, d.vocab, pos, id)
		}
	} else if id, ok := d.script[d.call]; ok {
		setArgmax(logits, d.vocab, 0, id)
	} else {
		setArgmax(logits, d.vocab, 0, 2) // EOS default
	}

	out := []onnxadapter.Tensor{
		{Name: "logits", Shape: []int64{1, int64(n), int64(d.vocab)}, Float32Data: logits},
		{Name: "k_self_new", Shape: []int64{1, 2, int64(2)}, Float32Data: make([]float32, 4)},
		{Name: "v_self_new", Shape: []int64{1, 2, int64(2)}, Float32Data: make([]float32, 4)},
	}
	return out, nil
}

func buildTestTokenizer(t *testing.T) *tokenizer.Tokenizer {
	t.Helper()
	// ids 0,1,2 reserved (pad/bos/eos placeholders); id3="a", id4="b", id5="c".
	data := []byte{0, 0, 0, 1, 'a', 1, 'b', 1, 'c'}
	tok, err := tokenizer.Load(data)
	if err != nil {
		t.Fatalf("load tokenizer: %v", err)
	}
	return tok
}

// TestDecodeFullAcceptsPartialSpeculativePrefix diverges partway through the
// speculative sequence: the verify pass (call 1) confirms speculative[0:2]
// but disagrees on speculative[2], so the cache must be reset and the
// accepted prefix replayed (call 2) before continuing. The token that
// follows the accepted prefix comes directly from the verify pass's own
// logits at the divergence point rather than a further decoder call, so
// only one more autoregressive call (call 3, producing EOS) is needed.
func TestDecodeFullAcceptsPartialSpeculativePrefix(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	dec := &scriptedDecoder{
		vocab: cfg.VocabSize,
		scriptOverride: map[int]map[int]int64{
			1: { // verify pass: input_ids = [BOS, 3, 4, 5]
				0: 3, // matches speculative[0]
				1: 4, // matches speculative[1]
				2: 0, // diverges from speculative[2]=5; this is also the "free" continuation token
			},
		},
		script: map[int]int64{
			3: 2, // autoregressive step after the free token: EOS, stop
		},
	}
	p := New(cfg, fakeFrontend{dim: cfg.EncoderDim}, fakeEncoder{}, fakeAdapter{}, fakeCrossKV{nheads: cfg.NHeads, headDim: cfg.HeadDim}, dec, buildTestTokenizer(t))

	s := p.NewState()
	const memoryFrames = 40 // maxLen = ceil(40*0.02*6.5) = 6, enough room for the calls below
	s.memory = make([]float32, memoryFrames*cfg.DecoderDim)
	s.memoryLen = memoryFrames

	tokens, err := p.DecodeFull(s, []int64{3, 4, 5})
	is.NoErr(err)
	is.Equal(tokens, []int64{3, 4, 0})
	is.Equal(dec.call, 3) // verify, replay, one autoregressive step
}

// TestDecodeFullFullMatchSkipsCacheReset covers the case where every
// speculative token is confirmed: the cache built by the verify pass is
// already correct, so no reset/replay call happens, and the verify pass's
// own prediction at the final position is used as the next token directly.
func TestDecodeFullFullMatchSkipsCacheReset(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	dec := &scriptedDecoder{
		vocab: cfg.VocabSize,
		scriptOverride: map[int]map[int]int64{
			1: { // verify pass: input_ids = [BOS, 3, 4, 5]
				0: 3, // matches speculative[0]
				1: 4, // matches speculative[1]
				2: 5, // matches speculative[2]: full match
				3: 2, // free continuation prediction: EOS
			},
		},
	}
	p := New(cfg, fakeFrontend{dim: cfg.EncoderDim}, fakeEncoder{}, fakeAdapter{}, fakeCrossKV{nheads: cfg.NHeads, headDim: cfg.HeadDim}, dec, buildTestTokenizer(t))

	s := p.NewState()
	const memoryFrames = 40
	s.memory = make([]float32, memoryFrames*cfg.DecoderDim)
	s.memoryLen = memoryFrames

	tokens, err := p.DecodeFull(s, []int64{3, 4, 5})
	is.NoErr(err)
	is.Equal(tokens, []int64{3, 4, 5})
	is.Equal(dec.call, 1) // no replay, no extra autoregressive step
	is.Equal(s.cacheSeqLen, 4)
}

func TestTranscribeSegmentRunsFullPipeline(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	dec := &scriptedDecoder{vocab: cfg.VocabSize}
	p := New(cfg, fakeFrontend{dim: cfg.EncoderDim}, fakeEncoder{}, fakeAdapter{}, fakeCrossKV{nheads: cfg.NHeads, headDim: cfg.HeadDim}, dec, buildTestTokenizer(t))

	text, err := p.TranscribeSegment(make([]float32, 80*5))
	is.NoErr(err)
	is.True(len(text) >= 0) // non-speculative path: just confirm the pipeline runs end-to-end without error
}

func TestResetSelfAttentionCacheClearsState(t *testing.T) {
	is := is.New(t)
	s := (&Pipeline{}).NewState()
	s.kSelf = []float32{1, 2, 3}
	s.vSelf = []float32{1, 2, 3}
	s.cacheSeqLen = 3

	s.ResetSelfAttentionCache()
	is.Equal(len(s.kSelf), 0)
	is.Equal(len(s.vSelf), 0)
	is.Equal(s.cacheSeqLen, 0)
}
