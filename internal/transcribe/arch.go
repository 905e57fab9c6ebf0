// Package transcribe defines architecture-independent pieces shared by the
// batch and streaming transcribers: token constants and the fixed
// non-streaming architecture table.
package transcribe

// Arch identifies a transcription model architecture.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchTiny
	ArchBase
	ArchTinyStreaming
	ArchBaseStreaming
	ArchSmallStreaming
	ArchMediumStreaming
)

// IsStreaming reports whether arch uses the streaming frontend/encoder/
// adapter/decoder-KV pipeline rather than the single-pass batch encoder.
func (a Arch) IsStreaming() bool {
	switch a {
	case ArchTinyStreaming, ArchBaseStreaming, ArchSmallStreaming, ArchMediumStreaming:
		return true
	default:
		return false
	}
}

// DecoderStartToken and EOSToken are fixed across non-streaming
// architectures; streaming architectures read bos_id/eos_id from
// streaming_config.json instead (see streaming.Config).
const (
	DecoderStartToken int64 = 1
	EOSToken          int64 = 2
)

// NonStreamingParams holds the per-layer shape parameters needed to build
// zeroed KV-cache tensors for the first decode step. Read from a fixed
// table rather than the model file, since non-streaming ONNX exports don't
// carry this metadata the way streaming_config.json does.
type NonStreamingParams struct {
	Layers   int
	KVHeads  int
	HeadDim  int
}

// NonStreamingArchTable gives the fixed architecture parameters for the two
// non-streaming model sizes.
var NonStreamingArchTable = map[Arch]NonStreamingParams{
	ArchTiny: {Layers: 6, KVHeads: 8, HeadDim: 36},
	ArchBase: {Layers: 8, KVHeads: 8, HeadDim: 52},
}
