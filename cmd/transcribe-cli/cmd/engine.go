package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/lattice-audio/transcribe-go/internal/onnxadapter"
	"github.com/lattice-audio/transcribe-go/internal/silerovad"
	"github.com/lattice-audio/transcribe-go/internal/speakerembed"
	"github.com/lattice-audio/transcribe-go/internal/tokenizer"
	"github.com/lattice-audio/transcribe-go/internal/transcribe"
	"github.com/lattice-audio/transcribe-go/internal/transcribe/batch"
	"github.com/lattice-audio/transcribe-go/internal/transcribe/streaming"
	"github.com/lattice-audio/transcribe-go/pkg/orchestrator"
)

// engineFlags holds the CLI flags shared by every subcommand that stands
// up a transcription engine.
type engineFlags struct {
	modelDir           string
	arch               string
	identifySpeakers   bool
	speakerThreshold   float32
	saveInputWavPath   string
	maxTokensPerSecond float32
}

func addEngineFlags(flags *pflag.FlagSet, f *engineFlags) {
	flags.StringVar(&f.modelDir, "model-dir", "./models", "directory containing the ONNX models and tokenizer")
	flags.StringVar(&f.arch, "arch", "base", "transcription model architecture: tiny, base, tiny-streaming, base-streaming, small-streaming, medium-streaming")
	flags.BoolVar(&f.identifySpeakers, "identify-speakers", true, "cluster segments by speaker voice-print")
	flags.Float32Var(&f.speakerThreshold, "speaker-threshold", 0.8, "cosine distance threshold for a new speaker cluster")
	flags.StringVar(&f.saveInputWavPath, "save-input-wav", "", "optional path to save the raw resampled input audio for debugging")
	flags.Float32Var(&f.maxTokensPerSecond, "max-tokens-per-second", orchestrator.DefaultOptions().MaxTokensPerSecond, "decode length bound: max generated tokens per second of audio (batch architectures only)")
}

func parseArch(name string) (transcribe.Arch, error) {
	switch name {
	case "tiny":
		return transcribe.ArchTiny, nil
	case "base":
		return transcribe.ArchBase, nil
	case "tiny-streaming":
		return transcribe.ArchTinyStreaming, nil
	case "base-streaming":
		return transcribe.ArchBaseStreaming, nil
	case "small-streaming":
		return transcribe.ArchSmallStreaming, nil
	case "medium-streaming":
		return transcribe.ArchMediumStreaming, nil
	default:
		return transcribe.ArchUnknown, fmt.Errorf("unknown architecture %q", name)
	}
}

// streamingTranscriber adapts streaming.Pipeline's per-segment API to
// pkg/orchestrator.Transcriber, which passes the VAD segment's duration
// alongside its audio; the streaming pipeline derives its own token budget
// from encoded frame count instead, so the duration argument is unused
// here.
type streamingTranscriber struct {
	pipeline *streaming.Pipeline
}

func (s streamingTranscriber) Transcribe(audio []float32, _ float32) (string, error) {
	return s.pipeline.TranscribeSegment(audio)
}

// buildEngine loads every ONNX model named in f.modelDir for the selected
// architecture and wires them into an Orchestrator. Directory layout:
//
//	<model-dir>/tokenizer.bin
//	<model-dir>/vad.onnx
//	<model-dir>/speaker_embedding.onnx             (if --identify-speakers)
//	<model-dir>/encoder.onnx, decoder.onnx         (non-streaming archs)
//	<model-dir>/frontend.onnx, encoder.onnx,
//	  adapter.onnx, cross_kv.onnx, decoder.onnx     (streaming archs)
func buildEngine(f *engineFlags, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	arch, err := parseArch(f.arch)
	if err != nil {
		return nil, err
	}

	tok, err := loadTokenizer(filepath.Join(f.modelDir, "tokenizer.bin"))
	if err != nil {
		return nil, err
	}

	vadModel, err := onnxadapter.LoadModel(filepath.Join(f.modelDir, "vad.onnx"), onnxadapter.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading VAD model: %w", err)
	}
	prober := silerovad.New(vadModel)

	var transcriber orchestrator.Transcriber
	if arch.IsStreaming() {
		transcriber, err = buildStreamingTranscriber(f.modelDir, arch, tok)
	} else {
		transcriber, err = buildBatchTranscriber(f.modelDir, arch, tok, f.maxTokensPerSecond)
	}
	if err != nil {
		return nil, err
	}

	var speakerEmbedder orchestrator.SpeakerEmbedder
	if f.identifySpeakers {
		speakerModel, err := onnxadapter.LoadModel(filepath.Join(f.modelDir, "speaker_embedding.onnx"), onnxadapter.LoadOptions{})
		if err != nil {
			return nil, fmt.Errorf("loading speaker embedding model: %w", err)
		}
		speakerEmbedder = speakerembed.New(speakerModel)
	}

	opts := orchestrator.DefaultOptions()
	opts.ModelArch = arch
	opts.ModelPath = f.modelDir
	opts.IdentifySpeakers = f.identifySpeakers
	opts.SpeakerIDClusterThreshold = f.speakerThreshold
	opts.SaveInputWavPath = f.saveInputWavPath
	opts.MaxTokensPerSecond = f.maxTokensPerSecond
	opts.LogORTRun = logger.Enabled(context.Background(), slog.LevelDebug)

	return orchestrator.New(opts, prober, transcriber, speakerEmbedder)
}

func buildBatchTranscriber(modelDir string, arch transcribe.Arch, tok *tokenizer.Tokenizer, maxTokensPerSecond float32) (orchestrator.Transcriber, error) {
	encoder, err := onnxadapter.LoadModel(filepath.Join(modelDir, "encoder.onnx"), onnxadapter.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading encoder model: %w", err)
	}
	decoder, err := onnxadapter.LoadModel(filepath.Join(modelDir, "decoder.onnx"), onnxadapter.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading decoder model: %w", err)
	}
	return batch.New(encoder, decoder, tok, arch, maxTokensPerSecond)
}

func buildStreamingTranscriber(modelDir string, arch transcribe.Arch, tok *tokenizer.Tokenizer) (orchestrator.Transcriber, error) {
	frontend, err := onnxadapter.LoadModel(filepath.Join(modelDir, "frontend.onnx"), onnxadapter.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading frontend model: %w", err)
	}
	encoder, err := onnxadapter.LoadModel(filepath.Join(modelDir, "encoder.onnx"), onnxadapter.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading encoder model: %w", err)
	}
	adapter, err := onnxadapter.LoadModel(filepath.Join(modelDir, "adapter.onnx"), onnxadapter.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading adapter model: %w", err)
	}
	crossKV, err := onnxadapter.LoadModel(filepath.Join(modelDir, "cross_kv.onnx"), onnxadapter.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading cross-KV model: %w", err)
	}
	decoder, err := onnxadapter.LoadModel(filepath.Join(modelDir, "decoder.onnx"), onnxadapter.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading decoder model: %w", err)
	}

	cfg, err := loadStreamingConfig(filepath.Join(modelDir, "streaming_config.json"))
	if err != nil {
		return nil, err
	}

	pipeline := streaming.New(cfg, frontend, encoder, adapter, crossKV, decoder, tok)
	return streamingTranscriber{pipeline: pipeline}, nil
}

// streamingConfigFile mirrors streaming_config.json's field names; the
// model's own dimensions, head counts, and special token ids live here
// rather than in a per-architecture Go table, since they vary by exported
// checkpoint.
type streamingConfigFile struct {
	EncoderDim      int   `json:"encoder_dim"`
	DecoderDim      int   `json:"decoder_dim"`
	Depth           int   `json:"depth"`
	NHeads          int   `json:"nheads"`
	HeadDim         int   `json:"head_dim"`
	VocabSize       int   `json:"vocab_size"`
	BOSID           int64 `json:"bos_id"`
	EOSID           int64 `json:"eos_id"`
	FrameLen        int   `json:"frame_len"`
	TotalLookahead  int   `json:"total_lookahead"`
	DModelFrontend  int   `json:"d_model_frontend"`
	C1              int   `json:"c1"`
	C2              int   `json:"c2"`
	MaxSeqLen       int   `json:"max_seq_len"`
}

func loadStreamingConfig(path string) (streaming.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return streaming.Config{}, fmt.Errorf("reading streaming config %s: %w", path, err)
	}
	var raw streamingConfigFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return streaming.Config{}, fmt.Errorf("parsing streaming config %s: %w", path, err)
	}
	return streaming.Config{
		EncoderDim:     raw.EncoderDim,
		DecoderDim:     raw.DecoderDim,
		Depth:          raw.Depth,
		NHeads:         raw.NHeads,
		HeadDim:        raw.HeadDim,
		VocabSize:      raw.VocabSize,
		BOSID:          raw.BOSID,
		EOSID:          raw.EOSID,
		FrameLen:       raw.FrameLen,
		TotalLookahead: raw.TotalLookahead,
		DModelFrontend: raw.DModelFrontend,
		C1:             raw.C1,
		C2:             raw.C2,
		MaxSeqLen:      raw.MaxSeqLen,
	}, nil
}

func loadTokenizer(path string) (*tokenizer.Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tokenizer %s: %w", path, err)
	}
	tok, err := tokenizer.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parsing tokenizer %s: %w", path, err)
	}
	return tok, nil
}
