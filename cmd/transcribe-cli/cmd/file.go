package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lattice-audio/transcribe-go/pkg/ingest/wav"
)

// NewFileCmd transcribes a single WAV file end to end and prints the
// resulting transcript.
func NewFileCmd() *cobra.Command {
	flags := &engineFlags{}

	command := &cobra.Command{
		Use:   "file <path.wav>",
		Short: "Transcribe a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			reader, err := wav.NewReader(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer reader.Close()

			samples, sampleRate, err := reader.ReadAll()
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			engine, err := buildEngine(flags, logger)
			if err != nil {
				return err
			}

			transcript, err := engine.TranscribeWithoutStreaming(samples, sampleRate, 0)
			if err != nil {
				return fmt.Errorf("transcribing: %w", err)
			}

			for _, line := range transcript.Lines {
				speaker := ""
				if line.HasSpeakerID {
					speaker = fmt.Sprintf("[speaker %d] ", line.SpeakerIndex)
				}
				fmt.Printf("%s%.2fs-%.2fs: %s\n", speaker, line.StartTimeS, line.StartTimeS+line.DurationS, line.Text)
			}
			return nil
		},
	}

	addEngineFlags(command.Flags(), flags)
	return command
}
