package cmd

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/lattice-audio/transcribe-go/pkg/ingest/wsaudio"
)

// NewServeCmd starts a websocket server that accepts raw float32 PCM audio
// frames and streams back transcript updates as JSON.
func NewServeCmd() *cobra.Command {
	flags := &engineFlags{}
	var listen string
	var sampleRate int

	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve live transcription over a websocket",
		RunE: func(c *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			engine, err := buildEngine(flags, logger)
			if err != nil {
				return err
			}

			server := wsaudio.NewServer(engine, sampleRate, logger)

			mux := http.NewServeMux()
			mux.Handle("/transcribe", server)

			logger.Info("listening", "addr", listen)
			return http.ListenAndServe(listen, mux)
		},
	}

	command.Flags().StringVar(&listen, "listen", ":8080", "address to listen on")
	command.Flags().IntVar(&sampleRate, "sample-rate", 16000, "sample rate of incoming PCM frames")
	addEngineFlags(command.Flags(), flags)
	return command
}
