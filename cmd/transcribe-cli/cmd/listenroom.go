package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lattice-audio/transcribe-go/pkg/ingest/rtcaudio"
)

// NewListenRoomCmd joins a LiveKit room and transcribes every subscribed
// participant's audio track until interrupted.
func NewListenRoomCmd() *cobra.Command {
	flags := &engineFlags{}
	var url, apiKey, apiSecret, roomName, identity string

	command := &cobra.Command{
		Use:   "listen-room",
		Short: "Transcribe audio published in a LiveKit room",
		RunE: func(c *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			engine, err := buildEngine(flags, logger)
			if err != nil {
				return err
			}

			room := rtcaudio.NewRoom(engine, logger)
			defer room.Close()

			if err := room.Connect(rtcaudio.Options{
				URL:       url,
				APIKey:    apiKey,
				APISecret: apiSecret,
				RoomName:  roomName,
				Identity:  identity,
			}); err != nil {
				return err
			}

			logger.Info("connected", "room", roomName)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			return nil
		},
	}

	command.Flags().StringVar(&url, "url", "", "LiveKit server websocket URL")
	command.Flags().StringVar(&apiKey, "api-key", "", "LiveKit API key")
	command.Flags().StringVar(&apiSecret, "api-secret", "", "LiveKit API secret")
	command.Flags().StringVar(&roomName, "room", "", "LiveKit room name to join")
	command.Flags().StringVar(&identity, "identity", "transcriber", "participant identity to join as")
	addEngineFlags(command.Flags(), flags)
	return command
}
