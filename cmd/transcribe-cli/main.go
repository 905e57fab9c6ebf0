package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lattice-audio/transcribe-go/cmd/transcribe-cli/cmd"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Real-time speech transcription engine",
	Long: `transcribe runs the speech transcription engine against a WAV file, a
live websocket audio feed, or a LiveKit room.

Examples:
  transcribe file recording.wav --model-dir ./models
  transcribe serve --listen :8080 --model-dir ./models
  transcribe listen-room --url wss://my.livekit.host --room demo --model-dir ./models`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load")

	rootCmd.AddCommand(cmd.NewFileCmd())
	rootCmd.AddCommand(cmd.NewServeCmd())
	rootCmd.AddCommand(cmd.NewListenRoomCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())
}

func initConfig() {
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		if root := findProjectRoot(); root != "" {
			_ = godotenv.Load(filepath.Join(root, envFile))
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
