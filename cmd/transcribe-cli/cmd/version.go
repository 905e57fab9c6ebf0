package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lattice-audio/transcribe-go/pkg/version"
)

// NewVersionCmd prints build version information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(c *cobra.Command, args []string) error {
			fmt.Println(version.GetVersionInfo())
			return nil
		},
	}
}
