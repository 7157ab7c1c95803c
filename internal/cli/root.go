// Package cli implements the imfit command line tool.
package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"go-imfit/internal/logger"
)

func NewRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "imfit",
		Short: "Optical density and cloud fitting for absorption images",
		Long: `imfit computes optical density maps from raw absorption image stacks and
fits 2D cloud models (Gaussian, 3D Fermi-Dirac) to them.

It works on local raw frame files, prints fit reports as JSON and can inspect
archived parquet reports written by the fit service.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			logger.SetOutput(os.Stderr)
			return logger.SetLevel(logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")

	cmd.AddCommand(newFitCmd())
	cmd.AddCommand(newDefaultsCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newSimulateCmd())

	return cmd
}
