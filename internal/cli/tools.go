package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/lipgloss/v2/table"
	"github.com/spf13/cobra"

	"go-imfit/internal/calibration"
	"go-imfit/internal/repository"
	"go-imfit/internal/storage"
	"go-imfit/pkg/models"
)

func newDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in fit configurations as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(calibration.DefaultsYAML())
			return err
		},
	}
}

func newReportCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report FILE.parquet",
		Short: "Show an archived fit report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := repository.ReadArchive(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("SHOT", "FIT", "STATUS", "KIND", "NAME", "VALUE")
			for _, r := range rows {
				t.Row(r.ShotID, r.Fit, r.Status, r.Kind, r.Name, fmt.Sprintf("%.6g", r.Value))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print rows as JSON")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var (
		stackPath string
		imageID   string
		container string
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a raw frame stack to Azure blob storage",
		Long: `Upload stores a raw frame stack under its image ID so the fit service can
fetch it with FRAME_SOURCE=azure. Credentials are read from
AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, key := os.Getenv("AZURE_STORAGE_ACCOUNT"), os.Getenv("AZURE_STORAGE_KEY")
			if account == "" || key == "" {
				return fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY must be set")
			}
			raw, err := os.ReadFile(stackPath)
			if err != nil {
				return fmt.Errorf("reading stack: %w", err)
			}
			store, err := storage.NewAzureFrameStore(account, key, container)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := store.UploadStack(ctx, models.CameraMetadata{ImageID: imageID}, raw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%d bytes) to %s\n", imageID, len(raw), container)
			return nil
		},
	}
	cmd.Flags().StringVar(&stackPath, "stack", "", "raw frame stack file (required)")
	cmd.Flags().StringVar(&imageID, "image-id", "", "blob name the service will look up (required)")
	cmd.Flags().StringVar(&container, "container", "frames", "blob container")
	_ = cmd.MarkFlagRequired("stack")
	_ = cmd.MarkFlagRequired("image-id")
	return cmd
}
