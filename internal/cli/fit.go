package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-imfit/internal/calibration"
	"go-imfit/internal/fit"
	"go-imfit/internal/frame"
	"go-imfit/internal/logger"
	"go-imfit/internal/repository"
	"go-imfit/internal/storage"
	"go-imfit/pkg/models"
	"go-imfit/pkg/validation"
)

type fitOptions struct {
	stackPath  string
	dtype      string
	shape      []int
	binning    int
	camera     string
	configPath string
	fits       []string
	shotID     string
	partial    bool
	workers    int
	archiveDir string
}

func newFitCmd() *cobra.Command {
	opts := fitOptions{}

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a raw frame stack and print the report as JSON",
		Long: `Fit reads a raw frame stack (frames x rows x cols, C order) from a file,
applies every fit config whose camera matches --camera and prints the
resulting report. Without --config the built-in default fits are used.`,
		Example: `  imfit fit --stack shot.raw --shape 6,400,500 --dtype uint16
  imfit fit --stack shot.raw --shape 3,512,512 --config fits.yaml --fit "|0,0>" --binning 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.stackPath, "stack", "", "raw frame stack file (required)")
	cmd.Flags().StringVar(&opts.dtype, "dtype", "uint16", "pixel type (numpy style, e.g. uint16, <u2, >f8)")
	cmd.Flags().IntSliceVar(&opts.shape, "shape", nil, "stack shape as frames,rows,cols (required)")
	cmd.Flags().IntVar(&opts.binning, "binning", 1, "camera binning factor")
	cmd.Flags().StringVar(&opts.camera, "camera", "Side", "camera name the stack was taken with")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML or JSON fit config file (default: built-in fits)")
	cmd.Flags().StringSliceVar(&opts.fits, "fit", nil, "only run the named fits")
	cmd.Flags().StringVar(&opts.shotID, "shot-id", "local", "shot ID recorded in the report")
	cmd.Flags().BoolVar(&opts.partial, "partial", false, "report successful fits when others fail")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "fits run concurrently")
	cmd.Flags().StringVar(&opts.archiveDir, "archive", "", "also write the report as parquet into this directory")
	_ = cmd.MarkFlagRequired("stack")
	_ = cmd.MarkFlagRequired("shape")

	return cmd
}

func runFit(cmd *cobra.Command, opts fitOptions) error {
	start := time.Now()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	configs, err := selectConfigs(opts)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(opts.stackPath)
	if err != nil {
		return fmt.Errorf("reading stack: %w", err)
	}
	meta := models.CameraMetadata{
		ImageID: opts.stackPath,
		Dtype:   opts.dtype,
		Shape:   opts.shape,
		Binning: [2]int{opts.binning, opts.binning},
	}
	store := storage.NewMemoryFrameStore()
	if err := store.PutRaw(meta, raw); err != nil {
		return err
	}
	stack, err := store.FetchStack(ctx, meta)
	if err != nil {
		return err
	}

	exposure := validation.NewExposureValidator()
	issues := exposure.ValidateStack(stack)
	for _, issue := range issues {
		logger.WithFields(logrus.Fields{"state": issue.State, "issue": issue.Type}).Warn(issue.Message)
	}

	shot := &models.Shot{ID: opts.shotID, Time: start, Cameras: map[string]models.CameraMetadata{opts.camera: meta}}
	orchOpts := []fit.OrchestratorOption{fit.WithParallelism(opts.workers)}
	if opts.partial {
		orchOpts = append(orchOpts, fit.WithPartialResults())
	}
	orch := fit.NewOrchestrator(fit.NewEngine(nil), orchOpts...)

	report, err := orch.FitShot(map[string]frame.Stack{opts.camera: stack}, shot, configs)
	resp := &models.ShotFitResponse{
		ShotID:   opts.shotID,
		Fits:     report,
		Warnings: exposure.ConvertIssuesToMessages(issues),
	}
	if err != nil {
		fse, ok := fit.AsFitShotError(err)
		if !ok {
			return err
		}
		resp.Errors = make(map[string]string, len(fse.Failures))
		for _, f := range fse.Failures {
			resp.Errors[f.Name] = f.Err.Error()
		}
	}

	if opts.archiveDir != "" && len(report) > 0 {
		archive, err := repository.NewParquetArchive(opts.archiveDir)
		if err != nil {
			return err
		}
		if resp.ArchivePath, err = archive.Archive(ctx, opts.shotID, report, start); err != nil {
			return err
		}
		resp.Persisted = true
	}

	resp.ProcessingTimeSec = time.Since(start).Seconds()
	resp.Timestamp = start.UTC().Format(time.RFC3339)

	logger.WithFields(logrus.Fields{
		"fits":     len(resp.Fits),
		"failures": len(resp.Errors),
	}).Info("Local fit finished")

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// selectConfigs loads the fit set and keeps the fits for the chosen camera
// and names.
func selectConfigs(opts fitOptions) (map[string]models.FitConfig, error) {
	all := calibration.Defaults()
	if opts.configPath != "" {
		var err error
		if all, err = calibration.LoadConfigs(opts.configPath); err != nil {
			return nil, err
		}
	}

	wanted := map[string]bool{}
	for _, name := range opts.fits {
		if _, ok := all[name]; !ok {
			return nil, fmt.Errorf("no fit named %q (have %v)", name, sortedNames(all))
		}
		wanted[name] = true
	}

	configs := make(map[string]models.FitConfig, len(all))
	for name, cfg := range all {
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		if cfg.Camera != opts.camera {
			logger.WithFields(logrus.Fields{"fit": name, "camera": cfg.Camera}).Debug("Skipping fit for another camera")
			continue
		}
		configs[name] = cfg
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no fits configured for camera %s", opts.camera)
	}
	return configs, nil
}

func sortedNames(m map[string]models.FitConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
