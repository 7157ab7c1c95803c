package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/fit"
	"go-imfit/internal/frame"
	"go-imfit/internal/logger"
	"go-imfit/internal/observer"
	"go-imfit/internal/repository"
	"go-imfit/pkg/models"
	"go-imfit/pkg/validation"
)

// FitService loads shots, fits them and publishes the results
type FitService interface {
	// GetShot returns a shot record; an empty ID selects the latest shot with images
	GetShot(ctx context.Context, shotID string) (*models.Shot, error)

	// FitShot applies configs (or the defaults when empty) to a shot. When
	// persist is set the report is stored, archived and announced.
	FitShot(ctx context.Context, shotID string, configs map[string]models.FitConfig, persist bool) (*models.ShotFitResponse, error)

	// RegisterShot stores a shot record. Watchers see shots with images, so
	// their frames should be uploaded first.
	RegisterShot(ctx context.Context, shot *models.Shot) error

	// UploadFrames stores the encoded frame stack described by meta
	UploadFrames(ctx context.Context, meta models.CameraMetadata, raw []byte) error

	// Watch fits every new shot with images using the defaults until ctx is done
	Watch(ctx context.Context) error

	DefaultConfigs() map[string]models.FitConfig
}

// Options tunes a fitService
type Options struct {
	PartialResults bool
	// Parallelism is the number of fits of one shot run concurrently
	Parallelism int
	// WatchTimeout bounds each fit triggered by Watch
	WatchTimeout time.Duration
}

type fitService struct {
	shots     repository.ShotRepository
	images    *repository.ImageLoader
	engine    *fit.Engine
	pool      *fit.WorkerPool
	publisher observer.Subject
	archive   repository.ReportArchive
	defaults  map[string]models.FitConfig
	exposure  *validation.ExposureValidator
	opts      Options
	now       func() time.Time
}

// NewFitService creates the service. archive may be nil. The pool must be
// started by the caller and outlive the service.
func NewFitService(
	shots repository.ShotRepository,
	images *repository.ImageLoader,
	engine *fit.Engine,
	pool *fit.WorkerPool,
	publisher observer.Subject,
	archive repository.ReportArchive,
	defaults map[string]models.FitConfig,
	opts Options,
) FitService {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &fitService{
		shots:     shots,
		images:    images,
		engine:    engine,
		pool:      pool,
		publisher: publisher,
		archive:   archive,
		defaults:  defaults,
		exposure:  validation.NewExposureValidator(),
		opts:      opts,
		now:       time.Now,
	}
}

func (s *fitService) DefaultConfigs() map[string]models.FitConfig {
	out := make(map[string]models.FitConfig, len(s.defaults))
	for name, cfg := range s.defaults {
		out[name] = cfg.Clone()
	}
	return out
}

func (s *fitService) RegisterShot(ctx context.Context, shot *models.Shot) error {
	if shot == nil {
		return apperrors.NewValidationError("shot is required", nil)
	}
	if err := repository.ValidateShotID(shot.ID); err != nil {
		return err
	}
	for name, cam := range shot.Cameras {
		if cam.ImageID == "" {
			return apperrors.NewValidationError("camera "+name+" has no image_id", nil)
		}
		if _, err := cam.BinFactor(); err != nil {
			return apperrors.NewValidationError("camera "+name+" has invalid binning", err)
		}
	}
	if err := s.shots.SaveShot(ctx, shot); err != nil {
		return err
	}
	logger.ForShot(shot.ID).WithField("cameras", len(shot.Cameras)).Info("Shot registered")
	return nil
}

func (s *fitService) UploadFrames(ctx context.Context, meta models.CameraMetadata, raw []byte) error {
	if meta.ImageID == "" {
		return apperrors.NewValidationError("image_id is required", nil)
	}
	if err := s.images.UploadStack(ctx, meta, raw); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"image_id": meta.ImageID,
		"dtype":    meta.Dtype,
		"shape":    meta.Shape,
		"bytes":    len(raw),
	}).Info("Frames uploaded")
	return nil
}

func (s *fitService) GetShot(ctx context.Context, shotID string) (*models.Shot, error) {
	return s.shots.LoadShot(ctx, shotID)
}

type fitJobResult struct {
	report models.FitReport
	err    error
}

func (s *fitService) FitShot(ctx context.Context, shotID string, configs map[string]models.FitConfig, persist bool) (*models.ShotFitResponse, error) {
	start := s.now()
	if len(configs) == 0 {
		configs = s.DefaultConfigs()
	}

	shot, err := s.shots.LoadShot(ctx, shotID)
	if err != nil {
		return nil, err
	}
	log := logger.ForShot(shot.ID)

	images, err := s.loadImages(ctx, shot, configs)
	if err != nil {
		s.notify(ctx, observer.FitEvent{EventType: observer.ShotFailed, ShotID: shot.ID, ErrorMessage: err.Error()})
		return nil, err
	}

	s.notify(ctx, observer.FitEvent{
		EventType: observer.FitStarted,
		ShotID:    shot.ID,
		Metadata:  map[string]interface{}{"fits": len(configs)},
	})

	orch := s.orchestrator(ctx, shot.ID)
	done := make(chan fitJobResult, 1)
	if !s.pool.Submit(func() {
		report, err := orch.FitShotContext(ctx, images, shot, configs)
		done <- fitJobResult{report: report, err: err}
	}) {
		return nil, apperrors.NewInternalError("fit worker pool is closed", nil)
	}

	var res fitJobResult
	select {
	case res = <-done:
	case <-ctx.Done():
		s.notify(context.Background(), observer.FitEvent{EventType: observer.ShotFailed, ShotID: shot.ID, ErrorMessage: ctx.Err().Error()})
		return nil, apperrors.NewTimeoutError("fitting shot "+shot.ID+" did not finish", ctx.Err())
	}

	resp := &models.ShotFitResponse{ShotID: shot.ID, Fits: res.report, Warnings: s.checkExposure(log, images)}
	if res.err != nil {
		fse, ok := fit.AsFitShotError(res.err)
		if !ok {
			s.notify(ctx, observer.FitEvent{EventType: observer.ShotFailed, ShotID: shot.ID, ErrorMessage: res.err.Error()})
			return nil, res.err
		}
		resp.Errors = make(map[string]string, len(fse.Failures))
		for _, f := range fse.Failures {
			resp.Errors[f.Name] = f.Err.Error()
		}
	}

	if persist && len(resp.Fits) > 0 {
		if err := s.persist(ctx, resp); err != nil {
			return nil, err
		}
	}

	elapsed := s.now().Sub(start)
	resp.ProcessingTimeSec = elapsed.Seconds()
	resp.Timestamp = s.now().UTC().Format(time.RFC3339)

	log.WithFields(logrus.Fields{
		"fits":               len(resp.Fits),
		"failures":           len(resp.Errors),
		"persisted":          resp.Persisted,
		"processing_time_ms": elapsed.Milliseconds(),
	}).Info("Shot fitted")
	return resp, nil
}

// loadImages fetches the stacks of the cameras the configs refer to.
// Cameras the shot does not have are left for the orchestrator to report.
func (s *fitService) loadImages(ctx context.Context, shot *models.Shot, configs map[string]models.FitConfig) (map[string]frame.Stack, error) {
	if !shot.HasImages() {
		return nil, apperrors.NewNotFoundError("shot "+shot.ID+" has no images", repository.ErrShotNotFound)
	}

	wanted := map[string]struct{}{}
	for _, cfg := range configs {
		if _, ok := shot.Cameras[cfg.Camera]; ok {
			wanted[cfg.Camera] = struct{}{}
		}
	}
	cameras := make([]string, 0, len(wanted))
	for cam := range wanted {
		cameras = append(cameras, cam)
	}
	sort.Strings(cameras)

	if len(cameras) == 0 {
		return map[string]frame.Stack{}, nil
	}
	return s.images.LoadImages(ctx, shot, cameras...)
}

// checkExposure logs suspicious raw frames. Findings never stop a fit; the
// fit statuses already say whether the OD made sense.
func (s *fitService) checkExposure(log *logrus.Entry, images map[string]frame.Stack) []string {
	cameras := make([]string, 0, len(images))
	for cam := range images {
		cameras = append(cameras, cam)
	}
	sort.Strings(cameras)

	var warnings []string
	for _, cam := range cameras {
		for _, issue := range s.exposure.ValidateStack(images[cam]) {
			log.WithFields(logrus.Fields{
				"camera":    cam,
				"state":     issue.State,
				"issue":     issue.Type,
				"severity":  issue.Severity,
				"value":     issue.ActualValue,
				"threshold": issue.Threshold,
			}).Warn("Suspicious exposure")
			warnings = append(warnings, cam+": "+issue.Message)
		}
	}
	return warnings
}

func (s *fitService) orchestrator(ctx context.Context, shotID string) *fit.Orchestrator {
	opts := []fit.OrchestratorOption{
		fit.WithParallelism(s.opts.Parallelism),
		fit.WithHook(func(name string, cfg models.FitConfig, result *models.FitResult, elapsed time.Duration, err error) {
			event := observer.FitEvent{
				EventType: observer.FitCompleted,
				ShotID:    shotID,
				FitName:   name,
				Duration:  elapsed,
				Success:   err == nil,
				Metadata:  map[string]interface{}{"function": cfg.Function, "camera": cfg.Camera},
			}
			if err != nil {
				event.EventType = observer.FitFailed
				event.ErrorMessage = err.Error()
			} else {
				event.Metadata["status"] = result.Status.String()
			}
			s.notify(ctx, event)
		}),
	}
	if s.opts.PartialResults {
		opts = append(opts, fit.WithPartialResults())
	}
	return fit.NewOrchestrator(s.engine, opts...)
}

func (s *fitService) persist(ctx context.Context, resp *models.ShotFitResponse) error {
	if err := s.shots.UpdateFits(ctx, resp.ShotID, resp.Fits); err != nil {
		return err
	}
	resp.Persisted = true

	if s.archive != nil {
		path, err := s.archive.Archive(ctx, resp.ShotID, resp.Fits, s.now())
		if err != nil {
			// the shot record is already updated, so the archive is best effort
			logger.ForShot(resp.ShotID).WithError(err).Warn("Report archive failed")
		} else {
			resp.ArchivePath = path
		}
	}

	s.notify(ctx, observer.FitEvent{
		EventType: observer.ResultsAvailable,
		ShotID:    resp.ShotID,
		Success:   resp.Succeeded(),
		Metadata:  map[string]interface{}{"fits": len(resp.Fits)},
	})
	return nil
}

func (s *fitService) notify(ctx context.Context, event observer.FitEvent) {
	if s.publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.publisher.NotifyObservers(ctx, event)
}

// Watch handles changes one at a time so a burst of shots cannot occupy
// every pool worker and starve HTTP requests.
func (s *fitService) Watch(ctx context.Context) error {
	changes := s.shots.Watch(ctx)
	logger.Info("Watching for new shots")

	for change := range changes {
		fitCtx := ctx
		var cancel context.CancelFunc = func() {}
		if s.opts.WatchTimeout > 0 {
			fitCtx, cancel = context.WithTimeout(ctx, s.opts.WatchTimeout)
		}
		_, err := s.FitShot(fitCtx, change.ShotID, nil, true)
		cancel()

		log := logger.ForShot(change.ShotID).WithField("op", change.Op)
		switch {
		case err == nil:
			log.Debug("Watched shot fitted")
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return nil
		default:
			log.WithError(err).Error("Watched shot could not be fitted")
		}
	}
	return nil
}
