package repository

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/logger"
	"go-imfit/pkg/models"
)

var shotIDPattern = regexp.MustCompile(`^\d{4}_\d{2}_\d{2}_\d+$`)

// watchBuffer is the per-watcher channel capacity
const watchBuffer = 16

// ValidateShotID checks the YYYY_MM_DD_N shot ID format.
func ValidateShotID(id string) error {
	if !shotIDPattern.MatchString(id) {
		return apperrors.NewValidationError(fmt.Sprintf("shot id %q does not match YYYY_MM_DD_N", id), ErrInvalidShotID)
	}
	return nil
}

// MemoryShotRepository keeps shots in process and fans out changes to watchers.
type MemoryShotRepository struct {
	mu       sync.RWMutex
	shots    map[string]*models.Shot
	watchers map[chan ShotChange]struct{}
	now      func() time.Time
}

func NewMemoryShotRepository() *MemoryShotRepository {
	return &MemoryShotRepository{
		shots:    make(map[string]*models.Shot),
		watchers: make(map[chan ShotChange]struct{}),
		now:      time.Now,
	}
}

func (r *MemoryShotRepository) LoadShot(ctx context.Context, id string) (*models.Shot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id != "" {
		if err := ValidateShotID(id); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if id != "" {
		shot, ok := r.shots[id]
		if !ok {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("shot %s not found", id), ErrShotNotFound)
		}
		return cloneShot(shot), nil
	}

	var latest *models.Shot
	for _, s := range r.shots {
		if !s.HasImages() {
			continue
		}
		if latest == nil || s.Time.After(latest.Time) || (s.Time.Equal(latest.Time) && s.ID > latest.ID) {
			latest = s
		}
	}
	if latest == nil {
		return nil, apperrors.NewNotFoundError("no shot with images", ErrShotNotFound)
	}
	return cloneShot(latest), nil
}

func (r *MemoryShotRepository) SaveShot(ctx context.Context, shot *models.Shot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if shot == nil {
		return apperrors.NewValidationError("shot is nil", nil)
	}
	if err := ValidateShotID(shot.ID); err != nil {
		return err
	}

	r.mu.Lock()
	_, existed := r.shots[shot.ID]
	r.shots[shot.ID] = cloneShot(shot)
	r.mu.Unlock()

	if shot.HasImages() {
		op := ChangeInsert
		if existed {
			op = ChangeUpdate
		}
		r.publish(ShotChange{ShotID: shot.ID, Op: op, At: r.now()})
	}
	return nil
}

// UpdateFits does not notify watchers, so a watcher persisting its own
// results cannot trigger itself.
func (r *MemoryShotRepository) UpdateFits(ctx context.Context, id string, report models.FitReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateShotID(id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	shot, ok := r.shots[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("shot %s not found", id), ErrShotNotFound)
	}
	if shot.Fits == nil {
		shot.Fits = make(map[string]*models.FitResult, len(report))
	}
	for name, res := range report {
		shot.Fits[name] = cloneResult(res)
	}
	return nil
}

func (r *MemoryShotRepository) Watch(ctx context.Context) <-chan ShotChange {
	ch := make(chan ShotChange, watchBuffer)
	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers, ch)
		close(ch)
		r.mu.Unlock()
	}()
	return ch
}

// publish never blocks the writer; a watcher that falls behind loses changes.
func (r *MemoryShotRepository) publish(change ShotChange) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.watchers {
		select {
		case ch <- change:
		default:
			logger.ForShot(change.ShotID).Warn("Shot watcher is full, change dropped")
		}
	}
}

func cloneShot(s *models.Shot) *models.Shot {
	cp := *s
	if s.Cameras != nil {
		cp.Cameras = make(map[string]models.CameraMetadata, len(s.Cameras))
		for k, v := range s.Cameras {
			v.Shape = append([]int(nil), v.Shape...)
			cp.Cameras[k] = v
		}
	}
	if s.Fits != nil {
		cp.Fits = make(map[string]*models.FitResult, len(s.Fits))
		for k, v := range s.Fits {
			cp.Fits[k] = cloneResult(v)
		}
	}
	return &cp
}

func cloneResult(r *models.FitResult) *models.FitResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Params = cloneFloats(r.Params)
	cp.Derived = cloneFloats(r.Derived)
	return &cp
}

func cloneFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
