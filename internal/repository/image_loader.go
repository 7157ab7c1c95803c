package repository

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/internal/storage"
	"go-imfit/pkg/models"
)

// ImageLoader fetches the frame stacks referenced by a shot.
type ImageLoader struct {
	store storage.FrameStore
}

func NewImageLoader(store storage.FrameStore) *ImageLoader {
	return &ImageLoader{store: store}
}

// LoadImages returns the stack of every requested camera, or of every
// camera in the shot when none is named. Cameras are fetched concurrently
// and the first failure cancels the rest.
func (l *ImageLoader) LoadImages(ctx context.Context, shot *models.Shot, cameras ...string) (map[string]frame.Stack, error) {
	if shot == nil || !shot.HasImages() {
		return nil, apperrors.NewNotFoundError("shot has no images", ErrShotNotFound)
	}

	if len(cameras) == 0 {
		cameras = make([]string, 0, len(shot.Cameras))
		for name := range shot.Cameras {
			cameras = append(cameras, name)
		}
		sort.Strings(cameras)
	}
	unique := make(map[string]struct{}, len(cameras))
	for _, name := range cameras {
		if _, ok := shot.Cameras[name]; !ok {
			return nil, apperrors.NewLookupError("camera", name)
		}
		unique[name] = struct{}{}
	}

	var mu sync.Mutex
	images := make(map[string]frame.Stack, len(cameras))

	g, gctx := errgroup.WithContext(ctx)
	for name := range unique {
		name := name
		meta := shot.Cameras[name]
		g.Go(func() error {
			stack, err := l.store.FetchStack(gctx, meta)
			if err != nil {
				return err
			}
			mu.Lock()
			images[name] = stack
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// UploadStack stores an encoded stack for a camera when the frame store
// accepts writes.
func (l *ImageLoader) UploadStack(ctx context.Context, meta models.CameraMetadata, raw []byte) error {
	uploader, ok := l.store.(storage.FrameUploader)
	if !ok {
		return apperrors.NewConfigurationError("frame source does not accept uploads", nil)
	}
	return uploader.UploadStack(ctx, meta, raw)
}
