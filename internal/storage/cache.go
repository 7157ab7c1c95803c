package storage

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/pkg/models"
)

const defaultSharedFetchTimeout = time.Minute

// CachedFrameStore keeps the most recently used stacks and collapses
// concurrent fetches of the same image into one call to the backend.
// Only fully decoded stacks are published.
type CachedFrameStore struct {
	backend      FrameStore
	cache        *lru.Cache[string, frame.Stack] // nil when retention is disabled
	fetchTimeout time.Duration

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheOption configures a CachedFrameStore
type CacheOption func(*CachedFrameStore)

// WithFetchTimeout bounds a shared backend fetch. The fetch is detached from
// the callers' contexts, so this is the only limit on how long it runs.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *CachedFrameStore) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// CacheStats is a snapshot of cache counters
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// NewCachedFrameStore wraps backend. A size of zero disables retention but
// still deduplicates in-flight fetches.
func NewCachedFrameStore(backend FrameStore, size int, opts ...CacheOption) *CachedFrameStore {
	c := &CachedFrameStore{
		backend:      backend,
		fetchTimeout: defaultSharedFetchTimeout,
	}
	if size > 0 {
		// only fails for a non-positive size
		c.cache, _ = lru.New[string, frame.Stack](size)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchStack returns the cached stack or joins the single in-flight fetch of
// it. Each caller waits under its own ctx; cancelling one caller does not
// fail the others.
func (c *CachedFrameStore) FetchStack(ctx context.Context, meta models.CameraMetadata) (frame.Stack, error) {
	if stack, ok := c.get(meta.ImageID); ok {
		c.hits.Add(1)
		return stack, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(meta.ImageID, func() (interface{}, error) {
		if stack, ok := c.get(meta.ImageID); ok {
			return stack, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		stack, err := c.backend.FetchStack(fetchCtx, meta)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Add(meta.ImageID, stack)
		}
		return stack, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(frame.Stack), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UploadStack checks that raw decodes as meta describes, forwards it to the
// backend and drops any cached stack under the same image ID.
func (c *CachedFrameStore) UploadStack(ctx context.Context, meta models.CameraMetadata, raw []byte) error {
	uploader, ok := c.backend.(FrameUploader)
	if !ok {
		return apperrors.NewConfigurationError("frame source does not accept uploads", nil)
	}
	if _, err := decodeBlob(raw, meta); err != nil {
		return err
	}
	if err := uploader.UploadStack(ctx, meta, raw); err != nil {
		return err
	}
	c.group.Forget(meta.ImageID)
	if c.cache != nil {
		c.cache.Remove(meta.ImageID)
	}
	return nil
}

func (c *CachedFrameStore) get(key string) (frame.Stack, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

// Len returns the number of retained stacks
func (c *CachedFrameStore) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func (c *CachedFrameStore) Stats() CacheStats {
	return CacheStats{Size: c.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}
