package storage

import (
	"context"
	"fmt"
	"sync"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/pkg/models"
)

// FrameStore fetches the raw frame stack a camera recorded for a shot.
type FrameStore interface {
	FetchStack(ctx context.Context, meta models.CameraMetadata) (frame.Stack, error)
}

// FrameUploader accepts an encoded stack for meta.ImageID. Stores that can
// be written to implement it next to FrameStore.
type FrameUploader interface {
	UploadStack(ctx context.Context, meta models.CameraMetadata, raw []byte) error
}

// decodeBlob turns a downloaded buffer into a stack using the camera metadata.
func decodeBlob(raw []byte, meta models.CameraMetadata) (frame.Stack, error) {
	stack, err := frame.DecodeStack(raw, meta.Dtype, meta.Shape)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("image %s cannot be decoded", meta.ImageID), err)
	}
	return stack, nil
}

// MemoryFrameStore keeps decoded stacks in process. It backs the CLI and tests.
type MemoryFrameStore struct {
	mu     sync.RWMutex
	stacks map[string]frame.Stack
}

func NewMemoryFrameStore() *MemoryFrameStore {
	return &MemoryFrameStore{stacks: make(map[string]frame.Stack)}
}

// Put stores stack under imageID, replacing any previous entry.
func (m *MemoryFrameStore) Put(imageID string, stack frame.Stack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stacks[imageID] = stack
}

// PutRaw decodes raw according to meta and stores it.
func (m *MemoryFrameStore) PutRaw(meta models.CameraMetadata, raw []byte) error {
	stack, err := decodeBlob(raw, meta)
	if err != nil {
		return err
	}
	m.Put(meta.ImageID, stack)
	return nil
}

func (m *MemoryFrameStore) UploadStack(ctx context.Context, meta models.CameraMetadata, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.PutRaw(meta, raw)
}

func (m *MemoryFrameStore) FetchStack(ctx context.Context, meta models.CameraMetadata) (frame.Stack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stack, ok := m.stacks[meta.ImageID]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("image %s not found", meta.ImageID), nil)
	}
	return stack, nil
}
