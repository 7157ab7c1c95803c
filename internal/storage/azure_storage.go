package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/pkg/models"
)

// AzureFrameStore reads raw frame buffers stored as blobs named by image ID.
type AzureFrameStore struct {
	client    *azblob.Client
	container string
}

func NewAzureFrameStore(accountName, accountKey, container string) (*AzureFrameStore, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, apperrors.NewConfigurationError("invalid azure storage credentials", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, apperrors.NewConfigurationError("cannot create azure blob client", err)
	}

	return &AzureFrameStore{client: client, container: container}, nil
}

func (s *AzureFrameStore) FetchStack(ctx context.Context, meta models.CameraMetadata) (frame.Stack, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, meta.ImageID, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("image %s not found", meta.ImageID), err)
		}
		return nil, apperrors.NewNetworkError("download failed", err)
	}

	body := resp.Body
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, apperrors.NewNetworkError("reading blob failed", err)
	}
	return decodeBlob(raw, meta)
}

// UploadStack stores an encoded stack under meta.ImageID.
func (s *AzureFrameStore) UploadStack(ctx context.Context, meta models.CameraMetadata, raw []byte) error {
	if _, err := s.client.UploadBuffer(ctx, s.container, meta.ImageID, raw, nil); err != nil {
		return apperrors.NewNetworkError("upload failed", err)
	}
	return nil
}
