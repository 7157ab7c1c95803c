package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/pkg/models"
)

const fetchAttempts = 3

// HTTPFrameStore downloads raw frame buffers from GET {base}/{imageID}.
type HTTPFrameStore struct {
	baseURL string
	client  *http.Client
	backoff time.Duration
}

// HTTPOption configures an HTTPFrameStore
type HTTPOption func(*HTTPFrameStore)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPFrameStore) {
		s.client = c
	}
}

// WithBackoff sets the base delay between attempts. Attempt n waits n*d.
func WithBackoff(d time.Duration) HTTPOption {
	return func(s *HTTPFrameStore) {
		s.backoff = d
	}
}

func NewHTTPFrameStore(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPFrameStore {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// raw sensor buffers compress well
		DisableCompression:     false,
		MaxResponseHeaderBytes: 4096,
	}

	s := &HTTPFrameStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		backoff: time.Second,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPFrameStore) FetchStack(ctx context.Context, meta models.CameraMetadata) (frame.Stack, error) {
	target := s.baseURL + "/" + url.PathEscape(meta.ImageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid frame URL", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", "go-imfit/1.0")

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		raw, status, err := s.do(req)
		if err == nil {
			return decodeBlob(raw, meta)
		}
		lastErr = err

		// 4xx client errors are non-retryable
		if status >= 400 && status < 500 {
			if status == http.StatusNotFound {
				return nil, apperrors.NewNotFoundError(fmt.Sprintf("image %s not found", meta.ImageID), err)
			}
			return nil, apperrors.NewNetworkError("failed to fetch frames", err)
		}

		if attempt < fetchAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, apperrors.NewTimeoutError("frame fetch cancelled", ctx.Err())
			case <-time.After(time.Duration(attempt+1) * s.backoff):
			}
		}
	}
	return nil, apperrors.NewNetworkError(fmt.Sprintf("failed to fetch frames after %d attempts", fetchAttempts), lastErr)
}

// do performs one attempt and always closes the body.
func (s *HTTPFrameStore) do(req *http.Request) ([]byte, int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("reading body: %w", err)
		}
		return raw, resp.StatusCode, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, resp.StatusCode, fmt.Errorf("client error: status code %d", resp.StatusCode)
	default:
		return nil, resp.StatusCode, fmt.Errorf("server error: status code %d", resp.StatusCode)
	}
}
