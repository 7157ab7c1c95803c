package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/pkg/models"
)

func testStack() (frame.Stack, models.CameraMetadata, []byte) {
	stack := frame.Stack{
		frame.FromSlice(2, 3, []float64{1, 2, 3, 4, 5, 6}),
		frame.FromSlice(2, 3, []float64{7, 8, 9, 10, 11, 12}),
	}
	raw, shape, err := frame.EncodeStack(stack, "<u2")
	if err != nil {
		panic(err)
	}
	meta := models.CameraMetadata{ImageID: "img-1", Dtype: "<u2", Shape: shape}
	return stack, meta, raw
}

func TestHTTPFrameStore_RetryLogic(t *testing.T) {
	tests := []struct {
		name          string
		responses     []int // Status codes to return in sequence
		expectRetries int
		expectError   bool
		errorContains string
		errorType     apperrors.ErrorType
	}{
		{
			name:          "Success on first attempt",
			responses:     []int{200},
			expectRetries: 1,
		},
		{
			name:          "Success on second attempt after 5xx",
			responses:     []int{500, 200},
			expectRetries: 2,
		},
		{
			name:          "404 is not found and not retried",
			responses:     []int{404},
			expectRetries: 1,
			expectError:   true,
			errorContains: "client error: status code 404",
			errorType:     apperrors.ErrorTypeNotFound,
		},
		{
			name:          "4xx after 5xx stops retrying",
			responses:     []int{500, 400},
			expectRetries: 2,
			expectError:   true,
			errorContains: "client error: status code 400",
			errorType:     apperrors.ErrorTypeNetwork,
		},
		{
			name:          "All 5xx errors exhaust attempts",
			responses:     []int{500, 502, 503},
			expectRetries: 3,
			expectError:   true,
			errorContains: "server error: status code 503",
			errorType:     apperrors.ErrorTypeNetwork,
		},
	}

	want, meta, raw := testStack()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestCount int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(atomic.AddInt32(&requestCount, 1)) - 1
				if r.URL.Path != "/frames/img-1" {
					t.Errorf("Unexpected path %s", r.URL.Path)
				}
				status := tt.responses[len(tt.responses)-1]
				if n < len(tt.responses) {
					status = tt.responses[n]
				}
				if status == http.StatusOK {
					w.Header().Set("Content-Type", "application/octet-stream")
					w.Write(raw)
					return
				}
				w.WriteHeader(status)
			}))
			defer server.Close()

			store := NewHTTPFrameStore(server.URL+"/frames/", 5*time.Second, WithBackoff(time.Millisecond))
			got, err := store.FetchStack(context.Background(), meta)

			if int(atomic.LoadInt32(&requestCount)) != tt.expectRetries {
				t.Errorf("Expected %d requests, got %d", tt.expectRetries, requestCount)
			}
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error containing %q, got %q", tt.errorContains, err.Error())
				}
				if !apperrors.IsType(err, tt.errorType) {
					t.Errorf("Expected %s error, got %v", tt.errorType, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != len(want) || got[1].At(1, 2) != 12 {
				t.Errorf("Decoded stack mismatch: %v", got)
			}
		})
	}
}

func TestHTTPFrameStore_BadPayload(t *testing.T) {
	_, meta, _ := testStack()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{1, 2, 3})
	}))
	defer server.Close()

	_, err := NewHTTPFrameStore(server.URL, time.Second).FetchStack(context.Background(), meta)
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestHTTPFrameStore_ContextCancelled(t *testing.T) {
	_, meta, _ := testStack()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewHTTPFrameStore(server.URL, time.Second, WithBackoff(time.Minute)).FetchStack(ctx, meta)
	if err == nil {
		t.Fatal("Expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Fetch ignored cancellation")
	}
}
