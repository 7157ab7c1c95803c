package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"go-imfit/internal/config"
	apperrors "go-imfit/internal/errors"
	"go-imfit/pkg/models"
)

type fakeService struct {
	shotID  string
	configs map[string]models.FitConfig
	persist bool
	err     error
	delay   time.Duration

	registered *models.Shot
	uploaded   models.CameraMetadata
	raw        []byte
}

func (f *fakeService) RegisterShot(ctx context.Context, shot *models.Shot) error {
	if f.err != nil {
		return f.err
	}
	f.registered = shot
	return nil
}

func (f *fakeService) UploadFrames(ctx context.Context, meta models.CameraMetadata, raw []byte) error {
	if f.err != nil {
		return f.err
	}
	f.uploaded, f.raw = meta, raw
	return nil
}

func (f *fakeService) GetShot(ctx context.Context, shotID string) (*models.Shot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if shotID == "" {
		shotID = "2024_03_01_17"
	}
	return &models.Shot{ID: shotID}, nil
}

func (f *fakeService) FitShot(ctx context.Context, shotID string, configs map[string]models.FitConfig, persist bool) (*models.ShotFitResponse, error) {
	f.shotID, f.configs, f.persist = shotID, configs, persist
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.ShotFitResponse{
		ShotID:    shotID,
		Fits:      models.FitReport{"side": {Params: map[string]float64{"A": 2.5}, Status: models.FunctionToleranceSatisfied}},
		Persisted: persist,
	}, nil
}

func (f *fakeService) Watch(ctx context.Context) error { return nil }

func (f *fakeService) DefaultConfigs() map[string]models.FitConfig {
	return map[string]models.FitConfig{"|0,0>": {Function: "Gaussian", Camera: "Side"}}
}

func testConfig() *config.Config {
	return &config.Config{
		RequestTimeout:     time.Second,
		FitTimeout:         time.Second,
		MaxRequestBodySize: 1024,
		MaxFrameUploadSize: 4096,
	}
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandler_Health(t *testing.T) {
	h := NewHandler(&fakeService{}, nil, testConfig())
	w := serve(h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"available"`) {
		t.Errorf("Unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestHandler_Shot(t *testing.T) {
	h := NewHandler(&fakeService{}, nil, testConfig())
	w := serve(h, http.MethodGet, "/shot?shot_id=2024_03_01_5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var shot models.Shot
	if err := json.Unmarshal(w.Body.Bytes(), &shot); err != nil || shot.ID != "2024_03_01_5" {
		t.Errorf("Unexpected shot %+v (%v)", shot, err)
	}
}

func TestHandler_FitGet(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc, nil, testConfig())
	w := serve(h, http.MethodGet, "/fit?shot_id=2024_03_01_5&update_db=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.shotID != "2024_03_01_5" || !svc.persist || svc.configs != nil {
		t.Errorf("Unexpected service call %+v", svc)
	}

	var resp models.ShotFitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if resp.Fits["side"].Params["A"] != 2.5 || resp.Fits["side"].Status != models.FunctionToleranceSatisfied {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestHandler_FitPost(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc, nil, testConfig())
	body := `{"side": {"function": "Gaussian", "camera": "Side", "params": {"A": [1, 0, 5], "theta": 0}}}`
	w := serve(h, http.MethodPost, "/fit?shot_id=2024_03_01_5", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	side, ok := svc.configs["side"]
	if !ok || side.Function != "Gaussian" || side.Params["A"] != models.FreeParam(1, 0, 5) || svc.persist {
		t.Errorf("Unexpected configs %+v persist=%v", svc.configs, svc.persist)
	}
}

func TestHandler_FitErrors(t *testing.T) {
	tests := []struct {
		name     string
		svc      *fakeService
		method   string
		target   string
		body     string
		wantCode int
		wantType string
	}{
		{"bad update_db", &fakeService{}, http.MethodGet, "/fit?update_db=maybe", "", http.StatusBadRequest, ""},
		{"bad json", &fakeService{}, http.MethodPost, "/fit", `{"side": [}`, http.StatusBadRequest, ""},
		{"validation", &fakeService{err: apperrors.NewValidationError("bad shot id", nil)}, http.MethodGet, "/fit?shot_id=x", "", http.StatusBadRequest, "validation"},
		{"missing parameter", &fakeService{err: apperrors.NewMissingParameterError("A", "Gaussian")}, http.MethodGet, "/fit", "", http.StatusBadRequest, "configuration"},
		{"not found", &fakeService{err: apperrors.NewNotFoundError("no shot", nil)}, http.MethodGet, "/shot", "", http.StatusNotFound, "not_found"},
		{"timeout", &fakeService{delay: 5 * time.Second}, http.MethodGet, "/fit", "", http.StatusGatewayTimeout, "timeout"},
		{"body too large", &fakeService{}, http.MethodPost, "/fit", `{"side": {"function": "` + strings.Repeat("x", 2048) + `"}}`, http.StatusBadRequest, ""},
		{"client went away", &fakeService{err: context.Canceled}, http.MethodGet, "/fit", "", statusClientClosedRequest, ""},
		{"unclassified", &fakeService{err: errors.New("boom")}, http.MethodGet, "/shot", "", http.StatusInternalServerError, ""},
		{"wrapped deadline", &fakeService{err: apperrors.NewNetworkError("fetch failed", context.DeadlineExceeded)}, http.MethodGet, "/fit", "", http.StatusGatewayTimeout, "timeout"},
		{"shot bad json", &fakeService{}, http.MethodPost, "/shot", `{"id": 5}`, http.StatusBadRequest, ""},
		{"shot rejected", &fakeService{err: apperrors.NewValidationError("bad shot id", nil)}, http.MethodPost, "/shot", `{"id": "x"}`, http.StatusBadRequest, "validation"},
		{"frames without shape", &fakeService{}, http.MethodPut, "/frames/img?dtype=uint16", "", http.StatusBadRequest, ""},
		{"frames bad shape", &fakeService{}, http.MethodPut, "/frames/img?dtype=uint16&shape=2,x", "", http.StatusBadRequest, ""},
		{"frames read only", &fakeService{err: apperrors.NewConfigurationError("frame source does not accept uploads", nil)}, http.MethodPut, "/frames/img?shape=1,1,1", "", http.StatusBadRequest, "configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.svc, nil, testConfig())
			w := serve(h, tt.method, tt.target, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Bad error JSON: %v", err)
			}
			if resp.Type != tt.wantType {
				t.Errorf("Expected type %q, got %q", tt.wantType, resp.Type)
			}
			if resp.Message == "" {
				t.Error("Expected an error message")
			}
		})
	}
}

func TestHandler_RegisterShot(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc, nil, testConfig())
	body := `{"id": "2024_03_01_9", "images": {"Side": {"image_id": "side-9", "dtype": "uint16", "shape": [3, 4, 5]}}}`
	w := serve(h, http.MethodPost, "/shot", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if svc.registered == nil || svc.registered.ID != "2024_03_01_9" || svc.registered.Cameras["Side"].ImageID != "side-9" {
		t.Errorf("Unexpected registered shot %+v", svc.registered)
	}
}

func TestHandler_UploadFrames(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		bodyLen   int
		wantCode  int
		wantShape []int
	}{
		{"three dimensional", "/frames/side-9?dtype=uint16&shape=3,4,5", 120, http.StatusCreated, []int{3, 4, 5}},
		{"spaces in shape", "/frames/side-9?dtype=%3Cu2&shape=1,+2,+2", 8, http.StatusCreated, []int{1, 2, 2}},
		{"larger than the upload limit", "/frames/side-9?dtype=uint16&shape=1,64,64", 8192, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			h := NewHandler(svc, nil, testConfig())
			req := httptest.NewRequest(http.MethodPut, tt.target, bytes.NewReader(make([]byte, tt.bodyLen)))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantShape == nil {
				return
			}
			if svc.uploaded.ImageID != "side-9" || len(svc.raw) != tt.bodyLen || !reflect.DeepEqual(svc.uploaded.Shape, tt.wantShape) {
				t.Errorf("Unexpected upload %+v (%d bytes)", svc.uploaded, len(svc.raw))
			}
		})
	}
}

func TestHandler_DefaultsAndMetrics(t *testing.T) {
	metrics := func() map[string]interface{} {
		return map[string]interface{}{"fits_completed": 3}
	}
	h := NewHandler(&fakeService{}, metrics, testConfig())

	w := serve(h, http.MethodGet, "/fit/defaults", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"Gaussian"`) {
		t.Errorf("Unexpected defaults response %d %s", w.Code, w.Body.String())
	}

	w = serve(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"fits_completed":3`) {
		t.Errorf("Unexpected metrics response %d %s", w.Code, w.Body.String())
	}
}
