package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-imfit/internal/config"
	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/logger"
	"go-imfit/internal/service"
	"go-imfit/pkg/models"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// MetricsFunc returns a snapshot of service counters for /metrics
type MetricsFunc func() map[string]interface{}

func NewHandler(svc service.FitService, metrics MetricsFunc, cfg *config.Config) http.Handler {
	r := gin.New()

	r.Use(
		gin.Recovery(),
		requestLogger(),
		errorHandler(),
	)

	r.GET("/health", healthCheck)
	r.GET("/metrics", metricsHandler(metrics))

	api := r.Group("", requestSizeLimiter(cfg.MaxRequestBodySize))
	api.GET("/shot", getShot(svc, cfg))
	api.POST("/shot", registerShot(svc, cfg))
	api.GET("/fit", fitShot(svc, cfg))
	api.POST("/fit", fitShot(svc, cfg))
	api.GET("/fit/defaults", defaultConfigs(svc))

	r.PUT("/frames/:image_id", requestSizeLimiter(cfg.MaxFrameUploadSize), uploadFrames(svc, cfg))

	return r
}

func getShot(svc service.FitService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		shot, err := svc.GetShot(ctx, c.Query("shot_id"))
		if err != nil {
			_ = c.Error(err).SetMeta("failed to load shot")
			return
		}
		c.JSON(http.StatusOK, shot)
	}
}

// registerShot stores the shot record in the body. Shots with images are
// picked up by the watcher, so frames go up first.
func registerShot(svc service.FitService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		var shot models.Shot
		if err := c.ShouldBindJSON(&shot); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind).SetMeta("invalid shot")
			return
		}
		if err := svc.RegisterShot(ctx, &shot); err != nil {
			_ = c.Error(err).SetMeta("failed to register shot")
			return
		}
		c.JSON(http.StatusCreated, shot)
	}
}

// uploadFrames stores a raw frame buffer. dtype and shape describe its
// layout the same way a shot's camera metadata does.
func uploadFrames(svc service.FitService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		shape, err := parseShape(c.Query("shape"))
		if err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind).SetMeta("invalid shape")
			return
		}
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind).SetMeta("invalid frame body")
			return
		}
		meta := models.CameraMetadata{ImageID: c.Param("image_id"), Dtype: c.Query("dtype"), Shape: shape}
		if err := svc.UploadFrames(ctx, meta, raw); err != nil {
			_ = c.Error(err).SetMeta("failed to store frames")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"image_id": meta.ImageID, "shape": shape, "bytes": len(raw)})
	}
}

func parseShape(v string) ([]int, error) {
	if v == "" {
		return nil, errors.New("shape is required")
	}
	parts := strings.Split(v, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad dimension %q", p)
		}
		shape[i] = n
	}
	return shape, nil
}

// fitShot serves GET and POST /fit. POST bodies map fit names to configs;
// an empty body or a GET selects the default fits.
func fitShot(svc service.FitService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.FitTimeout)
		defer cancel()

		shotID := c.Query("shot_id")
		persist := false
		if v := c.Query("update_db"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				_ = c.Error(err).SetType(gin.ErrorTypeBind).SetMeta("invalid update_db")
				return
			}
			persist = b
		}

		var configs map[string]models.FitConfig
		if c.Request.Method == http.MethodPost {
			if err := c.ShouldBindJSON(&configs); err != nil && !errors.Is(err, io.EOF) {
				_ = c.Error(err).SetType(gin.ErrorTypeBind).SetMeta("invalid request format")
				return
			}
		}

		logger.WithFields(logrus.Fields{
			"shot_id":   shotID,
			"update_db": persist,
			"fits":      len(configs),
		}).Info("Processing fit request")

		resp, err := svc.FitShot(ctx, shotID, configs, persist)
		if err != nil {
			_ = c.Error(err).SetMeta("fit failed")
			return
		}

		logger.WithFields(logrus.Fields{
			"shot_id":            resp.ShotID,
			"fits":               len(resp.Fits),
			"failures":           len(resp.Errors),
			"processing_time_ms": time.Since(startTime).Milliseconds(),
		}).Info("Fit request completed")

		c.JSON(http.StatusOK, resp)
	}
}

func defaultConfigs(svc service.FitService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.DefaultConfigs())
	}
}

func metricsHandler(metrics MetricsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, metrics())
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// statusClientClosedRequest is reported when the caller went away first
const statusClientClosedRequest = 499

// errorHandler renders the last error a handler attached with c.Error.
// Handlers attach the error and its message as Meta and return.
func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		last := c.Errors.Last()
		message, _ := last.Meta.(string)
		if message == "" {
			message = "request processing failed"
		}
		err := last.Err
		if errors.Is(err, context.DeadlineExceeded) && !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
			err = apperrors.NewTimeoutError("request timed out", err)
		}
		code := determineStatusCode(err)
		if last.IsType(gin.ErrorTypeBind) {
			code = http.StatusBadRequest
		}
		respondError(c, code, message, err)
	}
}

func determineStatusCode(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, code int, message string, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	text := http.StatusText(code)
	if code == statusClientClosedRequest {
		text = "Client Closed Request"
	}
	resp := ErrorResponse{
		Error:   text,
		Message: fmt.Sprintf("%s: %v", message, err),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Type = string(appErr.Type)
	}
	c.AbortWithStatusJSON(code, resp)
}
