package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go-imfit/pkg/validation"
)

// Frame sources understood by FRAME_SOURCE
const (
	FrameSourceMemory = "memory"
	FrameSourceHTTP   = "http"
	FrameSourceAzure  = "azure"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	FitTimeout         time.Duration
	MaxRequestBodySize int64
	// MaxFrameUploadSize caps raw frame stacks sent to PUT /frames
	MaxFrameUploadSize int64

	// FitConfigPath points at a YAML or JSON fit set replacing the built-in defaults
	FitConfigPath  string
	PartialResults bool
	FitWorkers     int

	FrameSource       string
	FrameBaseURL      string
	FrameFetchTimeout time.Duration
	FrameCacheSize    int

	AzureStorageAccount   string
	AzureStorageKey       string
	AzureStorageContainer string

	ReportArchiveDir string
	WatchShots       bool
	NotifyBuffer     int
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		FitTimeout:         parseDurationOrDefault("FIT_TIMEOUT", 60*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 1024*1024), // 1MB
		MaxFrameUploadSize: parseIntOrDefault("MAX_FRAME_UPLOAD_SIZE", 256*1024*1024),

		FitConfigPath:  os.Getenv("FIT_CONFIG_PATH"),
		PartialResults: parseBoolOrDefault("PARTIAL_RESULTS", false),
		FitWorkers:     int(parseIntOrDefault("FIT_WORKERS", 0)),

		FrameSource:       strings.ToLower(getEnvOrDefault("FRAME_SOURCE", FrameSourceMemory)),
		FrameBaseURL:      os.Getenv("FRAME_BASE_URL"),
		FrameFetchTimeout: parseDurationOrDefault("FRAME_FETCH_TIMEOUT", 15*time.Second),
		FrameCacheSize:    int(parseIntOrDefault("FRAME_CACHE_SIZE", 32)),

		AzureStorageAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureStorageKey:       os.Getenv("AZURE_STORAGE_KEY"),
		AzureStorageContainer: getEnvOrDefault("AZURE_STORAGE_CONTAINER", "frames"),

		ReportArchiveDir: os.Getenv("REPORT_ARCHIVE_DIR"),
		WatchShots:       parseBoolOrDefault("WATCH_SHOTS", true),
		NotifyBuffer:     int(parseIntOrDefault("NOTIFY_BUFFER", 64)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and that the selected frame source is configured.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.MaxFrameUploadSize <= 0 {
		return fmt.Errorf("MAX_FRAME_UPLOAD_SIZE must be > 0 (got %d)", c.MaxFrameUploadSize)
	}
	if c.RequestTimeout <= 0 || c.FitTimeout <= 0 || c.FrameFetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fit=%s, fetch=%s)",
			c.RequestTimeout, c.FitTimeout, c.FrameFetchTimeout)
	}
	if c.FrameCacheSize < 0 {
		return fmt.Errorf("FRAME_CACHE_SIZE must be >= 0 (got %d)", c.FrameCacheSize)
	}
	if c.FitWorkers < 0 {
		return fmt.Errorf("FIT_WORKERS must be >= 0 (got %d)", c.FitWorkers)
	}
	if c.NotifyBuffer < 1 {
		return fmt.Errorf("NOTIFY_BUFFER must be > 0 (got %d)", c.NotifyBuffer)
	}

	switch c.FrameSource {
	case FrameSourceMemory:
	case FrameSourceHTTP:
		if c.FrameBaseURL == "" {
			return fmt.Errorf("FRAME_BASE_URL is required for FRAME_SOURCE=http")
		}
		if err := validation.NewURLValidator().ValidateBaseURL(c.FrameBaseURL); err != nil {
			return fmt.Errorf("invalid FRAME_BASE_URL: %w", err)
		}
	case FrameSourceAzure:
		if c.AzureStorageAccount == "" || c.AzureStorageKey == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY are required for FRAME_SOURCE=azure")
		}
	default:
		return fmt.Errorf("invalid FRAME_SOURCE: %q", c.FrameSource)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
