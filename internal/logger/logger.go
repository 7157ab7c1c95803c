package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

func init() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)

	// LOG_LEVEL accepts any logrus level name; unknown values fall back to info
	if err := SetLevel(os.Getenv("LOG_LEVEL")); err != nil {
		Logger.SetLevel(logrus.InfoLevel)
	}

	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
}

// SetLevel changes the global level. An empty name selects info.
func SetLevel(name string) error {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		Logger.SetLevel(logrus.InfoLevel)
		return nil
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	Logger.SetLevel(level)
	return nil
}

// SetOutput redirects all log output, e.g. to stderr for the CLI
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// WithFields creates a new entry with the given fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithField creates a new entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithError creates a new entry with an error field
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// ForShot creates an entry scoped to one shot
func ForShot(shotID string) *logrus.Entry {
	return Logger.WithField("shot_id", shotID)
}

func Info(msg string) {
	Logger.Info(msg)
}

func Error(msg string) {
	Logger.Error(msg)
}

func Debug(msg string) {
	Logger.Debug(msg)
}

func Warn(msg string) {
	Logger.Warn(msg)
}
