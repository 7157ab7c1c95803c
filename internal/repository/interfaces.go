package repository

import (
	"context"
	"time"

	"go-imfit/pkg/models"
)

// ShotRepository defines data access for shot records
type ShotRepository interface {
	// LoadShot returns the shot with the given ID. An empty ID selects the
	// most recent shot that has camera images attached.
	LoadShot(ctx context.Context, id string) (*models.Shot, error)

	// SaveShot inserts or replaces a shot record
	SaveShot(ctx context.Context, shot *models.Shot) error

	// UpdateFits replaces the stored result of every fit named in report,
	// leaving the shot's other fits untouched.
	UpdateFits(ctx context.Context, id string, report models.FitReport) error

	// Watch streams changes to shots with images until ctx is done.
	Watch(ctx context.Context) <-chan ShotChange
}

// ChangeOp is the kind of a shot change
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
)

// ShotChange notifies that a shot with images was written
type ShotChange struct {
	ShotID string    `json:"shot_id"`
	Op     ChangeOp  `json:"op"`
	At     time.Time `json:"at"`
}

// ReportArchive stores persisted fit reports for offline analysis
type ReportArchive interface {
	Archive(ctx context.Context, shotID string, report models.FitReport, at time.Time) (string, error)
}
