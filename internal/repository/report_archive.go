package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	apperrors "go-imfit/internal/errors"
	"go-imfit/pkg/models"
)

// Row kinds in an archived report
const (
	KindParam   = "param"
	KindDerived = "derived"
	KindStat    = "stat"
)

// ReportRow is one flattened value of a fit report
type ReportRow struct {
	ShotID   string  `parquet:"shot_id"`
	Fit      string  `parquet:"fit"`
	Status   string  `parquet:"status"`
	Kind     string  `parquet:"kind"`
	Name     string  `parquet:"name"`
	Value    float64 `parquet:"value"`
	FittedAt int64   `parquet:"fitted_at_ms"`
}

// ParquetArchive writes one parquet file per persisted report into dir.
type ParquetArchive struct {
	dir string
}

func NewParquetArchive(dir string) (*ParquetArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.NewConfigurationError("cannot create report archive directory", err)
	}
	return &ParquetArchive{dir: dir}, nil
}

// Archive writes report and returns the file path.
func (a *ParquetArchive) Archive(ctx context.Context, shotID string, report models.FitReport, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rows := FlattenReport(shotID, report, at)
	name := fmt.Sprintf("%s_%s.parquet", shotID, at.UTC().Format("20060102T150405.000"))
	path := filepath.Join(a.dir, name)
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", apperrors.NewInternalError("writing report archive failed", err)
	}
	return path, nil
}

// ReadArchive loads the rows of an archived report
func ReadArchive(path string) ([]ReportRow, error) {
	rows, err := parquet.ReadFile[ReportRow](path)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("reading report archive %s failed", path), err)
	}
	return rows, nil
}

// FlattenReport turns a report into rows ordered by fit, kind, then name.
func FlattenReport(shotID string, report models.FitReport, at time.Time) []ReportRow {
	fits := make([]string, 0, len(report))
	for name := range report {
		fits = append(fits, name)
	}
	sort.Strings(fits)

	ms := at.UnixMilli()
	var rows []ReportRow
	for _, fit := range fits {
		res := report[fit]
		if res == nil {
			continue
		}
		row := ReportRow{ShotID: shotID, Fit: fit, Status: res.Status.String(), FittedAt: ms}
		add := func(kind string, values map[string]float64) {
			names := make([]string, 0, len(values))
			for n := range values {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				r := row
				r.Kind, r.Name, r.Value = kind, n, values[n]
				rows = append(rows, r)
			}
		}
		add(KindParam, res.Params)
		add(KindDerived, res.Derived)
		add(KindStat, map[string]float64{
			"cost":        res.Cost,
			"evaluations": float64(res.Evaluations),
			"r_squared":   res.RSquared,
		})
	}
	return rows
}
