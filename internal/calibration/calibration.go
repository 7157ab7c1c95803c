// Package calibration holds the imaging calibration tables of the
// apparatus and the built-in fit configurations.
package calibration

import (
	"sort"
	"strings"

	apperrors "go-imfit/internal/errors"
	"go-imfit/pkg/models"
)

// CSat is the saturation count per imaging path and species for unbinned
// pixels. Rb values are scaled from K assuming identical optics; the
// vertical path has not been recalibrated recently.
var CSat = map[string]map[string]float64{
	"axial":    {"K": 2970, "KRb": 2970, "Rb": 2882},
	"side":     {"K": 2188, "KRb": 2188, "Rb": 2123},
	"vertical": {"K": 1400, "KRb": 1400, "Rb": 1359},
}

// PixelSizeUm is the object-plane pixel pitch of each imaging path in um
var PixelSizeUm = map[string]float64{
	"axial":    2.58,
	"side":     1.785,
	"vertical": 0.956,
}

// Efficiency is the transfer efficiency per species. Molecules are imaged
// after dissociation to K, so KRb carries the STIRAP and dissociation losses.
var Efficiency = map[string]float64{
	"K":   1,
	"Rb":  1,
	"KRb": 0.82 * 0.7,
}

// WavelengthM is the imaging wavelength per species in metres
var WavelengthM = map[string]float64{
	"K":   766.701e-9,
	"Rb":  780.241e-9,
	"KRb": 766.701e-9,
}

// Resolve fills zero calibration fields from the tables using the
// config's species and path. Explicit values always win. Configs naming
// neither are returned unchanged.
func Resolve(cfg models.FitConfig) (models.FitConfig, error) {
	if cfg.Species == "" && cfg.Path == "" {
		return cfg, nil
	}

	species, err := canonical("species", cfg.Species, keys(Efficiency))
	if err != nil {
		return cfg, err
	}
	path, err := canonical("imaging path", cfg.Path, keys(PixelSizeUm))
	if err != nil {
		return cfg, err
	}

	cal := cfg.Calibrations
	if species != "" {
		if cal.Eff == 0 {
			cal.Eff = Efficiency[species]
		}
		if cal.LambdaM == 0 {
			cal.LambdaM = WavelengthM[species]
		}
	}
	if path != "" {
		if cal.PxSizeUm == 0 {
			cal.PxSizeUm = PixelSizeUm[path]
		}
		if cal.CSat == 0 && species != "" {
			cal.CSat = CSat[path][species]
		}
	}
	cfg.Calibrations = cal
	return cfg, nil
}

// canonical matches name case-insensitively against known keys.
// An empty name resolves to the empty string.
func canonical(kind, name string, known []string) (string, error) {
	if name == "" {
		return "", nil
	}
	for _, k := range known {
		if strings.EqualFold(k, name) {
			return k, nil
		}
	}
	return "", apperrors.NewConfigurationError("unknown "+kind+" "+name, nil).
		WithDetails("known: " + strings.Join(known, ", "))
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
