package frame

import (
	"fmt"
	"image"
	"math"

	apperrors "go-imfit/internal/errors"
	"go-imfit/pkg/models"
)

// Roles used by the optical density transform.
const (
	RoleShadow = "shadow"
	RoleLight  = "light"
	RoleDark   = "dark"
)

// RoleFrame returns the exposure mapped to role in the stack.
func RoleFrame(stack Stack, roles map[string]int, role string) (Frame, error) {
	idx, ok := roles[role]
	if !ok {
		return Frame{}, apperrors.NewLookupError("frame role", role)
	}
	f, ok := stack.Frame(idx)
	if !ok {
		return Frame{}, apperrors.NewLookupError("frame index", role).
			WithDetails(fmt.Sprintf("stack has %d frames, role maps to %d", len(stack), idx))
	}
	return f, nil
}

// CropRole crops the exposure mapped to role.
func CropRole(stack Stack, cfg models.FitConfig, binning int, role string) (Frame, image.Rectangle, error) {
	f, err := RoleFrame(stack, cfg.Frames, role)
	if err != nil {
		return Frame{}, image.Rectangle{}, err
	}
	out, win := Crop(f, cfg.Region, binning)
	return out, win, nil
}

// EffectiveSaturation scales the calibrated saturation count to binned
// pixels. It grows with the square of the linear bin factor.
func EffectiveSaturation(csat float64, binning int) float64 {
	return csat * float64(binning*binning)
}

// OpticalDensity computes the saturation corrected optical density
//
//	OD = -ln(s1/s2) + (s2-s1)/Ceff,  s1 = shadow-dark, s2 = light-dark
//
// over the fit region. Pixels that evaluate to NaN or Inf are set to 0 so
// dead or saturated pixels do not poison the fit. A zero csat disables the
// correction term. The input stack is never modified.
func OpticalDensity(stack Stack, cfg models.FitConfig, binning int) (Frame, image.Rectangle, error) {
	csat := cfg.Calibrations.CSat
	if csat < 0 || math.IsNaN(csat) {
		return Frame{}, image.Rectangle{}, apperrors.NewConfigurationError("csat must not be negative", nil)
	}

	shadow, win, err := CropRole(stack, cfg, binning, RoleShadow)
	if err != nil {
		return Frame{}, image.Rectangle{}, err
	}
	light, _, err := CropRole(stack, cfg, binning, RoleLight)
	if err != nil {
		return Frame{}, image.Rectangle{}, err
	}
	dark, _, err := CropRole(stack, cfg, binning, RoleDark)
	if err != nil {
		return Frame{}, image.Rectangle{}, err
	}
	if light.Rows() != shadow.Rows() || dark.Rows() != shadow.Rows() ||
		light.Cols() != shadow.Cols() || dark.Cols() != shadow.Cols() {
		return Frame{}, image.Rectangle{}, apperrors.NewLookupError("frame shape", "shadow/light/dark").
			WithDetails("exposures differ in size")
	}

	ceff := EffectiveSaturation(csat, binning)
	od := New(shadow.Rows(), shadow.Cols())
	for r := 0; r < od.Rows(); r++ {
		for c := 0; c < od.Cols(); c++ {
			d := dark.At(r, c)
			s1 := shadow.At(r, c) - d
			s2 := light.At(r, c) - d
			v := -math.Log(s1 / s2)
			if ceff > 0 {
				v += (s2 - s1) / ceff
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			od.Set(r, c, v)
		}
	}
	return od, win, nil
}
