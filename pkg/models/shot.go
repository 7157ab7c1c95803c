package models

import (
	"fmt"
	"time"
)

// CameraMetadata describes one camera's raw frame stack in a shot
type CameraMetadata struct {
	ImageID string `json:"image_id" yaml:"image_id"`
	Dtype   string `json:"dtype" yaml:"dtype"`
	Shape   []int  `json:"shape" yaml:"shape"`
	Binning [2]int `json:"binning" yaml:"binning"`
}

// BinFactor returns the binning factor, which must be equal in both axes.
func (c CameraMetadata) BinFactor() (int, error) {
	bx, by := c.Binning[0], c.Binning[1]
	if bx == 0 && by == 0 {
		return 1, nil
	}
	if bx != by {
		return 0, fmt.Errorf("binning %dx%d is not square", bx, by)
	}
	if bx < 1 {
		return 0, fmt.Errorf("binning must be positive, got %d", bx)
	}
	return bx, nil
}

// Shot is the metadata record of one experimental run
type Shot struct {
	ID      string                    `json:"id" yaml:"id"`
	Time    time.Time                 `json:"time" yaml:"time"`
	Cameras map[string]CameraMetadata `json:"images,omitempty" yaml:"images,omitempty"`
	Fits    map[string]*FitResult     `json:"fit,omitempty" yaml:"fit,omitempty"`
}

// HasImages reports whether any camera images are attached to the shot.
func (s *Shot) HasImages() bool {
	return len(s.Cameras) > 0
}
