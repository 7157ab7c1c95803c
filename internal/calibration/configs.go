package calibration

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"go-imfit/pkg/models"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultsYAML returns the built-in fit set as YAML.
func DefaultsYAML() []byte {
	return append([]byte(nil), defaultsYAML...)
}

// Defaults returns a fresh copy of the built-in fit set.
func Defaults() map[string]models.FitConfig {
	configs, err := ParseConfigs(defaultsYAML, ".yaml")
	if err != nil {
		panic(fmt.Sprintf("calibration: embedded defaults are invalid: %v", err))
	}
	return configs
}

// LoadConfigs reads a fit set from a YAML or JSON file.
func LoadConfigs(path string) (map[string]models.FitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fit configs: %w", err)
	}
	return ParseConfigs(data, filepath.Ext(path))
}

// ParseConfigs decodes a name -> FitConfig mapping. ext selects JSON for
// ".json" and YAML otherwise.
func ParseConfigs(data []byte, ext string) (map[string]models.FitConfig, error) {
	configs := make(map[string]models.FitConfig)
	var err error
	if strings.EqualFold(ext, ".json") {
		err = json.Unmarshal(data, &configs)
	} else {
		err = yaml.Unmarshal(data, &configs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode fit configs: %w", err)
	}
	for name, cfg := range configs {
		if cfg.Function == "" {
			return nil, fmt.Errorf("fit %q has no function", name)
		}
		if cfg.Camera == "" {
			return nil, fmt.Errorf("fit %q has no camera", name)
		}
	}
	return configs, nil
}
