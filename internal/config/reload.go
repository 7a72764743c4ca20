package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileOverrides is the subset of Config that CONFIG_FILE may supply.
// Every field is a pointer so an absent key leaves the corresponding
// Config field untouched.
type fileOverrides struct {
	ColdThresholdHours *float64 `toml:"cold_threshold_hours" yaml:"cold_threshold_hours"`
	LogLevel           *string  `toml:"log_level" yaml:"log_level"`
}

// decodeOverridesFile accepts either a .yaml/.yml file (the format the
// teacher's own config.go loads, via config.yaml) or a .toml file (the
// format the teacher's formula converter emits). Extension picks the
// decoder; anything else is an error.
func decodeOverridesFile(path string) (*fileOverrides, error) {
	var o fileOverrides
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &o); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unrecognized CONFIG_FILE extension %q (want .yaml, .yml, or .toml)", filepath.Ext(path))
	}
	return &o, nil
}

// ApplyFileOverrides re-reads path and swaps in any reloadable field it
// sets, under mu. Only ColdThresholdHours is actually read anywhere after
// startup (by ColdThreshold, from the demotion ticker), so it is the only
// field this touches safely; LogLevel is decoded for parity with Load but
// has no live consumer and is intentionally left alone here.
func (c *Config) ApplyFileOverrides(path string) error {
	o, err := decodeOverridesFile(path)
	if err != nil {
		return err
	}
	if o.ColdThresholdHours == nil {
		return nil
	}
	c.mu.Lock()
	c.ColdThresholdHours = *o.ColdThresholdHours
	c.mu.Unlock()
	return nil
}
