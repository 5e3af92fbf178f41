package domain

import (
	"fmt"

	"dario.cat/mergo"
)

// MergeParameters overlays params on defaults. Neither input is modified.
func MergeParameters(defaults, params map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(defaults)+len(params))
	for k, v := range defaults {
		merged[k] = v
	}

	if len(params) == 0 {
		return merged, nil
	}

	if err := mergo.Merge(&merged, params, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("merge stage parameters: %w", err)
	}
	return merged, nil
}

// ApplyDefaults fills every zero field of cfg from DefaultConfig.
func ApplyDefaults(cfg *Config) error {
	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return fmt.Errorf("apply config defaults: %w", err)
	}
	return nil
}
