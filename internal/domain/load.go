package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/eleven-am/orchestra/internal/xjson"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML or JSON config file and fills unset fields from
// DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorkflowDefinition reads a workflow definition from a YAML or JSON file.
func LoadWorkflowDefinition(path string) (*WorkflowDefinition, error) {
	def := &WorkflowDefinition{}
	if err := decodeFile(path, def); err != nil {
		return nil, err
	}
	return def, nil
}

func ParseWorkflowDefinition(data []byte, format string) (*WorkflowDefinition, error) {
	def := &WorkflowDefinition{}
	if err := decode(data, format, def); err != nil {
		return nil, err
	}
	return def, nil
}

func decodeFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return decode(data, strings.TrimPrefix(filepath.Ext(path), "."), out)
}

func decode(data []byte, format string, out interface{}) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
	default:
		return NewInvalidConfigError("format", "unsupported format "+format)
	}
	return nil
}
