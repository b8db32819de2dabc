package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads a runtime configuration file. Every stage runs in order: schema
// validation of the raw document, strict decoding, defaults, SIGRT_*
// environment overrides and semantic validation.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	cfg, err := Parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// LoadOptional is Load for a path that may not exist, in which case the
// defaults with environment overrides are returned.
func LoadOptional(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}
	return Parse(nil, os.LookupEnv)
}

// Parse decodes a configuration document. lookup resolves environment
// overrides; nil disables them.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(data)) > 0 {
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if raw != nil {
			if err := validateAgainstSchema(raw); err != nil {
				return nil, err
			}
		}

		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}
	cfg.Rendezvous.Dir = os.ExpandEnv(cfg.Rendezvous.Dir)
	cfg.Directory.Dir = os.ExpandEnv(cfg.Directory.Dir)

	cfg.ApplyDefaults()
	if lookup != nil {
		if err := cfg.ApplyEnv(lookup); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
