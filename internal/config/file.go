package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file.
type FileConfig struct {
	// RestrictedSchemes replaces the built-in list of url schemes whose
	// pages cannot be scripted.
	RestrictedSchemes []string `yaml:"restricted_schemes"`
	// Presets are labels offered by titlectl.
	Presets []string `yaml:"presets"`
	// StartURLs are opened when titlesync launches the browser itself.
	StartURLs []string `yaml:"start_urls"`
}

// LoadFile reads and validates a YAML config file. A missing file yields an
// error satisfying os.IsNotExist.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("config file: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	for i, scheme := range cfg.RestrictedSchemes {
		scheme = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(scheme)), ":")
		if scheme == "" {
			return nil, fmt.Errorf("config file: restricted_schemes[%d] is empty", i)
		}
		cfg.RestrictedSchemes[i] = scheme
	}
	presets := cfg.Presets[:0]
	for _, p := range cfg.Presets {
		if p = strings.TrimSpace(p); p != "" {
			presets = append(presets, p)
		}
	}
	cfg.Presets = presets
	for i, u := range cfg.StartURLs {
		if strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("config file: start_urls[%d] is empty", i)
		}
	}
	return &cfg, nil
}

func (c *Config) apply(f *FileConfig) {
	if len(f.RestrictedSchemes) > 0 {
		c.RestrictedSchemes = f.RestrictedSchemes
	}
	c.Presets = f.Presets
	c.StartURLs = f.StartURLs
}
