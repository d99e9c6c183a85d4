// Configuration utilities and helpers
package config

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigBuilder provides a fluent interface for building configuration
type ConfigBuilder struct {
	manager *ConfigManager
	paths   []string
	watch   bool
}

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder(logger *zap.Logger) *ConfigBuilder {
	return &ConfigBuilder{manager: NewConfigManager(logger)}
}

// WithConfigPaths sets the configuration file paths
func (cb *ConfigBuilder) WithConfigPaths(paths ...string) *ConfigBuilder {
	cb.paths = paths
	return cb
}

// WithReloadCallback adds a reload callback
func (cb *ConfigBuilder) WithReloadCallback(callback ReloadCallback) *ConfigBuilder {
	cb.manager.AddReloadCallback(callback)
	return cb
}

// WithWatch enables hot-reload once the configuration is loaded.
func (cb *ConfigBuilder) WithWatch(enabled bool) *ConfigBuilder {
	cb.watch = enabled
	return cb
}

// Build loads the configuration and returns the manager
func (cb *ConfigBuilder) Build() (*ConfigManager, error) {
	if err := cb.manager.LoadConfig(cb.paths...); err != nil {
		return nil, fmt.Errorf("failed to build configuration: %w", err)
	}
	if cb.watch {
		if err := cb.manager.Watch(); err != nil {
			return nil, fmt.Errorf("failed to watch configuration: %w", err)
		}
	}
	return cb.manager, nil
}

// ValidateConfigFile loads filePath over the defaults and reports whether the
// result is valid.
func ValidateConfigFile(filePath string, logger *zap.Logger) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s", filePath)
	}

	manager := NewConfigManager(logger)
	defer manager.Close()
	if err := manager.LoadConfig(filePath); err != nil {
		return fmt.Errorf("failed to load configuration file: %w", err)
	}
	return nil
}

// ConfigDiff represents a difference between two configurations
type ConfigDiff struct {
	Path     string
	OldValue interface{}
	NewValue interface{}
}

// CompareConfigs returns the changed leaves, keyed by their dotted path and
// sorted by it. Credentials are compared in masked form.
func CompareConfigs(oldConfig, newConfig *Config) ([]ConfigDiff, error) {
	oldFlat, err := flatten(oldConfig)
	if err != nil {
		return nil, err
	}
	newFlat, err := flatten(newConfig)
	if err != nil {
		return nil, err
	}

	var diffs []ConfigDiff
	for path, ov := range oldFlat {
		nv, ok := newFlat[path]
		if !ok || !reflect.DeepEqual(ov, nv) {
			diffs = append(diffs, ConfigDiff{Path: path, OldValue: ov, NewValue: nv})
		}
	}
	for path, nv := range newFlat {
		if _, ok := oldFlat[path]; !ok {
			diffs = append(diffs, ConfigDiff{Path: path, NewValue: nv})
		}
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })
	return diffs, nil
}

func flatten(cfg *Config) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if cfg == nil {
		return out, nil
	}
	raw, err := Dump(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode config dump: %w", err)
	}
	flattenInto(out, "", tree)
	return out, nil
}

func flattenInto(out map[string]interface{}, prefix string, node map[string]interface{}) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]interface{}); ok {
			flattenInto(out, path, child)
			continue
		}
		out[path] = v
	}
}

// ConfigHealth represents the health status of configuration
type ConfigHealth struct {
	Healthy    bool      `json:"healthy"`
	LastReload time.Time `json:"last_reload"`
	Enabled    bool      `json:"enabled"`
	Issues     []string  `json:"issues,omitempty"`
}

// Health lists settings that load fine but are unlikely to be intended.
func (cm *ConfigManager) Health() ConfigHealth {
	cfg := cm.GetConfig()
	if cfg == nil {
		return ConfigHealth{Issues: []string{"configuration not loaded"}}
	}

	health := ConfigHealth{
		Healthy:    true,
		LastReload: cm.GetLastReloadTime(),
		Enabled:    cfg.Enabled,
	}
	if !cfg.Enabled {
		return health
	}
	if cfg.Counter.Enabled && len(cfg.Counter.WindowDurations) == 0 {
		health.Healthy = false
		health.Issues = append(health.Issues, "counter limiter enabled without windows")
	}
	if cfg.TokenBucket.Enabled && cfg.TokenBucket.RatePerSecond >= math.MaxInt32 {
		health.Issues = append(health.Issues, "token bucket rate left at the unlimited default")
	}
	if cfg.Counter.Enabled && cfg.Counter.DataSource == "local" {
		health.Issues = append(health.Issues, "local data source does not share counters between instances")
	}
	return health
}
