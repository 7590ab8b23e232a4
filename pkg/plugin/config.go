package plugin

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxConcurrentExecutions = 4
	DefaultMaxCPUTimeSecs          = 30
	DefaultMaxMemoryMB             = 512
	DefaultAdmissionTimeout        = 5 * time.Second
)

// ManagerConfig describes how the plugin manager should behave.
type ManagerConfig struct {
	Limits   ResourceLimits          `yaml:"limits" json:"limits"`
	Defaults Policy                  `yaml:"defaults" json:"defaults"`
	Plugins  map[string]PluginConfig `yaml:"plugins" json:"plugins"`
}

// ResourceLimits bound what the manager admits. Zero values select defaults.
type ResourceLimits struct {
	MaxConcurrentExecutions int    `yaml:"maxConcurrentExecutions" json:"max_concurrent_executions"`
	MaxCPUTimeSecs          int    `yaml:"maxCpuTimeSecs" json:"max_cpu_time_secs"`
	MaxMemoryMB             uint64 `yaml:"maxMemoryMb" json:"max_memory_mb"`
	AdmissionTimeoutMs      int    `yaml:"admissionTimeoutMs" json:"admission_timeout_ms"`
	// RequireReset keeps Completed and Failed plugins out of service until
	// Reset is called explicitly instead of resetting them on next Execute.
	RequireReset bool `yaml:"requireReset" json:"require_reset"`
}

// WithDefaults fills every zero field with its default.
func (l ResourceLimits) WithDefaults() ResourceLimits {
	if l.MaxConcurrentExecutions <= 0 {
		l.MaxConcurrentExecutions = DefaultMaxConcurrentExecutions
	}
	if l.MaxCPUTimeSecs <= 0 {
		l.MaxCPUTimeSecs = DefaultMaxCPUTimeSecs
	}
	if l.MaxMemoryMB == 0 {
		l.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if l.AdmissionTimeoutMs <= 0 {
		l.AdmissionTimeoutMs = int(DefaultAdmissionTimeout / time.Millisecond)
	}
	return l
}

// ExecutionTimeout is the deadline applied to a single Predict call.
func (l ResourceLimits) ExecutionTimeout() time.Duration {
	return time.Duration(l.MaxCPUTimeSecs) * time.Second
}

// AdmissionTimeout bounds how long Execute waits for a free slot.
func (l ResourceLimits) AdmissionTimeout() time.Duration {
	return time.Duration(l.AdmissionTimeoutMs) * time.Millisecond
}

// PluginConfig is the configuration bundle handed to Plugin.Initialize.
type PluginConfig struct {
	Enabled  *bool          `yaml:"enabled" json:"enabled,omitempty"`
	Settings map[string]any `yaml:"settings" json:"settings,omitempty"`
	// TimeoutMs shortens the global execution timeout for this plugin.
	TimeoutMs int           `yaml:"timeoutMs" json:"timeout_ms,omitempty"`
	Cache     CacheSettings `yaml:"cache" json:"cache"`
	Policy    *Policy       `yaml:"policy" json:"policy,omitempty"`
}

// CacheSettings control result caching for a plugin.
type CacheSettings struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	TTLSeconds int  `yaml:"ttlSeconds" json:"ttl_seconds"`
}

// TTL returns the cache TTL, defaulting to one hour.
func (c CacheSettings) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// IsEnabled reports whether the plugin should be loaded. Absent means yes.
func (c PluginConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Clone returns a copy whose settings map can be mutated freely.
func (c PluginConfig) Clone() PluginConfig {
	c.Settings = maps.Clone(c.Settings)
	if c.Policy != nil {
		p := c.Policy.clone()
		c.Policy = &p
	}
	return c
}

// Float reads a numeric setting, accepting the integer and float forms YAML
// and JSON decoders produce.
func (c PluginConfig) Float(key string, fallback float64) float64 {
	switch v := c.Settings[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return fallback
}

// Int reads an integer setting.
func (c PluginConfig) Int(key string, fallback int) int {
	switch v := c.Settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Bool reads a boolean setting.
func (c PluginConfig) Bool(key string, fallback bool) bool {
	if v, ok := c.Settings[key].(bool); ok {
		return v
	}
	return fallback
}

// ConfigProvider resolves the configuration bundle of a plugin.
type ConfigProvider interface {
	PluginConfig(id string) (PluginConfig, bool)
}

// PluginConfig implements ConfigProvider.
func (c ManagerConfig) PluginConfig(id string) (PluginConfig, bool) {
	cfg, ok := c.Plugins[id]
	if !ok {
		return PluginConfig{}, false
	}
	return cfg.Clone(), true
}

// LoadManagerConfig reads a YAML file into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	if c.Limits.MaxConcurrentExecutions < 0 {
		return errors.New("maxConcurrentExecutions cannot be negative")
	}
	if c.Limits.MaxCPUTimeSecs < 0 {
		return errors.New("maxCpuTimeSecs cannot be negative")
	}
	if c.Limits.AdmissionTimeoutMs < 0 {
		return errors.New("admissionTimeoutMs cannot be negative")
	}
	if err := c.Defaults.validate(); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	for id, plugin := range c.Plugins {
		if id == "" {
			return errors.New("plugin id cannot be empty")
		}
		if plugin.TimeoutMs < 0 {
			return fmt.Errorf("plugin %s timeoutMs cannot be negative", id)
		}
		if plugin.Policy != nil {
			if err := plugin.Policy.validate(); err != nil {
				return fmt.Errorf("plugin %s policy: %w", id, err)
			}
		}
	}
	return nil
}
