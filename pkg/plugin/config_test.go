package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadManagerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	raw := `
limits:
  maxConcurrentExecutions: 2
  maxCpuTimeSecs: 10
  requireReset: true
defaults:
  deniedCapabilities: [batch_processing]
plugins:
  weighted_frequency:
    timeoutMs: 1500
    settings:
      decay_factor: 45
      weight_bonus: false
    cache:
      enabled: true
      ttlSeconds: 600
  neural_network:
    enabled: false
    policy:
      maxComplexityScore: 90
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadManagerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	limits := cfg.Limits.WithDefaults()
	if limits.MaxConcurrentExecutions != 2 || limits.ExecutionTimeout() != 10*time.Second || !limits.RequireReset {
		t.Fatalf("unexpected limits %+v", limits)
	}
	if limits.MaxMemoryMB != DefaultMaxMemoryMB || limits.AdmissionTimeout() != DefaultAdmissionTimeout {
		t.Fatalf("defaults not applied: %+v", limits)
	}

	freq, ok := cfg.PluginConfig("weighted_frequency")
	if !ok {
		t.Fatalf("expected weighted_frequency config")
	}
	if freq.Float("decay_factor", 30) != 45 || freq.Bool("weight_bonus", true) || freq.Int("missing", 7) != 7 {
		t.Fatalf("unexpected settings %+v", freq.Settings)
	}
	if !freq.Cache.Enabled || freq.Cache.TTL() != 10*time.Minute || freq.TimeoutMs != 1500 {
		t.Fatalf("unexpected plugin config %+v", freq)
	}
	neural, _ := cfg.PluginConfig("neural_network")
	if neural.IsEnabled() || neural.Policy == nil || neural.Policy.MaxComplexityScore != 90 {
		t.Fatalf("unexpected neural config %+v", neural)
	}
	if _, ok := cfg.PluginConfig("missing"); ok {
		t.Fatalf("expected missing config")
	}
}

func TestPluginConfigCloneIsIndependent(t *testing.T) {
	cfg := PluginConfig{Settings: map[string]any{"k": 1}, Policy: &Policy{DeniedCapabilities: []Capability{CapabilityHotNumbers}}}
	dup := cfg.Clone()
	dup.Settings["k"] = 2
	dup.Policy.DeniedCapabilities[0] = CapabilityColdNumbers
	if cfg.Settings["k"] != 1 || cfg.Policy.DeniedCapabilities[0] != CapabilityHotNumbers {
		t.Fatalf("clone shares state with original")
	}
}

func TestManagerConfigValidate(t *testing.T) {
	cases := map[string]ManagerConfig{
		"negative concurrency": {Limits: ResourceLimits{MaxConcurrentExecutions: -1}},
		"negative timeout":     {Plugins: map[string]PluginConfig{"a": {TimeoutMs: -5}}},
		"conflicting policy":   {Defaults: Policy{AllowedCapabilities: []Capability{CapabilityHotNumbers}, DeniedCapabilities: []Capability{CapabilityHotNumbers}}},
		"complexity bound":     {Plugins: map[string]PluginConfig{"a": {Policy: &Policy{MaxComplexityScore: 120}}}},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := LoadManagerConfig(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
