package plugin

import (
	"sort"
	"sync"
	"time"
)

// MetricsSink receives execution events from the manager.
type MetricsSink interface {
	RecordExecution(pluginID string, duration time.Duration, success bool, datasetSize int)
	RecordRejection(pluginID string, code string)
}

// PluginStats are the counters kept for a single plugin.
type PluginStats struct {
	PluginID       string        `json:"plugin_id"`
	Executions     uint64        `json:"executions"`
	Successes      uint64        `json:"successes"`
	Failures       uint64        `json:"failures"`
	Rejections     uint64        `json:"rejections"`
	TotalDuration  time.Duration `json:"total_duration"`
	LastDuration   time.Duration `json:"last_duration"`
	RecordsSeen    uint64        `json:"records_seen"`
	LastExecutedAt time.Time     `json:"last_executed_at"`
}

// AverageDuration is the mean execution time, zero before the first run.
func (s PluginStats) AverageDuration() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Executions)
}

// SuccessRate is the share of successful executions in [0, 1].
func (s PluginStats) SuccessRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Executions)
}

// Metrics aggregates per-plugin execution counters. It is safe for
// concurrent use.
type Metrics struct {
	mu      sync.RWMutex
	plugins map[string]*PluginStats
}

// NewMetrics returns an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{plugins: make(map[string]*PluginStats)}
}

func (m *Metrics) entry(pluginID string) *PluginStats {
	s, ok := m.plugins[pluginID]
	if !ok {
		s = &PluginStats{PluginID: pluginID}
		m.plugins[pluginID] = s
	}
	return s
}

// RecordExecution implements MetricsSink.
func (m *Metrics) RecordExecution(pluginID string, duration time.Duration, success bool, datasetSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(pluginID)
	s.Executions++
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
	s.TotalDuration += duration
	s.LastDuration = duration
	if datasetSize > 0 {
		s.RecordsSeen += uint64(datasetSize)
	}
	s.LastExecutedAt = time.Now()
}

// RecordRejection implements MetricsSink. Rejections are requests refused
// before Predict ran; they only bump the error counter.
func (m *Metrics) RecordRejection(pluginID string, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(pluginID).Rejections++
}

// Snapshot returns a copy of the counters of one plugin.
func (m *Metrics) Snapshot(pluginID string) (PluginStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.plugins[pluginID]
	if !ok {
		return PluginStats{PluginID: pluginID}, false
	}
	return *s, true
}

// All returns copies of every plugin's counters ordered by id.
func (m *Metrics) All() []PluginStats {
	m.mu.RLock()
	out := make([]PluginStats, 0, len(m.plugins))
	for _, s := range m.plugins {
		out = append(out, *s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// Totals aggregates the counters of every plugin.
func (m *Metrics) Totals() PluginStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total PluginStats
	for _, s := range m.plugins {
		total.Executions += s.Executions
		total.Successes += s.Successes
		total.Failures += s.Failures
		total.Rejections += s.Rejections
		total.TotalDuration += s.TotalDuration
		total.RecordsSeen += s.RecordsSeen
		if s.LastExecutedAt.After(total.LastExecutedAt) {
			total.LastExecutedAt = s.LastExecutedAt
			total.LastDuration = s.LastDuration
		}
	}
	return total
}

// Forget drops the counters of a plugin.
func (m *Metrics) Forget(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plugins, pluginID)
}
