package plugin

import (
	"fmt"
	"slices"
	"time"
)

// Category represents the analytical family a plugin belongs to.
type Category string

const (
	CategoryStatistical     Category = "statistical"
	CategoryPatternAnalysis Category = "pattern_analysis"
	CategoryMachineLearning Category = "machine_learning"
	CategoryHybrid          Category = "hybrid"
	CategoryCustom          Category = "custom"
)

// Capability expresses an optional feature a plugin advertises.
type Capability string

const (
	CapabilityHotNumbers              Capability = "hot_numbers"
	CapabilityColdNumbers             Capability = "cold_numbers"
	CapabilityCompletePrediction      Capability = "complete_prediction"
	CapabilityProbabilityDistribution Capability = "probability_distribution"
	CapabilityTrendAnalysis           Capability = "trend_analysis"
	CapabilityMissingDataHandling     Capability = "missing_data_handling"
	CapabilityConfidenceIntervals     Capability = "confidence_intervals"
	CapabilityBatchProcessing         Capability = "batch_processing"
)

// MaxComplexityScore is the upper bound accepted for Metadata.ComplexityScore.
const MaxComplexityScore = 100

// Metadata is the immutable descriptor of a plugin implementation.
type Metadata struct {
	ID                     string        `json:"id"`
	Name                   string        `json:"name"`
	Description            string        `json:"description,omitempty"`
	Author                 string        `json:"author,omitempty"`
	Version                string        `json:"version"`
	Category               Category      `json:"category"`
	Tags                   []string      `json:"tags,omitempty"`
	Capabilities           []Capability  `json:"capabilities,omitempty"`
	MinDataSize            int           `json:"min_data_size"`
	MaxDataSize            int           `json:"max_data_size"`
	SupportedLotteryTypes  []string      `json:"supported_lottery_types,omitempty"`
	ComplexityScore        int           `json:"complexity_score"`
	EstimatedExecutionTime time.Duration `json:"estimated_execution_time"`
	AccuracyScore          *float64      `json:"accuracy_score,omitempty"`
	LastUpdated            time.Time     `json:"last_updated"`
}

// HasCapability reports whether the plugin advertises capability c.
func (m Metadata) HasCapability(c Capability) bool {
	return slices.Contains(m.Capabilities, c)
}

// HasTag reports whether tag is present in the descriptor.
func (m Metadata) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// SupportsLotteryType reports whether the plugin accepts draws of the given
// type. An empty support list means every type is accepted.
func (m Metadata) SupportsLotteryType(lotteryType string) bool {
	return len(m.SupportedLotteryTypes) == 0 || slices.Contains(m.SupportedLotteryTypes, lotteryType)
}

// Clone returns a deep copy so callers can never mutate registry state.
func (m Metadata) Clone() Metadata {
	m.Tags = slices.Clone(m.Tags)
	m.Capabilities = slices.Clone(m.Capabilities)
	m.SupportedLotteryTypes = slices.Clone(m.SupportedLotteryTypes)
	if m.AccuracyScore != nil {
		v := *m.AccuracyScore
		m.AccuracyScore = &v
	}
	return m
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateExecuting     State = "executing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StatePaused        State = "paused"
	StateShuttingDown  State = "shutting_down"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateUninitialized, StateInitializing, StateReady, StateExecuting,
		StateCompleted, StateFailed, StatePaused, StateShuttingDown:
		return true
	}
	return false
}

// Status is a State together with the failure reason, if any.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Failed builds the Failed(reason) status.
func Failed(reason string) Status {
	return Status{State: StateFailed, Reason: reason}
}

func (s Status) String() string {
	if s.Reason == "" {
		return string(s.State)
	}
	return fmt.Sprintf("%s(%s)", s.State, s.Reason)
}

// DrawRecord is one historical draw handed to plugins.
type DrawRecord struct {
	ID          int64          `json:"id"`
	LotteryType string         `json:"lottery_type"`
	Date        time.Time      `json:"date"`
	Numbers     []int          `json:"numbers"`
	Bonus       *int           `json:"bonus,omitempty"`
	Jackpot     *float64       `json:"jackpot,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PredictionParameters are the caller supplied knobs of one execution.
type PredictionParameters struct {
	PredictionCount     int            `json:"prediction_count"`
	HistoricalDataDays  int            `json:"historical_data_days"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	RandomSeed          *uint64        `json:"random_seed,omitempty"`
	AlgorithmParams     map[string]any `json:"algorithm_params,omitempty"`
}

// DefaultParameters mirrors the defaults used by the REST API and CLI.
func DefaultParameters() PredictionParameters {
	return PredictionParameters{
		PredictionCount:     1,
		HistoricalDataDays:  365,
		ConfidenceThreshold: 0.5,
	}
}

// Prediction is a single numeric selection with its confidence in [0, 1].
type Prediction struct {
	Numbers    []int    `json:"numbers"`
	Bonus      *int     `json:"bonus,omitempty"`
	Confidence float64  `json:"confidence"`
	Reasoning  []string `json:"reasoning,omitempty"`
	// Distribution holds one probability per candidate number, index 0 being
	// number 1. It sums to 1 when present.
	Distribution []float64      `json:"distribution,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ExecutionStats describes how an execution went.
type ExecutionStats struct {
	Duration         time.Duration  `json:"duration"`
	RecordsProcessed int            `json:"records_processed"`
	ErrorCount       int            `json:"error_count"`
	Usage            *ResourceUsage `json:"usage,omitempty"`
}

// PredictionResult is immutable once returned to the caller.
type PredictionResult struct {
	ExecutionID  string         `json:"execution_id"`
	PluginID     string         `json:"plugin_id"`
	Predictions  []Prediction   `json:"predictions"`
	Confidence   float64        `json:"confidence"`
	AnalysisData map[string]any `json:"analysis_data,omitempty"`
	Stats        ExecutionStats `json:"stats"`
	Warnings     []string       `json:"warnings,omitempty"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

func (r *PredictionResult) clone() *PredictionResult {
	dup := *r
	dup.Predictions = slices.Clone(r.Predictions)
	for i := range dup.Predictions {
		dup.Predictions[i].Numbers = slices.Clone(dup.Predictions[i].Numbers)
		dup.Predictions[i].Distribution = slices.Clone(dup.Predictions[i].Distribution)
	}
	dup.Warnings = slices.Clone(r.Warnings)
	if r.Stats.Usage != nil {
		usage := *r.Stats.Usage
		dup.Stats.Usage = &usage
	}
	return &dup
}

// NetworkAccess describes the network needs a plugin declares.
type NetworkAccess string

const (
	NetworkNone     NetworkAccess = "none"
	NetworkLocal    NetworkAccess = "local"
	NetworkExternal NetworkAccess = "external"
)

// ResourceRequirements are the declared needs of a plugin; advisory only.
type ResourceRequirements struct {
	MinMemoryMB         uint64        `json:"min_memory_mb"`
	RecommendedMemoryMB uint64        `json:"recommended_memory_mb"`
	MinCPUCores         int           `json:"min_cpu_cores"`
	RecommendedCPUCores int           `json:"recommended_cpu_cores"`
	DiskSpaceMB         uint64        `json:"disk_space_mb"`
	Network             NetworkAccess `json:"network"`
	GPURequired         bool          `json:"gpu_required"`
}

// DefaultRequirements is what plugin.Base reports when nothing is declared.
func DefaultRequirements() ResourceRequirements {
	return ResourceRequirements{
		MinMemoryMB:         64,
		RecommendedMemoryMB: 256,
		MinCPUCores:         1,
		RecommendedCPUCores: 2,
		DiskSpaceMB:         10,
		Network:             NetworkNone,
	}
}

// ResourceUsage is an approximation of what an execution consumed. All
// figures are non-negative; the estimated components grow with duration.
type ResourceUsage struct {
	Duration          time.Duration `json:"duration"`
	MemoryMB          float64       `json:"memory_mb"`
	CPUPercent        float64       `json:"cpu_percent"`
	DiskMB            float64       `json:"disk_mb"`
	NetworkBytes      uint64        `json:"network_bytes"`
	ProcessRSSMB      float64       `json:"process_rss_mb,omitempty"`
	ProcessCPUSeconds float64       `json:"process_cpu_seconds,omitempty"`
}
