package plugin

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Plugin is the contract every prediction algorithm satisfies. The manager is
// the only caller; it guarantees Predict is never invoked before a successful
// Initialize nor after Cleanup.
type Plugin interface {
	// Metadata returns the static descriptor of the implementation.
	Metadata() Metadata
	// Initialize prepares the plugin using its configuration bundle.
	Initialize(ctx context.Context, cfg PluginConfig) error
	// ValidateParameters rejects unusable parameters with a validation error
	// naming the offending field (see NewValidationError).
	ValidateParameters(params PredictionParameters) error
	// CanHandleDataset reports whether size records fall within the range
	// the plugin supports.
	CanHandleDataset(size int) bool
	// Predict runs the algorithm. ctx is cancelled once the manager stops
	// waiting for the result; implementations should return promptly then.
	Predict(ctx context.Context, data []DrawRecord, params PredictionParameters) (*PredictionResult, error)
	// ResourceRequirements returns the declared, advisory resource needs.
	ResourceRequirements() ResourceRequirements
	// Cleanup releases everything acquired by Initialize.
	Cleanup(ctx context.Context) error
	// Reset drops per-execution state so the plugin can run again.
	Reset() error
}

// SchemaProvider is implemented by plugins that describe their
// algorithm_params with a JSON schema.
type SchemaProvider interface {
	ParameterSchema() map[string]any
}

// Base implements the descriptor-driven parts of Plugin and is meant to be
// embedded by implementations.
type Base struct {
	Meta         Metadata
	Requirements ResourceRequirements
}

// Metadata implements Plugin.
func (b *Base) Metadata() Metadata { return b.Meta.Clone() }

// CanHandleDataset implements Plugin using the descriptor's size range.
func (b *Base) CanHandleDataset(size int) bool {
	return size >= b.Meta.MinDataSize && size <= b.Meta.MaxDataSize
}

// ResourceRequirements implements Plugin. Zero requirements fall back to
// DefaultRequirements.
func (b *Base) ResourceRequirements() ResourceRequirements {
	if b.Requirements == (ResourceRequirements{}) {
		return DefaultRequirements()
	}
	return b.Requirements
}

// ExecutionContext describes one in-flight execution. It never outlives the
// Execute call that created it.
type ExecutionContext struct {
	ID            string               `json:"id"`
	PluginID      string               `json:"plugin_id"`
	Params        PredictionParameters `json:"params"`
	DatasetSize   int                  `json:"dataset_size"`
	StartedAt     time.Time            `json:"started_at"`
	Timeout       time.Duration        `json:"timeout"`
	MemoryLimitMB uint64               `json:"memory_limit_mb"`

	cancel context.CancelCauseFunc
}

// Elapsed returns the time spent since the execution started.
func (c *ExecutionContext) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}

// Clone returns a copy that is safe to hand to callers.
func (c *ExecutionContext) Clone() ExecutionContext {
	dup := *c
	dup.cancel = nil
	return dup
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithRegistry shares an existing descriptor catalog with the manager.
func WithRegistry(registry *Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithMetrics shares an existing metrics collector with the manager.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithMetricsSink forwards execution events to an additional sink.
func WithMetricsSink(sink MetricsSink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
}

// WithConfigProvider overrides where per-plugin configuration comes from.
func WithConfigProvider(provider ConfigProvider) Option {
	return func(m *Manager) {
		if provider != nil {
			m.configs = provider
		}
	}
}

// WithMonitor overrides the resource monitor.
func WithMonitor(monitor *ResourceMonitor) Option {
	return func(m *Manager) {
		if monitor != nil {
			m.monitor = monitor
		}
	}
}

// WithAdmissionGate overrides the concurrency gate.
func WithAdmissionGate(gate AdmissionGate) Option {
	return func(m *Manager) {
		if gate != nil {
			m.gate = gate
		}
	}
}

// WithPolicyEnforcer overrides how capability policies are checked.
func WithPolicyEnforcer(enforcer PolicyEnforcer) Option {
	return func(m *Manager) {
		if enforcer != nil {
			m.enforcer = enforcer
		}
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithAuditLogger sets the logger receiving execution outcomes. Without it
// outcomes go to the WithLogger logger, or to the process audit log when
// neither is set.
func WithAuditLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.audit = log
		}
	}
}

// WithTracer sets the tracer used to record execution spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}
