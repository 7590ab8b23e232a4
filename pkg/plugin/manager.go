package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xerrors "DrawSight/internal/errors"
	"DrawSight/pkg/logger"
)

const tracerName = "DrawSight/pkg/plugin"

var (
	errDeadline  = errors.New("execution deadline exceeded")
	errUnloading = errors.New("plugin is being unloaded")
)

// Manager owns loaded plugin instances and schedules their executions.
//
// Every registered id has a Status. Loaded instances can execute; parked
// instances were unloaded (or registered disabled) and can be loaded again.
// An instance is removed from the loaded table before its Cleanup runs, so
// no execution can observe a plugin that is being torn down.
type Manager struct {
	mu           sync.Mutex
	loaded       map[string]*instance
	parked       map[string]*instance
	states       map[string]Status
	active       map[string]*ExecutionContext
	shuttingDown bool

	// unloads counts cleanups deferred by finish; unloadErrs keeps their
	// failures for Shutdown.
	unloads    sync.WaitGroup
	unloadErrs []error

	registry *Registry
	metrics  *Metrics
	sinks    []MetricsSink
	configs  ConfigProvider
	monitor  *ResourceMonitor
	gate     AdmissionGate
	enforcer PolicyEnforcer
	limits   ResourceLimits
	defaults Policy
	log      *slog.Logger
	audit    *slog.Logger
	tracer   trace.Tracer
}

type instance struct {
	plugin        Plugin
	meta          Metadata
	config        PluginConfig
	unloadPending bool
}

// NewManager constructs a manager using the supplied configuration and options.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limits := cfg.Limits.WithDefaults()
	m := &Manager{
		loaded:   make(map[string]*instance),
		parked:   make(map[string]*instance),
		states:   make(map[string]Status),
		active:   make(map[string]*ExecutionContext),
		configs:  cfg,
		enforcer: CapabilityEnforcer{},
		limits:   limits,
		defaults: cfg.Defaults,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	if m.metrics == nil {
		m.metrics = NewMetrics()
	}
	if m.monitor == nil {
		sampler, _ := NewProcessSampler()
		m.monitor = NewResourceMonitor(sampler)
	}
	if m.gate == nil {
		m.gate = NewAdmissionGate(limits.MaxConcurrentExecutions)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	return m, nil
}

func (m *Manager) logger() *slog.Logger {
	if m.log == nil {
		return logger.Named("plugin")
	}
	return m.log
}

func (m *Manager) auditLogger() *slog.Logger {
	switch {
	case m.audit != nil:
		return m.audit
	case m.log != nil:
		return m.log
	default:
		return logger.Audit()
	}
}

// Registry returns the descriptor catalog used by the manager.
func (m *Manager) Registry() *Registry { return m.registry }

// Metrics returns the collector the manager reports to.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Limits returns the effective resource limits.
func (m *Manager) Limits() ResourceLimits { return m.limits }

func (m *Manager) pluginConfig(id string) PluginConfig {
	cfg, ok := m.configs.PluginConfig(id)
	if !ok {
		return PluginConfig{}
	}
	return cfg
}

// Register validates p, records its descriptor and initializes it. On
// success the plugin is Ready. Plugins disabled in configuration are
// recorded but stay Uninitialized until Load.
func (m *Manager) Register(ctx context.Context, p Plugin) error {
	if p == nil {
		return registrationError("plugin", "plugin implementation cannot be nil")
	}
	meta := p.Metadata()
	if err := ValidateMetadata(meta); err != nil {
		return err
	}
	id := meta.ID
	cfg := m.pluginConfig(id)
	policy := MergePolicies(m.defaults, cfg.Policy)
	if err := m.enforcer.Validate(meta, policy); err != nil {
		if xerrors.CodeOf(err) != CodeRegistration {
			err = xerrors.Wrap(CodeRegistration, err, fmt.Sprintf("plugin %s rejected by policy", id))
		}
		return err
	}

	inst := &instance{plugin: p, meta: meta, config: cfg}

	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return xerrors.New(CodeNotReady, "plugin manager is shutting down")
	}
	if m.hasInstanceLocked(id) {
		m.mu.Unlock()
		return registrationError("id", "plugin %s already registered", id)
	}
	// A descriptor without an instance comes from a persisted catalog.
	previous, persisted := m.registry.Get(id)
	if err := m.registry.Replace(meta); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.parked, id)
	if !cfg.IsEnabled() {
		m.parked[id] = inst
		m.states[id] = Status{State: StateUninitialized}
		m.mu.Unlock()
		m.logger().Info("plugin registered disabled", slog.String("plugin_id", id))
		return nil
	}
	m.states[id] = Status{State: StateInitializing}
	m.mu.Unlock()

	if err := p.Initialize(ctx, cfg.Clone()); err != nil {
		m.mu.Lock()
		delete(m.states, id)
		if persisted {
			_ = m.registry.Replace(previous)
		} else {
			_ = m.registry.Unregister(id)
		}
		m.mu.Unlock()
		return xerrors.Wrap(CodeRegistration, err, fmt.Sprintf("initialize plugin %s", id), xerrors.WithMetadata(fieldKey, "initialize"))
	}

	m.mu.Lock()
	m.loaded[id] = inst
	m.states[id] = Status{State: StateReady}
	m.mu.Unlock()

	m.logger().Info("plugin registered",
		slog.String("plugin_id", id),
		slog.String("version", meta.Version),
		slog.String("category", string(meta.Category)),
	)
	return nil
}

// hasInstanceLocked reports whether id is loaded or in transition. Parked
// instances can be replaced by registering a new implementation.
func (m *Manager) hasInstanceLocked(id string) bool {
	if _, ok := m.loaded[id]; ok {
		return true
	}
	st, ok := m.states[id]
	return ok && (st.State == StateInitializing || st.State == StateShuttingDown)
}

// Load initializes a parked plugin again. Loading an already loaded plugin
// is a no-op.
func (m *Manager) Load(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return xerrors.New(CodeNotReady, "plugin manager is shutting down")
	}
	if _, ok := m.loaded[id]; ok {
		m.mu.Unlock()
		return nil
	}
	inst, ok := m.parked[id]
	if !ok {
		m.mu.Unlock()
		return notFound(id)
	}
	delete(m.parked, id)
	m.states[id] = Status{State: StateInitializing}
	m.mu.Unlock()

	cfg := m.pluginConfig(id)
	err := inst.plugin.Initialize(ctx, cfg.Clone())

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.parked[id] = inst
		m.states[id] = Status{State: StateUninitialized}
		return xerrors.Wrap(CodeExecutionFailed, err, fmt.Sprintf("initialize plugin %s", id))
	}
	inst.config = cfg
	inst.unloadPending = false
	m.loaded[id] = inst
	m.states[id] = Status{State: StateReady}
	m.logger().Info("plugin loaded", slog.String("plugin_id", id))
	return nil
}

// Unload removes a plugin from service and runs its Cleanup. When the plugin
// is executing, in-flight executions are cancelled and the unload completes
// once the execution returns.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	inst, ok := m.loaded[id]
	if !ok {
		_, parked := m.parked[id]
		st, known := m.states[id]
		m.mu.Unlock()
		if parked || (known && st.State == StateShuttingDown) {
			return nil
		}
		return notFound(id)
	}
	if m.states[id].State == StateExecuting {
		inst.unloadPending = true
		for _, exec := range m.active {
			if exec.PluginID == id && exec.cancel != nil {
				exec.cancel(errUnloading)
			}
		}
		m.mu.Unlock()
		m.logger().Info("plugin unload deferred until execution finishes", slog.String("plugin_id", id))
		return nil
	}
	delete(m.loaded, id)
	m.states[id] = Status{State: StateShuttingDown}
	m.mu.Unlock()

	return m.cleanup(ctx, id, inst)
}

// cleanup runs after inst left the loaded table.
func (m *Manager) cleanup(ctx context.Context, id string, inst *instance) error {
	err := inst.plugin.Cleanup(ctx)

	m.mu.Lock()
	inst.unloadPending = false
	if _, stillRegistered := m.states[id]; stillRegistered {
		m.parked[id] = inst
		m.states[id] = Status{State: StateUninitialized}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger().Warn("plugin cleanup failed", slog.String("plugin_id", id), slog.Any("error", err))
		return xerrors.Wrap(CodeExecutionFailed, err, fmt.Sprintf("cleanup plugin %s", id))
	}
	m.logger().Info("plugin unloaded", slog.String("plugin_id", id))
	return nil
}

// Unregister unloads the plugin if needed and removes its descriptor.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	if st, ok := m.states[id]; ok && st.State == StateExecuting {
		m.mu.Unlock()
		return xerrors.New(CodeBusy, fmt.Sprintf("plugin %s is executing", id))
	}
	_, loaded := m.loaded[id]
	m.mu.Unlock()

	var cleanupErr error
	if loaded {
		cleanupErr = m.Unload(ctx, id)
	}

	m.mu.Lock()
	delete(m.parked, id)
	delete(m.states, id)
	m.mu.Unlock()

	if err := m.registry.Unregister(id); err != nil {
		return err
	}
	m.metrics.Forget(id)
	return cleanupErr
}

// Reset returns a Completed, Failed or Paused plugin to Ready.
func (m *Manager) Reset(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.loaded[id]
	if !ok {
		return notFound(id)
	}
	switch st := m.states[id]; st.State {
	case StateExecuting:
		return xerrors.New(CodeBusy, fmt.Sprintf("plugin %s is executing", id))
	case StateReady, StateCompleted, StateFailed, StatePaused:
		return m.resetLocked(id, inst)
	default:
		return xerrors.New(CodeNotReady, fmt.Sprintf("plugin %s cannot be reset from %s", id, st))
	}
}

func (m *Manager) resetLocked(id string, inst *instance) error {
	if err := inst.plugin.Reset(); err != nil {
		m.states[id] = Failed("reset: " + err.Error())
		return xerrors.Wrap(CodeExecutionFailed, err, fmt.Sprintf("reset plugin %s", id))
	}
	m.states[id] = Status{State: StateReady}
	return nil
}

// Pause takes a Ready plugin out of service without unloading it.
func (m *Manager) Pause(id string) error {
	return m.transition(id, StateReady, StatePaused)
}

// Resume puts a Paused plugin back into service.
func (m *Manager) Resume(id string) error {
	return m.transition(id, StatePaused, StateReady)
}

func (m *Manager) transition(id string, from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loaded[id]; !ok {
		return notFound(id)
	}
	st := m.states[id]
	if st.State == StateExecuting {
		return xerrors.New(CodeBusy, fmt.Sprintf("plugin %s is executing", id))
	}
	if st.State != from {
		return xerrors.New(CodeNotReady, fmt.Sprintf("plugin %s is %s, expected %s", id, st, from))
	}
	m.states[id] = Status{State: to}
	return nil
}

// State returns the lifecycle status of a registered plugin.
func (m *Manager) State(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return Status{}, notFound(id)
	}
	return st, nil
}

// Metadata returns the descriptor of a registered plugin.
func (m *Manager) Metadata(id string) (Metadata, error) {
	meta, ok := m.registry.Get(id)
	if !ok {
		return Metadata{}, notFound(id)
	}
	return meta, nil
}

// Plugin returns the loaded implementation for id. Callers must not invoke
// lifecycle methods on it; it is exposed for optional interfaces such as
// SchemaProvider.
func (m *Manager) Plugin(id string) (Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.loaded[id]
	if !ok {
		return nil, false
	}
	return inst.plugin, true
}

// PluginConfig returns the configuration bundle the plugin was loaded with.
func (m *Manager) PluginConfig(id string) (PluginConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.loaded[id]; ok {
		return inst.config.Clone(), true
	}
	if inst, ok := m.parked[id]; ok {
		return inst.config.Clone(), true
	}
	return PluginConfig{}, false
}

// Loaded returns the ids of loaded plugins in order.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ActiveExecutions returns a snapshot of the in-flight executions.
func (m *Manager) ActiveExecutions() []ExecutionContext {
	m.mu.Lock()
	out := make([]ExecutionContext, 0, len(m.active))
	for _, exec := range m.active {
		out = append(out, exec.Clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Execute runs one prediction on plugin id.
//
// The request is checked in order: the plugin must be loaded and Ready, the
// parameters and dataset size must be accepted by the plugin, and an
// admission slot must be obtained within the admission timeout. Predict then
// races against the execution timeout; a lost race returns a timeout error
// and the late result is discarded.
func (m *Manager) Execute(ctx context.Context, id string, data []DrawRecord, params PredictionParameters) (*PredictionResult, error) {
	ctx, span := m.tracer.Start(ctx, "plugin.Execute", trace.WithAttributes(
		attribute.String("plugin.id", id),
		attribute.Int("dataset.size", len(data)),
		attribute.Int("prediction.count", params.PredictionCount),
	))
	defer span.End()

	result, err := m.execute(ctx, id, data, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(xerrors.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("execution.id", result.ExecutionID),
		attribute.Float64("prediction.confidence", result.Confidence),
	)
	return result, nil
}

func (m *Manager) execute(ctx context.Context, id string, data []DrawRecord, params PredictionParameters) (*PredictionResult, error) {
	inst, err := m.checkout(id)
	if err != nil {
		m.reject(id, err)
		return nil, err
	}
	if err := inst.plugin.ValidateParameters(params); err != nil {
		err = asValidation(err)
		m.reject(id, err)
		return nil, err
	}
	if !inst.plugin.CanHandleDataset(len(data)) {
		err := NewValidationError("historical_data", "plugin %s cannot handle %d records (accepts %d to %d)",
			id, len(data), inst.meta.MinDataSize, inst.meta.MaxDataSize)
		m.reject(id, err)
		return nil, err
	}
	if err := m.admit(ctx); err != nil {
		m.reject(id, err)
		return nil, err
	}
	release := sync.OnceFunc(m.gate.Release)
	defer release()

	timeout := m.timeoutFor(inst)
	// waitCtx bounds how long the manager waits. pluginCtx is what Predict
	// sees; Unload cancels it without cutting the wait short, so Cleanup
	// never overlaps a Predict call that is still inside its deadline.
	waitCtx, cancelWait := context.WithTimeoutCause(ctx, timeout, errDeadline)
	defer cancelWait()
	pluginCtx, cancelPlugin := context.WithCancelCause(waitCtx)
	defer cancelPlugin(nil)

	exec := &ExecutionContext{
		ID:            uuid.NewString(),
		PluginID:      id,
		Params:        params,
		DatasetSize:   len(data),
		StartedAt:     time.Now(),
		Timeout:       timeout,
		MemoryLimitMB: m.limits.MaxMemoryMB,
		cancel:        cancelPlugin,
	}
	if err := m.begin(inst, exec); err != nil {
		m.reject(id, err)
		return nil, err
	}

	handle := m.monitor.Start(exec.ID)
	result, runErr := runPredict(waitCtx, pluginCtx, inst.plugin, data, params)
	var cause error
	if runErr != nil {
		switch {
		case waitCtx.Err() != nil:
			cause = context.Cause(waitCtx)
		case pluginCtx.Err() != nil:
			cause = context.Cause(pluginCtx)
		}
	}
	usage, _ := m.monitor.Stop(handle)
	cancelPlugin(nil)
	cancelWait()
	release()

	elapsed := time.Since(exec.StartedAt)
	if runErr == nil {
		result, runErr = m.decorate(exec, result, usage, elapsed)
	}
	status, err := classify(id, timeout, runErr, cause)
	m.finish(ctx, inst, exec, status, err, elapsed)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkout looks up a loaded plugin and verifies it can take an execution.
func (m *Manager) checkout(id string) (*instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuttingDown {
		return nil, xerrors.New(CodeNotReady, "plugin manager is shutting down")
	}
	inst, ok := m.loaded[id]
	if !ok {
		return nil, notFound(id)
	}
	switch st := m.states[id]; st.State {
	case StateReady:
		return inst, nil
	case StateExecuting:
		return nil, xerrors.New(CodeBusy, fmt.Sprintf("plugin %s is executing", id), xerrors.WithMetadata("plugin_id", id))
	case StateCompleted, StateFailed:
		// The implicit reset happens in begin, once admission succeeded.
		if !m.limits.RequireReset {
			return inst, nil
		}
		return nil, xerrors.New(CodeNotReady, fmt.Sprintf("plugin %s is %s and must be reset", id, st))
	default:
		return nil, xerrors.New(CodeNotReady, fmt.Sprintf("plugin %s is %s", id, st))
	}
}

func (m *Manager) admit(ctx context.Context) error {
	timeout := m.limits.AdmissionTimeout()
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.gate.Acquire(actx); err != nil {
		if ctx.Err() != nil {
			return xerrors.Wrap(CodeCancelled, ctx.Err(), "cancelled while waiting for an execution slot")
		}
		return xerrors.Wrap(CodeResourceExhausted, err, fmt.Sprintf("no execution slot available within %s", timeout))
	}
	return nil
}

// begin moves the plugin from Ready to Executing. A Completed or Failed
// plugin is reset first unless the limits require an explicit Reset.
func (m *Manager) begin(inst *instance, exec *ExecutionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := exec.PluginID
	if m.loaded[id] != inst {
		return notFound(id)
	}
	switch st := m.states[id]; st.State {
	case StateReady:
	case StateCompleted, StateFailed:
		if m.limits.RequireReset {
			return xerrors.New(CodeNotReady, fmt.Sprintf("plugin %s is %s and must be reset", id, st))
		}
		if err := m.resetLocked(id, inst); err != nil {
			return err
		}
	case StateExecuting:
		return xerrors.New(CodeBusy, fmt.Sprintf("plugin %s is executing", id), xerrors.WithMetadata("plugin_id", id))
	default:
		return xerrors.New(CodeNotReady, fmt.Sprintf("plugin %s is %s", id, st))
	}
	m.states[id] = Status{State: StateExecuting}
	m.active[exec.ID] = exec
	return nil
}

func (m *Manager) timeoutFor(inst *instance) time.Duration {
	timeout := m.limits.ExecutionTimeout()
	if inst.config.TimeoutMs > 0 {
		if override := time.Duration(inst.config.TimeoutMs) * time.Millisecond; override < timeout {
			timeout = override
		}
	}
	return timeout
}

type outcome struct {
	result *PredictionResult
	err    error
}

// runPredict races Predict against waitCtx. The goroutine is abandoned, not
// killed, when waitCtx ends first; the buffered channel lets it exit later.
func runPredict(waitCtx, pluginCtx context.Context, p Plugin, data []DrawRecord, params PredictionParameters) (*PredictionResult, error) {
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("plugin panicked: %v", r)}
			}
		}()
		result, err := p.Predict(pluginCtx, data, params)
		if err == nil && result == nil {
			err = errors.New("plugin returned no result")
		}
		done <- outcome{result: result, err: err}
	}()
	select {
	case out := <-done:
		return out.result, out.err
	case <-waitCtx.Done():
		return nil, waitCtx.Err()
	}
}

// decorate copies the plugin result and attaches execution details.
func (m *Manager) decorate(exec *ExecutionContext, result *PredictionResult, usage ResourceUsage, elapsed time.Duration) (*PredictionResult, error) {
	out := result.clone()
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("overall confidence %v outside [0, 1]", out.Confidence)
	}
	for i, p := range out.Predictions {
		if p.Confidence < 0 || p.Confidence > 1 {
			return nil, fmt.Errorf("prediction %d confidence %v outside [0, 1]", i, p.Confidence)
		}
	}
	out.ExecutionID = exec.ID
	if out.PluginID == "" {
		out.PluginID = exec.PluginID
	}
	if out.GeneratedAt.IsZero() {
		out.GeneratedAt = time.Now().UTC()
	}
	out.Stats.Duration = elapsed
	if out.Stats.RecordsProcessed == 0 {
		out.Stats.RecordsProcessed = exec.DatasetSize
	}
	out.Stats.Usage = &usage
	if usage.MemoryMB > float64(exec.MemoryLimitMB) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("estimated memory %.0fMB exceeds limit %dMB", usage.MemoryMB, exec.MemoryLimitMB))
	}
	return out, nil
}

// classify maps the outcome of Predict to the next status and the error
// returned to the caller.
func classify(id string, timeout time.Duration, runErr, cause error) (Status, error) {
	if runErr == nil {
		return Status{State: StateCompleted}, nil
	}
	switch {
	case errors.Is(cause, errDeadline):
		return Failed("timeout"), xerrors.New(CodeTimeout, fmt.Sprintf("plugin %s did not finish within %s", id, timeout), xerrors.WithMetadata("plugin_id", id))
	case errors.Is(cause, errUnloading):
		return Failed("cancelled"), xerrors.Wrap(CodeCancelled, cause, fmt.Sprintf("plugin %s execution cancelled", id))
	case cause != nil:
		return Failed("cancelled"), xerrors.Wrap(CodeCancelled, cause, fmt.Sprintf("plugin %s execution cancelled", id))
	default:
		return Failed(runErr.Error()), xerrors.Wrap(CodeExecutionFailed, runErr, fmt.Sprintf("plugin %s execution failed", id), xerrors.WithMetadata("plugin_id", id))
	}
}

func (m *Manager) finish(ctx context.Context, inst *instance, exec *ExecutionContext, status Status, err error, elapsed time.Duration) {
	id := exec.PluginID

	m.mu.Lock()
	delete(m.active, exec.ID)
	if m.states[id].State == StateExecuting {
		m.states[id] = status
	}
	pending := inst.unloadPending && m.loaded[id] == inst
	if pending {
		delete(m.loaded, id)
		if _, registered := m.states[id]; registered {
			m.states[id] = Status{State: StateShuttingDown}
		}
		// Added before the execution leaves active so Shutdown cannot miss it.
		m.unloads.Add(1)
	}
	m.mu.Unlock()

	success := err == nil
	m.metrics.RecordExecution(id, elapsed, success, exec.DatasetSize)
	for _, sink := range m.sinks {
		sink.RecordExecution(id, elapsed, success, exec.DatasetSize)
	}

	attrs := []any{
		slog.String("plugin_id", id),
		slog.String("execution_id", exec.ID),
		slog.Int("dataset_size", exec.DatasetSize),
		slog.Duration("duration", elapsed),
		slog.String("status", status.String()),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		m.auditLogger().Warn("plugin execution failed", attrs...)
	} else {
		m.auditLogger().Info("plugin execution completed", attrs...)
	}

	if pending {
		defer m.unloads.Done()
		if err := m.cleanup(context.WithoutCancel(ctx), id, inst); err != nil {
			m.mu.Lock()
			m.unloadErrs = append(m.unloadErrs, err)
			m.mu.Unlock()
		}
	}
}

func (m *Manager) reject(id string, err error) {
	code := xerrors.CodeOf(err)
	if code == CodeNotFound {
		return
	}
	m.metrics.RecordRejection(id, string(code))
	for _, sink := range m.sinks {
		sink.RecordRejection(id, string(code))
	}
	m.logger().Debug("plugin execution rejected", slog.String("plugin_id", id), slog.Any("error", err))
}

// SystemStats summarizes the state of the engine.
type SystemStats struct {
	TotalPlugins         int           `json:"total_plugins"`
	LoadedPlugins        int           `json:"loaded_plugins"`
	ActivePlugins        int           `json:"active_plugins"`
	RunningExecutions    int           `json:"running_executions"`
	AdmissionInUse       int           `json:"admission_in_use"`
	AdmissionCapacity    int           `json:"admission_capacity"`
	TotalExecutions      uint64        `json:"total_executions"`
	TotalErrors          uint64        `json:"total_errors"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
}

// Stats returns a snapshot of engine wide statistics.
func (m *Manager) Stats() SystemStats {
	m.mu.Lock()
	stats := SystemStats{
		LoadedPlugins:     len(m.loaded),
		RunningExecutions: len(m.active),
	}
	for id := range m.loaded {
		if st := m.states[id].State; st == StateReady || st == StateExecuting {
			stats.ActivePlugins++
		}
	}
	m.mu.Unlock()

	totals := m.metrics.Totals()
	stats.TotalPlugins = m.registry.Count()
	stats.AdmissionInUse = m.gate.InUse()
	stats.AdmissionCapacity = m.gate.Capacity()
	stats.TotalExecutions = totals.Executions
	stats.TotalErrors = totals.Failures + totals.Rejections
	stats.AverageExecutionTime = totals.AverageDuration()
	return stats
}

// Shutdown unloads every plugin. Failures are logged and the remaining
// plugins are still unloaded. It then waits, until ctx is done, for running
// executions and their deferred unloads, whose cleanup errors are part of
// the returned error. Finally the resource monitor is released.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shuttingDown = true
	ids := make([]string, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := m.Unload(ctx, id); err != nil {
			m.logger().Error("unload plugin during shutdown", slog.String("plugin_id", id), slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		m.mu.Lock()
		remaining := len(m.active)
		m.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("shutdown: %d executions still running: %w", remaining, ctx.Err()))
			return errors.Join(errs...)
		case <-ticker.C:
		}
	}

	drained := make(chan struct{})
	go func() {
		m.unloads.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("shutdown: deferred unloads still running: %w", ctx.Err()))
		return errors.Join(errs...)
	}

	m.mu.Lock()
	errs = append(errs, m.unloadErrs...)
	m.unloadErrs = nil
	m.mu.Unlock()

	if err := m.monitor.Close(); err != nil {
		errs = append(errs, err)
	}
	m.logger().Info("plugin manager stopped", slog.Int("plugins", len(ids)))
	return errors.Join(errs...)
}
