package plugin

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRegisterAndExecute(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFake("alpha")
	mustRegister(t, m, p)
	mustState(t, m, "alpha", StateReady)

	res, err := m.Execute(context.Background(), "alpha", records(10), params())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExecutionID == "" || res.PluginID != "alpha" {
		t.Fatalf("unexpected result identity: %+v", res)
	}
	if res.Stats.Usage == nil || res.Stats.Usage.MemoryMB <= 0 {
		t.Fatalf("expected usage to be attached, got %+v", res.Stats)
	}
	if res.Stats.RecordsProcessed != 10 {
		t.Fatalf("expected 10 records processed, got %d", res.Stats.RecordsProcessed)
	}
	mustState(t, m, "alpha", StateCompleted)

	stats, ok := m.Metrics().Snapshot("alpha")
	if !ok || stats.Executions != 1 || stats.Successes != 1 {
		t.Fatalf("unexpected metrics %+v", stats)
	}
	if stats.SuccessRate() != 1 {
		t.Fatalf("expected success rate 1, got %v", stats.SuccessRate())
	}
	if len(m.ActiveExecutions()) != 0 {
		t.Fatalf("expected no active executions")
	}
}

func TestRegisterRejectsInvalidMetadata(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Metadata)
		field  string
	}{
		{name: "min above max", mutate: func(m *Metadata) { m.MinDataSize, m.MaxDataSize = 50, 10 }, field: "min_data_size"},
		{name: "complexity above bound", mutate: func(m *Metadata) { m.ComplexityScore = 101 }, field: "complexity_score"},
		{name: "empty id", mutate: func(m *Metadata) { m.ID = "" }, field: "id"},
		{name: "empty name", mutate: func(m *Metadata) { m.Name = "" }, field: "name"},
		{name: "empty version", mutate: func(m *Metadata) { m.Version = "" }, field: "version"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, ManagerConfig{})
			p := newFake("broken")
			tc.mutate(&p.Meta)

			err := m.Register(context.Background(), p)
			if !errors.Is(err, ErrRegistration) {
				t.Fatalf("expected registration error, got %v", err)
			}
			if got := FieldOf(err); got != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, got)
			}
			if m.Registry().Count() != 0 {
				t.Fatalf("registry should be unchanged")
			}
			if p.initCalls.Load() != 0 {
				t.Fatalf("plugin must not be initialized")
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	mustRegister(t, m, newFake("alpha"))
	if err := m.Register(context.Background(), newFake("alpha")); !errors.Is(err, ErrRegistration) {
		t.Fatalf("expected duplicate to be rejected, got %v", err)
	}
	if m.Registry().Count() != 1 {
		t.Fatalf("expected one descriptor, got %d", m.Registry().Count())
	}
}

func TestRegisterInitializeFailure(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFake("alpha")
	p.initErr = errors.New("model file missing")

	if err := m.Register(context.Background(), p); !errors.Is(err, ErrRegistration) {
		t.Fatalf("expected registration error, got %v", err)
	}
	if _, err := m.State("alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no state for failed plugin, got %v", err)
	}
	if m.Registry().Contains("alpha") {
		t.Fatalf("failed plugin must not stay in the registry")
	}
}

func TestRegisterInitializeFailureKeepsPersistedDescriptor(t *testing.T) {
	catalog := NewRegistry()
	persisted := newFake("alpha").Meta
	persisted.Name = "Alpha from catalog"
	if err := catalog.Register(persisted); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	m := newTestManager(t, ManagerConfig{}, WithRegistry(catalog))

	p := newFake("alpha")
	p.Meta.Name = "Alpha v2"
	p.Meta.Version = "2.0.0"
	p.initErr = errors.New("model file missing")
	if err := m.Register(context.Background(), p); !errors.Is(err, ErrRegistration) {
		t.Fatalf("expected registration error, got %v", err)
	}
	got, ok := m.Registry().Get("alpha")
	if !ok {
		t.Fatalf("persisted descriptor must stay in the registry")
	}
	if got.Name != "Alpha from catalog" || got.Version != "1.0.0" {
		t.Fatalf("expected the persisted descriptor back, got %s %s", got.Name, got.Version)
	}
}

func TestRegisterEnforcesPolicy(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Defaults: Policy{DeniedCapabilities: []Capability{CapabilityCompletePrediction}}})
	err := m.Register(context.Background(), newFake("alpha"))
	if !errors.Is(err, ErrRegistration) || FieldOf(err) != "capabilities" {
		t.Fatalf("expected capability rejection, got %v", err)
	}
}

func TestRegisterDisabledPluginStaysParked(t *testing.T) {
	disabled := false
	m := newTestManager(t, ManagerConfig{Plugins: map[string]PluginConfig{"alpha": {Enabled: &disabled}}})
	p := newFake("alpha")
	mustRegister(t, m, p)
	mustState(t, m, "alpha", StateUninitialized)
	if p.initCalls.Load() != 0 {
		t.Fatalf("disabled plugin must not be initialized")
	}
	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unloaded plugin, got %v", err)
	}
	if err := m.Load(context.Background(), "alpha"); err != nil {
		t.Fatalf("load: %v", err)
	}
	mustState(t, m, "alpha", StateReady)
}

func TestExecuteUnknownPlugin(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	_, err := m.Execute(context.Background(), "missing", records(5), params())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(m.Metrics().All()) != 0 {
		t.Fatalf("unknown ids must not create metrics entries")
	}
}

func TestValidationFailureNeverAcquiresSlot(t *testing.T) {
	gate := &countingGate{AdmissionGate: NewAdmissionGate(1)}
	m := newTestManager(t, ManagerConfig{}, WithAdmissionGate(gate))
	p := newFake("alpha")
	p.validateErr = NewValidationError("prediction_count", "too many")
	mustRegister(t, m, p)

	_, err := m.Execute(context.Background(), "alpha", records(5), params())
	if !errors.Is(err, ErrValidation) || FieldOf(err) != "prediction_count" {
		t.Fatalf("expected validation error on prediction_count, got %v", err)
	}
	if gate.acquired.Load() != 0 {
		t.Fatalf("validation failure acquired the gate")
	}
	if p.predictCalls.Load() != 0 {
		t.Fatalf("predict must not run")
	}
	mustState(t, m, "alpha", StateReady)

	stats, _ := m.Metrics().Snapshot("alpha")
	if stats.Executions != 0 || stats.Rejections != 1 {
		t.Fatalf("expected only the rejection counter to move, got %+v", stats)
	}
}

func TestPlainValidationErrorIsWrapped(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFake("alpha")
	p.validateErr = errors.New("window too short")
	mustRegister(t, m, p)

	_, err := m.Execute(context.Background(), "alpha", records(5), params())
	if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), "window too short") {
		t.Fatalf("expected wrapped validation error, got %v", err)
	}
}

func TestDatasetOutsideRangeIsRejected(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFake("weighted")
	p.Meta.MinDataSize, p.Meta.MaxDataSize = 50, 10000
	mustRegister(t, m, p)

	_, err := m.Execute(context.Background(), "weighted", records(30), params())
	if !errors.Is(err, ErrValidation) || FieldOf(err) != "historical_data" {
		t.Fatalf("expected dataset validation error, got %v", err)
	}
	mustState(t, m, "weighted", StateReady)
}

func TestSecondExecutionIsBusy(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	started := make(chan struct{})
	release := make(chan struct{})
	p := newFake("alpha")
	p.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		close(started)
		<-release
		return okResult(), nil
	}
	mustRegister(t, m, p)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), "alpha", records(5), params())
		errCh <- err
	}()
	<-started
	mustState(t, m, "alpha", StateExecuting)

	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first execution failed: %v", err)
	}
	mustState(t, m, "alpha", StateCompleted)
}

func TestExecutionTimeout(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Limits: ResourceLimits{MaxCPUTimeSecs: 1}})
	p := newFake("slow")
	p.predict = sleepingPredict(10 * time.Second)
	mustRegister(t, m, p)

	start := time.Now()
	_, err := m.Execute(context.Background(), "slow", records(5), params())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
	st := mustState(t, m, "slow", StateFailed)
	if st.Reason != "timeout" {
		t.Fatalf("expected Failed(timeout), got %s", st)
	}
	stats, _ := m.Metrics().Snapshot("slow")
	if stats.Failures != 1 || stats.Executions != 1 {
		t.Fatalf("expected one recorded failure, got %+v", stats)
	}
	if m.Stats().AdmissionInUse != 0 {
		t.Fatalf("timeout leaked an admission slot")
	}
}

func TestRepeatedTimeoutsReleaseSlots(t *testing.T) {
	cfg := ManagerConfig{
		Limits:  ResourceLimits{MaxConcurrentExecutions: 1, AdmissionTimeoutMs: 200},
		Plugins: map[string]PluginConfig{"stuck": {TimeoutMs: 30}},
	}
	m := newTestManager(t, cfg)
	hold := make(chan struct{})
	defer close(hold)

	stuck := newFake("stuck")
	stuck.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		<-hold
		return okResult(), nil
	}
	mustRegister(t, m, stuck)
	mustRegister(t, m, newFake("quick"))

	for i := 0; i < 3; i++ {
		if _, err := m.Execute(context.Background(), "stuck", records(5), params()); !errors.Is(err, ErrTimeout) {
			t.Fatalf("attempt %d: expected timeout, got %v", i, err)
		}
	}
	if _, err := m.Execute(context.Background(), "quick", records(5), params()); err != nil {
		t.Fatalf("fresh execution should be admitted: %v", err)
	}
	if stuck.resetCalls.Load() != 2 {
		t.Fatalf("expected implicit reset between attempts, got %d", stuck.resetCalls.Load())
	}
}

func TestAdmissionSerializesExecutions(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Limits: ResourceLimits{MaxConcurrentExecutions: 1}})
	for _, id := range []string{"first", "second"} {
		p := newFake(id)
		p.predict = sleepingPredict(200 * time.Millisecond)
		mustRegister(t, m, p)
	}

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"first", "second"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.Execute(context.Background(), id, records(5), params())
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("execution failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 390*time.Millisecond {
		t.Fatalf("executions overlapped: %s", elapsed)
	}
}

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Limits: ResourceLimits{MaxConcurrentExecutions: 2}})
	var inFlight, peak atomic.Int32
	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	for _, id := range ids {
		p := newFake(id)
		p.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			return okResult(), nil
		}
		mustRegister(t, m, p)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := m.Execute(context.Background(), id, records(5), params()); err != nil {
				t.Errorf("execute %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
	if peak.Load() > 2 {
		t.Fatalf("observed %d concurrent executions, limit is 2", peak.Load())
	}
}

func TestAdmissionTimeoutIsResourceExhausted(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Limits: ResourceLimits{MaxConcurrentExecutions: 1, AdmissionTimeoutMs: 50}})
	started := make(chan struct{})
	release := make(chan struct{})
	holder := newFake("holder")
	holder.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		close(started)
		<-release
		return okResult(), nil
	}
	mustRegister(t, m, holder)
	mustRegister(t, m, newFake("waiter"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Execute(context.Background(), "holder", records(5), params())
	}()
	<-started

	_, err := m.Execute(context.Background(), "waiter", records(5), params())
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	mustState(t, m, "waiter", StateReady)
	close(release)
	<-done
}

func TestUnloadDuringExecutionIsDeferred(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	started := make(chan struct{})
	release := make(chan struct{})
	p := newFake("alpha")
	p.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		close(started)
		<-release
		return okResult(), nil
	}
	mustRegister(t, m, p)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), "alpha", records(5), params())
		errCh <- err
	}()
	<-started

	if err := m.Unload(context.Background(), "alpha"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if p.cleanupCalls.Load() != 0 {
		t.Fatalf("cleanup ran while predict was still executing")
	}
	mustState(t, m, "alpha", StateExecuting)

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("execution should finish normally: %v", err)
	}
	if p.cleanupCalls.Load() != 1 {
		t.Fatalf("expected cleanup after execution, got %d", p.cleanupCalls.Load())
	}
	mustState(t, m, "alpha", StateUninitialized)
	if len(m.Loaded()) != 0 {
		t.Fatalf("plugin should no longer be loaded")
	}
}

func TestUnloadCancelsCooperativeExecution(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	started := make(chan struct{})
	p := newFake("alpha")
	p.predict = func(ctx context.Context, _ []DrawRecord, _ PredictionParameters) (*PredictionResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	mustRegister(t, m, p)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), "alpha", records(5), params())
		errCh <- err
	}()
	<-started
	if err := m.Unload(context.Background(), "alpha"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := <-errCh; !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancelled execution, got %v", err)
	}
	if p.cleanupCalls.Load() != 1 {
		t.Fatalf("expected cleanup once, got %d", p.cleanupCalls.Load())
	}
}

func TestRegisterExecuteUnloadRegisterAgain(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	mustRegister(t, m, newFake("alpha"))
	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := m.Unload(context.Background(), "alpha"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := m.Unload(context.Background(), "alpha"); err != nil {
		t.Fatalf("second unload should be a no-op: %v", err)
	}

	again := newFake("alpha")
	mustRegister(t, m, again)
	mustState(t, m, "alpha", StateReady)
	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); err != nil {
		t.Fatalf("execute after re-register: %v", err)
	}
	if again.predictCalls.Load() != 1 {
		t.Fatalf("new implementation should serve executions")
	}
}

func TestLoadReinitializesParkedPlugin(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFake("alpha")
	mustRegister(t, m, p)
	if err := m.Unload(context.Background(), "alpha"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := m.Load(context.Background(), "alpha"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.initCalls.Load() != 2 {
		t.Fatalf("expected initialize twice, got %d", p.initCalls.Load())
	}
	mustState(t, m, "alpha", StateReady)
	if err := m.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUnregisterRemovesEverything(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFake("alpha")
	mustRegister(t, m, p)
	if err := m.Unregister(context.Background(), "alpha"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if p.cleanupCalls.Load() != 1 {
		t.Fatalf("expected cleanup on unregister")
	}
	if m.Registry().Contains("alpha") {
		t.Fatalf("descriptor should be removed")
	}
	if err := m.Unregister(context.Background(), "alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second unregister, got %v", err)
	}
}

func TestRequireResetKeepsCompletedPluginOutOfService(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Limits: ResourceLimits{RequireReset: true}})
	p := newFake("alpha")
	mustRegister(t, m, p)
	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
	if err := m.Reset("alpha"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	mustState(t, m, "alpha", StateReady)
	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); err != nil {
		t.Fatalf("execute after reset: %v", err)
	}
}

func TestRejectedExecutionLeavesCompletedPluginUntouched(t *testing.T) {
	cases := []struct {
		name    string
		data    []DrawRecord
		params  PredictionParameters
		wantErr error
	}{
		{name: "invalid parameters", data: records(5), params: PredictionParameters{PredictionCount: 0, HistoricalDataDays: 30, ConfidenceThreshold: 0.5}, wantErr: ErrValidation},
		{name: "dataset too small", data: nil, params: params(), wantErr: ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := &countingGate{AdmissionGate: NewAdmissionGate(1)}
			m := newTestManager(t, ManagerConfig{}, WithAdmissionGate(gate))
			p := newFake("alpha")
			mustRegister(t, m, p)
			if _, err := m.Execute(context.Background(), "alpha", records(5), params()); err != nil {
				t.Fatalf("execute: %v", err)
			}
			mustState(t, m, "alpha", StateCompleted)

			if _, err := m.Execute(context.Background(), "alpha", tc.data, tc.params); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			mustState(t, m, "alpha", StateCompleted)
			if p.resetCalls.Load() != 0 {
				t.Fatalf("rejected execution must not reset the plugin, got %d resets", p.resetCalls.Load())
			}
			if gate.acquired.Load() != 1 {
				t.Fatalf("rejected execution must not take a slot, got %d acquisitions", gate.acquired.Load())
			}

			if _, err := m.Execute(context.Background(), "alpha", records(5), params()); err != nil {
				t.Fatalf("execute after rejection: %v", err)
			}
			if p.resetCalls.Load() != 1 {
				t.Fatalf("expected one implicit reset, got %d", p.resetCalls.Load())
			}
		})
	}
}

func TestPanicBecomesExecutionFailure(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFake("alpha")
	p.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		panic("index out of range")
	}
	mustRegister(t, m, p)

	_, err := m.Execute(context.Background(), "alpha", records(5), params())
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	st := mustState(t, m, "alpha", StateFailed)
	if !strings.Contains(st.Reason, "panicked") {
		t.Fatalf("unexpected reason %q", st.Reason)
	}
}

func TestInvalidConfidenceIsRejected(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFake("alpha")
	p.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		res := okResult()
		res.Predictions[0].Confidence = 1.5
		return res, nil
	}
	mustRegister(t, m, p)
	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
}

func TestMemoryLimitAddsWarning(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Limits: ResourceLimits{MaxMemoryMB: 1}})
	mustRegister(t, m, newFake("alpha"))
	res, err := m.Execute(context.Background(), "alpha", records(5), params())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "exceeds limit") {
		t.Fatalf("expected memory warning, got %v", res.Warnings)
	}
}

func TestPauseAndResume(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	mustRegister(t, m, newFake("alpha"))
	if err := m.Pause("alpha"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected paused plugin to reject executions, got %v", err)
	}
	if err := m.Resume("alpha"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := m.Resume("alpha"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected resume of ready plugin to fail, got %v", err)
	}
}

func TestShutdownContinuesAfterCleanupFailure(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	failing := newFake("a-failing")
	failing.cleanupErr = errors.New("socket already closed")
	healthy := newFake("b-healthy")
	mustRegister(t, m, failing)
	mustRegister(t, m, healthy)

	if err := m.Shutdown(context.Background()); err == nil {
		t.Fatalf("expected shutdown to report the cleanup failure")
	}
	if failing.cleanupCalls.Load() != 1 || healthy.cleanupCalls.Load() != 1 {
		t.Fatalf("every plugin should be cleaned up")
	}
	mustState(t, m, "b-healthy", StateUninitialized)
	if err := m.Register(context.Background(), newFake("late")); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected registration after shutdown to fail, got %v", err)
	}
}

func TestShutdownWaitsForDeferredCleanup(t *testing.T) {
	monitor := NewResourceMonitor(nil)
	m := newTestManager(t, ManagerConfig{}, WithMonitor(monitor))
	started := make(chan struct{})
	release := make(chan struct{})
	p := newFake("alpha")
	p.cleanupWait = 200 * time.Millisecond
	p.cleanupErr = errors.New("flush model cache")
	p.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		close(started)
		<-release
		return okResult(), nil
	}
	mustRegister(t, m, p)

	go func() {
		_, _ = m.Execute(context.Background(), "alpha", records(5), params())
	}()
	<-started

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- m.Shutdown(context.Background()) }()
	waitFor(t, func() bool { return unloadPending(m, "alpha") })
	close(release)

	err := <-shutdownErr
	if err == nil || !strings.Contains(err.Error(), "flush model cache") {
		t.Fatalf("expected the deferred cleanup failure, got %v", err)
	}
	if p.cleanupCalls.Load() != 1 {
		t.Fatalf("cleanup should have finished before shutdown returned, got %d calls", p.cleanupCalls.Load())
	}
	mustState(t, m, "alpha", StateUninitialized)
	if monitor.Active() != 0 {
		t.Fatalf("monitor should be released")
	}
}

func TestShutdownTimesOutOnSlowDeferredCleanup(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	started := make(chan struct{})
	release := make(chan struct{})
	p := newFake("alpha")
	p.cleanupWait = time.Second
	p.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		close(started)
		<-release
		return okResult(), nil
	}
	mustRegister(t, m, p)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Execute(context.Background(), "alpha", records(5), params())
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- m.Shutdown(ctx) }()
	waitFor(t, func() bool { return unloadPending(m, "alpha") })
	close(release)

	err := <-shutdownErr
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "deferred unloads") {
		t.Fatalf("expected shutdown to give up while cleanup runs, got %v", err)
	}
	<-done
	if p.cleanupCalls.Load() != 1 {
		t.Fatalf("deferred cleanup should still complete, got %d calls", p.cleanupCalls.Load())
	}
}

func unloadPending(m *Manager, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.loaded[id]
	return ok && inst.unloadPending
}

func TestExecutionOutcomesGoToAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	audit := slog.New(slog.NewJSONHandler(&buf, nil))
	m := newTestManager(t, ManagerConfig{}, WithAuditLogger(audit))
	mustRegister(t, m, newFake("alpha"))

	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "plugin execution completed") || !strings.Contains(out, `"plugin_id":"alpha"`) {
		t.Fatalf("expected the outcome in the audit logger, got %q", out)
	}
}

func TestStats(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Limits: ResourceLimits{MaxConcurrentExecutions: 3}})
	mustRegister(t, m, newFake("alpha"))
	failing := newFake("beta")
	failing.predict = func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		return nil, errors.New("boom")
	}
	mustRegister(t, m, failing)

	_, _ = m.Execute(context.Background(), "alpha", records(5), params())
	_, _ = m.Execute(context.Background(), "beta", records(5), params())

	stats := m.Stats()
	if stats.TotalPlugins != 2 || stats.LoadedPlugins != 2 {
		t.Fatalf("unexpected plugin counts %+v", stats)
	}
	if stats.TotalExecutions != 2 || stats.TotalErrors != 1 {
		t.Fatalf("unexpected execution counts %+v", stats)
	}
	if stats.AdmissionCapacity != 3 || stats.AdmissionInUse != 0 {
		t.Fatalf("unexpected admission figures %+v", stats)
	}
}

func TestExecuteRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := newTestManager(t, ManagerConfig{}, WithTracer(provider.Tracer("test")))
	mustRegister(t, m, newFake("alpha"))

	if _, err := m.Execute(context.Background(), "alpha", records(5), params()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := m.Execute(context.Background(), "missing", records(5), params()); err == nil {
		t.Fatalf("expected error for missing plugin")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %d", len(spans))
	}
	if spans[0].Name() != "plugin.Execute" || spans[0].Status().Code == codes.Error {
		t.Fatalf("unexpected first span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != string(CodeNotFound) {
		t.Fatalf("expected error status on second span, got %v", spans[1].Status())
	}
}
