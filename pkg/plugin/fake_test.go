package plugin

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"DrawSight/pkg/logger"
)

type predictFunc func(ctx context.Context, data []DrawRecord, params PredictionParameters) (*PredictionResult, error)

type fakePlugin struct {
	Base
	initErr     error
	validateErr error
	cleanupErr  error
	cleanupWait time.Duration
	predict     predictFunc

	initCalls     atomic.Int32
	validateCalls atomic.Int32
	predictCalls  atomic.Int32
	cleanupCalls  atomic.Int32
	resetCalls    atomic.Int32
}

func newFake(id string) *fakePlugin {
	return &fakePlugin{Base: Base{Meta: Metadata{
		ID:              id,
		Name:            id,
		Version:         "1.0.0",
		Category:        CategoryCustom,
		Capabilities:    []Capability{CapabilityCompletePrediction},
		MinDataSize:     1,
		MaxDataSize:     1000,
		ComplexityScore: 10,
	}}}
}

func (f *fakePlugin) Initialize(context.Context, PluginConfig) error {
	f.initCalls.Add(1)
	return f.initErr
}

func (f *fakePlugin) ValidateParameters(params PredictionParameters) error {
	f.validateCalls.Add(1)
	if f.validateErr != nil {
		return f.validateErr
	}
	return ValidateCommon(params, 0)
}

func (f *fakePlugin) Predict(ctx context.Context, data []DrawRecord, params PredictionParameters) (*PredictionResult, error) {
	f.predictCalls.Add(1)
	if f.predict != nil {
		return f.predict(ctx, data, params)
	}
	return okResult(), nil
}

func (f *fakePlugin) Cleanup(context.Context) error {
	time.Sleep(f.cleanupWait)
	f.cleanupCalls.Add(1)
	return f.cleanupErr
}

func (f *fakePlugin) Reset() error {
	f.resetCalls.Add(1)
	return nil
}

func okResult() *PredictionResult {
	return &PredictionResult{
		Predictions: []Prediction{{Numbers: []int{1, 2, 3, 4, 5, 6}, Confidence: 0.5}},
		Confidence:  0.5,
	}
}

func sleepingPredict(d time.Duration) predictFunc {
	return func(context.Context, []DrawRecord, PredictionParameters) (*PredictionResult, error) {
		time.Sleep(d)
		return okResult(), nil
	}
}

func records(n int) []DrawRecord {
	out := make([]DrawRecord, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = DrawRecord{
			ID:          int64(i + 1),
			LotteryType: "lotto645",
			Date:        start.AddDate(0, 0, 7*i),
			Numbers:     []int{1 + i%40, 2 + i%40, 3 + i%40, 4 + i%40, 5 + i%40, 6 + i%40},
		}
	}
	return out
}

func params() PredictionParameters {
	return PredictionParameters{PredictionCount: 1, HistoricalDataDays: 30, ConfidenceThreshold: 0.5}
}

type countingGate struct {
	AdmissionGate
	acquired atomic.Int32
}

func (g *countingGate) Acquire(ctx context.Context) error {
	g.acquired.Add(1)
	return g.AdmissionGate.Acquire(ctx)
}

func newTestManager(t *testing.T, cfg ManagerConfig, opts ...Option) *Manager {
	t.Helper()
	base := []Option{WithLogger(logger.Discard()), WithMonitor(NewResourceMonitor(nil))}
	m, err := NewManager(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func mustRegister(t *testing.T, m *Manager, p Plugin) {
	t.Helper()
	if err := m.Register(context.Background(), p); err != nil {
		t.Fatalf("register %s: %v", p.Metadata().ID, err)
	}
}

func mustState(t *testing.T, m *Manager, id string, want State) Status {
	t.Helper()
	st, err := m.State(id)
	if err != nil {
		t.Fatalf("state %s: %v", id, err)
	}
	if st.State != want {
		t.Fatalf("expected %s to be %s, got %s", id, want, st)
	}
	return st
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
