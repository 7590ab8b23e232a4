package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DrawSight/internal/cache"
	"DrawSight/internal/draws"
	xerrors "DrawSight/internal/errors"
	"DrawSight/internal/observability/alerting"
	"DrawSight/pkg/plugin"
)

// fakeExecutor 按插件 ID 返回预设的结果或错误序列。
type fakeExecutor struct {
	mu        sync.Mutex
	calls     map[string]int
	errs      map[string][]error
	configs   map[string]plugin.PluginConfig
	supported map[string][]string
	latency   time.Duration
	processed atomic.Int32
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		calls:     make(map[string]int),
		errs:      make(map[string][]error),
		configs:   make(map[string]plugin.PluginConfig),
		supported: make(map[string][]string),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, id string, data []plugin.DrawRecord, params plugin.PredictionParameters) (*plugin.PredictionResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	n := f.calls[id]
	f.calls[id] = n + 1
	var err error
	if queued := f.errs[id]; n < len(queued) {
		err = queued[n]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.processed.Add(1)
	return &plugin.PredictionResult{
		ExecutionID: fmt.Sprintf("%s-%d", id, n),
		PluginID:    id,
		Predictions: []plugin.Prediction{{Numbers: []int{1, 2, 3, 4, 5, 6}, Confidence: 0.7}},
		Confidence:  0.7,
		Stats:       plugin.ExecutionStats{RecordsProcessed: len(data)},
	}, nil
}

func (f *fakeExecutor) Metadata(id string) (plugin.Metadata, error) {
	if id == "missing" {
		return plugin.Metadata{}, xerrors.New(plugin.CodeNotFound, "plugin missing not found")
	}
	return plugin.Metadata{ID: id, SupportedLotteryTypes: f.supported[id]}, nil
}

func (f *fakeExecutor) PluginConfig(id string) (plugin.PluginConfig, bool) {
	cfg, ok := f.configs[id]
	return cfg, ok
}

func (f *fakeExecutor) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingDispatcher) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Metadata["stage"])
	}
	return out
}

type harness struct {
	exec      *fakeExecutor
	store     *MemoryStore
	queue     *MemoryQueue
	service   *Service
	alerts    *recordingDispatcher
	predictor *Predictor
}

func newHarness(t *testing.T, opts ...ProcessorOption) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	source := draws.NewMemoryStore()
	if _, err := draws.SeedIfEmpty(ctx, source, "lotto645", 120, 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := &harness{
		exec:   newFakeExecutor(),
		store:  NewMemoryStore(),
		queue:  NewMemoryQueue(256),
		alerts: &recordingDispatcher{},
	}
	h.predictor = NewPredictor(h.exec, source, cache.NewMemory())
	h.service = NewService(h.store, h.queue, 3)
	all := append([]ProcessorOption{WithWorkerCount(4), WithAlertDispatcher(h.alerts)}, opts...)
	processor := NewProcessor(h.predictor, h.store, h.queue, h.queue, all...)
	go func() {
		if err := processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	return h
}

func (h *harness) run(t *testing.T, req Request) *Job {
	t.Helper()
	job, err := h.service.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := h.service.WaitUntilCompleted(ctx, job.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for %s: %v", job.ID, err)
	}
	return done
}

func request(pluginID string) Request {
	return Request{
		PluginID:    pluginID,
		LotteryType: "lotto645",
		Parameters:  plugin.DefaultParameters(),
	}
}

func TestProcessorCompletesJob(t *testing.T) {
	h := newHarness(t)
	job := h.run(t, request("weighted_frequency"))
	if job.Status != StatusSucceeded || job.Result == nil || job.Cached {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Result.Stats.RecordsProcessed == 0 {
		t.Fatalf("expected historical draws to be passed to the plugin")
	}
	if job.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", job.Attempts)
	}
}

func TestProcessorServesCachedResults(t *testing.T) {
	h := newHarness(t)
	h.exec.configs["weighted_frequency"] = plugin.PluginConfig{Cache: plugin.CacheSettings{Enabled: true}}

	first := h.run(t, request("weighted_frequency"))
	second := h.run(t, request("weighted_frequency"))
	if first.Cached || !second.Cached {
		t.Fatalf("expected only the second job to be served from cache: %v %v", first.Cached, second.Cached)
	}
	if second.Result.ExecutionID != first.Result.ExecutionID {
		t.Fatalf("cached job should carry the original execution id")
	}
	if n := h.exec.callCount("weighted_frequency"); n != 1 {
		t.Fatalf("expected a single plugin execution, got %d", n)
	}

	if _, err := h.predictor.Invalidate(context.Background(), "weighted_frequency"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	third := h.run(t, request("weighted_frequency"))
	if third.Cached {
		t.Fatalf("expected a fresh execution after invalidation")
	}
}

func TestProcessorRetriesRetryableErrors(t *testing.T) {
	h := newHarness(t)
	h.exec.errs["pattern_analysis"] = []error{
		xerrors.New(plugin.CodeBusy, "plugin pattern_analysis is executing"),
	}
	job := h.run(t, request("pattern_analysis"))
	if job.Status != StatusSucceeded || job.Attempts != 2 {
		t.Fatalf("expected success on second attempt, got %+v", job)
	}
	if stages := h.alerts.stages(); len(stages) != 0 {
		t.Fatalf("busy retries should not alert, got %v", stages)
	}
}

func TestProcessorExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	timeout := xerrors.New(plugin.CodeTimeout, "plugin neural_network timed out")
	h.exec.errs["neural_network"] = []error{timeout, timeout, timeout}
	job := h.run(t, request("neural_network"))
	if job.Status != StatusFailed || job.Attempts != 3 || job.ErrorCode != string(plugin.CodeTimeout) {
		t.Fatalf("unexpected job %+v", job)
	}
	stages := h.alerts.stages()
	if len(stages) != 3 || stages[2] != "terminal" {
		t.Fatalf("expected two retry alerts and one terminal alert, got %v", stages)
	}
}

func TestProcessorFailsFastOnValidationErrors(t *testing.T) {
	h := newHarness(t)
	h.exec.supported["weighted_frequency"] = []string{"super_lotto"}
	job := h.run(t, request("weighted_frequency"))
	if job.Status != StatusFailed || job.Attempts != 1 {
		t.Fatalf("expected a single failed attempt, got %+v", job)
	}
	if job.ErrorCode != string(plugin.CodeValidation) {
		t.Fatalf("unexpected error code %s", job.ErrorCode)
	}
	if h.exec.callCount("weighted_frequency") != 0 {
		t.Fatalf("plugin should not run for an unsupported lottery type")
	}
	if stages := h.alerts.stages(); len(stages) != 1 || stages[0] != "terminal" {
		t.Fatalf("expected a terminal alert, got %v", stages)
	}
}

func TestProcessorFallsBackOnExecutionFailure(t *testing.T) {
	recovery := &FallbackRecovery{PluginID: "weighted_frequency"}
	h := newHarness(t, WithRecoveryHandler(recovery))
	recovery.Predictor = h.predictor
	h.exec.errs["neural_network"] = []error{xerrors.New(plugin.CodeExecutionFailed, "nan in layer 2")}

	job := h.run(t, request("neural_network"))
	if job.Status != StatusSucceeded || job.Result.PluginID != "weighted_frequency" {
		t.Fatalf("expected degraded success, got %+v", job)
	}
	if len(job.Result.Warnings) == 0 {
		t.Fatalf("degraded result should explain the fallback")
	}
	if stages := h.alerts.stages(); len(stages) != 1 || stages[0] != "degraded" {
		t.Fatalf("expected a degraded alert, got %v", stages)
	}
}

func TestSubmitIsIdempotentByID(t *testing.T) {
	h := newHarness(t)
	req := request("weighted_frequency")
	req.ID = "fixed-id"
	first := h.run(t, req)
	again, err := h.service.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.ID != first.ID || again.Status != StatusSucceeded {
		t.Fatalf("expected the existing job, got %+v", again)
	}
	if h.exec.callCount("weighted_frequency") != 1 {
		t.Fatalf("resubmitting must not execute again")
	}
}

func TestSubmitValidatesRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Submit(context.Background(), Request{LotteryType: "lotto645"})
	if xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	h := newHarness(t)
	h.exec.latency = 5 * time.Millisecond

	total := 100
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		req := request(fmt.Sprintf("plugin-%d", i%5))
		job, err := h.service.Submit(context.Background(), req)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, job.ID)
	}

	deadline := time.After(5 * time.Second)
	for int(h.exec.processed.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("jobs were not processed in time, finished %d", h.exec.processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.service.WaitUntilCompleted(ctx, ids[len(ids)-1], 5*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
	stats, err := h.service.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != total {
		t.Fatalf("expected %d jobs, got %+v", total, stats)
	}
}
