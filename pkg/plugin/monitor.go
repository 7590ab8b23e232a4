package plugin

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSample is a point-in-time reading of the host process.
type ProcessSample struct {
	RSSBytes   uint64
	CPUSeconds float64
}

// ProcessSampler reads the current process resource counters.
type ProcessSampler interface {
	Sample() (ProcessSample, error)
}

type gopsutilSampler struct {
	proc *process.Process
}

// NewProcessSampler samples the running process through gopsutil.
func NewProcessSampler() (ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &gopsutilSampler{proc: proc}, nil
}

func (s *gopsutilSampler) Sample() (ProcessSample, error) {
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, err
	}
	times, err := s.proc.Times()
	if err != nil {
		return ProcessSample{}, err
	}
	return ProcessSample{RSSBytes: mem.RSS, CPUSeconds: times.User + times.System}, nil
}

// MonitorHandle tracks one execution between Start and Stop. A handle can
// be stopped only once.
type MonitorHandle struct {
	ExecutionID string
	StartedAt   time.Time

	baseline ProcessSample
	sampled  bool
	stopped  atomic.Bool
}

// ResourceMonitor measures approximate usage of executions.
type ResourceMonitor struct {
	mu      sync.Mutex
	active  map[string]*MonitorHandle
	sampler ProcessSampler
	closed  bool
}

// NewResourceMonitor creates a monitor. sampler may be nil, in which case
// only the duration-based estimate is reported.
func NewResourceMonitor(sampler ProcessSampler) *ResourceMonitor {
	return &ResourceMonitor{active: make(map[string]*MonitorHandle), sampler: sampler}
}

var errHandleStopped = errors.New("monitor handle already stopped")

// Start begins measuring the execution identified by executionID. After
// Close it still returns a handle that reports the duration estimate only.
func (m *ResourceMonitor) Start(executionID string) *MonitorHandle {
	h := &MonitorHandle{ExecutionID: executionID, StartedAt: time.Now()}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return h
	}
	if m.sampler != nil {
		if sample, err := m.sampler.Sample(); err == nil {
			h.baseline = sample
			h.sampled = true
		}
	}
	m.active[executionID] = h
	return h
}

// Stop ends the measurement and returns the usage observed for the handle.
func (m *ResourceMonitor) Stop(h *MonitorHandle) (ResourceUsage, error) {
	if h == nil || !h.stopped.CompareAndSwap(false, true) {
		return ResourceUsage{}, errHandleStopped
	}
	m.mu.Lock()
	delete(m.active, h.ExecutionID)
	sampler := m.sampler
	m.mu.Unlock()

	usage := EstimateUsage(time.Since(h.StartedAt))
	if h.sampled && sampler != nil {
		if sample, err := sampler.Sample(); err == nil {
			usage.ProcessRSSMB = float64(sample.RSSBytes) / (1 << 20)
			usage.ProcessCPUSeconds = math.Max(0, sample.CPUSeconds-h.baseline.CPUSeconds)
		}
	}
	return usage, nil
}

// Active returns the number of executions currently being measured.
func (m *ResourceMonitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close releases the process sampler and forgets outstanding handles. It
// reports how many executions were still being measured.
func (m *ResourceMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sampler = nil
	pending := len(m.active)
	clear(m.active)
	if pending > 0 {
		return fmt.Errorf("resource monitor closed with %d executions still measured", pending)
	}
	return nil
}

// EstimateUsage derives the usage figures reported for an execution of
// duration d. Every component is non-negative and non-decreasing in d.
func EstimateUsage(d time.Duration) ResourceUsage {
	if d < 0 {
		d = 0
	}
	ms := float64(d.Milliseconds())
	return ResourceUsage{
		Duration:   d,
		MemoryMB:   50 + ms*0.1,
		CPUPercent: math.Min(25+ms*0.05, 100),
		DiskMB:     10,
	}
}
