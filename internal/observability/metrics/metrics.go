package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"DrawSight/internal/job"
	"DrawSight/pkg/logger"
)

const namespace = "drawsight"

// Metrics 持有服务的全部 Prometheus 指标，使用独立的 Registry，便于测试时重复创建。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	recordsProcessed  *prometheus.CounterVec
	rejections        *prometheus.CounterVec
}

// New 创建并注册全部指标，同时附带 Go 运行时与进程指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "executions_total",
			Help:      "Plugin executions by outcome.",
		}, []string{"plugin", "result"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of plugin executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"plugin"}),
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "records_processed_total",
			Help:      "Historical draw records handed to plugins.",
		}, []string{"plugin"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "rejections_total",
			Help:      "Execution requests refused before the plugin ran, by error code.",
		}, []string{"plugin", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpErrors,
		m.httpLatency,
		m.executions,
		m.executionDuration,
		m.recordsProcessed,
		m.rejections,
	)
	return m
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, statusLabel(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// RecordExecution 实现 plugin.MetricsSink。
func (m *Metrics) RecordExecution(pluginID string, duration time.Duration, success bool, datasetSize int) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.executions.WithLabelValues(pluginID, result).Inc()
	m.executionDuration.WithLabelValues(pluginID).Observe(duration.Seconds())
	if datasetSize > 0 {
		m.recordsProcessed.WithLabelValues(pluginID).Add(float64(datasetSize))
	}
}

// RecordRejection 实现 plugin.MetricsSink。
func (m *Metrics) RecordRejection(pluginID string, code string) {
	m.rejections.WithLabelValues(pluginID, code).Inc()
}

// StatsFunc 返回当前的任务统计。
type StatsFunc func(ctx context.Context) (job.Stats, error)

// RegisterJobStats 注册按状态划分的任务数量指标，每次采集时调用 stats。
func (m *Metrics) RegisterJobStats(stats StatsFunc) error {
	return m.registry.Register(newJobCollector(stats))
}

type jobCollector struct {
	stats StatsFunc
	jobs  *prometheus.Desc
}

func newJobCollector(stats StatsFunc) *jobCollector {
	return &jobCollector{
		stats: stats,
		jobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "current"),
			"Prediction jobs currently held by the job store, by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *jobCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
}

func (c *jobCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats, err := c.stats(ctx)
	if err != nil {
		logger.L().Warn("采集任务统计失败", "error", err)
		return
	}
	for status, value := range map[job.Status]int{
		job.StatusPending:   stats.Pending,
		job.StatusRunning:   stats.Running,
		job.StatusSucceeded: stats.Succeeded,
		job.StatusFailed:    stats.Failed,
	} {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(value), string(status))
	}
}
