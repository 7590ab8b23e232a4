package job

import (
	"maps"
	"strings"

	xerrors "DrawSight/internal/errors"
	"DrawSight/pkg/plugin"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request 描述一次预测请求，同步与异步路径共用。
type Request struct {
	// ID 可选，重复提交同一 ID 时返回已有任务。
	ID          string                      `json:"id,omitempty"`
	PluginID    string                      `json:"plugin_id"`
	LotteryType string                      `json:"lottery_type"`
	Parameters  plugin.PredictionParameters `json:"parameters"`
}

// Validate 检查请求的必填字段。算法参数由插件自身校验。
func (r Request) Validate() error {
	if strings.TrimSpace(r.PluginID) == "" {
		return xerrors.New(CodeJobValidation, "plugin_id 不能为空", xerrors.WithMetadata("field", "plugin_id"))
	}
	if strings.TrimSpace(r.LotteryType) == "" {
		return xerrors.New(CodeJobValidation, "lottery_type 不能为空", xerrors.WithMetadata("field", "lottery_type"))
	}
	return nil
}

// Job 描述排队执行的预测任务。
type Job struct {
	ID          string                      `json:"id"`
	PluginID    string                      `json:"plugin_id"`
	LotteryType string                      `json:"lottery_type"`
	Parameters  plugin.PredictionParameters `json:"parameters"`
	Status      Status                      `json:"status"`
	Attempts    int                         `json:"attempts"`
	MaxRetries  int                         `json:"max_retries"`
	LastError   string                      `json:"last_error,omitempty"`
	ErrorCode   string                      `json:"error_code,omitempty"`
	Cached      bool                        `json:"cached"`
	Result      *plugin.PredictionResult    `json:"result,omitempty"`
	CreatedAt   int64                       `json:"created_at"`
	UpdatedAt   int64                       `json:"updated_at"`
}

// Terminal 报告任务是否已经结束。
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || (j.Status == StatusFailed && j.Attempts >= j.MaxRetries)
}

// Outcome 是一次成功执行写回存储的内容。
type Outcome struct {
	Result *plugin.PredictionResult
	Cached bool
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict")
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed")
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted")
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobCompensate xerrors.Code = "JOB_COMPENSATION_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobCompensate, xerrors.Attributes{
		Message:  "job compensation failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneParameters(p plugin.PredictionParameters) plugin.PredictionParameters {
	p.AlgorithmParams = maps.Clone(p.AlgorithmParams)
	if p.RandomSeed != nil {
		seed := *p.RandomSeed
		p.RandomSeed = &seed
	}
	return p
}

func cloneJob(job *Job) *Job {
	clone := *job
	clone.Parameters = cloneParameters(job.Parameters)
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}
