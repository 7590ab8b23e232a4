package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"DrawSight/internal/config"
	xerrors "DrawSight/internal/errors"
	"DrawSight/internal/job"
	"DrawSight/pkg/logger"
	"DrawSight/pkg/plugin"
)

// Submitter 是调度器提交任务所需的能力，*job.Service 满足该接口。
type Submitter interface {
	Submit(ctx context.Context, req job.Request) (*job.Job, error)
}

// Entry 是对外展示的调度条目快照。
type Entry struct {
	Name        string    `json:"name"`
	Spec        string    `json:"spec"`
	PluginID    string    `json:"plugin_id"`
	LotteryType string    `json:"lottery_type"`
	Next        time.Time `json:"next"`
	Prev        time.Time `json:"prev,omitempty"`
	LastJobID   string    `json:"last_job_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type entry struct {
	cfg       config.ScheduleConfig
	id        cron.EntryID
	lastJobID string
	lastError string
}

// 支持可选的秒字段以及 @daily 之类的描述符。
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler 维护按名称索引的定时预测任务。
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	baseCtx context.Context
}

// Option 定义调度器的可选配置。
type Option func(*schedulerOptions)

type schedulerOptions struct {
	location *time.Location
	logger   *slog.Logger
}

// WithLocation 指定解析 cron 表达式的时区，默认使用本地时区。
func WithLocation(loc *time.Location) Option {
	return func(o *schedulerOptions) {
		o.location = loc
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(o *schedulerOptions) {
		o.logger = log
	}
}

// New 创建调度器。调用 Start 之前添加的条目不会触发。
func New(submitter Submitter, opts ...Option) *Scheduler {
	o := schedulerOptions{location: time.Local, logger: logger.Named("scheduler")}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	cl := cronLogger{log: o.logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(o.location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		submitter: submitter,
		logger:    o.logger,
		entries:   make(map[string]*entry),
		baseCtx:   context.Background(),
	}
}

// Add 注册一个定时任务，名称必须唯一。
func (s *Scheduler) Add(cfg config.ScheduleConfig) error {
	if cfg.Name == "" || cfg.PluginID == "" || cfg.LotteryType == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "定时任务需要 name、plugin_id 与 lottery_type")
	}
	schedule, err := parser.Parse(cfg.Spec)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("定时任务 %s 的表达式无效", cfg.Name),
			xerrors.WithMetadata("spec", cfg.Spec))
	}
	if cfg.Parameters.PredictionCount == 0 {
		defaults := plugin.DefaultParameters()
		defaults.AlgorithmParams = cfg.Parameters.AlgorithmParams
		defaults.RandomSeed = cfg.Parameters.RandomSeed
		cfg.Parameters = defaults
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[cfg.Name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("定时任务 %s 已存在", cfg.Name))
	}
	e := &entry{cfg: cfg}
	e.id = s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(e) }))
	s.entries[cfg.Name] = e
	s.logger.Info("已注册定时预测任务",
		slog.String("name", cfg.Name),
		slog.String("spec", cfg.Spec),
		slog.String("plugin_id", cfg.PluginID),
	)
	return nil
}

// Remove 删除定时任务，返回是否存在。
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	return true
}

// Entries 返回按名称排序的调度条目。
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		ce := s.cron.Entry(e.id)
		out = append(out, Entry{
			Name:        e.cfg.Name,
			Spec:        e.cfg.Spec,
			PluginID:    e.cfg.PluginID,
			LotteryType: e.cfg.LotteryType,
			Next:        ce.Next,
			Prev:        ce.Prev,
			LastJobID:   e.lastJobID,
			LastError:   e.lastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow 立即提交一次指定的定时任务，使用新的任务 ID。
func (s *Scheduler) RunNow(ctx context.Context, name string) (*job.Job, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("定时任务 %s 不存在", name))
	}
	return s.submit(ctx, e, "")
}

// Start 启动调度循环，ctx 取消后等待正在提交的任务结束再返回。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	firedAt := time.Now().Truncate(time.Second)
	id := fmt.Sprintf("%s-%s", e.cfg.Name, firedAt.UTC().Format("20060102T150405Z"))
	if _, err := s.submit(ctx, e, id); err != nil {
		s.logger.Error("定时任务提交失败", slog.String("name", e.cfg.Name), slog.Any("error", err))
	}
}

func (s *Scheduler) submit(ctx context.Context, e *entry, id string) (*job.Job, error) {
	submitted, err := s.submitter.Submit(ctx, job.Request{
		ID:          id,
		PluginID:    e.cfg.PluginID,
		LotteryType: e.cfg.LotteryType,
		Parameters:  e.cfg.Parameters,
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		e.lastError = err.Error()
		return nil, err
	}
	e.lastJobID = submitted.ID
	e.lastError = ""
	return submitted, nil
}

// cronLogger 将 cron 的日志接口适配到 slog。
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
