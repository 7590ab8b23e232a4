package app

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"DrawSight/internal/algorithms"
	"DrawSight/internal/api"
	"DrawSight/internal/auth"
	"DrawSight/internal/cache"
	"DrawSight/internal/config"
	"DrawSight/internal/draws"
	xerrors "DrawSight/internal/errors"
	"DrawSight/internal/job"
	"DrawSight/internal/observability/alerting"
	"DrawSight/internal/observability/metrics"
	"DrawSight/internal/observability/tracing"
	"DrawSight/internal/schedule"
	"DrawSight/internal/storage/sqldb"
	"DrawSight/pkg/logger"
	"DrawSight/pkg/plugin"
)

// App 持有一个完整配置好的 DrawSight 实例。
type App struct {
	Config    *config.Config
	Manager   *plugin.Manager
	Draws     draws.Store
	Cache     cache.ResultCache
	Predictor *job.Predictor
	Jobs      *job.Service
	Processor *job.Processor
	Scheduler *schedule.Scheduler
	Metrics   *metrics.Metrics
	Alerts    *alerting.FanoutDispatcher
	Auth      *auth.Service

	queue           job.Queue
	shutdownTracing tracing.ShutdownFunc
	log             *slog.Logger
}

// New 按配置构建全部组件。返回错误时已创建的资源会被释放。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, log: logger.Named("app")}
	if err := a.init(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	var err error
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建数据目录失败")
	}

	if a.shutdownTracing, err = tracing.Setup(ctx, cfg.Tracing); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链路追踪失败")
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}
	if a.Auth, err = buildAuth(cfg.Auth); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化认证失败")
	}
	if a.Manager, err = buildManager(ctx, cfg, a.Metrics); err != nil {
		return err
	}
	if a.Draws, err = openDraws(ctx, cfg.Storage.Draws); err != nil {
		return err
	}
	if err := seedDraws(ctx, a.Draws, cfg.Storage.Draws.Seed); err != nil {
		return err
	}
	if a.Cache, err = openCache(ctx, cfg.Cache); err != nil {
		return err
	}
	a.Predictor = job.NewPredictor(a.Manager, a.Draws, a.Cache)

	store, err := openJobStore(cfg.Jobs, a.Draws)
	if err != nil {
		return err
	}
	if a.queue, err = openQueue(ctx, cfg.Jobs.Queue); err != nil {
		_ = store.Close()
		return err
	}
	a.Jobs = job.NewService(store, a.queue, cfg.Jobs.MaxRetries)
	if a.Metrics != nil {
		if err := a.Metrics.RegisterJobStats(func(ctx context.Context) (job.Stats, error) {
			return a.Jobs.Stats(ctx)
		}); err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册任务指标失败")
		}
	}

	a.Alerts = buildAlerts(cfg.Alerting)
	procOpts := []job.ProcessorOption{
		job.WithWorkerCount(cfg.Jobs.Workers),
		job.WithAlertDispatcher(a.Alerts),
	}
	if cfg.Jobs.FallbackPlugin != "" {
		procOpts = append(procOpts, job.WithRecoveryHandler(&job.FallbackRecovery{
			Predictor: a.Predictor,
			PluginID:  cfg.Jobs.FallbackPlugin,
		}))
	}
	a.Processor = job.NewProcessor(a.Predictor, store, a.queue, a.queue, procOpts...)

	a.Scheduler = schedule.New(a.Jobs)
	for _, sc := range cfg.Schedules {
		if err := a.Scheduler.Add(sc); err != nil {
			return err
		}
	}
	return nil
}

// Run 启动任务处理器、定时器、指标服务与 API，直到 ctx 取消或任一组件失败。
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(a.Processor.Start(ctx)) })
	g.Go(func() error { return ignoreCancel(a.Scheduler.Start(ctx)) })
	if a.Metrics != nil && a.Config.Metrics.Address != "" && a.Config.Metrics.Address != a.Config.Server.Address {
		g.Go(func() error { return ignoreCancel(a.Metrics.StartServer(ctx, a.Config.Metrics.Address)) })
	}
	server := api.NewServer(a.Config.Server, api.Deps{
		Auth:      a.Auth,
		Manager:   a.Manager,
		Predictor: a.Predictor,
		Jobs:      a.Jobs,
		Draws:     a.Draws,
		Scheduler: a.Scheduler,
		Metrics:   a.Metrics,
	})
	g.Go(func() error { return ignoreCancel(server.Start(ctx)) })
	return g.Wait()
}

// Close 依次关闭插件、任务、缓存与存储。各步骤失败不会阻止后续步骤。
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Manager != nil {
		if err := a.Manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if path := a.Config.Plugins.RegistryPath; path != "" {
			if err := a.Manager.Registry().Save(path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if a.Jobs != nil {
		if err := a.Jobs.Close(); err != nil {
			errs = append(errs, err)
		}
	} else if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Draws != nil {
		errs = append(errs, a.Draws.Close())
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	err := stdErrors.Join(errs...)
	if err != nil {
		a.log.Error("关闭组件时出现错误", slog.Any("error", err))
	}
	return err
}

func ignoreCancel(err error) error {
	if stdErrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildAuth(cfg config.AuthConfig) (*auth.Service, error) {
	keys := make([]auth.Key, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		keys = append(keys, auth.Key{
			Name:        k.Name,
			Secret:      k.Secret,
			SHA256:      k.SHA256,
			Permissions: k.Permissions,
			Disabled:    k.Disabled,
		})
	}
	return auth.NewService(auth.Config{Mode: auth.Mode(cfg.Mode), Keys: keys})
}

// buildManager 合并 JSON 与 YAML 中的插件配置并注册内置插件。
func buildManager(ctx context.Context, cfg *config.Config, sink *metrics.Metrics) (*plugin.Manager, error) {
	var mcfg plugin.ManagerConfig
	if cfg.Plugins.ConfigPath != "" {
		loaded, err := plugin.LoadManagerConfig(cfg.Plugins.ConfigPath)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载插件配置失败")
		}
		mcfg = loaded
	}
	mcfg.Limits = mergeLimits(mcfg.Limits, cfg.Plugins.Limits())

	opts := []plugin.Option{
		plugin.WithLogger(logger.Named("plugin")),
		plugin.WithAuditLogger(logger.Audit()),
	}
	if sink != nil {
		opts = append(opts, plugin.WithMetricsSink(sink))
	}
	if path := cfg.Plugins.RegistryPath; path != "" {
		registry, err := plugin.LoadRegistry(path)
		switch {
		case err == nil:
			opts = append(opts, plugin.WithRegistry(registry))
		case stdErrors.Is(err, os.ErrNotExist):
		default:
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取插件目录快照失败")
		}
	}
	manager, err := plugin.NewManager(mcfg, opts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建插件管理器失败")
	}
	builtins, err := algorithms.Builtins(cfg.Plugins.Builtins...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建内置插件失败")
	}
	for _, p := range builtins {
		if err := manager.Register(ctx, p); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// mergeLimits 以 YAML 中的非零值为准，其余取 JSON 配置。
func mergeLimits(yaml, json plugin.ResourceLimits) plugin.ResourceLimits {
	if yaml.MaxConcurrentExecutions == 0 {
		yaml.MaxConcurrentExecutions = json.MaxConcurrentExecutions
	}
	if yaml.MaxCPUTimeSecs == 0 {
		yaml.MaxCPUTimeSecs = json.MaxCPUTimeSecs
	}
	if yaml.MaxMemoryMB == 0 {
		yaml.MaxMemoryMB = json.MaxMemoryMB
	}
	if yaml.AdmissionTimeoutMs == 0 {
		yaml.AdmissionTimeoutMs = json.AdmissionTimeoutMs
	}
	yaml.RequireReset = yaml.RequireReset || json.RequireReset
	return yaml
}

func openDraws(ctx context.Context, cfg config.DrawStoreConfig) (draws.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return draws.NewMemoryStore(), nil
	case sqldb.DriverMySQL, sqldb.DriverSQLite:
		store, err := draws.OpenSQLStore(ctx, sqldb.Config{
			Driver:          strings.ToLower(cfg.Driver),
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开开奖数据库失败")
		}
		return store, nil
	default:
		return nil, fmt.Errorf("不支持的开奖数据驱动: %s", cfg.Driver)
	}
}

func seedDraws(ctx context.Context, store draws.Store, cfg config.SeedConfig) error {
	if cfg.Draws <= 0 {
		return nil
	}
	for _, lotteryType := range cfg.LotteryTypes {
		written, err := draws.SeedIfEmpty(ctx, store, lotteryType, cfg.Draws, cfg.RandomSeed)
		if err != nil {
			return err
		}
		if written > 0 {
			logger.L().Info("已写入合成开奖数据", slog.String("lottery_type", lotteryType), slog.Int("draws", written))
		}
	}
	return nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.ResultCache, error) {
	switch strings.ToLower(cfg.Driver) {
	case "none":
		return cache.Noop{}, nil
	case "redis":
		c, err := cache.NewRedis(ctx, cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "连接 Redis 缓存失败")
		}
		return c, nil
	default:
		return cache.NewMemory(), nil
	}
}

// openJobStore 在 sql 模式下复用开奖数据的连接池。
func openJobStore(cfg config.JobsConfig, drawStore draws.Store) (job.Store, error) {
	if !strings.EqualFold(cfg.Store, "sql") {
		return job.NewMemoryStore(), nil
	}
	sqlDraws, ok := drawStore.(*draws.SQLStore)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "jobs.store=sql 需要 SQL 开奖数据存储")
	}
	return job.NewSQLStore(sqlDraws.DB()), nil
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (job.Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "redis":
		q, err := job.NewRedisQueue(ctx, job.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Name,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 队列失败")
		}
		return q, nil
	case "rabbitmq":
		q, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.Name,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
		}
		return q, nil
	default:
		return job.NewMemoryQueue(cfg.Buffer), nil
	}
}

func buildAlerts(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	for _, hook := range cfg.Webhooks {
		format := alerting.Channel(strings.ToLower(hook.Format))
		if format == "json" {
			format = alerting.ChannelWebhook
		}
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     hook.URL,
			Format:  format,
			Timeout: time.Duration(hook.TimeoutSeconds) * time.Second,
		})
	}
	return alerting.NewFanout(notifiers...)
}
