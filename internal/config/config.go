package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"DrawSight/pkg/plugin"
)

// Config 描述了 DrawSight 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig     `json:"server"`
	Logging   LoggingConfig    `json:"logging"`
	Plugins   PluginsConfig    `json:"plugins"`
	Storage   StorageConfig    `json:"storage"`
	Cache     CacheConfig      `json:"cache"`
	Jobs      JobsConfig       `json:"jobs"`
	Schedules []ScheduleConfig `json:"schedules"`
	Metrics   MetricsConfig    `json:"metrics"`
	Tracing   TracingConfig    `json:"tracing"`
	Alerting  AlertingConfig   `json:"alerting"`
	Auth      AuthConfig       `json:"auth"`
	Runtime   RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                  string   `json:"address"`
	CORSOrigins              []string `json:"cors_origins"`
	ReadHeaderTimeoutSeconds int      `json:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `json:"shutdown_timeout_seconds"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制执行审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// PluginsConfig 描述插件引擎的资源上限与内置插件。
type PluginsConfig struct {
	// ConfigPath 指向插件管理器的 YAML 配置，可为空。
	ConfigPath string `json:"config_path"`
	// RegistryPath 用于持久化插件目录快照，可为空。
	RegistryPath            string   `json:"registry_path"`
	Builtins                []string `json:"builtins"`
	MaxConcurrentExecutions int      `json:"max_concurrent_executions"`
	MaxCPUTimeSecs          int      `json:"max_cpu_time_secs"`
	MaxMemoryMB             uint64   `json:"max_memory_mb"`
	AdmissionTimeoutMs      int      `json:"admission_timeout_ms"`
	RequireReset            bool     `json:"require_reset"`
}

// Limits 将 JSON 中的资源上限转换为插件管理器的配置。
func (p PluginsConfig) Limits() plugin.ResourceLimits {
	return plugin.ResourceLimits{
		MaxConcurrentExecutions: p.MaxConcurrentExecutions,
		MaxCPUTimeSecs:          p.MaxCPUTimeSecs,
		MaxMemoryMB:             p.MaxMemoryMB,
		AdmissionTimeoutMs:      p.AdmissionTimeoutMs,
		RequireReset:            p.RequireReset,
	}
}

// StorageConfig 统一描述历史开奖数据的存储后端。
type StorageConfig struct {
	Draws DrawStoreConfig `json:"draws"`
}

// DrawStoreConfig 支持 memory、mysql 与 sqlite 三种驱动。
type DrawStoreConfig struct {
	Driver                 string     `json:"driver"`
	DSN                    string     `json:"dsn"`
	MaxOpenConns           int        `json:"max_open_conns"`
	MaxIdleConns           int        `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int        `json:"conn_max_lifetime_seconds"`
	Seed                   SeedConfig `json:"seed"`
}

// SeedConfig 允许在启动时写入合成的开奖数据，便于演示与测试。
type SeedConfig struct {
	Draws        int      `json:"draws"`
	LotteryTypes []string `json:"lottery_types"`
	RandomSeed   uint64   `json:"random_seed"`
}

// CacheConfig 控制预测结果缓存。
type CacheConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接信息。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// JobsConfig 描述异步预测任务的队列与工作协程。
type JobsConfig struct {
	// Store 取值 memory 或 sql，sql 复用开奖数据所在的数据库。
	Store      string      `json:"store"`
	Queue      QueueConfig `json:"queue"`
	Workers    int         `json:"workers"`
	MaxRetries int         `json:"max_retries"`
	// FallbackPlugin 为空时不做降级。
	FallbackPlugin string `json:"fallback_plugin"`
}

// QueueConfig 支持 memory、redis 与 rabbitmq。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Name     string         `json:"name"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接信息。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Prefetch int    `json:"prefetch"`
}

// ScheduleConfig 定义按 cron 表达式周期提交的预测任务。
type ScheduleConfig struct {
	Name        string                      `json:"name"`
	Spec        string                      `json:"spec"`
	PluginID    string                      `json:"plugin_id"`
	LotteryType string                      `json:"lottery_type"`
	Parameters  plugin.PredictionParameters `json:"parameters"`
}

// MetricsConfig 控制 Prometheus 指标的暴露方式。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// TracingConfig 控制 OpenTelemetry 链路追踪。
type TracingConfig struct {
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	SampleRatio float64 `json:"sample_ratio"`
	Insecure    bool    `json:"insecure"`
}

// AlertingConfig 描述任务失败时的告警渠道，日志渠道始终开启。
type AlertingConfig struct {
	Webhooks []WebhookConfig `json:"webhooks"`
}

// WebhookConfig 描述一个 Webhook 接收端，Format 取值 json、slack 或 dingtalk。
type WebhookConfig struct {
	URL            string `json:"url"`
	Format         string `json:"format"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AuthConfig 描述 API 的认证方式。
type AuthConfig struct {
	// Mode 取值 disabled 或 api_key。
	Mode string         `json:"mode"`
	Keys []APIKeyConfig `json:"keys"`
}

// APIKeyConfig 描述一个 API Key。secret 与 sha256 二选一。
type APIKeyConfig struct {
	Name        string   `json:"name"`
	Secret      string   `json:"secret"`
	SHA256      string   `json:"sha256"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	return &cfg
}

// applyEnv 允许通过环境变量覆盖部署相关的字段。
func (c *Config) applyEnv() {
	if v := os.Getenv("DRAWSIGHT_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("DRAWSIGHT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRAWSIGHT_DRAWS_DRIVER"); v != "" {
		c.Storage.Draws.Driver = v
	}
	if v := os.Getenv("DRAWSIGHT_DRAWS_DSN"); v != "" {
		c.Storage.Draws.DSN = v
	}
	if v := os.Getenv("DRAWSIGHT_REDIS_ADDRESS"); v != "" {
		c.Cache.Redis.Address = v
		c.Jobs.Queue.Redis.Address = v
	}
	if v := os.Getenv("DRAWSIGHT_RABBITMQ_URL"); v != "" {
		c.Jobs.Queue.RabbitMQ.URL = v
	}
	if v := os.Getenv("DRAWSIGHT_API_KEY"); v != "" {
		c.Auth.Mode = "api_key"
		c.Auth.Keys = append(c.Auth.Keys, APIKeyConfig{Name: "env", Secret: v, Permissions: []string{"manage"}})
	}
	if v := os.Getenv("DRAWSIGHT_MAX_CONCURRENT_EXECUTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Plugins.MaxConcurrentExecutions = n
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = 5
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit", "executions.log")
	}

	limits := c.Plugins.Limits().WithDefaults()
	c.Plugins.MaxConcurrentExecutions = limits.MaxConcurrentExecutions
	c.Plugins.MaxCPUTimeSecs = limits.MaxCPUTimeSecs
	c.Plugins.MaxMemoryMB = limits.MaxMemoryMB
	c.Plugins.AdmissionTimeoutMs = limits.AdmissionTimeoutMs
	if c.Plugins.ConfigPath != "" && !filepath.IsAbs(c.Plugins.ConfigPath) {
		c.Plugins.ConfigPath = filepath.Join(baseDir, c.Plugins.ConfigPath)
	}
	if c.Plugins.RegistryPath != "" && !filepath.IsAbs(c.Plugins.RegistryPath) {
		c.Plugins.RegistryPath = filepath.Join(c.Runtime.DataDir, c.Plugins.RegistryPath)
	}

	if c.Storage.Draws.Driver == "" {
		c.Storage.Draws.Driver = "memory"
	}
	if strings.EqualFold(c.Storage.Draws.Driver, "sqlite") && c.Storage.Draws.DSN == "" {
		c.Storage.Draws.DSN = filepath.Join(c.Runtime.DataDir, "draws.db")
	}
	if c.Storage.Draws.Seed.Draws > 0 && len(c.Storage.Draws.Seed.LotteryTypes) == 0 {
		c.Storage.Draws.Seed.LotteryTypes = []string{"lotto645"}
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "drawsight:cache:"
	}

	if c.Jobs.Store == "" {
		c.Jobs.Store = "memory"
	}
	if c.Jobs.Queue.Driver == "" {
		c.Jobs.Queue.Driver = "memory"
	}
	if c.Jobs.Queue.Name == "" {
		c.Jobs.Queue.Name = "drawsight.predictions"
	}
	if c.Jobs.Queue.Buffer <= 0 {
		c.Jobs.Queue.Buffer = 64
	}
	if c.Jobs.Queue.RabbitMQ.Prefetch <= 0 {
		c.Jobs.Queue.RabbitMQ.Prefetch = 4
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = c.Plugins.MaxConcurrentExecutions
	}
	if c.Jobs.MaxRetries <= 0 {
		c.Jobs.MaxRetries = 3
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	for i := range c.Alerting.Webhooks {
		if c.Alerting.Webhooks[i].Format == "" {
			c.Alerting.Webhooks[i].Format = "json"
		}
		if c.Alerting.Webhooks[i].TimeoutSeconds <= 0 {
			c.Alerting.Webhooks[i].TimeoutSeconds = 5
		}
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "drawsightd"
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
}

// Validate 校验驱动名称等枚举字段。
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Draws.Driver) {
	case "memory", "sqlite":
	case "mysql":
		if c.Storage.Draws.DSN == "" {
			return errors.New("mysql 驱动需要配置 storage.draws.dsn")
		}
	default:
		return fmt.Errorf("不支持的开奖数据驱动: %s", c.Storage.Draws.Driver)
	}
	switch strings.ToLower(c.Cache.Driver) {
	case "memory", "none":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return errors.New("redis 缓存需要配置 cache.redis.address")
		}
	default:
		return fmt.Errorf("不支持的缓存驱动: %s", c.Cache.Driver)
	}
	switch strings.ToLower(c.Jobs.Queue.Driver) {
	case "memory":
	case "redis":
		if c.Jobs.Queue.Redis.Address == "" {
			return errors.New("redis 队列需要配置 jobs.queue.redis.address")
		}
	case "rabbitmq":
		if c.Jobs.Queue.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 队列需要配置 jobs.queue.rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的任务队列驱动: %s", c.Jobs.Queue.Driver)
	}
	switch strings.ToLower(c.Jobs.Store) {
	case "memory":
	case "sql":
		if strings.EqualFold(c.Storage.Draws.Driver, "memory") {
			return errors.New("jobs.store 为 sql 时 storage.draws.driver 必须为 mysql 或 sqlite")
		}
	default:
		return fmt.Errorf("不支持的任务存储: %s", c.Jobs.Store)
	}
	for _, w := range c.Alerting.Webhooks {
		if w.URL == "" {
			return errors.New("alerting.webhooks 需要配置 url")
		}
		switch strings.ToLower(w.Format) {
		case "json", "slack", "dingtalk":
		default:
			return fmt.Errorf("不支持的告警格式: %s", w.Format)
		}
	}
	switch strings.ToLower(c.Auth.Mode) {
	case "disabled":
	case "api_key":
		if len(c.Auth.Keys) == 0 {
			return errors.New("auth.mode 为 api_key 时需要配置 auth.keys")
		}
		for _, k := range c.Auth.Keys {
			if k.Name == "" || (k.Secret == "" && k.SHA256 == "") {
				return fmt.Errorf("API Key 配置不完整: %s", k.Name)
			}
			for _, p := range k.Permissions {
				switch p {
				case "read", "predict", "manage":
				default:
					return fmt.Errorf("API Key %s 的权限无效: %s", k.Name, p)
				}
			}
		}
	default:
		return fmt.Errorf("不支持的认证模式: %s", c.Auth.Mode)
	}
	for _, s := range c.Schedules {
		if s.Name == "" || s.Spec == "" || s.PluginID == "" {
			return fmt.Errorf("定时任务配置不完整: %+v", s)
		}
	}
	return nil
}
