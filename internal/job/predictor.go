package job

import (
	"context"
	"log/slog"

	"DrawSight/internal/cache"
	"DrawSight/internal/draws"
	"DrawSight/pkg/logger"
	"DrawSight/pkg/plugin"
)

// Executor 是预测所需的插件管理器能力，*plugin.Manager 满足该接口。
type Executor interface {
	Execute(ctx context.Context, id string, data []plugin.DrawRecord, params plugin.PredictionParameters) (*plugin.PredictionResult, error)
	Metadata(id string) (plugin.Metadata, error)
	PluginConfig(id string) (plugin.PluginConfig, bool)
}

// Predictor 串联历史数据读取、结果缓存与插件执行，同步接口与异步任务共用。
type Predictor struct {
	executor Executor
	source   draws.Source
	cache    cache.ResultCache
	logger   *slog.Logger
}

// NewPredictor 构造 Predictor。resultCache 为空时不缓存。
func NewPredictor(executor Executor, source draws.Source, resultCache cache.ResultCache) *Predictor {
	if resultCache == nil {
		resultCache = cache.Noop{}
	}
	return &Predictor{
		executor: executor,
		source:   source,
		cache:    resultCache,
		logger:   logger.Named("predictor"),
	}
}

// Predict 执行一次预测。插件配置开启缓存时，命中的结果直接返回且 Outcome.Cached 为真。
func (p *Predictor) Predict(ctx context.Context, req Request) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}
	meta, err := p.executor.Metadata(req.PluginID)
	if err != nil {
		return Outcome{}, err
	}
	if !meta.SupportsLotteryType(req.LotteryType) {
		return Outcome{}, plugin.NewValidationError("lottery_type", "plugin %s does not support lottery type %s", req.PluginID, req.LotteryType)
	}

	data, err := p.source.FetchHistorical(ctx, req.LotteryType, req.Parameters.HistoricalDataDays)
	if err != nil {
		return Outcome{}, err
	}

	cfg, _ := p.executor.PluginConfig(req.PluginID)
	key := cache.KeyFor(req.PluginID, req.LotteryType, req.Parameters, data)
	if cfg.Cache.Enabled {
		cached, ok, err := p.cache.Get(ctx, key)
		switch {
		case err != nil:
			p.logger.Warn("读取预测缓存失败", slog.String("plugin_id", req.PluginID), slog.Any("error", err))
		case ok:
			p.logger.Debug("命中预测缓存", slog.String("plugin_id", req.PluginID), slog.String("key", key.String()))
			return Outcome{Result: cached, Cached: true}, nil
		}
	}

	result, err := p.executor.Execute(ctx, req.PluginID, data, req.Parameters)
	if err != nil {
		return Outcome{}, err
	}
	if cfg.Cache.Enabled {
		if err := p.cache.Set(ctx, key, result, cfg.Cache.TTL()); err != nil {
			p.logger.Warn("写入预测缓存失败", slog.String("plugin_id", req.PluginID), slog.Any("error", err))
		}
	}
	return Outcome{Result: result}, nil
}

// Invalidate 清除某个插件的缓存结果，通常在插件重置或卸载后调用。
func (p *Predictor) Invalidate(ctx context.Context, pluginID string) (int, error) {
	return p.cache.Invalidate(ctx, pluginID)
}
