package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "DrawSight/internal/errors"
	"DrawSight/pkg/plugin"
)

// RedisConfig 描述 Redis 缓存的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Redis 将结果以 JSON 形式写入 Redis，并依赖 Redis 的过期机制。
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis 创建 Redis 缓存并检查连通性。
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "连接 Redis 失败")
	}
	return NewRedisWithClient(client, cfg.Prefix), nil
}

// NewRedisWithClient 基于已有客户端创建缓存。
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "drawsight:cache:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k Key) string {
	return r.prefix + k.String()
}

// Get 实现 ResultCache。
func (r *Redis) Get(ctx context.Context, key Key) (*plugin.PredictionResult, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, xerrors.Wrap(xerrors.CodeCacheFailure, err, "读取缓存失败")
	}
	var result plugin.PredictionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeCacheFailure, err, "解析缓存结果失败")
	}
	return &result, true, nil
}

// Set 实现 ResultCache，ttl <= 0 表示永不过期。
func (r *Redis) Set(ctx context.Context, key Key, result *plugin.PredictionResult, ttl time.Duration) error {
	if result == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "缓存结果不能为空")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "编码缓存结果失败")
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "写入缓存失败")
	}
	return nil
}

// Invalidate 使用 SCAN 删除插件的全部缓存键。
func (r *Redis) Invalidate(ctx context.Context, pluginID string) (int, error) {
	pattern := fmt.Sprintf("%s%s:*", r.prefix, pluginID)
	removed := 0
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeCacheFailure, err, "删除缓存失败")
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, xerrors.Wrap(xerrors.CodeCacheFailure, err, "扫描缓存键失败")
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Close 关闭 Redis 连接。
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ ResultCache = (*Redis)(nil)
