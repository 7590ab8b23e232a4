package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"DrawSight/pkg/plugin"
)

// Key 标识一次可缓存的预测。数据集指纹保证新的开奖数据会使旧结果失效。
type Key struct {
	PluginID     string                      `json:"plugin_id"`
	LotteryType  string                      `json:"lottery_type"`
	Params       plugin.PredictionParameters `json:"params"`
	DatasetSize  int                         `json:"dataset_size"`
	LatestDrawID int64                       `json:"latest_draw_id"`
}

// KeyFor 根据执行输入构造缓存键。
func KeyFor(pluginID, lotteryType string, params plugin.PredictionParameters, data []plugin.DrawRecord) Key {
	key := Key{PluginID: pluginID, LotteryType: lotteryType, Params: params, DatasetSize: len(data)}
	if len(data) > 0 {
		key.LatestDrawID = data[len(data)-1].ID
	}
	return key
}

// Digest 返回键的 sha256 摘要。map 在 JSON 编码时按键排序，因此结果稳定。
func (k Key) Digest() string {
	raw, _ := json.Marshal(k)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// String 以 "<plugin_id>:<digest>" 形式表示键。
func (k Key) String() string {
	return k.PluginID + ":" + k.Digest()
}

// ResultCache 缓存预测结果。
type ResultCache interface {
	Get(ctx context.Context, key Key) (*plugin.PredictionResult, bool, error)
	Set(ctx context.Context, key Key, result *plugin.PredictionResult, ttl time.Duration) error
	// Invalidate 删除某个插件的全部缓存，返回删除的条数。
	Invalidate(ctx context.Context, pluginID string) (int, error)
	Close() error
}

// Noop 不缓存任何内容。
type Noop struct{}

// Get 总是未命中。
func (Noop) Get(context.Context, Key) (*plugin.PredictionResult, bool, error) {
	return nil, false, nil
}

// Set 丢弃结果。
func (Noop) Set(context.Context, Key, *plugin.PredictionResult, time.Duration) error {
	return nil
}

// Invalidate 无需操作。
func (Noop) Invalidate(context.Context, string) (int, error) { return 0, nil }

// Close 无需操作。
func (Noop) Close() error { return nil }

func cloneResult(result *plugin.PredictionResult) (*plugin.PredictionResult, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var out plugin.PredictionResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
