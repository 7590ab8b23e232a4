package algorithms

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"DrawSight/pkg/plugin"
)

// cancelCheckInterval 控制循环中检查 ctx 的频率。
const cancelCheckInterval = 256

var errNotInitialized = errors.New("plugin is not initialized")

// lifecycle 保存 Initialize 得到的配置，供各算法复用。
type lifecycle struct {
	mu          sync.RWMutex
	cfg         plugin.PluginConfig
	initialized bool
}

func (l *lifecycle) Initialize(ctx context.Context, cfg plugin.PluginConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg.Clone()
	l.initialized = true
	l.mu.Unlock()
	return nil
}

func (l *lifecycle) Cleanup(context.Context) error {
	l.mu.Lock()
	l.cfg = plugin.PluginConfig{}
	l.initialized = false
	l.mu.Unlock()
	return nil
}

func (l *lifecycle) Reset() error { return nil }

func (l *lifecycle) config() (plugin.PluginConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.initialized {
		return plugin.PluginConfig{}, errNotInitialized
	}
	return l.cfg, nil
}

// shape 是从历史数据推断出的选号规则。
type shape struct {
	pick int
	pool int
}

// shapeOf 以最新一期的号码个数作为 pick，以出现过的最大号码作为 pool。
func shapeOf(data []plugin.DrawRecord) shape {
	s := shape{pick: 6, pool: 45}
	if len(data) == 0 {
		return s
	}
	if n := len(data[len(data)-1].Numbers); n > 0 {
		s.pick = n
	}
	maxSeen := 0
	for _, d := range data {
		for _, n := range d.Numbers {
			maxSeen = max(maxSeen, n)
		}
	}
	if maxSeen >= s.pick {
		s.pool = maxSeen
	}
	return s
}

// newRand 优先使用调用方给定的种子，其次是插件配置中的 seed。
func newRand(params plugin.PredictionParameters, cfg plugin.PluginConfig) *rand.Rand {
	var seed uint64
	switch {
	case params.RandomSeed != nil:
		seed = *params.RandomSeed
	case cfg.Int("seed", 0) != 0:
		seed = uint64(cfg.Int("seed", 0))
	default:
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}

func checkCancel(ctx context.Context, i int) error {
	if i%cancelCheckInterval == 0 {
		return ctx.Err()
	}
	return nil
}

// ranked 返回按分数排序的号码，分数相同时号码小的在前。
func ranked(scores map[int]float64, desc bool) []int {
	out := make([]int, 0, len(scores))
	for n := range scores {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := scores[out[i]], scores[out[j]]
		if a == b {
			return out[i] < out[j]
		}
		if desc {
			return a > b
		}
		return a < b
	})
	return out
}

func firstN(values []int, n int) []int {
	if n > len(values) {
		n = len(values)
	}
	return append([]int(nil), values[:n]...)
}

// sampleWeighted 按权重无放回抽取 k 个号码（1..len(weights)）。
func sampleWeighted(rng *rand.Rand, weights []float64, k int) []int {
	w := append([]float64(nil), weights...)
	picked := make([]int, 0, k)
	for len(picked) < k {
		var total float64
		for _, v := range w {
			total += v
		}
		if total <= 0 {
			break
		}
		r := rng.Float64() * total
		idx := len(w) - 1
		for i, v := range w {
			if r < v {
				idx = i
				break
			}
			r -= v
		}
		if w[idx] <= 0 {
			continue
		}
		picked = append(picked, idx+1)
		w[idx] = 0
	}
	sort.Ints(picked)
	return picked
}

func normalize(values []float64) []float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	out := make([]float64, len(values))
	if sum <= 0 {
		return out
	}
	for i, v := range values {
		out[i] = v / sum
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func paramFloat(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

func paramInt(params map[string]any, key string, fallback int) int {
	if _, ok := params[key]; !ok {
		return fallback
	}
	return int(paramFloat(params, key, float64(fallback)))
}

func paramBool(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func paramString(params map[string]any, key string, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func datasetWarnings(size, small int, smallMsg string, large int, largeMsg string) []string {
	var warnings []string
	if size < small {
		warnings = append(warnings, smallMsg)
	}
	if large > 0 && size > large {
		warnings = append(warnings, largeMsg)
	}
	return warnings
}

func accuracy(v float64) *float64 { return &v }
