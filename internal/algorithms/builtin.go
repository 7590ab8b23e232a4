package algorithms

import (
	"fmt"
	"sort"

	"DrawSight/pkg/plugin"
)

var factories = map[string]func() plugin.Plugin{
	WeightedFrequencyID: func() plugin.Plugin { return NewWeightedFrequency() },
	PatternAnalysisID:   func() plugin.Plugin { return NewPatternAnalysis() },
	NeuralNetworkID:     func() plugin.Plugin { return NewNeuralNetwork() },
}

// IDs 返回全部内置插件的标识，按名称排序。
func IDs() []string {
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New 按标识创建内置插件的新实例。
func New(id string) (plugin.Plugin, error) {
	factory, ok := factories[id]
	if !ok {
		return nil, fmt.Errorf("unknown builtin plugin %q", id)
	}
	return factory(), nil
}

// Builtins 创建指定的内置插件；ids 为空时返回全部。
func Builtins(ids ...string) ([]plugin.Plugin, error) {
	if len(ids) == 0 {
		ids = IDs()
	}
	out := make([]plugin.Plugin, 0, len(ids))
	for _, id := range ids {
		p, err := New(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
