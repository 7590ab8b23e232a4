package algorithms

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"DrawSight/pkg/plugin"
)

// WeightedFrequencyID 是加权频率插件的标识。
const WeightedFrequencyID = "weighted_frequency"

var frequencySchema = plugin.MustCompileParamSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decay_factor": map[string]any{"type": "number", "minimum": 1, "maximum": 365},
		"min_weight":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"max_weight":   map[string]any{"type": "number", "minimum": 0.5, "maximum": 2},
	},
	"additionalProperties": false,
})

type weighting struct {
	DecayFactor float64 `json:"decay_factor"`
	MinWeight   float64 `json:"min_weight"`
	MaxWeight   float64 `json:"max_weight"`
}

// weight 按距离最新一期的天数做指数衰减，不低于 MinWeight。
func (w weighting) weight(daysOld float64) float64 {
	return math.Max(w.MaxWeight*math.Exp(-daysOld/w.DecayFactor), w.MinWeight)
}

// WeightedFrequency 统计号码出现频率，越近的开奖权重越高。
type WeightedFrequency struct {
	plugin.Base
	lifecycle
}

// NewWeightedFrequency 创建加权频率插件。
func NewWeightedFrequency() *WeightedFrequency {
	return &WeightedFrequency{Base: plugin.Base{
		Meta: plugin.Metadata{
			ID:          WeightedFrequencyID,
			Name:        "Weighted Frequency Analysis",
			Description: "Analyzes number frequencies with time-based weighting",
			Author:      "DrawSight",
			Version:     "1.0.0",
			Category:    plugin.CategoryStatistical,
			Tags:        []string{"frequency", "statistical", "hot-cold"},
			Capabilities: []plugin.Capability{
				plugin.CapabilityHotNumbers,
				plugin.CapabilityColdNumbers,
				plugin.CapabilityTrendAnalysis,
			},
			MinDataSize:            50,
			MaxDataSize:            10000,
			ComplexityScore:        25,
			EstimatedExecutionTime: 500 * time.Millisecond,
			AccuracyScore:          accuracy(0.725),
		},
		Requirements: plugin.ResourceRequirements{
			MinMemoryMB:         64,
			RecommendedMemoryMB: 256,
			MinCPUCores:         1,
			RecommendedCPUCores: 2,
			DiskSpaceMB:         10,
			Network:             plugin.NetworkNone,
		},
	}}
}

// ParameterSchema 实现 plugin.SchemaProvider。
func (p *WeightedFrequency) ParameterSchema() map[string]any {
	return frequencySchema.Document()
}

// ValidateParameters 实现 plugin.Plugin。
func (p *WeightedFrequency) ValidateParameters(params plugin.PredictionParameters) error {
	if err := plugin.ValidateCommon(params, 30); err != nil {
		return err
	}
	if err := frequencySchema.Validate(params.AlgorithmParams); err != nil {
		return err
	}
	w := weightingFrom(params.AlgorithmParams, plugin.PluginConfig{})
	if w.MinWeight > w.MaxWeight {
		return plugin.NewValidationError("algorithm_params.min_weight", "min_weight %v exceeds max_weight %v", w.MinWeight, w.MaxWeight)
	}
	return nil
}

func weightingFrom(params map[string]any, cfg plugin.PluginConfig) weighting {
	return weighting{
		DecayFactor: paramFloat(params, "decay_factor", cfg.Float("decay_factor", 30)),
		MinWeight:   paramFloat(params, "min_weight", cfg.Float("min_weight", 0.1)),
		MaxWeight:   paramFloat(params, "max_weight", cfg.Float("max_weight", 1)),
	}
}

// Predict 实现 plugin.Plugin。
func (p *WeightedFrequency) Predict(ctx context.Context, data []plugin.DrawRecord, params plugin.PredictionParameters) (*plugin.PredictionResult, error) {
	cfg, err := p.config()
	if err != nil {
		return nil, err
	}
	w := weightingFrom(params.AlgorithmParams, cfg)
	freq, err := weightedFrequencies(ctx, data, w)
	if err != nil {
		return nil, err
	}
	s := shapeOf(data)
	order := ranked(freq, true)

	limit := min(params.PredictionCount, cfg.Int("max_predictions", 20))
	predictions := make([]plugin.Prediction, 0, limit)
	topStrength := strength(freq, firstN(order, s.pick))
	belowThreshold := 0
	for i := 0; i < limit; i++ {
		start := min(i*2, max(len(order)-s.pick-1, 0))
		end := min(start+s.pick, len(order))
		if start >= end {
			break
		}
		numbers := sortedCopy(order[start:end])
		confidence := 0.0
		if topStrength > 0 {
			confidence = clamp01(strength(freq, numbers) / topStrength)
		}
		if confidence < params.ConfidenceThreshold {
			belowThreshold++
		}
		predictions = append(predictions, plugin.Prediction{
			Numbers:    numbers,
			Confidence: confidence,
			Reasoning:  []string{fmt.Sprintf("ranks %d-%d by time-weighted frequency", start+1, end)},
		})
	}

	dataQuality := 0.7
	if len(freq) >= 40 {
		dataQuality = 0.9
	}
	period := 0.8
	if params.HistoricalDataDays >= 90 {
		period = 0.95
	}

	warnings := datasetWarnings(len(data), 100, "small dataset size may affect prediction accuracy", 0, "")
	if belowThreshold > 0 {
		warnings = append(warnings, fmt.Sprintf("%d predictions fall below the confidence threshold %.2f", belowThreshold, params.ConfidenceThreshold))
	}

	return &plugin.PredictionResult{
		PluginID:    WeightedFrequencyID,
		Predictions: predictions,
		Confidence:  clamp01((dataQuality + period + params.ConfidenceThreshold) / 3),
		AnalysisData: map[string]any{
			"frequencies":          freq,
			"weighting_params":     w,
			"hot_numbers":          firstN(order, 10),
			"cold_numbers":         firstN(ranked(freq, false), 10),
			"analysis_period_days": params.HistoricalDataDays,
		},
		Stats:    plugin.ExecutionStats{RecordsProcessed: len(data)},
		Warnings: warnings,
	}, nil
}

// weightedFrequencies 返回归一化后的加权频率，特别号按一半权重计入。
func weightedFrequencies(ctx context.Context, data []plugin.DrawRecord, w weighting) (map[int]float64, error) {
	freq := make(map[int]float64)
	if len(data) == 0 {
		return freq, nil
	}
	latest := data[len(data)-1].Date
	var total float64
	for i, d := range data {
		if err := checkCancel(ctx, i); err != nil {
			return nil, err
		}
		tw := w.weight(math.Max(latest.Sub(d.Date).Hours()/24, 0))
		for _, n := range d.Numbers {
			freq[n] += tw
			total += tw
		}
		if d.Bonus != nil {
			freq[*d.Bonus] += tw * 0.5
			total += tw * 0.5
		}
	}
	if total > 0 {
		for n := range freq {
			freq[n] /= total
		}
	}
	return freq, nil
}

func strength(freq map[int]float64, numbers []int) float64 {
	var sum float64
	for _, n := range numbers {
		sum += freq[n]
	}
	return sum
}

func sortedCopy(values []int) []int {
	out := slices.Clone(values)
	slices.Sort(out)
	return out
}
