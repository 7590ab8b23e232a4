package algorithms

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"DrawSight/pkg/plugin"
)

// PatternAnalysisID 是模式分析插件的标识。
const PatternAnalysisID = "pattern_analysis"

var patternSchema = plugin.MustCompileParamSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"min_sequence_length": map[string]any{"type": "integer", "minimum": 2, "maximum": 10},
		"max_gap_analysis":    map[string]any{"type": "integer", "minimum": 5, "maximum": 100},
		"weight_patterns":     map[string]any{"type": "boolean"},
	},
	"additionalProperties": false,
})

type patternParams struct {
	MinSequenceLength int  `json:"min_sequence_length"`
	MaxGapAnalysis    int  `json:"max_gap_analysis"`
	WeightPatterns    bool `json:"weight_patterns"`
}

// patternReport 汇总连号、间隔、位置与和值四类模式。
type patternReport struct {
	ConsecutiveRuns  int             `json:"consecutive_runs"`
	LongestRun       int             `json:"longest_run"`
	AverageGaps      map[int]float64 `json:"average_gaps"`
	CurrentGaps      map[int]int     `json:"current_gaps"`
	PositionLeaders  []int           `json:"position_leaders"`
	SumAverage       float64         `json:"sum_average"`
	SumMedian        float64         `json:"sum_median"`
	SumMin           int             `json:"sum_min"`
	SumMax           int             `json:"sum_max"`
	DetectedPatterns int             `json:"detected_patterns"`
}

// PatternAnalysis 根据号码的间隔与和值分布挑选号码组合。
type PatternAnalysis struct {
	plugin.Base
	lifecycle
}

// NewPatternAnalysis 创建模式分析插件。
func NewPatternAnalysis() *PatternAnalysis {
	return &PatternAnalysis{Base: plugin.Base{
		Meta: plugin.Metadata{
			ID:          PatternAnalysisID,
			Name:        "Pattern Analysis",
			Description: "Identifies patterns and sequences in lottery draws",
			Author:      "DrawSight",
			Version:     "1.0.0",
			Category:    plugin.CategoryPatternAnalysis,
			Tags:        []string{"pattern", "sequence", "trend"},
			Capabilities: []plugin.Capability{
				plugin.CapabilityTrendAnalysis,
				plugin.CapabilityCompletePrediction,
			},
			MinDataSize:            100,
			MaxDataSize:            20000,
			ComplexityScore:        45,
			EstimatedExecutionTime: 800 * time.Millisecond,
			AccuracyScore:          accuracy(0.682),
		},
		Requirements: plugin.ResourceRequirements{
			MinMemoryMB:         128,
			RecommendedMemoryMB: 512,
			MinCPUCores:         2,
			RecommendedCPUCores: 4,
			DiskSpaceMB:         20,
			Network:             plugin.NetworkNone,
		},
	}}
}

// ParameterSchema 实现 plugin.SchemaProvider。
func (p *PatternAnalysis) ParameterSchema() map[string]any {
	return patternSchema.Document()
}

// ValidateParameters 实现 plugin.Plugin。
func (p *PatternAnalysis) ValidateParameters(params plugin.PredictionParameters) error {
	if err := plugin.ValidateCommon(params, 60); err != nil {
		return err
	}
	return patternSchema.Validate(params.AlgorithmParams)
}

// Predict 实现 plugin.Plugin。
func (p *PatternAnalysis) Predict(ctx context.Context, data []plugin.DrawRecord, params plugin.PredictionParameters) (*plugin.PredictionResult, error) {
	cfg, err := p.config()
	if err != nil {
		return nil, err
	}
	pp := patternParams{
		MinSequenceLength: paramInt(params.AlgorithmParams, "min_sequence_length", cfg.Int("min_sequence_length", 2)),
		MaxGapAnalysis:    paramInt(params.AlgorithmParams, "max_gap_analysis", cfg.Int("max_gap_analysis", 20)),
		WeightPatterns:    paramBool(params.AlgorithmParams, "weight_patterns", cfg.Bool("weight_patterns", true)),
	}
	s := shapeOf(data)
	report, err := analyzePatterns(ctx, data, pp, s)
	if err != nil {
		return nil, err
	}

	rng := newRand(params, cfg)
	weights := overdueWeights(report, s, pp.WeightPatterns)
	limit := min(params.PredictionCount, cfg.Int("max_predictions", 10))
	predictions := make([]plugin.Prediction, 0, limit)
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		numbers := closestSum(rng, weights, s.pick, report.SumAverage, 8)
		predictions = append(predictions, plugin.Prediction{
			Numbers:    numbers,
			Confidence: 0.65 + rng.Float64()*0.2,
			Reasoning:  []string{fmt.Sprintf("sum %d near historical average %.1f", sum(numbers), report.SumAverage)},
		})
	}

	base := 0.60
	if len(data) >= 500 {
		base = 0.75
	}
	bonus := 0.05
	if report.DetectedPatterns >= 4 {
		bonus = 0.10
	}

	return &plugin.PredictionResult{
		PluginID:    PatternAnalysisID,
		Predictions: predictions,
		Confidence:  clamp01(base + bonus),
		AnalysisData: map[string]any{
			"patterns":       report,
			"pattern_params": pp,
		},
		Stats: plugin.ExecutionStats{RecordsProcessed: len(data)},
		Warnings: datasetWarnings(len(data),
			200, "small dataset may limit pattern detection accuracy",
			10000, "large dataset may increase computation time significantly"),
	}, nil
}

func analyzePatterns(ctx context.Context, data []plugin.DrawRecord, pp patternParams, s shape) (patternReport, error) {
	report := patternReport{
		AverageGaps: make(map[int]float64),
		CurrentGaps: make(map[int]int),
	}
	if len(data) == 0 {
		return report, nil
	}

	gaps := make(map[int][]int)
	lastSeen := make(map[int]int)
	positions := make([]map[int]int, s.pick)
	for i := range positions {
		positions[i] = make(map[int]int)
	}
	sums := make([]int, 0, len(data))

	for idx, d := range data {
		if err := checkCancel(ctx, idx); err != nil {
			return patternReport{}, err
		}
		numbers := slices.Clone(d.Numbers)
		slices.Sort(numbers)

		run := 1
		for j := 1; j < len(numbers); j++ {
			if numbers[j] == numbers[j-1]+1 {
				run++
				continue
			}
			if run >= pp.MinSequenceLength {
				report.ConsecutiveRuns++
			}
			report.LongestRun = max(report.LongestRun, run)
			run = 1
		}
		if run >= pp.MinSequenceLength {
			report.ConsecutiveRuns++
		}
		report.LongestRun = max(report.LongestRun, run)

		for pos, n := range numbers {
			if pos < len(positions) {
				positions[pos][n]++
			}
			if last, ok := lastSeen[n]; ok {
				gaps[n] = append(gaps[n], idx-last)
			}
			lastSeen[n] = idx
		}
		sums = append(sums, sum(numbers))
	}

	for n, g := range gaps {
		if len(g) > pp.MaxGapAnalysis {
			g = g[len(g)-pp.MaxGapAnalysis:]
		}
		var total int
		for _, v := range g {
			total += v
		}
		report.AverageGaps[n] = float64(total) / float64(len(g))
	}
	for n, last := range lastSeen {
		report.CurrentGaps[n] = len(data) - 1 - last
	}
	for _, counts := range positions {
		leader, best := 0, -1
		for n, c := range counts {
			if c > best || (c == best && n < leader) {
				leader, best = n, c
			}
		}
		report.PositionLeaders = append(report.PositionLeaders, leader)
	}

	slices.Sort(sums)
	var total int
	for _, v := range sums {
		total += v
	}
	report.SumAverage = float64(total) / float64(len(sums))
	report.SumMedian = float64(sums[len(sums)/2])
	report.SumMin = sums[0]
	report.SumMax = sums[len(sums)-1]

	if report.ConsecutiveRuns > 0 {
		report.DetectedPatterns++
	}
	if len(report.AverageGaps) > 0 {
		report.DetectedPatterns++
	}
	if len(report.PositionLeaders) > 0 {
		report.DetectedPatterns++
	}
	if report.SumMax > report.SumMin {
		report.DetectedPatterns++
	}
	return report, nil
}

// overdueWeights 给每个号码一个权重：当前间隔相对平均间隔越大，权重越高。
func overdueWeights(report patternReport, s shape, weighted bool) []float64 {
	weights := make([]float64, s.pool)
	for i := range weights {
		n := i + 1
		if !weighted {
			weights[i] = 1
			continue
		}
		avg, ok := report.AverageGaps[n]
		if !ok || avg <= 0 {
			weights[i] = 1
			continue
		}
		weights[i] = 0.5 + math.Min(float64(report.CurrentGaps[n])/avg, 3)
	}
	return weights
}

// closestSum 抽取 tries 组号码，返回和值最接近 target 的一组。
func closestSum(rng *rand.Rand, weights []float64, pick int, target float64, tries int) []int {
	var best []int
	bestDiff := math.Inf(1)
	for t := 0; t < tries; t++ {
		candidate := sampleWeighted(rng, weights, pick)
		if diff := math.Abs(float64(sum(candidate)) - target); diff < bestDiff {
			best, bestDiff = candidate, diff
		}
	}
	return best
}

func sum(values []int) int {
	var total int
	for _, v := range values {
		total += v
	}
	return total
}
