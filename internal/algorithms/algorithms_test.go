package algorithms

import (
	"context"
	stdErrors "errors"
	"math"
	"testing"
	"time"

	"DrawSight/internal/draws"
	"DrawSight/pkg/logger"
	"DrawSight/pkg/plugin"
)

var end = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func initialized(t *testing.T, p plugin.Plugin) plugin.Plugin {
	t.Helper()
	if err := p.Initialize(context.Background(), plugin.PluginConfig{}); err != nil {
		t.Fatalf("initialize %s: %v", p.Metadata().ID, err)
	}
	return p
}

func paramsFor(days, count int) plugin.PredictionParameters {
	seed := uint64(42)
	return plugin.PredictionParameters{
		PredictionCount:     count,
		HistoricalDataDays:  days,
		ConfidenceThreshold: 0.5,
		RandomSeed:          &seed,
	}
}

func TestBuiltinsPredict(t *testing.T) {
	cases := []struct {
		id   string
		size int
		days int
	}{
		{WeightedFrequencyID, 60, 365},
		{PatternAnalysisID, 150, 365},
		{NeuralNetworkID, 600, 365},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			p, err := New(tc.id)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			initialized(t, p)
			data := draws.Synthetic("lotto645", tc.size, 1, end)
			if !p.CanHandleDataset(len(data)) {
				t.Fatalf("expected %d records to be accepted", len(data))
			}
			params := paramsFor(tc.days, 5)
			if err := p.ValidateParameters(params); err != nil {
				t.Fatalf("validate: %v", err)
			}
			result, err := p.Predict(context.Background(), data, params)
			if err != nil {
				t.Fatalf("predict: %v", err)
			}
			if result.PluginID != tc.id {
				t.Fatalf("unexpected plugin id %q", result.PluginID)
			}
			if len(result.Predictions) != 5 {
				t.Fatalf("expected 5 predictions, got %d", len(result.Predictions))
			}
			if result.Confidence < 0 || result.Confidence > 1 {
				t.Fatalf("overall confidence %v outside [0, 1]", result.Confidence)
			}
			for i, pred := range result.Predictions {
				if pred.Confidence < 0 || pred.Confidence > 1 {
					t.Fatalf("prediction %d confidence %v outside [0, 1]", i, pred.Confidence)
				}
				if len(pred.Numbers) != 6 {
					t.Fatalf("prediction %d: expected 6 numbers, got %v", i, pred.Numbers)
				}
				seen := map[int]bool{}
				for j, n := range pred.Numbers {
					if n < 1 || n > 45 || seen[n] {
						t.Fatalf("prediction %d has invalid numbers %v", i, pred.Numbers)
					}
					if j > 0 && pred.Numbers[j-1] > n {
						t.Fatalf("prediction %d numbers are not sorted: %v", i, pred.Numbers)
					}
					seen[n] = true
				}
			}
			if result.Stats.RecordsProcessed != len(data) {
				t.Fatalf("expected %d records processed, got %d", len(data), result.Stats.RecordsProcessed)
			}
		})
	}
}

func TestValidationNamesTheField(t *testing.T) {
	cases := []struct {
		name  string
		p     plugin.Plugin
		mut   func(*plugin.PredictionParameters)
		field string
	}{
		{"count", NewWeightedFrequency(), func(p *plugin.PredictionParameters) { p.PredictionCount = 0 }, "prediction_count"},
		{"window", NewWeightedFrequency(), func(p *plugin.PredictionParameters) { p.HistoricalDataDays = 29 }, "historical_data_days"},
		{"threshold", NewWeightedFrequency(), func(p *plugin.PredictionParameters) { p.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"decay", NewWeightedFrequency(), func(p *plugin.PredictionParameters) {
			p.AlgorithmParams = map[string]any{"decay_factor": 0.5}
		}, "algorithm_params.decay_factor"},
		{"weights", NewWeightedFrequency(), func(p *plugin.PredictionParameters) {
			p.AlgorithmParams = map[string]any{"min_weight": 0.9, "max_weight": 0.6}
		}, "algorithm_params.min_weight"},
		{"pattern window", NewPatternAnalysis(), func(p *plugin.PredictionParameters) { p.HistoricalDataDays = 59 }, "historical_data_days"},
		{"pattern gap", NewPatternAnalysis(), func(p *plugin.PredictionParameters) {
			p.AlgorithmParams = map[string]any{"max_gap_analysis": 2}
		}, "algorithm_params.max_gap_analysis"},
		{"neural window", NewNeuralNetwork(), func(p *plugin.PredictionParameters) { p.HistoricalDataDays = 179 }, "historical_data_days"},
		{"neural activation", NewNeuralNetwork(), func(p *plugin.PredictionParameters) {
			p.AlgorithmParams = map[string]any{"activation_function": "softmax"}
		}, "algorithm_params.activation_function"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := paramsFor(365, 1)
			tc.mut(&params)
			err := tc.p.ValidateParameters(params)
			if !stdErrors.Is(err, plugin.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := plugin.FieldOf(err); got != tc.field {
				t.Fatalf("expected field %q, got %q (%v)", tc.field, got, err)
			}
		})
	}
}

func TestUnknownAlgorithmParamIsRejected(t *testing.T) {
	params := paramsFor(365, 1)
	params.AlgorithmParams = map[string]any{"unknown": true}
	if err := NewWeightedFrequency().ValidateParameters(params); !stdErrors.Is(err, plugin.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSeededPredictionsAreReproducible(t *testing.T) {
	for _, id := range []string{PatternAnalysisID, NeuralNetworkID} {
		t.Run(id, func(t *testing.T) {
			data := draws.Synthetic("lotto645", 600, 3, end)
			params := paramsFor(365, 3)
			a, err := initialized(t, mustNew(t, id)).Predict(context.Background(), data, params)
			if err != nil {
				t.Fatalf("predict: %v", err)
			}
			b, err := initialized(t, mustNew(t, id)).Predict(context.Background(), data, params)
			if err != nil {
				t.Fatalf("predict: %v", err)
			}
			for i := range a.Predictions {
				for j := range a.Predictions[i].Numbers {
					if a.Predictions[i].Numbers[j] != b.Predictions[i].Numbers[j] {
						t.Fatalf("prediction %d differs between identical seeds", i)
					}
				}
			}
		})
	}
}

func TestNeuralDistributionSumsToOne(t *testing.T) {
	p := initialized(t, NewNeuralNetwork())
	params := paramsFor(365, 2)
	params.AlgorithmParams = map[string]any{"activation_function": "tanh", "hidden_layers": 2}
	result, err := p.Predict(context.Background(), draws.Synthetic("lotto645", 600, 9, end), params)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i, pred := range result.Predictions {
		if len(pred.Distribution) != 45 {
			t.Fatalf("prediction %d: expected 45 probabilities, got %d", i, len(pred.Distribution))
		}
		var total float64
		for _, v := range pred.Distribution {
			if v < 0 {
				t.Fatalf("negative probability %v", v)
			}
			total += v
		}
		if math.Abs(total-1) > 1e-9 {
			t.Fatalf("distribution sums to %v", total)
		}
		if pred.Metadata["prediction_method"] != "neural_network" {
			t.Fatalf("missing prediction metadata: %v", pred.Metadata)
		}
	}
}

func TestFrequencyFavoursRecentDraws(t *testing.T) {
	var data []plugin.DrawRecord
	for i := 0; i < 60; i++ {
		numbers := []int{1, 2, 3, 4, 5, 6}
		if i >= 50 {
			numbers = []int{40, 41, 42, 43, 44, 45}
		}
		data = append(data, plugin.DrawRecord{
			ID:          int64(i + 1),
			LotteryType: "lotto645",
			Date:        end.AddDate(0, 0, -7*(59-i)),
			Numbers:     numbers,
		})
	}
	p := initialized(t, NewWeightedFrequency())
	params := paramsFor(365, 1)
	params.AlgorithmParams = map[string]any{"min_weight": 0.0}
	result, err := p.Predict(context.Background(), data, params)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	hot := result.AnalysisData["hot_numbers"].([]int)
	if hot[0] < 40 {
		t.Fatalf("recent numbers should rank highest, got %v", hot)
	}
}

func TestPredictRequiresInitialize(t *testing.T) {
	p := NewPatternAnalysis()
	_, err := p.Predict(context.Background(), draws.Synthetic("lotto645", 150, 1, end), paramsFor(365, 1))
	if !stdErrors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	initialized(t, p)
	if err := p.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := p.Predict(context.Background(), draws.Synthetic("lotto645", 150, 1, end), paramsFor(365, 1)); !stdErrors.Is(err, errNotInitialized) {
		t.Fatalf("expected predict after cleanup to fail, got %v", err)
	}
}

func TestPredictHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, id := range IDs() {
		p := initialized(t, mustNew(t, id))
		if _, err := p.Predict(ctx, draws.Synthetic("lotto645", 600, 1, end), paramsFor(365, 1)); !stdErrors.Is(err, context.Canceled) {
			t.Fatalf("%s: expected context.Canceled, got %v", id, err)
		}
	}
}

func TestBuiltinsRunThroughManager(t *testing.T) {
	m, err := plugin.NewManager(plugin.ManagerConfig{}, plugin.WithLogger(logger.Discard()), plugin.WithMonitor(plugin.NewResourceMonitor(nil)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	all, err := Builtins()
	if err != nil {
		t.Fatalf("builtins: %v", err)
	}
	ctx := context.Background()
	for _, p := range all {
		if err := m.Register(ctx, p); err != nil {
			t.Fatalf("register %s: %v", p.Metadata().ID, err)
		}
	}
	data := draws.Synthetic("lotto645", 700, 5, end)
	for _, id := range IDs() {
		result, err := m.Execute(ctx, id, data, paramsFor(365, 2))
		if err != nil {
			t.Fatalf("execute %s: %v", id, err)
		}
		if result.ExecutionID == "" || result.Stats.Usage == nil {
			t.Fatalf("%s: result was not decorated: %+v", id, result)
		}
	}
	if _, err := m.Execute(ctx, NeuralNetworkID, data[:100], paramsFor(365, 1)); !stdErrors.Is(err, plugin.ErrValidation) {
		t.Fatalf("expected undersized dataset to be rejected, got %v", err)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := New("nope"); err == nil {
		t.Fatalf("expected unknown id to fail")
	}
	if _, err := Builtins(WeightedFrequencyID, "nope"); err == nil {
		t.Fatalf("expected unknown id in list to fail")
	}
}

func mustNew(t *testing.T, id string) plugin.Plugin {
	t.Helper()
	p, err := New(id)
	if err != nil {
		t.Fatalf("new %s: %v", id, err)
	}
	return p
}
