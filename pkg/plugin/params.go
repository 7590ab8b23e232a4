package plugin

import (
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MaxPredictionCount bounds PredictionParameters.PredictionCount.
const MaxPredictionCount = 100

// ValidateCommon checks the parameters shared by every algorithm. It returns
// a validation error naming the first offending field.
func ValidateCommon(params PredictionParameters, minWindowDays int) error {
	if params.PredictionCount < 1 || params.PredictionCount > MaxPredictionCount {
		return NewValidationError("prediction_count", "prediction_count must be within [1, %d], got %d", MaxPredictionCount, params.PredictionCount)
	}
	if params.HistoricalDataDays < minWindowDays {
		return NewValidationError("historical_data_days", "historical_data_days must be at least %d, got %d", minWindowDays, params.HistoricalDataDays)
	}
	if math.IsNaN(params.ConfidenceThreshold) || params.ConfidenceThreshold < 0 || params.ConfidenceThreshold > 1 {
		return NewValidationError("confidence_threshold", "confidence_threshold must be within [0, 1], got %v", params.ConfidenceThreshold)
	}
	return nil
}

// ParamSchema is a compiled JSON schema for algorithm_params.
type ParamSchema struct {
	doc    map[string]any
	schema *gojsonschema.Schema
}

// CompileParamSchema compiles a JSON schema document.
func CompileParamSchema(doc map[string]any) (*ParamSchema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return &ParamSchema{doc: doc, schema: schema}, nil
}

// MustCompileParamSchema is CompileParamSchema for package level schemas.
func MustCompileParamSchema(doc map[string]any) *ParamSchema {
	s, err := CompileParamSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Document returns the schema as it was compiled.
func (s *ParamSchema) Document() map[string]any { return s.doc }

// Validate checks algorithm params against the schema. Errors name the field
// as "algorithm_params.<field>".
func (s *ParamSchema) Validate(params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return NewValidationError("algorithm_params", "algorithm_params: %v", err)
	}
	if result.Valid() {
		return nil
	}
	errs := result.Errors()
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.String())
	}
	field := "algorithm_params"
	if f := errs[0].Field(); f != "" && f != "(root)" {
		field += "." + f
	}
	return NewValidationError(field, "invalid algorithm_params: %s", strings.Join(msgs, "; "))
}

// ValidateAlgorithmParams compiles doc and validates params in one step.
func ValidateAlgorithmParams(doc map[string]any, params map[string]any) error {
	s, err := CompileParamSchema(doc)
	if err != nil {
		return err
	}
	return s.Validate(params)
}
