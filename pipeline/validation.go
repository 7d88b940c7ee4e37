package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"irisserve/ml"
)

// Error types reported in FieldError.Type.
const (
	ErrTypeJSONInvalid  = "json_invalid"
	ErrTypeModelType    = "model_type"
	ErrTypeMissing      = "missing"
	ErrTypeListType     = "list_type"
	ErrTypeTooShort     = "too_short"
	ErrTypeTooLong      = "too_long"
	ErrTypeFloatParsing = "float_parsing"
	ErrTypeFloatType    = "float_type"
	ErrTypeFiniteNumber = "finite_number"
	ErrTypeGreaterThan  = "greater_than"
	ErrTypeLessThan     = "less_than"
)

const (
	featuresKey = "features"

	// Measurements are in centimetres and must lie strictly inside these bounds.
	measurementLowerOpen = 0.0
	measurementUpperOpen = 50.0
)

// FieldError 单个字段的校验错误
type FieldError struct {
	Loc   []interface{}          `json:"loc"`
	Msg   string                 `json:"msg"`
	Type  string                 `json:"type"`
	Input interface{}            `json:"input,omitempty"`
	Ctx   map[string]interface{} `json:"ctx,omitempty"`
}

// ValidationError 请求校验失败, 包含全部出错字段
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", locString(fe.Loc), fe.Msg))
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e.Errors), strings.Join(parts, "; "))
}

func locString(loc []interface{}) string {
	parts := make([]string, len(loc))
	for i, part := range loc {
		parts[i] = fmt.Sprint(part)
	}
	return strings.Join(parts, ".")
}

// rawField is one measurement as found on the wire, before coercion. A field
// with err set is reported as is.
type rawField struct {
	loc   []interface{}
	index int
	raw   json.RawMessage
	err   *FieldError
}

// DecodeStrategy 请求体解码策略
type DecodeStrategy interface {
	Name() string
	Matches(body map[string]json.RawMessage) bool
	// Extract returns the fields to check and any shape errors. A field with
	// index outside [0, ml.NumFeatures) is checked but not assigned.
	Extract(body map[string]json.RawMessage) ([]rawField, []FieldError)
}

// ValidationRule 数值域校验规则
type ValidationRule interface {
	Name() string
	// Check returns a FieldError without Loc when value violates the rule.
	Check(value float64) *FieldError
}

// ValidationStats 校验统计
type ValidationStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
}

// Validator 请求校验器
type Validator struct {
	strategies []DecodeStrategy
	fallback   DecodeStrategy
	rules      []ValidationRule

	stats     ValidationStats
	statsLock sync.Mutex
}

// NewValidator 创建带默认策略与规则的校验器
func NewValidator() *Validator {
	v := &Validator{
		strategies: []DecodeStrategy{PositionalStrategy{}},
		fallback:   NamedStrategy{},
		stats:      ValidationStats{Issues: make(map[string]int64)},
	}
	v.AddRule(FiniteRule{})
	v.AddRule(GreaterThanRule{Bound: measurementLowerOpen})
	v.AddRule(LessThanRule{Bound: measurementUpperOpen})
	return v
}

// AddRule 添加校验规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate decodes a request body into canonical measurements. On failure the
// returned ValidationError lists every offending field.
func (v *Validator) Validate(raw []byte) (ml.Measurements, *ValidationError) {
	m, errs := v.validate(raw)
	v.record(errs)
	if len(errs) > 0 {
		return ml.Measurements{}, &ValidationError{Errors: errs}
	}
	return m, nil
}

func (v *Validator) validate(raw []byte) (ml.Measurements, []FieldError) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return ml.Measurements{}, []FieldError{{
			Loc:  []interface{}{"body"},
			Msg:  "JSON decode error",
			Type: ErrTypeJSONInvalid,
		}}
	}

	var body map[string]json.RawMessage
	if trimmed[0] != '{' || json.Unmarshal(trimmed, &body) != nil {
		return ml.Measurements{}, []FieldError{{
			Loc:   []interface{}{"body"},
			Msg:   "Input should be a valid dictionary or object to extract fields from",
			Type:  ErrTypeModelType,
			Input: decodeInput(trimmed),
		}}
	}

	strategy := v.fallback
	for _, candidate := range v.strategies {
		if candidate.Matches(body) {
			strategy = candidate
			break
		}
	}

	fields, errs := strategy.Extract(body)
	values := make([]float64, ml.NumFeatures)
	for _, field := range fields {
		if field.err != nil {
			errs = append(errs, *field.err)
			continue
		}
		value, fe := coerceFloat(field.raw)
		if fe == nil {
			fe = v.applyRules(value)
		}
		if fe != nil {
			fe.Loc = field.loc
			if fe.Input == nil {
				fe.Input = decodeInput(field.raw)
			}
			errs = append(errs, *fe)
			continue
		}
		if field.index >= 0 && field.index < ml.NumFeatures {
			values[field.index] = value
		}
	}
	if len(errs) > 0 {
		return ml.Measurements{}, errs
	}
	m, err := ml.MeasurementsFromVector(values)
	if err != nil {
		return ml.Measurements{}, []FieldError{{Loc: []interface{}{"body"}, Msg: err.Error(), Type: ErrTypeModelType}}
	}
	return m, nil
}

// applyRules stops at the first violated rule for a value.
func (v *Validator) applyRules(value float64) *FieldError {
	for _, rule := range v.rules {
		if fe := rule.Check(value); fe != nil {
			return fe
		}
	}
	return nil
}

func (v *Validator) record(errs []FieldError) {
	v.statsLock.Lock()
	defer v.statsLock.Unlock()
	v.stats.TotalProcessed++
	if len(errs) == 0 {
		v.stats.Passed++
		return
	}
	v.stats.Rejected++
	for _, fe := range errs {
		v.stats.Issues[fe.Type]++
	}
}

// GetStats 获取校验统计
func (v *Validator) GetStats() ValidationStats {
	v.statsLock.Lock()
	defer v.statsLock.Unlock()
	stats := v.stats
	stats.Issues = make(map[string]int64, len(v.stats.Issues))
	for k, n := range v.stats.Issues {
		stats.Issues[k] = n
	}
	return stats
}

// NamedStrategy reads one key per measurement.
type NamedStrategy struct{}

func (NamedStrategy) Name() string { return "named" }

func (NamedStrategy) Matches(body map[string]json.RawMessage) bool { return true }

func (NamedStrategy) Extract(body map[string]json.RawMessage) ([]rawField, []FieldError) {
	fields := make([]rawField, 0, ml.NumFeatures)
	for i, name := range ml.FeatureNames() {
		loc := []interface{}{"body", name}
		raw, ok := body[name]
		if !ok {
			fields = append(fields, rawField{loc: loc, index: i, err: &FieldError{
				Loc:  loc,
				Msg:  "Field required",
				Type: ErrTypeMissing,
			}})
			continue
		}
		fields = append(fields, rawField{loc: loc, index: i, raw: raw})
	}
	return fields, nil
}

// PositionalStrategy reads a "features" list in model feature order.
type PositionalStrategy struct{}

func (PositionalStrategy) Name() string { return "positional" }

func (PositionalStrategy) Matches(body map[string]json.RawMessage) bool {
	_, ok := body[featuresKey]
	return ok
}

func (PositionalStrategy) Extract(body map[string]json.RawMessage) ([]rawField, []FieldError) {
	raw := body[featuresKey]
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, []FieldError{{
			Loc:   []interface{}{"body", featuresKey},
			Msg:   "Input should be a valid list",
			Type:  ErrTypeListType,
			Input: decodeInput(raw),
		}}
	}

	var errs []FieldError
	switch {
	case len(items) < ml.NumFeatures:
		errs = append(errs, FieldError{
			Loc:  []interface{}{"body", featuresKey},
			Msg:  fmt.Sprintf("List should have at least %d items after validation, not %d", ml.NumFeatures, len(items)),
			Type: ErrTypeTooShort,
			Ctx:  map[string]interface{}{"field_type": "List", "min_length": ml.NumFeatures, "actual_length": len(items)},
		})
	case len(items) > ml.NumFeatures:
		errs = append(errs, FieldError{
			Loc:  []interface{}{"body", featuresKey},
			Msg:  fmt.Sprintf("List should have at most %d items after validation, not %d", ml.NumFeatures, len(items)),
			Type: ErrTypeTooLong,
			Ctx:  map[string]interface{}{"field_type": "List", "max_length": ml.NumFeatures, "actual_length": len(items)},
		})
	}

	fields := make([]rawField, 0, len(items))
	for i, item := range items {
		fields = append(fields, rawField{loc: []interface{}{"body", featuresKey, i}, index: i, raw: item})
	}
	return fields, errs
}

// coerceFloat accepts a JSON number or a string holding one.
func coerceFloat(raw json.RawMessage) (float64, *FieldError) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, &FieldError{Msg: "Input should be a valid number", Type: ErrTypeFloatType}
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, &FieldError{Msg: "Input should be a valid number", Type: ErrTypeFloatType}
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil && !isRangeError(err) {
			return 0, &FieldError{
				Msg:  "Input should be a valid number, unable to parse string as a number",
				Type: ErrTypeFloatParsing,
			}
		}
		return value, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		value, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil && !isRangeError(err) {
			return 0, &FieldError{Msg: "Input should be a valid number", Type: ErrTypeFloatType}
		}
		return value, nil
	default:
		return 0, &FieldError{Msg: "Input should be a valid number", Type: ErrTypeFloatType}
	}
}

// Overflowing literals parse to ±Inf and are rejected by FiniteRule.
func isRangeError(err error) bool {
	numErr, ok := err.(*strconv.NumError)
	return ok && numErr.Err == strconv.ErrRange
}

func decodeInput(raw json.RawMessage) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// FiniteRule rejects NaN and infinities.
type FiniteRule struct{}

func (FiniteRule) Name() string { return "finite" }

func (FiniteRule) Check(value float64) *FieldError {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &FieldError{Msg: "Input should be a finite number", Type: ErrTypeFiniteNumber, Input: fmt.Sprint(value)}
	}
	return nil
}

// GreaterThanRule requires value > Bound.
type GreaterThanRule struct {
	Bound float64
}

func (r GreaterThanRule) Name() string { return "greater_than" }

func (r GreaterThanRule) Check(value float64) *FieldError {
	if value > r.Bound {
		return nil
	}
	return &FieldError{
		Msg:  fmt.Sprintf("Input should be greater than %s", formatBound(r.Bound)),
		Type: ErrTypeGreaterThan,
		Ctx:  map[string]interface{}{"gt": r.Bound},
	}
}

// LessThanRule requires value < Bound.
type LessThanRule struct {
	Bound float64
}

func (r LessThanRule) Name() string { return "less_than" }

func (r LessThanRule) Check(value float64) *FieldError {
	if value < r.Bound {
		return nil
	}
	return &FieldError{
		Msg:  fmt.Sprintf("Input should be less than %s", formatBound(r.Bound)),
		Type: ErrTypeLessThan,
		Ctx:  map[string]interface{}{"lt": r.Bound},
	}
}

func formatBound(bound float64) string {
	return strconv.FormatFloat(bound, 'f', -1, 64)
}
