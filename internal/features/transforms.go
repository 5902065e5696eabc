package features

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/platformbuilds/inference-core/internal/models"
)

// NormalizeRequest coerces raw request features against the schema. Missing
// required fields and type mismatches are rejected; defaults fill missing
// optional fields. The returned map holds float64 for numeric dtypes and
// string for categorical ones, keyed by field name. The second return lists
// fields still unresolved (optional, no value, no default) in schema order;
// those may later be filled from the feature store.
func NormalizeRequest(schema *models.InputSchema, features map[string]interface{}) (map[string]interface{}, []string, error) {
	normalized := make(map[string]interface{}, len(schema.Fields))
	var unresolved []string

	for i := range schema.Fields {
		f := &schema.Fields[i]
		raw, ok := features[f.Name]
		if !ok || raw == nil {
			if f.Required {
				return nil, nil, &models.ValidationError{Field: f.Name, Message: "missing required feature"}
			}
			if f.Default != nil {
				v, err := coerceValue(f, f.Default)
				if err != nil {
					return nil, nil, err
				}
				normalized[f.Name] = v
				continue
			}
			unresolved = append(unresolved, f.Name)
			continue
		}
		v, err := coerceValue(f, raw)
		if err != nil {
			return nil, nil, err
		}
		normalized[f.Name] = v
	}
	return normalized, unresolved, nil
}

// MergeRow fills unresolved fields from a stored feature row. Values already
// present are never overwritten. Returns the fields that remain unresolved.
func MergeRow(schema *models.InputSchema, normalized map[string]interface{}, unresolved []string, row *models.FeatureRow) []string {
	if row == nil || len(unresolved) == 0 {
		return unresolved
	}
	var still []string
	for _, name := range unresolved {
		f, ok := schema.Field(name)
		if !ok {
			continue
		}
		raw, has := row.Values[name]
		if !has || raw == nil {
			still = append(still, name)
			continue
		}
		v, err := coerceValue(f, raw)
		if err != nil {
			still = append(still, name)
			continue
		}
		normalized[name] = v
	}
	return still
}

// BuildVector assembles the numeric input vector in schema order, applying
// each field's declared transforms. A numeric field that ends up NaN after
// its transform chain has no usable value and fails validation.
func BuildVector(schema *models.InputSchema, normalized map[string]interface{}) ([]float64, error) {
	vec := make([]float64, 0, schema.VectorWidth())

	for i := range schema.Fields {
		f := &schema.Fields[i]

		if f.DType == models.DTypeCategorical {
			s, _ := normalized[f.Name].(string)
			for _, t := range f.Transforms {
				if t.Fn == models.TransformOneHot {
					vec = appendOneHot(vec, s, t.Classes)
				}
			}
			continue
		}

		x := math.NaN()
		if raw, ok := normalized[f.Name]; ok {
			x = raw.(float64)
		}
		for _, t := range f.Transforms {
			x = applyNumeric(t, x)
		}
		if math.IsNaN(x) {
			return nil, &models.ValidationError{Field: f.Name, Message: "no value, default, or imputation available"}
		}
		vec = append(vec, x)
	}
	return vec, nil
}

func applyNumeric(t models.TransformSpec, x float64) float64 {
	switch t.Fn {
	case models.TransformImputeDefault:
		if math.IsNaN(x) {
			return t.Value
		}
		return x
	case models.TransformStandardize:
		return (x - t.Mu) / t.Sigma
	case models.TransformMinMaxClip:
		if x < t.Lo {
			x = t.Lo
		}
		if x > t.Hi {
			x = t.Hi
		}
		if t.Hi == t.Lo {
			return 0
		}
		return (x - t.Lo) / (t.Hi - t.Lo)
	default:
		return x
	}
}

// appendOneHot writes one column per class. An unseen class encodes as all
// zeros rather than failing the request.
func appendOneHot(vec []float64, value string, classes []string) []float64 {
	for _, c := range classes {
		if c == value {
			vec = append(vec, 1)
		} else {
			vec = append(vec, 0)
		}
	}
	return vec
}

// coerceValue converts a raw JSON value into the field's internal
// representation: float64 for f64/i64/bool, string for categorical.
func coerceValue(f *models.FieldSpec, raw interface{}) (interface{}, error) {
	switch f.DType {
	case models.DTypeCategorical:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch(f, raw, "string")
		}
		return s, nil
	case models.DTypeBool:
		switch v := raw.(type) {
		case bool:
			if v {
				return float64(1), nil
			}
			return float64(0), nil
		case float64:
			if v == 0 || v == 1 {
				return v, nil
			}
		case int:
			if v == 0 || v == 1 {
				return float64(v), nil
			}
		}
		return nil, mismatch(f, raw, "bool or 0/1")
	case models.DTypeI64:
		x, ok := toFloat(raw)
		if !ok || x != math.Trunc(x) {
			return nil, mismatch(f, raw, "integer")
		}
		return x, nil
	case models.DTypeF64:
		x, ok := toFloat(raw)
		if !ok {
			return nil, mismatch(f, raw, "number")
		}
		return x, nil
	}
	return nil, mismatch(f, raw, string(f.DType))
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func mismatch(f *models.FieldSpec, raw interface{}, want string) error {
	return &models.ValidationError{
		Field:   f.Name,
		Message: fmt.Sprintf("expected %s, got %T", want, raw),
	}
}
