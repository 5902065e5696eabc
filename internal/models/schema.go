package models

import (
	"encoding/json"
	"fmt"
)

// DType is the declared type of a schema field.
type DType string

const (
	DTypeF64         DType = "f64"
	DTypeI64         DType = "i64"
	DTypeBool        DType = "bool"
	DTypeCategorical DType = "categorical"
)

func (d DType) Valid() bool {
	switch d {
	case DTypeF64, DTypeI64, DTypeBool, DTypeCategorical:
		return true
	}
	return false
}

// TransformSpec names one transform applied to a field during vector assembly.
// The parameter set is a union across transform kinds; only the parameters of
// the named fn are meaningful.
type TransformSpec struct {
	Fn      string   `json:"fn"` // standardize, min_max_clip, impute_default, one_hot
	Mu      float64  `json:"mu,omitempty"`
	Sigma   float64  `json:"sigma,omitempty"`
	Lo      float64  `json:"lo,omitempty"`
	Hi      float64  `json:"hi,omitempty"`
	Value   float64  `json:"value,omitempty"`
	Classes []string `json:"classes,omitempty"`
}

const (
	TransformStandardize   = "standardize"
	TransformMinMaxClip    = "min_max_clip"
	TransformImputeDefault = "impute_default"
	TransformOneHot        = "one_hot"
)

// FieldSpec describes one input field: type, requiredness, optional default,
// and the ordered transforms applied to it.
type FieldSpec struct {
	Name       string          `json:"name"`
	DType      DType           `json:"dtype"`
	Required   bool            `json:"required"`
	Default    interface{}     `json:"default,omitempty"`
	Transforms []TransformSpec `json:"transforms,omitempty"`
}

// Width is the number of vector columns this field contributes. A categorical
// field with one_hot expands to one column per class; everything else is one.
func (f *FieldSpec) Width() int {
	for _, t := range f.Transforms {
		if t.Fn == TransformOneHot {
			return len(t.Classes)
		}
	}
	return 1
}

// InputSchema is the ordered field list a model was trained against. It drives
// request validation and feature-vector assembly. Immutable once parsed.
type InputSchema struct {
	Fields []FieldSpec `json:"fields"`
}

// Field returns the spec for name, or false when the schema does not declare it.
func (s *InputSchema) Field(name string) (*FieldSpec, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// VectorWidth is the total number of columns after one_hot expansion. Must
// equal the predictor's input arity for a load to publish.
func (s *InputSchema) VectorWidth() int {
	w := 0
	for i := range s.Fields {
		w += s.Fields[i].Width()
	}
	return w
}

// ParseInputSchema decodes and validates a schema descriptor. Any structural
// problem is terminal for the load that carried it.
func ParseInputSchema(raw []byte) (*InputSchema, error) {
	var s InputSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schema descriptor: %w", err)
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("schema declares no fields")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return nil, fmt.Errorf("field %d: empty name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.DType.Valid() {
			return nil, fmt.Errorf("field %q: unknown dtype %q", f.Name, f.DType)
		}
		if err := validateTransforms(f); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return &s, nil
}

func validateTransforms(f *FieldSpec) error {
	oneHots := 0
	for _, t := range f.Transforms {
		switch t.Fn {
		case TransformStandardize:
			if t.Sigma == 0 {
				return fmt.Errorf("standardize: sigma must be nonzero")
			}
		case TransformMinMaxClip:
			if t.Lo > t.Hi {
				return fmt.Errorf("min_max_clip: lo %v > hi %v", t.Lo, t.Hi)
			}
		case TransformImputeDefault:
			// any value is fine
		case TransformOneHot:
			oneHots++
			if len(t.Classes) == 0 {
				return fmt.Errorf("one_hot: empty class list")
			}
		default:
			return fmt.Errorf("unknown transform %q", t.Fn)
		}
	}
	if f.DType == DTypeCategorical {
		if oneHots != 1 {
			return fmt.Errorf("categorical field needs exactly one one_hot transform, has %d", oneHots)
		}
		if f.Transforms[len(f.Transforms)-1].Fn != TransformOneHot {
			return fmt.Errorf("one_hot must be the final transform")
		}
	} else if oneHots > 0 {
		return fmt.Errorf("one_hot only applies to categorical fields")
	}
	return nil
}
