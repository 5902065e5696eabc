package inference

import (
	"encoding/json"
	"fmt"
)

const (
	linkIdentity = "identity"
	linkLogistic = "logistic"
)

// linearModel is a generalized linear model. With the logistic link it is a
// binary classifier: Predict returns the class at threshold 0.5 and
// PredictProba the two class probabilities. With the identity link it is a
// plain regressor without probabilities.
type linearModel struct {
	coefficients []float64
	intercept    float64
	logistic     bool
}

type linearParams struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Link         string    `json:"link,omitempty"`
}

func newLinearModel(params json.RawMessage, nFeatures int) (*linearModel, error) {
	var p linearParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode linear params: %w", err)
	}
	if len(p.Coefficients) == 0 {
		return nil, fmt.Errorf("linear model has no coefficients")
	}
	if nFeatures > 0 && len(p.Coefficients) != nFeatures {
		return nil, fmt.Errorf("linear model declares %d features but has %d coefficients",
			nFeatures, len(p.Coefficients))
	}
	switch p.Link {
	case "", linkIdentity:
		return &linearModel{coefficients: p.Coefficients, intercept: p.Intercept}, nil
	case linkLogistic:
		return &linearModel{coefficients: p.Coefficients, intercept: p.Intercept, logistic: true}, nil
	default:
		return nil, fmt.Errorf("unknown link %q", p.Link)
	}
}

func (m *linearModel) margin(vector []float64) float64 {
	z := m.intercept
	for i, c := range m.coefficients {
		z += c * vector[i]
	}
	return z
}

func (m *linearModel) Predict(vector []float64) (float64, error) {
	if err := m.Validate(vector); err != nil {
		return 0, err
	}
	z := m.margin(vector)
	if m.logistic {
		if sigmoid(z) >= 0.5 {
			return 1, nil
		}
		return 0, nil
	}
	return z, nil
}

func (m *linearModel) PredictProba(vector []float64) ([]float64, error) {
	if !m.logistic {
		return nil, fmt.Errorf("linear model with identity link has no probabilities")
	}
	if err := m.Validate(vector); err != nil {
		return nil, err
	}
	p := sigmoid(m.margin(vector))
	return []float64{1 - p, p}, nil
}

func (m *linearModel) SupportsProba() bool { return m.logistic }

func (m *linearModel) InputArity() int { return len(m.coefficients) }

func (m *linearModel) Validate(vector []float64) error {
	return checkArity(len(m.coefficients), vector)
}
