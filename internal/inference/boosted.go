package inference

import (
	"encoding/json"
	"fmt"
)

const (
	objectiveBinaryLogistic = "binary_logistic"
	objectiveRegression     = "regression"
)

// boostedEnsemble is a gradient-boosted tree model. Trees produce additive
// margins: margin = base_score + learning_rate * sum(tree outputs). The
// binary_logistic objective maps the margin through a sigmoid; regression
// returns it raw.
type boostedEnsemble struct {
	trees        []decisionTree
	nFeatures    int
	learningRate float64
	baseScore    float64
	logistic     bool
}

type boostedParams struct {
	LearningRate float64        `json:"learning_rate"`
	BaseScore    float64        `json:"base_score"`
	Objective    string         `json:"objective"`
	Trees        []decisionTree `json:"trees"`
}

func newBoostedEnsemble(params json.RawMessage, nFeatures int) (*boostedEnsemble, error) {
	var p boostedParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode boosted ensemble params: %w", err)
	}
	if len(p.Trees) == 0 {
		return nil, fmt.Errorf("boosted ensemble has no trees")
	}
	logistic := false
	switch p.Objective {
	case objectiveBinaryLogistic:
		logistic = true
	case objectiveRegression, "":
	default:
		return nil, fmt.Errorf("unknown objective %q", p.Objective)
	}
	if p.LearningRate == 0 {
		p.LearningRate = 1
	}
	for i := range p.Trees {
		if err := p.Trees[i].validate(i, nFeatures); err != nil {
			return nil, err
		}
	}
	if nFeatures <= 0 {
		nFeatures = maxFeature(p.Trees) + 1
	}
	if nFeatures <= 0 {
		return nil, fmt.Errorf("boosted ensemble has undeterminable arity")
	}
	return &boostedEnsemble{
		trees:        p.Trees,
		nFeatures:    nFeatures,
		learningRate: p.LearningRate,
		baseScore:    p.BaseScore,
		logistic:     logistic,
	}, nil
}

func (m *boostedEnsemble) margin(vector []float64) float64 {
	sum := 0.0
	for i := range m.trees {
		sum += m.trees[i].eval(vector)
	}
	return m.baseScore + m.learningRate*sum
}

func (m *boostedEnsemble) Predict(vector []float64) (float64, error) {
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

func (m *boostedEnsemble) PredictProba(vector []float64) ([]float64, error) {
	if !m.logistic {
		return nil, fmt.Errorf("regression objective has no probabilities")
	}
	if err := m.Validate(vector); err != nil {
		return nil, err
	}
	p := sigmoid(m.margin(vector))
	return []float64{1 - p, p}, nil
}

func (m *boostedEnsemble) SupportsProba() bool { return m.logistic }

func (m *boostedEnsemble) InputArity() int { return m.nFeatures }

func (m *boostedEnsemble) Validate(vector []float64) error {
	return checkArity(m.nFeatures, vector)
}
