package inference

import (
	"encoding/json"
	"fmt"
)

const (
	taskClassification = "classification"
	taskRegression     = "regression"
)

// decisionTree is one tree in flattened-array form. Node i splits on
// Feature[i] at Threshold[i]; Feature[i] < 0 marks a leaf whose output is
// Value[i]. Shared by the bagged and boosted ensembles.
type decisionTree struct {
	Feature   []int     `json:"feature"`
	Threshold []float64 `json:"threshold"`
	Left      []int     `json:"left"`
	Right     []int     `json:"right"`
	Value     []float64 `json:"value"`
}

func (t *decisionTree) validate(index, nFeatures int) error {
	n := len(t.Feature)
	if n == 0 {
		return fmt.Errorf("tree %d has no nodes", index)
	}
	if len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.Value) != n {
		return fmt.Errorf("tree %d has inconsistent node arrays", index)
	}
	for i := 0; i < n; i++ {
		if t.Feature[i] < 0 {
			continue
		}
		if nFeatures > 0 && t.Feature[i] >= nFeatures {
			return fmt.Errorf("tree %d node %d splits on feature %d of %d", index, i, t.Feature[i], nFeatures)
		}
		if t.Left[i] < 0 || t.Left[i] >= n || t.Right[i] < 0 || t.Right[i] >= n {
			return fmt.Errorf("tree %d node %d has out-of-range children", index, i)
		}
		if t.Left[i] <= i && t.Right[i] <= i {
			return fmt.Errorf("tree %d node %d cannot reach a leaf", index, i)
		}
	}
	return nil
}

func (t *decisionTree) eval(vector []float64) float64 {
	node := 0
	for t.Feature[node] >= 0 {
		if vector[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return t.Value[node]
}

// maxFeature returns the highest feature index any node splits on.
func maxFeature(trees []decisionTree) int {
	max := -1
	for _, t := range trees {
		for _, f := range t.Feature {
			if f > max {
				max = f
			}
		}
	}
	return max
}

// treeEnsemble is a bagged forest. For classification, leaf values are the
// positive-class probability and the ensemble output is their mean; Predict
// thresholds at 0.5. For regression the mean is the prediction and
// probabilities are unavailable.
type treeEnsemble struct {
	trees          []decisionTree
	nFeatures      int
	classification bool
}

type treeEnsembleParams struct {
	Task     string         `json:"task"`
	NClasses int            `json:"n_classes,omitempty"`
	Trees    []decisionTree `json:"trees"`
}

func newTreeEnsemble(params json.RawMessage, nFeatures int) (*treeEnsemble, error) {
	var p treeEnsembleParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode tree ensemble params: %w", err)
	}
	if len(p.Trees) == 0 {
		return nil, fmt.Errorf("tree ensemble has no trees")
	}
	classification := false
	switch p.Task {
	case taskClassification:
		classification = true
		if p.NClasses != 0 && p.NClasses != 2 {
			return nil, fmt.Errorf("tree ensemble supports binary classification, got %d classes", p.NClasses)
		}
	case taskRegression, "":
	default:
		return nil, fmt.Errorf("unknown task %q", p.Task)
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
		return nil, fmt.Errorf("tree ensemble has undeterminable arity")
	}
	return &treeEnsemble{trees: p.Trees, nFeatures: nFeatures, classification: classification}, nil
}

func (m *treeEnsemble) mean(vector []float64) float64 {
	sum := 0.0
	for i := range m.trees {
		sum += m.trees[i].eval(vector)
	}
	return sum / float64(len(m.trees))
}

func (m *treeEnsemble) Predict(vector []float64) (float64, error) {
	if err := m.Validate(vector); err != nil {
		return 0, err
	}
	out := m.mean(vector)
	if m.classification {
		if out >= 0.5 {
			return 1, nil
		}
		return 0, nil
	}
	return out, nil
}

func (m *treeEnsemble) PredictProba(vector []float64) ([]float64, error) {
	if !m.classification {
		return nil, fmt.Errorf("regression ensemble has no probabilities")
	}
	if err := m.Validate(vector); err != nil {
		return nil, err
	}
	p := m.mean(vector)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return []float64{1 - p, p}, nil
}

func (m *treeEnsemble) SupportsProba() bool { return m.classification }

func (m *treeEnsemble) InputArity() int { return m.nFeatures }

func (m *treeEnsemble) Validate(vector []float64) error {
	return checkArity(m.nFeatures, vector)
}
