package inference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearModel_Identity(t *testing.T) {
	m, err := newLinearModel(json.RawMessage(`{"coefficients":[2,-1,0.5],"intercept":10}`), 3)
	require.NoError(t, err)

	assert.Equal(t, 3, m.InputArity())
	assert.False(t, m.SupportsProba())

	out, err := m.Predict([]float64{1, 2, 4})
	require.NoError(t, err)
	assert.InDelta(t, 12.0, out, 1e-9)

	_, err = m.PredictProba([]float64{1, 2, 4})
	assert.Error(t, err)
}

func TestLinearModel_Logistic(t *testing.T) {
	m, err := newLinearModel(json.RawMessage(`{"coefficients":[1],"intercept":0,"link":"logistic"}`), 1)
	require.NoError(t, err)
	assert.True(t, m.SupportsProba())

	out, err := m.Predict([]float64{3})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out)

	out, err = m.Predict([]float64{-3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)

	probs, err := m.PredictProba([]float64{0})
	require.NoError(t, err)
	require.Len(t, probs, 2)
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.InDelta(t, 0.5, probs[1], 1e-9)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)
}

func TestLinearModel_ArityMismatch(t *testing.T) {
	m, err := newLinearModel(json.RawMessage(`{"coefficients":[1,2]}`), 2)
	require.NoError(t, err)

	_, err = m.Predict([]float64{1})
	assert.ErrorContains(t, err, "arity mismatch")

	assert.Error(t, m.Validate([]float64{1, 2, 3}))
	assert.NoError(t, m.Validate([]float64{1, 2}))
}

func TestLinearModel_DecodeErrors(t *testing.T) {
	_, err := newLinearModel(json.RawMessage(`{"coefficients":[]}`), 0)
	assert.ErrorContains(t, err, "no coefficients")

	_, err = newLinearModel(json.RawMessage(`{"coefficients":[1,2]}`), 3)
	assert.ErrorContains(t, err, "3 features")

	_, err = newLinearModel(json.RawMessage(`{"coefficients":[1],"link":"probit"}`), 1)
	assert.ErrorContains(t, err, "unknown link")
}

// stumpTree splits on feature 0 at the threshold: left leaf lo, right leaf hi.
func stumpTree(feature int, threshold, lo, hi float64) map[string]interface{} {
	return map[string]interface{}{
		"feature":   []int{feature, -1, -1},
		"threshold": []float64{threshold, 0, 0},
		"left":      []int{1, 0, 0},
		"right":     []int{2, 0, 0},
		"value":     []float64{0, lo, hi},
	}
}

func treeParams(t *testing.T, task string, trees ...map[string]interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"task": task, "trees": trees})
	require.NoError(t, err)
	return raw
}

func TestTreeEnsemble_Regression(t *testing.T) {
	params := treeParams(t, "regression",
		stumpTree(0, 5, 10, 20),
		stumpTree(0, 5, 30, 40),
	)
	m, err := newTreeEnsemble(params, 1)
	require.NoError(t, err)
	assert.False(t, m.SupportsProba())

	out, err := m.Predict([]float64{3})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, out, 1e-9, "mean of left leaves 10 and 30")

	out, err = m.Predict([]float64{7})
	require.NoError(t, err)
	assert.InDelta(t, 30.0, out, 1e-9, "mean of right leaves 20 and 40")
}

func TestTreeEnsemble_Classification(t *testing.T) {
	params := treeParams(t, "classification",
		stumpTree(0, 0.5, 0.1, 0.9),
		stumpTree(0, 0.5, 0.3, 0.7),
	)
	m, err := newTreeEnsemble(params, 1)
	require.NoError(t, err)
	assert.True(t, m.SupportsProba())

	out, err := m.Predict([]float64{1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out)

	probs, err := m.PredictProba([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, probs[1], 1e-9)
	assert.InDelta(t, 0.2, probs[0], 1e-9)

	out, err = m.Predict([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)
}

func TestTreeEnsemble_Malformed(t *testing.T) {
	_, err := newTreeEnsemble(treeParams(t, "regression"), 1)
	assert.ErrorContains(t, err, "no trees")

	bad := map[string]interface{}{
		"feature":   []int{0},
		"threshold": []float64{1, 2},
		"left":      []int{0},
		"right":     []int{0},
		"value":     []float64{0},
	}
	_, err = newTreeEnsemble(treeParams(t, "regression", bad), 1)
	assert.ErrorContains(t, err, "inconsistent node arrays")

	// Split on a feature beyond the declared arity.
	_, err = newTreeEnsemble(treeParams(t, "regression", stumpTree(4, 1, 0, 1)), 2)
	assert.ErrorContains(t, err, "feature 4 of 2")

	_, err = newTreeEnsemble(treeParams(t, "ranking", stumpTree(0, 1, 0, 1)), 1)
	assert.ErrorContains(t, err, "unknown task")
}

func boostedParamsJSON(t *testing.T, objective string, lr, base float64, trees ...map[string]interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"objective":     objective,
		"learning_rate": lr,
		"base_score":    base,
		"trees":         trees,
	})
	require.NoError(t, err)
	return raw
}

func TestBoostedEnsemble_Regression(t *testing.T) {
	params := boostedParamsJSON(t, "regression", 0.5, 100,
		stumpTree(0, 0, -10, 10),
		stumpTree(0, 0, -20, 20),
	)
	m, err := newBoostedEnsemble(params, 1)
	require.NoError(t, err)
	assert.False(t, m.SupportsProba())

	out, err := m.Predict([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 115.0, out, 1e-9, "100 + 0.5*(10+20)")

	out, err = m.Predict([]float64{-1})
	require.NoError(t, err)
	assert.InDelta(t, 85.0, out, 1e-9)
}

func TestBoostedEnsemble_BinaryLogistic(t *testing.T) {
	params := boostedParamsJSON(t, "binary_logistic", 1, 0,
		stumpTree(0, 0, -2, 2),
	)
	m, err := newBoostedEnsemble(params, 1)
	require.NoError(t, err)
	assert.True(t, m.SupportsProba())

	out, err := m.Predict([]float64{5})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out)

	probs, err := m.PredictProba([]float64{5})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(2), probs[1], 1e-9)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)

	out, err = m.Predict([]float64{-5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)
}

func TestBoostedEnsemble_DefaultLearningRate(t *testing.T) {
	params := boostedParamsJSON(t, "regression", 0, 0, stumpTree(0, 0, 1, 3))
	m, err := newBoostedEnsemble(params, 1)
	require.NoError(t, err)

	out, err := m.Predict([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, out, 1e-9, "zero learning rate falls back to 1")
}
