package inference

import (
	"fmt"
	"math"
	"time"

	"github.com/platformbuilds/inference-core/internal/models"
)

// Predictor is an immutable inference object over a fixed-arity float vector.
// Implementations are a closed set; unknown artifact types never reach one.
type Predictor interface {
	// Predict returns the model output for one input vector.
	Predict(vector []float64) (float64, error)
	// PredictProba returns per-class probabilities. Only meaningful when
	// SupportsProba reports true.
	PredictProba(vector []float64) ([]float64, error)
	SupportsProba() bool
	InputArity() int
	// Validate checks a vector against the model's arity without running it.
	Validate(vector []float64) error
}

// ModelHandle is the published unit of a loaded model: predictor plus the
// schema it was trained against. Immutable after publication; requests pin
// exactly one handle for their whole execution.
type ModelHandle struct {
	Name      string
	Version   string
	Stage     string
	LoadedAt  time.Time
	Schema    *models.InputSchema
	Predictor Predictor
}

func (h *ModelHandle) Summary() models.ModelSummary {
	return models.ModelSummary{
		Name:     h.Name,
		Version:  h.Version,
		Stage:    h.Stage,
		LoadedAt: h.LoadedAt,
	}
}

func checkArity(arity int, vector []float64) error {
	if len(vector) != arity {
		return fmt.Errorf("input arity mismatch: model expects %d features, got %d", arity, len(vector))
	}
	return nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
