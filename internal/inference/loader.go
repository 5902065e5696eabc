package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/internal/registry"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// Artifact model types. The set is closed; anything else is a LoadError.
const (
	ModelTypeLinear          = "linear"
	ModelTypeTreeEnsemble    = "tree_ensemble"
	ModelTypeBoostedEnsemble = "boosted_ensemble"
)

// Loader materializes a downloaded artifact into a ModelHandle. A handle is
// returned only when every step succeeded; there is no partial publish.
type Loader interface {
	Load(bundle *registry.ArtifactBundle, stage string) (*ModelHandle, error)
}

type artifactEnvelope struct {
	FormatVersion int             `json:"format_version"`
	ModelType     string          `json:"model_type"`
	NFeatures     int             `json:"n_features"`
	Params        json.RawMessage `json:"params"`
}

type artifactLoader struct {
	logger logger.Logger
}

func NewLoader(log logger.Logger) Loader {
	return &artifactLoader{logger: log}
}

func (l *artifactLoader) Load(bundle *registry.ArtifactBundle, stage string) (*ModelHandle, error) {
	fail := func(step string, err error) (*ModelHandle, error) {
		return nil, &models.LoadError{Name: bundle.ModelName, Version: bundle.Version, Step: step, Err: err}
	}

	if len(bundle.Artifact) == 0 {
		return fail("fetch", fmt.Errorf("empty artifact"))
	}
	if bundle.Checksum != "" {
		sum := sha256.Sum256(bundle.Artifact)
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(got, bundle.Checksum) {
			return fail("checksum", fmt.Errorf("artifact sha256 %s does not match registry checksum %s", got, bundle.Checksum))
		}
	}

	var env artifactEnvelope
	if err := json.Unmarshal(bundle.Artifact, &env); err != nil {
		return fail("decode", fmt.Errorf("decode artifact envelope: %w", err))
	}
	if env.FormatVersion != 1 {
		return fail("decode", fmt.Errorf("unsupported artifact format_version %d", env.FormatVersion))
	}

	predictor, err := buildPredictor(env)
	if err != nil {
		return fail("decode", err)
	}

	schema, err := models.ParseInputSchema(bundle.Schema)
	if err != nil {
		return fail("schema", err)
	}
	if w := schema.VectorWidth(); w != predictor.InputArity() {
		return fail("schema", fmt.Errorf("schema produces %d columns but model expects %d", w, predictor.InputArity()))
	}

	// Canonical probe: the model must accept an all-zeros vector before it
	// may publish.
	probe := make([]float64, predictor.InputArity())
	if err := predictor.Validate(probe); err != nil {
		return fail("validate", err)
	}
	if _, err := predictor.Predict(probe); err != nil {
		return fail("validate", fmt.Errorf("canonical prediction failed: %w", err))
	}
	if predictor.SupportsProba() {
		if _, err := predictor.PredictProba(probe); err != nil {
			return fail("validate", fmt.Errorf("canonical probability failed: %w", err))
		}
	}

	l.logger.Info("model artifact materialized",
		"model", bundle.ModelName,
		"version", bundle.Version,
		"type", env.ModelType,
		"arity", predictor.InputArity())

	return &ModelHandle{
		Name:      bundle.ModelName,
		Version:   bundle.Version,
		Stage:     stage,
		LoadedAt:  time.Now().UTC(),
		Schema:    schema,
		Predictor: predictor,
	}, nil
}

func buildPredictor(env artifactEnvelope) (Predictor, error) {
	switch env.ModelType {
	case ModelTypeLinear:
		return newLinearModel(env.Params, env.NFeatures)
	case ModelTypeTreeEnsemble:
		return newTreeEnsemble(env.Params, env.NFeatures)
	case ModelTypeBoostedEnsemble:
		return newBoostedEnsemble(env.Params, env.NFeatures)
	default:
		return nil, fmt.Errorf("unknown model type %q", env.ModelType)
	}
}
