package registry

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Model lifecycle stages assigned by the registry.
const (
	StageStaging    = "staging"
	StageProduction = "production"
	StageArchived   = "archived"
	StageNone       = "none"
)

// ErrNotFound marks a model, version, or alias the registry does not know.
// Terminal for the poll cycle that hit it; never retried inline.
var ErrNotFound = errors.New("registry: not found")

// ModelVersion is the registry's record of one version of a model.
type ModelVersion struct {
	Version   string    `json:"version"`
	Stage     string    `json:"stage"`
	Aliases   []string  `json:"aliases,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ArtifactBundle is everything the loader needs to materialize a predictor:
// the artifact bytes, the schema descriptor published next to it, and the
// registry's checksum when one was recorded.
type ArtifactBundle struct {
	ModelName string
	Version   string
	Artifact  []byte
	Schema    []byte
	Checksum  string
}

// Client is the read-only registry surface the server depends on. The core
// never assumes a specific registry product behind it.
type Client interface {
	ListVersions(ctx context.Context, modelName string) ([]ModelVersion, error)
	ResolveAlias(ctx context.Context, modelName, alias string) (*ModelVersion, error)
	FetchArtifact(ctx context.Context, modelName, version string) (*ArtifactBundle, error)
}

// HighestProduction picks the numerically greatest version with stage
// production. Ties on numeric rank break toward the higher id, which also
// covers non-numeric ids by falling back to string comparison.
func HighestProduction(versions []ModelVersion) (*ModelVersion, bool) {
	var best *ModelVersion
	var bestNum int64
	bestNumeric := false
	for i := range versions {
		v := &versions[i]
		if v.Stage != StageProduction {
			continue
		}
		num, err := strconv.ParseInt(v.Version, 10, 64)
		numeric := err == nil
		switch {
		case best == nil:
			best, bestNum, bestNumeric = v, num, numeric
		case numeric && bestNumeric:
			if num > bestNum {
				best, bestNum = v, num
			}
		case numeric && !bestNumeric:
			best, bestNum, bestNumeric = v, num, true
		case !numeric && !bestNumeric:
			if v.Version > best.Version {
				best = v
			}
		}
	}
	return best, best != nil
}
