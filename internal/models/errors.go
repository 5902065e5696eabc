package models

import "fmt"

// Error taxonomy crossing component boundaries. Components return these as
// values; the HTTP layer owns the mapping to status codes and telemetry
// statuses. None of them carry HTTP semantics themselves.

// ValidationError is a malformed request or a schema mismatch. Always names
// the offending field when one exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ModelNotReadyError means the requested model/version has no loaded handle.
type ModelNotReadyError struct {
	Name    string
	Version string
}

func (e *ModelNotReadyError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("model %s version %s is not loaded", e.Name, e.Version)
	}
	return fmt.Sprintf("model %s is not loaded", e.Name)
}

// FeatureStoreError is a transient I/O failure against either feature tier,
// surfaced after the inline retry was also exhausted.
type FeatureStoreError struct {
	Op  string // get, get_batch, put
	Err error
}

func (e *FeatureStoreError) Error() string {
	return fmt.Sprintf("feature store %s: %v", e.Op, e.Err)
}

func (e *FeatureStoreError) Unwrap() error { return e.Err }

// PredictorError is a failure inside model inference. Non-retryable.
type PredictorError struct {
	Name    string
	Version string
	Err     error
}

func (e *PredictorError) Error() string {
	return fmt.Sprintf("predictor %s/%s: %v", e.Name, e.Version, e.Err)
}

func (e *PredictorError) Unwrap() error { return e.Err }

// LoadError is any failure while materializing a model: artifact fetch,
// checksum, decode, schema mismatch, or canonical validation. Non-fatal to
// the process; the existing handle stays published.
type LoadError struct {
	Name    string
	Version string
	Step    string // fetch, checksum, decode, schema, validate
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s/%s failed at %s: %v", e.Name, e.Version, e.Step, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ConfigError is fatal at startup only.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}
