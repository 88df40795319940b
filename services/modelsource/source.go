// Package modelsource resolves model identity keys against the external model registries
// and returns invocable handles.
package modelsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/model-control-plane/models"
)

var (
	// ErrNotAVersion is returned when a token cannot be interpreted as a version
	ErrNotAVersion = errors.New("token is not a version")

	// ErrNotReady is returned when a resolved model has no usable runtime
	ErrNotReady = errors.New("model runtime is not ready")

	// ErrUnsupportedFlavor is returned when no source serves a flavor
	ErrUnsupportedFlavor = errors.New("flavor not supported by any model source")
)

// Source resolves a model key into a handle. The registry tries ResolveVersion first
// and falls back to ResolveAlias with the same token.
type Source interface {
	ResolveVersion(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error)
	ResolveAlias(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error)
}

// Handle is an opaque loaded model. Its calling conventions are exposed through
// the Predictor, ProbabilityPredictor and Pipeline capabilities.
type Handle interface {
	Describe() Descriptor
}

// Descriptor identifies what a handle was resolved to
type Descriptor struct {
	Source   string `json:"source"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Predictor is the generic model calling convention
type Predictor interface {
	Predict(ctx context.Context, input interface{}, params map[string]interface{}) (interface{}, error)
}

// ProbabilityPredictor returns class probabilities
type ProbabilityPredictor interface {
	PredictProba(ctx context.Context, input interface{}) (interface{}, error)
}

// Pipeline is the text pipeline calling convention
type Pipeline interface {
	Call(ctx context.Context, input interface{}, kwargs map[string]interface{}) (interface{}, error)
}

// SourceError is a failure reported by an external model registry or runtime
type SourceError struct {
	Source     string
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Source, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *SourceError) Unwrap() error {
	return e.Cause
}

// NewSourceError creates a new source error
func NewSourceError(source, op string, statusCode int, message string, cause error) *SourceError {
	return &SourceError{
		Source:     source,
		Op:         op,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// mergeParams returns base overlaid with override. Neither input is modified.
func mergeParams(base, override map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
