// Package inference dispatches prediction calls to loaded models.
package inference

import (
	"context"
	"errors"

	"github.com/upb/model-control-plane/internal/observability"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/services/registry"
	"go.uber.org/zap"
)

// ModelLookup returns a loaded model
type ModelLookup interface {
	Get(key models.ModelKey) (*registry.Model, error)
}

// PredictRequest is one prediction call
type PredictRequest struct {
	Key              models.ModelKey
	Data             interface{}
	PredictFunction  models.PredictFunction
	DType            string
	Params           map[string]interface{}
	ConvertToNumeric bool
}

// Prediction is the normalized result of a prediction
type Prediction struct {
	Prediction interface{} `json:"prediction"`
}

// Service runs predictions against the registry
type Service struct {
	models  ModelLookup
	metrics observability.Metrics
	logger  *zap.Logger
}

// NewService creates a new inference service
func NewService(lookup ModelLookup, metrics observability.Metrics, logger *zap.Logger) *Service {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Service{models: lookup, metrics: metrics, logger: logger}
}

// Predict coerces the input, invokes the model and, when the first call fails on an
// array input, retries once with the input reshaped into a single column.
func (s *Service) Predict(ctx context.Context, req PredictRequest) (*Prediction, error) {
	fn := req.PredictFunction
	if fn == "" {
		fn = models.PredictFunctionPredict
	}
	if !fn.Valid() {
		return nil, services.ErrInvalidPredictFunction.WithDetail("predict_function", string(fn))
	}

	m, err := s.models.Get(req.Key)
	if err != nil {
		return nil, err
	}
	inv, err := invokerFor(req.Key.Flavor, m.Handle)
	if err != nil {
		return nil, services.ErrInvalidFlavor.Wrap(err)
	}

	var arr *Array
	var input interface{} = req.Data
	if req.ConvertToNumeric && !req.Key.Flavor.IsTextPipeline() {
		dtype, err := ParseDType(req.DType)
		if err != nil {
			return nil, err
		}
		arr, err = NewArray(req.Data, dtype)
		if err != nil {
			return nil, err
		}
		input = arr
	}

	flavor := string(req.Key.Flavor)
	out, primaryErr := inv.invoke(ctx, fn, input, req.Params)
	if primaryErr == nil {
		s.metrics.RecordPrediction(flavor, string(fn), observability.OutcomeSuccess)
		return &Prediction{Prediction: normalize(out)}, nil
	}
	if ctx.Err() != nil || arr == nil {
		return nil, s.failed(req.Key, fn, primaryErr)
	}

	s.logger.Debug("prediction failed, retrying as column vector",
		zap.String("model", req.Key.String()),
		zap.Ints("shape", arr.Shape),
		zap.Error(primaryErr))
	s.metrics.RecordReshapeRetry(flavor)

	out, retryErr := inv.invoke(ctx, fn, arr.Column(), req.Params)
	if retryErr != nil {
		return nil, s.failed(req.Key, fn, errors.Join(
			stepError("as given", primaryErr),
			stepError("as column", retryErr),
		))
	}

	s.metrics.RecordPrediction(flavor, string(fn), observability.OutcomeSuccess)
	return &Prediction{Prediction: normalize(out)}, nil
}

func (s *Service) failed(key models.ModelKey, fn models.PredictFunction, cause error) error {
	s.metrics.RecordPrediction(string(key.Flavor), string(fn), observability.OutcomeFailure)
	s.logger.Warn("prediction failed",
		zap.String("model", key.String()),
		zap.String("predict_function", string(fn)),
		zap.Error(cause))
	return services.ErrInferenceFailed.
		WithMessage("there was an issue running `%s`", fn).
		WithDetail("detail", cause.Error()).
		Wrap(cause)
}

// normalize converts array results into plain nested lists
func normalize(out interface{}) interface{} {
	if a, ok := out.(*Array); ok {
		return a.Nested()
	}
	return out
}

type namedStepError struct {
	step string
	err  error
}

func (e *namedStepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *namedStepError) Unwrap() error { return e.err }

func stepError(step string, err error) error {
	return &namedStepError{step: step, err: err}
}
