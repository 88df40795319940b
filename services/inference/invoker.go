package inference

import (
	"context"
	"errors"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services/modelsource"
)

var errCapability = errors.New("model does not support this predict function")

// invoker is the uniform calling contract over the closed set of flavor families
type invoker interface {
	invoke(ctx context.Context, fn models.PredictFunction, input interface{}, params map[string]interface{}) (interface{}, error)
}

// invokerFor picks the calling convention of flavor
func invokerFor(flavor models.Flavor, handle modelsource.Handle) (invoker, error) {
	switch flavor {
	case models.FlavorPyfunc:
		return genericModel{handle: handle}, nil
	case models.FlavorSklearn:
		return classicEstimator{handle: handle}, nil
	case models.FlavorTransformers, models.FlavorHFHub:
		return textPipeline{handle: handle}, nil
	}
	return nil, errors.New("no calling convention for flavor " + string(flavor))
}

// genericModel forwards params to predict
type genericModel struct {
	handle modelsource.Handle
}

func (g genericModel) invoke(ctx context.Context, fn models.PredictFunction, input interface{}, params map[string]interface{}) (interface{}, error) {
	if fn == models.PredictFunctionPredictProba {
		return predictProba(ctx, g.handle, input)
	}
	p, ok := g.handle.(modelsource.Predictor)
	if !ok {
		return nil, errCapability
	}
	return p.Predict(ctx, input, params)
}

// classicEstimator takes no inference params
type classicEstimator struct {
	handle modelsource.Handle
}

func (c classicEstimator) invoke(ctx context.Context, fn models.PredictFunction, input interface{}, _ map[string]interface{}) (interface{}, error) {
	if fn == models.PredictFunctionPredictProba {
		return predictProba(ctx, c.handle, input)
	}
	p, ok := c.handle.(modelsource.Predictor)
	if !ok {
		return nil, errCapability
	}
	return p.Predict(ctx, input, nil)
}

// textPipeline is called directly with params as keyword arguments
type textPipeline struct {
	handle modelsource.Handle
}

func (t textPipeline) invoke(ctx context.Context, fn models.PredictFunction, input interface{}, params map[string]interface{}) (interface{}, error) {
	if fn == models.PredictFunctionPredictProba {
		return predictProba(ctx, t.handle, input)
	}
	p, ok := t.handle.(modelsource.Pipeline)
	if !ok {
		return nil, errCapability
	}
	return p.Call(ctx, input, params)
}

func predictProba(ctx context.Context, handle modelsource.Handle, input interface{}) (interface{}, error) {
	p, ok := handle.(modelsource.ProbabilityPredictor)
	if !ok {
		return nil, errCapability
	}
	return p.PredictProba(ctx, input)
}
