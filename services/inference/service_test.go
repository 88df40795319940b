package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/internal/observability"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/services/modelsource"
	"github.com/upb/model-control-plane/services/registry"
	"go.uber.org/zap"
)

var errFlat = errors.New("expected 2D array, got 1D array instead")

// columnModel fails on anything but 2-D input and records every call
type columnModel struct {
	calls      []interface{}
	lastParams map[string]interface{}
	probaErr   error
}

func (m *columnModel) Describe() modelsource.Descriptor { return modelsource.Descriptor{Source: "fake"} }

func (m *columnModel) Predict(ctx context.Context, input interface{}, params map[string]interface{}) (interface{}, error) {
	m.calls = append(m.calls, input)
	m.lastParams = params
	a, ok := input.(*Array)
	if !ok || len(a.Shape) != 2 {
		return nil, errFlat
	}
	return &Array{Shape: []int{a.Shape[0]}, Data: make([]float64, a.Shape[0]), DType: DTypeInt64}, nil
}

func (m *columnModel) PredictProba(ctx context.Context, input interface{}) (interface{}, error) {
	m.calls = append(m.calls, input)
	if m.probaErr != nil {
		return nil, m.probaErr
	}
	return []interface{}{[]interface{}{0.1, 0.9}}, nil
}

// pipelineModel echoes its input
type pipelineModel struct {
	lastInput  interface{}
	lastKwargs map[string]interface{}
}

func (p *pipelineModel) Describe() modelsource.Descriptor { return modelsource.Descriptor{Source: "fake"} }

func (p *pipelineModel) Call(ctx context.Context, input interface{}, kwargs map[string]interface{}) (interface{}, error) {
	p.lastInput = input
	p.lastKwargs = kwargs
	return []interface{}{map[string]interface{}{"label": "POSITIVE"}}, nil
}

type staticLookup map[models.ModelKey]modelsource.Handle

func (l staticLookup) Get(key models.ModelKey) (*registry.Model, error) {
	h, ok := l[key]
	if !ok {
		return nil, services.ErrModelNotLoaded
	}
	return &registry.Model{Key: key, Handle: h}, nil
}

// countingMetrics records reshape retries
type countingMetrics struct {
	observability.NopMetrics
	retries  int
	outcomes []string
}

func (c *countingMetrics) RecordReshapeRetry(string) { c.retries++ }
func (c *countingMetrics) RecordPrediction(_, _, outcome string) {
	c.outcomes = append(c.outcomes, outcome)
}

var (
	pyfuncKey  = models.ModelKey{Name: "churn", Flavor: models.FlavorPyfunc, VersionOrAlias: "3"}
	sklearnKey = models.ModelKey{Name: "churn", Flavor: models.FlavorSklearn, VersionOrAlias: "3"}
	hubKey     = models.ModelKey{Name: "sentiment", Flavor: models.FlavorHFHub, VersionOrAlias: "main"}
)

func TestService_ReshapeRetrySucceeds(t *testing.T) {
	model := &columnModel{}
	metrics := &countingMetrics{}
	svc := NewService(staticLookup{pyfuncKey: model}, metrics, zap.NewNop())

	pred, err := svc.Predict(context.Background(), PredictRequest{
		Key:              pyfuncKey,
		Data:             []interface{}{1.0, 2.0, 3.0},
		ConvertToNumeric: true,
		Params:           map[string]interface{}{"threshold": 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(0), int64(0), int64(0)}, pred.Prediction)

	require.Len(t, model.calls, 2)
	assert.Equal(t, []int{3}, model.calls[0].(*Array).Shape)
	assert.Equal(t, []int{3, 1}, model.calls[1].(*Array).Shape)
	assert.Equal(t, map[string]interface{}{"threshold": 0.5}, model.lastParams)
	assert.Equal(t, 1, metrics.retries)
	assert.Equal(t, []string{observability.OutcomeSuccess}, metrics.outcomes)
}

func TestService_ClassicEstimatorDropsParams(t *testing.T) {
	model := &columnModel{}
	svc := NewService(staticLookup{sklearnKey: model}, nil, zap.NewNop())

	_, err := svc.Predict(context.Background(), PredictRequest{
		Key:              sklearnKey,
		Data:             []interface{}{[]interface{}{1.0}},
		ConvertToNumeric: true,
		Params:           map[string]interface{}{"ignored": true},
	})
	require.NoError(t, err)
	assert.Nil(t, model.lastParams)
	assert.Len(t, model.calls, 1)
}

func TestService_BothAttemptsFail(t *testing.T) {
	model := &columnModel{probaErr: errors.New("predict_proba is not available")}
	svc := NewService(staticLookup{pyfuncKey: model}, nil, zap.NewNop())

	_, err := svc.Predict(context.Background(), PredictRequest{
		Key:              pyfuncKey,
		Data:             []interface{}{1.0, 2.0},
		PredictFunction:  models.PredictFunctionPredictProba,
		ConvertToNumeric: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrInferenceFailed)
	assert.ErrorIs(t, err, model.probaErr)
	assert.Contains(t, services.GetErrorDetails(err)["detail"], "as column")
	assert.Len(t, model.calls, 2)
}

func TestService_MalformedInputIsNotRetried(t *testing.T) {
	model := &columnModel{}
	svc := NewService(staticLookup{pyfuncKey: model}, nil, zap.NewNop())

	_, err := svc.Predict(context.Background(), PredictRequest{
		Key:              pyfuncKey,
		Data:             []interface{}{[]interface{}{1.0, 2.0}, []interface{}{3.0}},
		ConvertToNumeric: true,
	})
	assert.ErrorIs(t, err, services.ErrMalformedInput)
	assert.Empty(t, model.calls)
}

func TestService_RawInputIsNotReshaped(t *testing.T) {
	model := &columnModel{}
	svc := NewService(staticLookup{pyfuncKey: model}, nil, zap.NewNop())

	_, err := svc.Predict(context.Background(), PredictRequest{
		Key:              pyfuncKey,
		Data:             []interface{}{1.0, 2.0},
		ConvertToNumeric: false,
	})
	assert.ErrorIs(t, err, services.ErrInferenceFailed)
	assert.Len(t, model.calls, 1)
}

func TestService_TextPipelineGetsRawInput(t *testing.T) {
	pipe := &pipelineModel{}
	svc := NewService(staticLookup{hubKey: pipe}, nil, zap.NewNop())

	pred, err := svc.Predict(context.Background(), PredictRequest{
		Key:              hubKey,
		Data:             "great product",
		ConvertToNumeric: true,
		Params:           map[string]interface{}{"top_k": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "great product", pipe.lastInput)
	assert.Equal(t, map[string]interface{}{"top_k": 1}, pipe.lastKwargs)
	assert.NotNil(t, pred.Prediction)

	_, err = svc.Predict(context.Background(), PredictRequest{
		Key:             hubKey,
		Data:            "great product",
		PredictFunction: models.PredictFunctionPredictProba,
	})
	assert.ErrorIs(t, err, services.ErrInferenceFailed, "pipelines have no predict_proba")
}

func TestService_Validation(t *testing.T) {
	svc := NewService(staticLookup{}, nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Predict(ctx, PredictRequest{Key: pyfuncKey, PredictFunction: "transform"})
	assert.ErrorIs(t, err, services.ErrInvalidPredictFunction)

	_, err = svc.Predict(ctx, PredictRequest{Key: pyfuncKey, Data: []interface{}{1.0}})
	assert.ErrorIs(t, err, services.ErrModelNotLoaded)
}

func TestService_UnknownDType(t *testing.T) {
	svc := NewService(staticLookup{pyfuncKey: &columnModel{}}, nil, zap.NewNop())
	_, err := svc.Predict(context.Background(), PredictRequest{
		Key:              pyfuncKey,
		Data:             []interface{}{1.0},
		DType:            "complex64",
		ConvertToNumeric: true,
	})
	assert.ErrorIs(t, err, services.ErrMalformedInput)
}
