package modelsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/upb/model-control-plane/models"
	"go.uber.org/zap"
)

const (
	mlflowSourceName = "mlflow"
	versionReady     = "READY"

	predictMethodParam = "predict_method"
)

// MLflowConfig configures the tracking server client
type MLflowConfig struct {
	TrackingURI string
	Token       string

	// ServingURLTemplate locates the scoring runtime of a version; {name} and {version} are substituted.
	ServingURLTemplate string
	Timeout            time.Duration
}

// MLflow resolves models through the MLflow model registry REST API and invokes them
// through the MLflow scoring protocol.
type MLflow struct {
	cfg    MLflowConfig
	client restClient
	logger *zap.Logger
}

// NewMLflow creates a new MLflow source
func NewMLflow(cfg MLflowConfig, logger *zap.Logger) *MLflow {
	cfg.TrackingURI = strings.TrimSuffix(cfg.TrackingURI, "/")
	return &MLflow{
		cfg:    cfg,
		client: newRESTClient(mlflowSourceName, cfg.Token, cfg.Timeout),
		logger: logger,
	}
}

type mlflowModelVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Source  string `json:"source"`
	RunID   string `json:"run_id"`
}

type mlflowModelVersionResponse struct {
	ModelVersion mlflowModelVersion `json:"model_version"`
}

// ResolveVersion treats the token as a registry version number
func (m *MLflow) ResolveVersion(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	if n, err := strconv.Atoi(key.VersionOrAlias); err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotAVersion, key.VersionOrAlias)
	}

	q := url.Values{"name": {key.Name}, "version": {key.VersionOrAlias}}
	var resp mlflowModelVersionResponse
	if err := m.client.do(ctx, "get model version", http.MethodGet, m.cfg.TrackingURI+"/api/2.0/mlflow/model-versions/get?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return m.bind(ctx, key, params, resp.ModelVersion)
}

// ResolveAlias treats the token as a registered model alias
func (m *MLflow) ResolveAlias(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	q := url.Values{"name": {key.Name}, "alias": {key.VersionOrAlias}}
	var resp mlflowModelVersionResponse
	if err := m.client.do(ctx, "get model version by alias", http.MethodGet, m.cfg.TrackingURI+"/api/2.0/mlflow/registered-models/alias?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return m.bind(ctx, key, params, resp.ModelVersion)
}

// bind attaches a resolved version to its scoring runtime after checking the runtime answers
func (m *MLflow) bind(ctx context.Context, key models.ModelKey, params models.LoadParams, mv mlflowModelVersion) (Handle, error) {
	if mv.Version == "" {
		return nil, NewSourceError(mlflowSourceName, "resolve", 0, "registry returned no version", nil)
	}
	if mv.Status != "" && mv.Status != versionReady {
		return nil, NewSourceError(mlflowSourceName, "resolve", 0, fmt.Sprintf("version %s is %s", mv.Version, mv.Status), ErrNotReady)
	}

	name := mv.Name
	if name == "" {
		name = key.Name
	}
	if params.Requirements != "" {
		if err := m.checkRequirements(ctx, name, mv.Version, params.Requirements); err != nil {
			return nil, err
		}
	}

	endpoint := strings.NewReplacer(
		"{name}", url.PathEscape(name),
		"{version}", url.PathEscape(mv.Version),
	).Replace(m.cfg.ServingURLTemplate)
	endpoint = strings.TrimSuffix(endpoint, "/")

	if err := m.client.do(ctx, "ping", http.MethodGet, endpoint+"/ping", nil, nil); err != nil {
		return nil, NewSourceError(mlflowSourceName, "bind", 0, "scoring runtime unavailable", err)
	}

	m.logger.Info("model version resolved",
		zap.String("model", key.String()),
		zap.String("version", mv.Version),
		zap.String("endpoint", endpoint))

	return &mlflowHandle{
		desc: Descriptor{
			Source:   mlflowSourceName,
			Name:     name,
			Version:  mv.Version,
			Endpoint: endpoint,
		},
		defaults: params.ExtraParams,
		client:   m.client,
	}, nil
}

// mlflowHandle scores through a running MLflow model server
type mlflowHandle struct {
	desc     Descriptor
	defaults map[string]interface{}
	client   restClient
}

type invocationRequest struct {
	Inputs interface{}            `json:"inputs"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type invocationResponse struct {
	Predictions interface{} `json:"predictions"`
}

func (h *mlflowHandle) Describe() Descriptor {
	return h.desc
}

func (h *mlflowHandle) Predict(ctx context.Context, input interface{}, params map[string]interface{}) (interface{}, error) {
	return h.invoke(ctx, "predict", input, params)
}

func (h *mlflowHandle) PredictProba(ctx context.Context, input interface{}) (interface{}, error) {
	return h.invoke(ctx, "predict_proba", input, map[string]interface{}{predictMethodParam: "predict_proba"})
}

// Call runs a transformers pipeline; load-time extra params are defaults under per-call kwargs
func (h *mlflowHandle) Call(ctx context.Context, input interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return h.invoke(ctx, "pipeline", input, mergeParams(h.defaults, kwargs))
}

func (h *mlflowHandle) invoke(ctx context.Context, op string, input interface{}, params map[string]interface{}) (interface{}, error) {
	var resp invocationResponse
	if err := h.client.do(ctx, op, http.MethodPost, h.desc.Endpoint+"/invocations", invocationRequest{Inputs: input, Params: params}, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

// checkRequirements compares the requested requirements with the requirements.txt
// logged with the model version. A version without one is accepted with a warning.
func (m *MLflow) checkRequirements(ctx context.Context, name, version, requirements string) error {
	const op = "check requirements"

	requested, err := ParseRequirements(requirements)
	if err != nil {
		return NewSourceError(mlflowSourceName, op, 0, err.Error(), ErrRequirementsConflict)
	}

	q := url.Values{"name": {name}, "version": {version}, "path": {"requirements.txt"}}
	raw, err := m.client.fetch(ctx, op, m.cfg.TrackingURI+"/model-versions/get-artifact?"+q.Encode())
	if err != nil {
		var srcErr *SourceError
		if errors.As(err, &srcErr) && srcErr.StatusCode == http.StatusNotFound {
			m.logger.Warn("model version has no logged requirements, skipping check",
				zap.String("model", name),
				zap.String("version", version))
			return nil
		}
		return err
	}

	logged, err := ParseRequirements(string(raw))
	if err != nil {
		return NewSourceError(mlflowSourceName, op, 0, "unreadable logged requirements", err)
	}
	if err := CheckRequirements(requested, logged); err != nil {
		return NewSourceError(mlflowSourceName, op, 0, "", err)
	}
	return nil
}
