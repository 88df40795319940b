package handlers

import (
	"context"
	"iter"
	"net/http"
	"slices"

	"github.com/upb/model-control-plane/middleware"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/services/inference"
	"github.com/upb/model-control-plane/services/modelsource"
	"github.com/upb/model-control-plane/services/registry"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// ModelRegistry is the part of the registry the handler reads and unloads through
type ModelRegistry interface {
	List() iter.Seq[models.ModelKey]
	Unload(ctx context.Context, key models.ModelKey) error
}

// LoadScheduler queues background model loads
type LoadScheduler interface {
	Submit(task registry.LoadTask) (string, error)
}

// Predictor runs inference against loaded models
type Predictor interface {
	Predict(ctx context.Context, req inference.PredictRequest) (*inference.Prediction, error)
}

// ModelHandler handles model lifecycle and prediction requests
type ModelHandler struct {
	registry  ModelRegistry
	scheduler LoadScheduler
	predictor Predictor
	audit     AuditRecorder
	logger    *zap.Logger
}

// NewModelHandler creates a new ModelHandler
func NewModelHandler(registry ModelRegistry, scheduler LoadScheduler, predictor Predictor, audit AuditRecorder, logger *zap.Logger) *ModelHandler {
	return &ModelHandler{
		registry:  registry,
		scheduler: scheduler,
		predictor: predictor,
		audit:     audit,
		logger:    logger,
	}
}

// LoadModelRequest carries the construction parameters of a load. The older
// quantization_kwargs and kwargs names are still accepted.
type LoadModelRequest struct {
	Requirements       string                 `json:"requirements"`
	QuantizationParams map[string]interface{} `json:"quantization_params"`
	ExtraParams        map[string]interface{} `json:"extra_params"`
	QuantizationKwargs map[string]interface{} `json:"quantization_kwargs"`
	Kwargs             map[string]interface{} `json:"kwargs"`
}

func (req LoadModelRequest) params() models.LoadParams {
	p := models.LoadParams{
		Requirements:       req.Requirements,
		QuantizationParams: req.QuantizationParams,
		ExtraParams:        req.ExtraParams,
	}
	if p.QuantizationParams == nil {
		p.QuantizationParams = req.QuantizationKwargs
	}
	if p.ExtraParams == nil {
		p.ExtraParams = req.Kwargs
	}
	return p
}

// validateParams checks load parameters against the flavor they are used by.
// Quantization configures Hub pipelines; requirements are checked against MLflow models.
func validateParams(flavor models.Flavor, p models.LoadParams) error {
	if len(p.QuantizationParams) > 0 {
		if flavor != models.FlavorHFHub {
			return services.ErrInvalidInput.WithMessage("quantization_params apply only to the %s flavor", models.FlavorHFHub)
		}
		if err := modelsource.ValidateQuantization(p.QuantizationParams); err != nil {
			return services.ErrInvalidInput.WithMessage("%s", err.Error())
		}
	}
	if p.Requirements != "" {
		if flavor == models.FlavorHFHub {
			return services.ErrInvalidInput.WithMessage("requirements do not apply to the %s flavor", models.FlavorHFHub)
		}
		if _, err := modelsource.ParseRequirements(p.Requirements); err != nil {
			return services.ErrInvalidInput.WithMessage("%s", err.Error())
		}
	}
	return nil
}

// PredictRequest is the body of a prediction. convert_to_numpy is accepted for
// convert_to_numeric.
type PredictRequest struct {
	Data             interface{}            `json:"data"`
	PredictFunction  string                 `json:"predict_function"`
	DType            string                 `json:"dtype"`
	Params           map[string]interface{} `json:"params"`
	ConvertToNumeric *bool                  `json:"convert_to_numeric"`
	ConvertToNumpy   *bool                  `json:"convert_to_numpy"`
}

func (req PredictRequest) convert() bool {
	switch {
	case req.ConvertToNumeric != nil:
		return *req.ConvertToNumeric
	case req.ConvertToNumpy != nil:
		return *req.ConvertToNumpy
	}
	return true
}

// HandleLoadModel handles POST /models/load/{name}/{flavor}/{version_or_alias}
func (h *ModelHandler) HandleLoadModel(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}

	key, err := modelKeyFromPath(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	var req LoadModelRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	params := req.params()
	if err := validateParams(key.Flavor, params); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	requestID := middleware.GetRequestIDFromContext(r.Context())
	taskID, err := h.scheduler.Submit(registry.LoadTask{
		Key:       key,
		Params:    params,
		Requester: *principal,
		RequestID: requestID,
	})
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.logger.Info("model load accepted",
		zap.String("request_id", requestID),
		zap.String("task_id", taskID),
		zap.String("model", key.String()),
		zap.String("username", principal.Username))
	recordAudit(h.audit, r, h.logger,
		models.NewAuditLog(*principal, models.AuditActionModelLoadRequested, "model", key.String()).
			WithDetails(map[string]string{"task_id": taskID}))

	_ = utils.WriteAccepted(w, taskID)
}

// HandleListModels handles GET /models/list
func (h *ModelHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	keys := slices.Collect(h.registry.List())
	if keys == nil {
		keys = []models.ModelKey{}
	}
	_ = utils.WriteOK(w, keys)
}

// HandleUnloadModel handles DELETE /models/unload/{name}/{flavor}/{version_or_alias}
func (h *ModelHandler) HandleUnloadModel(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}

	key, err := modelKeyFromPath(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if err := h.registry.Unload(r.Context(), key); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	recordAudit(h.audit, r, h.logger,
		models.NewAuditLog(*principal, models.AuditActionModelUnloaded, "model", key.String()))
	_ = utils.WriteSuccess(w)
}

// HandlePredict handles POST /models/predict/{name}/{flavor}/{version_or_alias}
func (h *ModelHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	key, err := modelKeyFromPath(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	var req PredictRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	prediction, err := h.predictor.Predict(r.Context(), inference.PredictRequest{
		Key:              key,
		Data:             req.Data,
		PredictFunction:  models.PredictFunction(req.PredictFunction),
		DType:            req.DType,
		Params:           req.Params,
		ConvertToNumeric: req.convert(),
	})
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, prediction)
}
