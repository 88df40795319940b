package modelsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/upb/model-control-plane/models"
	"go.uber.org/zap"
)

const hubSourceName = "hfhub"

var commitSHA = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// ErrInvalidQuantization means quantization parameters are not a bitsandbytes config
var ErrInvalidQuantization = errors.New("invalid quantization parameters")

// quantizationFields are the bitsandbytes config fields the inference endpoint accepts
var quantizationFields = map[string]bool{
	"load_in_8bit":                     true,
	"load_in_4bit":                     true,
	"llm_int8_threshold":               true,
	"llm_int8_skip_modules":            true,
	"llm_int8_enable_fp32_cpu_offload": true,
	"llm_int8_has_fp16_weight":         true,
	"bnb_4bit_compute_dtype":           true,
	"bnb_4bit_quant_type":              true,
	"bnb_4bit_use_double_quant":        true,
	"bnb_4bit_quant_storage":           true,
}

// ValidateQuantization checks params against the bitsandbytes config fields.
// 8-bit and 4-bit loading are mutually exclusive.
func ValidateQuantization(params map[string]interface{}) error {
	for k := range params {
		if !quantizationFields[k] {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidQuantization, k)
		}
	}
	if params["load_in_8bit"] == true && params["load_in_4bit"] == true {
		return fmt.Errorf("%w: load_in_8bit and load_in_4bit are mutually exclusive", ErrInvalidQuantization)
	}
	return nil
}

// HubConfig configures the Hugging Face Hub client
type HubConfig struct {
	Endpoint          string
	InferenceEndpoint string
	Token             string
	Timeout           time.Duration
}

// Hub resolves repositories on the Hugging Face Hub and runs them through the inference API.
// Versions are commit hashes; aliases are branch or tag names.
type Hub struct {
	cfg    HubConfig
	client restClient
	logger *zap.Logger
}

// NewHub creates a new Hugging Face Hub source
func NewHub(cfg HubConfig, logger *zap.Logger) *Hub {
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	cfg.InferenceEndpoint = strings.TrimSuffix(cfg.InferenceEndpoint, "/")
	return &Hub{
		cfg:    cfg,
		client: newRESTClient(hubSourceName, cfg.Token, cfg.Timeout),
		logger: logger,
	}
}

type hubModelInfo struct {
	ID          string `json:"id"`
	SHA         string `json:"sha"`
	PipelineTag string `json:"pipeline_tag"`
	Disabled    bool   `json:"disabled"`
}

// ResolveVersion pins the repository to a commit hash
func (h *Hub) ResolveVersion(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	if !commitSHA.MatchString(key.VersionOrAlias) {
		return nil, fmt.Errorf("%w: %q is not a commit hash", ErrNotAVersion, key.VersionOrAlias)
	}
	return h.resolve(ctx, key, params)
}

// ResolveAlias resolves a branch or tag name
func (h *Hub) ResolveAlias(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	return h.resolve(ctx, key, params)
}

func (h *Hub) resolve(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	if err := ValidateQuantization(params.QuantizationParams); err != nil {
		return nil, NewSourceError(hubSourceName, "resolve", 0, "", err)
	}

	u := fmt.Sprintf("%s/api/models/%s/revision/%s", h.cfg.Endpoint, escapeRepo(key.Name), url.PathEscape(key.VersionOrAlias))

	var info hubModelInfo
	if err := h.client.do(ctx, "get revision", http.MethodGet, u, nil, &info); err != nil {
		return nil, err
	}
	if info.Disabled {
		return nil, NewSourceError(hubSourceName, "resolve", 0, "repository is disabled", ErrNotReady)
	}

	h.logger.Info("hub revision resolved",
		zap.String("model", key.String()),
		zap.String("sha", info.SHA),
		zap.String("pipeline_tag", info.PipelineTag))

	return &hubHandle{
		desc: Descriptor{
			Source:   hubSourceName,
			Name:     key.Name,
			Version:  info.SHA,
			Endpoint: h.cfg.InferenceEndpoint + "/models/" + escapeRepo(key.Name),
		},
		defaults:     params.ExtraParams,
		quantization: params.QuantizationParams,
		client:       h.client,
	}, nil
}

// escapeRepo escapes each segment of an owner/name repository id
func escapeRepo(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// hubHandle is a text pipeline served by the inference API. Quantization is sent
// with every call so the endpoint loads the weights the same way each time.
type hubHandle struct {
	desc         Descriptor
	defaults     map[string]interface{}
	quantization map[string]interface{}
	client       restClient
}

type hubInferenceRequest struct {
	Inputs             interface{}            `json:"inputs"`
	Parameters         map[string]interface{} `json:"parameters,omitempty"`
	QuantizationConfig map[string]interface{} `json:"quantization_config,omitempty"`
}

func (h *hubHandle) Describe() Descriptor {
	return h.desc
}

func (h *hubHandle) Call(ctx context.Context, input interface{}, kwargs map[string]interface{}) (interface{}, error) {
	var out interface{}
	req := hubInferenceRequest{
		Inputs:             input,
		Parameters:         mergeParams(h.defaults, kwargs),
		QuantizationConfig: h.quantization,
	}
	if err := h.client.do(ctx, "pipeline", http.MethodPost, h.desc.Endpoint, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
