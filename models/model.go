package models

import (
	"fmt"
	"strings"
)

// Flavor is the calling-convention family of a loaded model
type Flavor string

const (
	FlavorPyfunc       Flavor = "pyfunc"
	FlavorSklearn      Flavor = "sklearn"
	FlavorTransformers Flavor = "transformers"
	FlavorHFHub        Flavor = "hfhub"
)

// Flavors lists the supported flavors
var Flavors = []Flavor{FlavorPyfunc, FlavorSklearn, FlavorTransformers, FlavorHFHub}

// ParseFlavor normalizes a flavor path segment. "hf-hub-pipeline" is accepted for hfhub.
func ParseFlavor(s string) (Flavor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pyfunc":
		return FlavorPyfunc, nil
	case "sklearn":
		return FlavorSklearn, nil
	case "transformers":
		return FlavorTransformers, nil
	case "hfhub", "hf-hub-pipeline":
		return FlavorHFHub, nil
	}
	return "", fmt.Errorf("unknown flavor %q", s)
}

// IsTextPipeline reports whether the flavor takes raw (non-numeric) input
func (f Flavor) IsTextPipeline() bool {
	return f == FlavorTransformers || f == FlavorHFHub
}

// ModelKey identifies one loaded model
type ModelKey struct {
	Name           string `json:"name"`
	Flavor         Flavor `json:"flavor"`
	VersionOrAlias string `json:"version_or_alias"`
}

// String renders the key as name/flavor/version_or_alias
func (k ModelKey) String() string {
	return k.Name + "/" + string(k.Flavor) + "/" + k.VersionOrAlias
}

// Less orders keys by name, then flavor, then version_or_alias
func (k ModelKey) Less(o ModelKey) bool {
	if k.Name != o.Name {
		return k.Name < o.Name
	}
	if k.Flavor != o.Flavor {
		return k.Flavor < o.Flavor
	}
	return k.VersionOrAlias < o.VersionOrAlias
}

// LoadParams are the durable construction parameters of a loaded model
type LoadParams struct {
	Requirements       string                 `json:"requirements,omitempty"`
	QuantizationParams map[string]interface{} `json:"quantization_params,omitempty"`
	ExtraParams        map[string]interface{} `json:"extra_params,omitempty"`
}

// CacheRecord is one entry of the durable model cache
type CacheRecord struct {
	Name               string                 `json:"name"`
	Flavor             Flavor                 `json:"flavor"`
	VersionOrAlias     string                 `json:"version_or_alias"`
	Requirements       string                 `json:"requirements,omitempty"`
	QuantizationParams map[string]interface{} `json:"quantization_params,omitempty"`
	ExtraParams        map[string]interface{} `json:"extra_params,omitempty"`
}

// NewCacheRecord pairs a key with its load parameters
func NewCacheRecord(key ModelKey, params LoadParams) CacheRecord {
	return CacheRecord{
		Name:               key.Name,
		Flavor:             key.Flavor,
		VersionOrAlias:     key.VersionOrAlias,
		Requirements:       params.Requirements,
		QuantizationParams: params.QuantizationParams,
		ExtraParams:        params.ExtraParams,
	}
}

// Key returns the model key of the record
func (r CacheRecord) Key() ModelKey {
	return ModelKey{Name: r.Name, Flavor: r.Flavor, VersionOrAlias: r.VersionOrAlias}
}

// Params returns the load parameters of the record
func (r CacheRecord) Params() LoadParams {
	return LoadParams{
		Requirements:       r.Requirements,
		QuantizationParams: r.QuantizationParams,
		ExtraParams:        r.ExtraParams,
	}
}

// PredictFunction selects the handle method used for inference
type PredictFunction string

const (
	PredictFunctionPredict      PredictFunction = "predict"
	PredictFunctionPredictProba PredictFunction = "predict_proba"
)

// Valid reports whether f is a supported predict function
func (f PredictFunction) Valid() bool {
	return f == PredictFunctionPredict || f == PredictFunctionPredictProba
}
