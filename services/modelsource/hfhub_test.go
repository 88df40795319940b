package modelsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/models"
	"go.uber.org/zap"
)

func TestHub_ResolveAndCall(t *testing.T) {
	var gotReq hubInferenceRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/distilbert/sst2/revision/main", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"distilbert/sst2","sha":"abc1234def","pipeline_tag":"text-classification"}`))
	})
	mux.HandleFunc("/models/distilbert/sst2", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`[{"label":"POSITIVE","score":0.99}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	hub := NewHub(HubConfig{Endpoint: srv.URL, InferenceEndpoint: srv.URL, Token: "hf-token"}, zap.NewNop())
	key := models.ModelKey{Name: "distilbert/sst2", Flavor: models.FlavorHFHub, VersionOrAlias: "main"}
	ctx := context.Background()

	_, err := hub.ResolveVersion(ctx, key, models.LoadParams{})
	assert.ErrorIs(t, err, ErrNotAVersion, "branch names are aliases")

	h, err := hub.ResolveAlias(ctx, key, models.LoadParams{ExtraParams: map[string]interface{}{"top_k": 1, "truncation": true}})
	require.NoError(t, err)
	assert.Equal(t, "abc1234def", h.Describe().Version)

	pipe, ok := h.(Pipeline)
	require.True(t, ok)
	_, isPredictor := h.(Predictor)
	assert.False(t, isPredictor)

	out, err := pipe.Call(ctx, "great product", map[string]interface{}{"top_k": 2})
	require.NoError(t, err)
	assert.Equal(t, "great product", gotReq.Inputs)
	assert.Equal(t, float64(2), gotReq.Parameters["top_k"])
	assert.Equal(t, true, gotReq.Parameters["truncation"])
	assert.Len(t, out, 1)
}

func TestHub_ResolveVersionByCommit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/models/gpt2/revision/abc1234", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"gpt2","sha":"abc1234"}`))
	}))
	defer srv.Close()

	hub := NewHub(HubConfig{Endpoint: srv.URL, InferenceEndpoint: srv.URL}, zap.NewNop())
	h, err := hub.ResolveVersion(context.Background(), models.ModelKey{Name: "gpt2", Flavor: models.FlavorHFHub, VersionOrAlias: "abc1234"}, models.LoadParams{})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/models/gpt2", h.Describe().Endpoint)
}

func TestHub_MissingRevision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Revision Not Found"}`))
	}))
	defer srv.Close()

	hub := NewHub(HubConfig{Endpoint: srv.URL, InferenceEndpoint: srv.URL}, zap.NewNop())
	_, err := hub.ResolveAlias(context.Background(), models.ModelKey{Name: "gpt2", Flavor: models.FlavorHFHub, VersionOrAlias: "nope"}, models.LoadParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Revision Not Found")
}

func TestHub_Quantization(t *testing.T) {
	var gotReq hubInferenceRequest
	var revisionCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/tiiuae/falcon-7b/revision/main", func(w http.ResponseWriter, r *http.Request) {
		revisionCalls++
		_, _ = w.Write([]byte(`{"id":"tiiuae/falcon-7b","sha":"fe1234a"}`))
	})
	mux.HandleFunc("/models/tiiuae/falcon-7b", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`[{"generated_text":"hi"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	hub := NewHub(HubConfig{Endpoint: srv.URL, InferenceEndpoint: srv.URL}, zap.NewNop())
	key := models.ModelKey{Name: "tiiuae/falcon-7b", Flavor: models.FlavorHFHub, VersionOrAlias: "main"}
	ctx := context.Background()

	t.Run("forwarded with every call", func(t *testing.T) {
		quant := map[string]interface{}{"load_in_4bit": true, "bnb_4bit_quant_type": "nf4"}
		h, err := hub.ResolveAlias(ctx, key, models.LoadParams{QuantizationParams: quant})
		require.NoError(t, err)

		_, err = h.(Pipeline).Call(ctx, "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, quant, gotReq.QuantizationConfig)
	})

	t.Run("unknown field rejected before any request", func(t *testing.T) {
		before := revisionCalls
		_, err := hub.ResolveAlias(ctx, key, models.LoadParams{QuantizationParams: map[string]interface{}{"bits": 3}})
		assert.ErrorIs(t, err, ErrInvalidQuantization)
		assert.Equal(t, before, revisionCalls)
	})
}

func TestValidateQuantization(t *testing.T) {
	assert.NoError(t, ValidateQuantization(nil))
	assert.NoError(t, ValidateQuantization(map[string]interface{}{"load_in_8bit": true, "llm_int8_threshold": 6.0}))
	assert.ErrorIs(t, ValidateQuantization(map[string]interface{}{"load_in_8bit": true, "load_in_4bit": true}), ErrInvalidQuantization)
	assert.ErrorIs(t, ValidateQuantization(map[string]interface{}{"quant_method": "gptq"}), ErrInvalidQuantization)
}
