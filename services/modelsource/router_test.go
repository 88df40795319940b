package modelsource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/models"
)

type namedHandle string

func (h namedHandle) Describe() Descriptor { return Descriptor{Source: string(h)} }

type namedSource string

func (s namedSource) ResolveVersion(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	return namedHandle(string(s) + ":version"), nil
}

func (s namedSource) ResolveAlias(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	return namedHandle(string(s) + ":alias"), nil
}

func TestRouter_DispatchesByFlavor(t *testing.T) {
	r := NewDefaultRouter(namedSource("mlflow"), namedSource("hub"))
	ctx := context.Background()

	for _, f := range []models.Flavor{models.FlavorPyfunc, models.FlavorSklearn, models.FlavorTransformers} {
		h, err := r.ResolveVersion(ctx, models.ModelKey{Name: "m", Flavor: f, VersionOrAlias: "1"}, models.LoadParams{})
		require.NoError(t, err)
		assert.Equal(t, "mlflow:version", h.Describe().Source)
	}

	h, err := r.ResolveAlias(ctx, models.ModelKey{Name: "m", Flavor: models.FlavorHFHub, VersionOrAlias: "main"}, models.LoadParams{})
	require.NoError(t, err)
	assert.Equal(t, "hub:alias", h.Describe().Source)
}

func TestRouter_UnknownFlavor(t *testing.T) {
	r := NewRouter()
	_, err := r.ResolveVersion(context.Background(), models.ModelKey{Name: "m", Flavor: models.FlavorPyfunc, VersionOrAlias: "1"}, models.LoadParams{})
	assert.ErrorIs(t, err, ErrUnsupportedFlavor)
}

func TestMergeParams(t *testing.T) {
	base := map[string]interface{}{"a": 1, "b": 2}
	out := mergeParams(base, map[string]interface{}{"b": 3})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 3}, out)
	assert.Equal(t, 2, base["b"])
	assert.Nil(t, mergeParams(nil, nil))
}
