package modelsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirements(t *testing.T) {
	reqs, err := ParseRequirements(`
# pinned by training
scikit-learn==1.5.0
torch[cuda] >= 2.1, <3
-r base.txt
numpy; python_version < "3.12"
Pandas_Stubs, requests
`)
	require.NoError(t, err)
	assert.Equal(t, []Requirement{
		{Name: "scikit-learn", Spec: "==1.5.0"},
		{Name: "torch", Spec: ">=2.1,<3"},
		{Name: "numpy", Spec: ""},
		{Name: "pandas-stubs", Spec: ""},
		{Name: "requests", Spec: ""},
	}, reqs)

	_, err = ParseRequirements(">=1.0")
	assert.Error(t, err)
}

func TestRequirement_Pin(t *testing.T) {
	v, ok := Requirement{Spec: "==1.5.0"}.Pin()
	assert.True(t, ok)
	assert.Equal(t, "1.5.0", v)

	for _, spec := range []string{"", ">=1.0", "==1.*", "==1.0,!=1.0.1"} {
		_, ok := Requirement{Spec: spec}.Pin()
		assert.False(t, ok, spec)
	}
}

func TestCheckRequirements(t *testing.T) {
	logged := []Requirement{{Name: "scikit-learn", Spec: "==1.5.0"}, {Name: "pandas", Spec: ">=2.0"}}

	assert.NoError(t, CheckRequirements(nil, logged))
	assert.NoError(t, CheckRequirements([]Requirement{{Name: "scikit-learn", Spec: "==1.5.0"}, {Name: "pandas", Spec: "==2.2.0"}}, logged))

	err := CheckRequirements([]Requirement{{Name: "scikit-learn", Spec: "==1.4.2"}, {Name: "xgboost"}}, logged)
	assert.ErrorIs(t, err, ErrRequirementsConflict)
	assert.Contains(t, err.Error(), "scikit-learn==1.4.2 requested")
	assert.Contains(t, err.Error(), "xgboost is not a logged requirement")
}
