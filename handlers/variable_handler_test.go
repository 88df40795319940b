package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services/variables"
	"go.uber.org/zap"
)

func newVariableHandler(t *testing.T) (*VariableHandler, *recordingAudit) {
	t.Helper()
	store, err := variables.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	audit := &recordingAudit{}
	return NewVariableHandler(store, audit, zap.NewNop()), audit
}

func TestVariableHandler_Lifecycle(t *testing.T) {
	h, audit := newVariableHandler(t)

	rec := httptest.NewRecorder()
	h.HandleSet(rec, newRequest(t, http.MethodPost, "/variable-store/set",
		`{"variable_name":"threshold","value":{"churn":0.7,"tags":["a","b"]}}`, scientist, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.HandleGet(rec, newRequest(t, http.MethodPost, "/variable-store/get",
		VariableRequest{VariableName: "threshold"}, scientist, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"churn":0.7,"tags":["a","b"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.HandleList(rec, newRequest(t, http.MethodGet, "/variable-store/list", nil, scientist, nil))
	assert.JSONEq(t, `["threshold"]`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.HandleSet(rec, newRequest(t, http.MethodPost, "/variable-store/set",
		`{"variable_name":"threshold","value":1}`, scientist, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "variable_exists", decodeError(t, rec).Error)

	rec = httptest.NewRecorder()
	h.HandleSet(rec, newRequest(t, http.MethodPost, "/variable-store/set",
		`{"variable_name":"threshold","value":1,"overwrite":true}`, scientist, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleDelete(rec, newRequest(t, http.MethodPost, "/variable-store/delete",
		VariableRequest{VariableName: "threshold"}, scientist, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleDelete(rec, newRequest(t, http.MethodPost, "/variable-store/delete",
		VariableRequest{VariableName: "threshold"}, scientist, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "variable_not_found", decodeError(t, rec).Error)

	assert.Equal(t, []models.AuditAction{
		models.AuditActionVariableSet,
		models.AuditActionVariableSet,
		models.AuditActionVariableDeleted,
	}, audit.actions())
	assert.Equal(t, "alice/threshold", audit.entries[0].ResourceID)
}

func TestVariableHandler_Ownership(t *testing.T) {
	h, _ := newVariableHandler(t)

	rec := httptest.NewRecorder()
	h.HandleSet(rec, newRequest(t, http.MethodPost, "/variable-store/set",
		`{"variable_name":"secret","value":"s"}`, scientist, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("other users see their own namespace", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleGet(rec, newRequest(t, http.MethodPost, "/variable-store/get",
			VariableRequest{VariableName: "secret"}, plainUser, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-admin naming another user is forbidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleGet(rec, newRequest(t, http.MethodPost, "/variable-store/get",
			VariableRequest{VariableName: "secret", Username: "alice"}, plainUser, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = httptest.NewRecorder()
		h.HandleList(rec, newRequest(t, http.MethodGet, "/variable-store/list?username=alice", nil, plainUser, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("naming yourself is allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleGet(rec, newRequest(t, http.MethodPost, "/variable-store/get",
			VariableRequest{VariableName: "secret", Username: "alice"}, scientist, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin may address another user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleGet(rec, newRequest(t, http.MethodPost, "/variable-store/get",
			VariableRequest{VariableName: "secret", Username: "alice"}, admin, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `"s"`, rec.Body.String())
	})

	t.Run("empty list is an array", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleList(rec, newRequest(t, http.MethodGet, "/variable-store/list", nil, plainUser, nil))
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}

func TestVariableHandler_Validation(t *testing.T) {
	h, _ := newVariableHandler(t)

	for name, body := range map[string]string{
		"missing name":  `{"value":1}`,
		"missing value": `{"variable_name":"x"}`,
		"not json":      `{"variable_name":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleSet(rec, newRequest(t, http.MethodPost, "/variable-store/set", body, scientist, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
