package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services/datastore"
	"go.uber.org/zap"
)

func newDataHandler(t *testing.T) (*DataHandler, string, *recordingAudit) {
	t.Helper()
	root := t.TempDir()
	store, err := datastore.NewStore(root, "", zap.NewNop())
	require.NoError(t, err)
	audit := &recordingAudit{}
	return NewDataHandler(store, audit, zap.NewNop()), root, audit
}

func TestDataHandler_UploadDownload(t *testing.T) {
	h, root, audit := newDataHandler(t)
	payload := []byte("id,churn\n1,0\n2,1\n")

	rec := httptest.NewRecorder()
	h.HandleUpload(rec, newRequest(t, http.MethodPost, "/data/upload",
		UploadRequest{Filename: "raw/churn.csv", FileBytes: payload}, plainUser, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"filename":"raw/churn.csv"}`, rec.Body.String())
	onDisk, err := os.ReadFile(filepath.Join(root, "raw", "churn.csv"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)
	assert.Equal(t, []models.AuditAction{models.AuditActionDataUploaded}, audit.actions())

	rec = httptest.NewRecorder()
	h.HandleDownload(rec, newRequest(t, http.MethodPost, "/data/download",
		DownloadRequest{Filename: "raw/churn.csv"}, scientist, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body FileResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "raw/churn.csv", body.Filename)
	assert.Equal(t, payload, body.FileBytes)
}

func TestDataHandler_HandleUpload_Errors(t *testing.T) {
	h, _, _ := newDataHandler(t)

	rec := httptest.NewRecorder()
	h.HandleUpload(rec, newRequest(t, http.MethodPost, "/data/upload",
		UploadRequest{Filename: "a.txt", FileBytes: []byte("1")}, plainUser, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("existing file without overwrite", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleUpload(rec, newRequest(t, http.MethodPost, "/data/upload",
			UploadRequest{Filename: "a.txt", FileBytes: []byte("2")}, plainUser, nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "file_exists", decodeError(t, rec).Error)
	})

	t.Run("overwrite", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleUpload(rec, newRequest(t, http.MethodPost, "/data/upload",
			UploadRequest{Filename: "a.txt", FileBytes: []byte("2"), Overwrite: true}, plainUser, nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("escaping path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleUpload(rec, newRequest(t, http.MethodPost, "/data/upload",
			UploadRequest{Filename: "../../etc/passwd", FileBytes: []byte("x")}, plainUser, nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_path", decodeError(t, rec).Error)
	})

	t.Run("invalid base64", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleUpload(rec, newRequest(t, http.MethodPost, "/data/upload",
			`{"filename":"b.txt","file_bytes":"not base64!"}`, plainUser, nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing filename", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleUpload(rec, newRequest(t, http.MethodPost, "/data/upload",
			UploadRequest{FileBytes: []byte("x")}, plainUser, nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDataHandler_HandleDownload_Missing(t *testing.T) {
	h, _, _ := newDataHandler(t)

	rec := httptest.NewRecorder()
	h.HandleDownload(rec, newRequest(t, http.MethodPost, "/data/download",
		DownloadRequest{Filename: "nope.csv"}, admin, nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "file_not_found", decodeError(t, rec).Error)
}

func TestDataHandler_HandleList(t *testing.T) {
	h, root, _ := newDataHandler(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0o770))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.csv"), nil, 0o660))
	require.NoError(t, os.WriteFile(filepath.Join(root, "raw", "a.csv"), nil, 0o660))

	rec := httptest.NewRecorder()
	h.HandleList(rec, newRequest(t, http.MethodPost, "/data/list", nil, admin, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["b.csv","raw/"]`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.HandleList(rec, newRequest(t, http.MethodPost, "/data/list", ListDataRequest{Directory: "raw"}, admin, nil))
	assert.JSONEq(t, `["a.csv"]`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.HandleList(rec, newRequest(t, http.MethodPost, "/data/list", ListDataRequest{Directory: "missing"}, admin, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
