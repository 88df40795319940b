package handlers

import (
	"net/http"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// DataStore reads and writes files under the data directory
type DataStore interface {
	Upload(name string, content []byte, overwrite bool) (string, error)
	Download(name string) ([]byte, error)
	List(dir string) ([]string, error)
}

// DataHandler handles data file transfers
type DataHandler struct {
	store  DataStore
	audit  AuditRecorder
	logger *zap.Logger
}

// NewDataHandler creates a new DataHandler
func NewDataHandler(store DataStore, audit AuditRecorder, logger *zap.Logger) *DataHandler {
	return &DataHandler{
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

// UploadRequest carries a file. file_bytes is base64 encoded on the wire.
type UploadRequest struct {
	Filename  string `json:"filename" validate:"required"`
	FileBytes []byte `json:"file_bytes"`
	Overwrite bool   `json:"overwrite"`
}

// DownloadRequest names the file to read
type DownloadRequest struct {
	Filename string `json:"filename" validate:"required"`
}

// ListDataRequest names the directory to list. Empty lists the data directory itself.
type ListDataRequest struct {
	Directory string `json:"directory"`
}

// UploadResponse names the stored file relative to the data directory
type UploadResponse struct {
	Filename string `json:"filename"`
}

// FileResponse carries a file, base64 encoded on the wire
type FileResponse struct {
	Filename  string `json:"filename"`
	FileBytes []byte `json:"file_bytes"`
}

// HandleUpload handles POST /data/upload
func (h *DataHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}

	var req UploadRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	stored, err := h.store.Upload(req.Filename, req.FileBytes, req.Overwrite)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	recordAudit(h.audit, r, h.logger,
		models.NewAuditLog(*principal, models.AuditActionDataUploaded, "file", stored).
			WithDetails(map[string]interface{}{"bytes": len(req.FileBytes), "overwrite": req.Overwrite}))
	_ = utils.WriteOK(w, UploadResponse{Filename: stored})
}

// HandleDownload handles POST /data/download
func (h *DataHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	content, err := h.store.Download(req.Filename)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if content == nil {
		content = []byte{}
	}
	_ = utils.WriteOK(w, FileResponse{Filename: req.Filename, FileBytes: content})
}

// HandleList handles POST /data/list
func (h *DataHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var req ListDataRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	names, err := h.store.List(req.Directory)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	if names == nil {
		names = []string{}
	}
	_ = utils.WriteOK(w, names)
}
