package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

// maxUploadBytes caps multipart upload memory buffering; larger bodies
// spill to disk inside ParseMultipartForm.
const maxUploadBytes = 64 << 20

// handleUpload accepts a multipart upload (fields: tenant_id, file),
// spools it to the upload directory, and queues an upload job.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	tenantID := r.FormValue("tenant_id")
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id field is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to prepare upload directory")
		return
	}
	tmpPath := filepath.Join(s.cfg.UploadDir, uuid.NewString()+".upload")
	tmp, err := os.Create(tmpPath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to spool upload")
		return
	}
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		s.writeError(w, http.StatusInternalServerError, "failed to spool upload")
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		s.writeError(w, http.StatusInternalServerError, "failed to spool upload")
		return
	}

	jobID, err := s.manager.EnqueueUpload(tenantID, tmpPath, header.Filename)
	if err != nil {
		_ = os.Remove(tmpPath)
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	s.logger.Info("upload accepted",
		zap.String("tenant_id", tenantID),
		zap.String("job_id", jobID),
		zap.String("file_name", header.Filename))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantParam(w, r)
	if !ok {
		return
	}
	records, err := s.store.ListUploadRecords(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list uploads")
		return
	}
	if records == nil {
		records = []*types.UploadRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"uploads": records})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantParam(w, r)
	if !ok {
		return
	}
	list, err := s.store.ListJobs(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*types.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.manager.GetJob(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.manager.Cancel(id) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}
	job, err := s.manager.GetJob(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.State == types.JobRunning {
		s.writeError(w, http.StatusConflict, "job is already running")
		return
	}
	s.writeError(w, http.StatusConflict,
		fmt.Sprintf("job is %s and cannot be cancelled", job.State))
}

type extractionRequest struct {
	TenantID  string `json:"tenant_id"`
	BatchSize int    `json:"batch_size"`
	DelayMS   int    `json:"delay_ms"`
}

func (s *Server) handleStartExtraction(w http.ResponseWriter, r *http.Request) {
	var req extractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	jobID, err := s.manager.EnqueueExtraction(req.TenantID, req.BatchSize, req.DelayMS)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantParam(w, r)
	if !ok {
		return
	}
	counts, err := s.store.CountEntities(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count entities")
		return
	}
	perPatient, err := s.store.MentionsPerPatient(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate mentions")
		return
	}
	if perPatient == nil {
		perPatient = []storage.PatientMentionCount{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"counts":               counts,
		"mentions_per_patient": perPatient,
	})
}

type recoveryRequest struct {
	TenantID    string `json:"tenant_id"`
	ProcessType string `json:"process_type,omitempty"`
}

func (s *Server) decodeRecovery(w http.ResponseWriter, r *http.Request) (recoveryRequest, bool) {
	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return req, false
	}
	return req, true
}

func (s *Server) handleClearMentions(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRecovery(w, r)
	if !ok {
		return
	}
	n, err := s.recovery.ClearMentions(r.Context(), req.TenantID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to clear mentions")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleResetStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRecovery(w, r)
	if !ok {
		return
	}
	pt := req.ProcessType
	if pt == "" {
		pt = "extraction"
	}
	if err := s.recovery.ResetStatus(r.Context(), req.TenantID, pt); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to reset status")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handlePurgeTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRecovery(w, r)
	if !ok {
		return
	}
	if err := s.recovery.PurgeTenant(r.Context(), req.TenantID); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to purge tenant")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}
