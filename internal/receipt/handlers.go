package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xiaotiantakumi/receiptfly/internal/queue"
)

// maxUploadSize bounds multipart uploads; high-resolution phone photos fit comfortably
const maxUploadSize = int64(50 << 20)

func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, message string, code int) {
	writeJSON(w, logger, code, map[string]string{"error": message})
}

type jobResponse struct {
	JobID            string `json:"jobId"`
	DocumentLocation string `json:"documentLocation"`
	Status           string `json:"status"`
}

func newJobResponse(job queue.Job) jobResponse {
	return jobResponse{
		JobID:            job.JobID,
		DocumentLocation: job.DocumentLocation.String(),
		Status:           "queued",
	}
}

// splitList reads a repeated or comma separated form value
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUploadDocument stores a multipart document and queues it for ingestion
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.logger.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, s.logger, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, s.logger, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		s.logger.Error("Error getting file from form", "error", err)
		writeError(w, s.logger, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.logger.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, s.logger, "Error reading file", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		writeError(w, s.logger, "File is empty", http.StatusBadRequest)
		return
	}

	opts := JobOptions{
		AccountTitles: splitList(r.MultipartForm.Value["accountTitles"]),
		Categories:    splitList(r.MultipartForm.Value["categories"]),
	}
	job, err := s.service.UploadDocument(r.Context(), header.Filename, data, opts)
	if err != nil {
		s.logger.Error("Error queueing document", "filename", header.Filename, "error", err)
		writeError(w, s.logger, "Error queueing document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, http.StatusAccepted, newJobResponse(job))
}

// handleEnqueueDocuments queues already-uploaded documents by blob path
func (s *Server) handleEnqueueDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BlobPaths     []string `json:"blobPaths"`
		AccountTitles []string `json:"accountTitles"`
		Categories    []string `json:"categories"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, s.logger, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.BlobPaths) == 0 {
		writeError(w, s.logger, "blobPaths is required", http.StatusBadRequest)
		return
	}

	jobs, err := s.service.EnqueueDocuments(r.Context(), req.BlobPaths, JobOptions{
		AccountTitles: req.AccountTitles,
		Categories:    req.Categories,
	})
	if err != nil && len(jobs) == 0 {
		s.logger.Error("Error queueing documents", "error", err)
		writeError(w, s.logger, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("Partially queued documents", "queued", len(jobs), "error", err)
	}

	resp := struct {
		Queued int      `json:"queued"`
		JobIDs []string `json:"jobIds"`
		Error  string   `json:"error,omitempty"`
	}{Queued: len(jobs), JobIDs: make([]string, 0, len(jobs))}
	for _, job := range jobs {
		resp.JobIDs = append(resp.JobIDs, job.JobID)
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, s.logger, http.StatusAccepted, resp)
}

// handleSignUpload issues a pre-signed upload URL for direct-to-storage uploads
func (s *Server) handleSignUpload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("blobName")
	if name == "" {
		writeError(w, s.logger, "blobName is required", http.StatusBadRequest)
		return
	}

	url, loc, err := s.service.SignUpload(r.Context(), name)
	if errors.Is(err, ErrSigningUnsupported) {
		writeError(w, s.logger, "Signed uploads are not available", http.StatusNotImplemented)
		return
	}
	if err != nil {
		s.logger.Error("Error signing upload", "blob_name", name, "error", err)
		writeError(w, s.logger, "Error signing upload", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]string{
		"uploadUrl": url,
		"blobPath":  loc.String(),
	})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts(r.Context())
	if err != nil {
		s.logger.Error("Error listing receipts", "error", err)
		writeError(w, s.logger, "Internal server error", http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []*Receipt{}
	}
	writeJSON(w, s.logger, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, s.logger, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Error getting receipt", "error", err)
		writeError(w, s.logger, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, receipt)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteReceipt(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, s.logger, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Error deleting receipt", "error", err)
		writeError(w, s.logger, "Error deleting receipt", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportReceipts streams every receipt as an XLSX workbook
func (s *Server) handleExportReceipts(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportReceipts(r.Context())
	if err != nil {
		s.logger.Error("Error exporting receipts", "error", err)
		writeError(w, s.logger, "Error exporting receipts", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.xlsx"`)
	w.Write(data)
}
