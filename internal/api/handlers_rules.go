package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docsplit/internal/parser"
	"github.com/dgallion1/docsplit/internal/pipeline"
)

// handleRules extracts approval rules from a Markdown document, sent either
// as the "file" part or as the "content" form field.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var (
		filename string
		data     []byte
	)
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		var ok bool
		filename, data, ok = readPart(w, file, header.Filename, parser.KindMarkdown, s.cfg.MaxUploadBytes)
		if !ok {
			return
		}
	case errors.Is(err, http.ErrMissingFile):
		filename = sanitizeFilename(r.FormValue("title")) + ".md"
		data = []byte(r.FormValue("content"))
	default:
		jsonError(w, "invalid file part: "+err.Error(), http.StatusBadRequest)
		return
	}

	src, err := parser.LoadMarkdown(bytes.NewReader(data), filename)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.extractor.Extract(r.Context(), pipeline.MarkdownInput(src))
	if err != nil {
		s.log.Error("rule extraction aborted", "source", src.Name, "error", err)
		jsonError(w, "rule extraction aborted: "+err.Error(), http.StatusInternalServerError)
		return
	}

	body := map[string]any{
		"source":   src.Name,
		"title":    src.Title,
		"attempts": res.Attempts,
	}
	if res.OK() {
		body["status"] = "ok"
		body["rules"] = res.Rules.Rules
		body["flagged"] = res.Flagged
	} else {
		body["status"] = "fallback"
		body["fallback"] = res.Fallback
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   snap.ID,
		"doc_id":   snap.DocID,
		"filename": snap.Filename,
		"status":   snap.Status,
		"phase":    snap.Phase,
		"progress": snap.Progress,
		"results":  snap.Results,
		"rules":    snap.Rules().Rules,
	})
}
