package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgallion1/docsplit/internal/chunker"
	"github.com/dgallion1/docsplit/internal/chunkfile"
	"github.com/dgallion1/docsplit/internal/parser"
	"github.com/dgallion1/docsplit/internal/pipeline"
)

// handleChunk splits an uploaded .docx and returns the chunk export.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := s.readUpload(w, r, parser.KindDOCX)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	cfg, err := s.chunkOverrides(r)
	if err != nil {
		writeError(w, err)
		return
	}

	chunks, err := chunker.ProcessReader(bytes.NewReader(data), filename, cfg)
	if err != nil {
		s.log.Warn("chunking failed", "filename", filename, "error", err)
		writeError(w, err)
		return
	}

	out, err := chunkfile.New(filename, chunks, cfg.ChunkSize, cfg.ChunkOverlap).Encode()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

// handlePipeline queues an uploaded .docx for chunking and rule extraction.
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := s.readUpload(w, r, parser.KindDOCX)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	job := pipeline.NewJob(filename, data)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"doc_id":   job.DocID,
		"status":   pipeline.StatusQueued,
		"poll_url": fmt.Sprintf("/api/jobs/%s", job.ID),
	})
}

// readUpload parses the multipart form and returns the "file" part. It
// writes the error response itself and reports false on failure.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, kind parser.Kind) (string, []byte, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		r.MultipartForm.RemoveAll()
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return "", nil, false
	}
	defer file.Close()

	filename, data, ok := readPart(w, file, header.Filename, kind, s.cfg.MaxUploadBytes)
	if !ok {
		r.MultipartForm.RemoveAll()
	}
	return filename, data, ok
}

func readPart(w http.ResponseWriter, file io.Reader, name string, kind parser.Kind, limit int64) (string, []byte, bool) {
	filename := sanitizeFilename(name)
	if !parser.IsSupportedExtension(filename, kind) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return "", nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return "", nil, false
	}
	if int64(len(data)) > limit {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", limit), http.StatusRequestEntityTooLarge)
		return "", nil, false
	}
	return filename, data, true
}

// chunkOverrides applies the optional chunk_size, overlap and length form
// fields to the server's chunk configuration.
func (s *Server) chunkOverrides(r *http.Request) (chunker.Config, error) {
	cfg := s.chunkCfg
	if v := r.FormValue("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &chunker.ConfigError{Field: "chunk_size", Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		cfg.ChunkSize = n
	}
	if v := r.FormValue("overlap"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &chunker.ConfigError{Field: "chunk_overlap", Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		cfg.ChunkOverlap = n
	}
	if v := r.FormValue("length"); v != "" {
		length, err := chunker.LengthFor(v, s.cfg.Chunk.Encoding)
		if err != nil {
			return cfg, err
		}
		cfg.Length = length
	}
	return cfg, nil
}

// writeError maps typed errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		cfgErr   *chunker.ConfigError
		parseErr *parser.ParseError
		fileErr  *parser.FileError
	)
	switch {
	case errors.As(err, &cfgErr):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &parseErr):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &fileErr):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
