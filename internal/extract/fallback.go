package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FallbackRecord keeps an input that could not be turned into rules,
// together with what the model last said, for manual follow-up.
type FallbackRecord struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source,omitempty"`
	OriginalContent string    `json:"original_content"`
	RawResponse     string    `json:"raw_response"`
	ErrorKind       ErrorKind `json:"error_kind"`
	Error           string    `json:"error"`
	Attempts        int       `json:"attempts"`
	IsAPIError      bool      `json:"is_api_error"`
}

// NewFallbackRecord builds a record from the last failure. raw is the last
// reply the model produced in any attempt, if there was one.
func NewFallbackRecord(in Input, last *Failure, raw string, attempts int) *FallbackRecord {
	rec := &FallbackRecord{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Source:          in.Source,
		OriginalContent: in.Content,
		RawResponse:     raw,
		Attempts:        attempts,
	}
	if last != nil {
		rec.ErrorKind = last.Kind
		rec.Error = last.Detail()
		rec.IsAPIError = last.Kind == KindTransport
	}
	return rec
}

// FallbackSink stores fallback records.
type FallbackSink interface {
	WriteFallback(rec *FallbackRecord) error
}

// FileSink writes fallback records to a file. A path ending in ".jsonl"
// collects one record per line; any other path holds only the latest record
// as indented JSON.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the file records are written to.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) WriteFallback(rec *FallbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create fallback dir: %w", err)
		}
	}

	if strings.HasSuffix(strings.ToLower(s.path), ".jsonl") {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode fallback: %w", err)
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open fallback file: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("write fallback: %w", err)
		}
		return f.Close()
	}

	data, err := MarshalIndent(rec)
	if err != nil {
		return fmt.Errorf("encode fallback: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write fallback: %w", err)
	}
	return nil
}

// MemorySink keeps fallback records in memory, newest last.
type MemorySink struct {
	mu      sync.Mutex
	records []*FallbackRecord
}

func (s *MemorySink) WriteFallback(rec *FallbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the stored records.
func (s *MemorySink) Records() []*FallbackRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FallbackRecord, len(s.records))
	copy(out, s.records)
	return out
}
