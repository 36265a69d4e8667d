package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fumiama/go-docx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docsplit/internal/chunker"
	"github.com/dgallion1/docsplit/internal/chunkfile"
	"github.com/dgallion1/docsplit/internal/config"
	"github.com/dgallion1/docsplit/internal/doctree"
	"github.com/dgallion1/docsplit/internal/extract"
	"github.com/dgallion1/docsplit/internal/pipeline"
)

const testKey = "secret"

type stubExtractor struct {
	fail bool
}

func (s stubExtractor) Extract(_ context.Context, in extract.Input) (*extract.Result, error) {
	if s.fail {
		return &extract.Result{Attempts: 3, Fallback: &extract.FallbackRecord{ID: "fb-1", Source: in.Source, ErrorKind: extract.KindDecode}}, nil
	}
	rs := &extract.RuleSet{Rules: []extract.Rule{{Condition: in.Title, Approver: "manager"}}}
	return &extract.Result{Rules: rs, Attempts: 1}, nil
}

func newTestServer(t *testing.T, ex pipeline.RuleExtractor, llm *extract.Client) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		APIKey:         testKey,
		MaxUploadBytes: 1 << 20,
		Chunk:          config.ChunkConfig{Encoding: chunker.DefaultEncoding},
		Pipeline:       config.PipelineConfig{Workers: 1, QueueSize: 4, MaxConcurrentExtract: 2, JobTTL: time.Hour},
	}
	orch := pipeline.NewOrchestrator(cfg.Pipeline, ex, chunker.DefaultConfig(), log)
	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)
	t.Cleanup(func() {
		cancel()
		orch.Stop()
	})
	return NewServer(orch, ex, llm, log, cfg, chunker.DefaultConfig())
}

func docxBytes(t *testing.T, paras []doctree.Paragraph) []byte {
	t.Helper()
	doc := docx.New().WithDefaultTheme()
	for _, p := range paras {
		para := doc.AddParagraph()
		if p.Level > 0 {
			para.Style(fmt.Sprintf("Heading%d", p.Level))
		}
		para.AddText(p.Text)
	}
	var buf bytes.Buffer
	_, err := doc.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testKey)
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

var policy = []doctree.Paragraph{
	{Text: "Leave", Level: 1},
	{Text: strings.Repeat("Leave up to three days is approved by the team lead. ", 20)},
	{Text: "Expenses", Level: 1},
	{Text: "Expenses above 5000 need the CFO."},
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(s, req).Code)

	req.Header.Set("Authorization", "Bearer wrong")
	rec := serve(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid api key")
}

func TestChunk(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	req := multipartRequest(t, "/api/chunk", "HR Policy.docx", docxBytes(t, policy),
		map[string]string{"chunk_size": "300", "overlap": "30"})

	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out chunkfile.File
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "HR Policy.docx", out.Metadata.SourceFile)
	assert.Equal(t, 300, out.Metadata.ChunkSize)
	assert.Equal(t, 30, out.Metadata.ChunkOverlap)
	require.Equal(t, out.Metadata.TotalChunks, len(out.Chunks))
	require.Greater(t, len(out.Chunks), 2)

	last := out.Chunks[len(out.Chunks)-1]
	assert.Equal(t, "Expenses", last.Metadata.Title)
	assert.Equal(t, 0, last.Metadata.SequenceIndex)
	for i, c := range out.Chunks {
		assert.Equal(t, chunkfile.ChunkID("hr-policy", i), c.ChunkID)
		assert.LessOrEqual(t, len([]rune(c.Text)), 300)
	}
}

func TestChunk_Errors(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	doc := docxBytes(t, policy)

	tests := []struct {
		name     string
		filename string
		data     []byte
		fields   map[string]string
		status   int
	}{
		{"overlap not below size", "a.docx", doc, map[string]string{"chunk_size": "50", "overlap": "50"}, http.StatusBadRequest},
		{"size not a number", "a.docx", doc, map[string]string{"chunk_size": "big"}, http.StatusBadRequest},
		{"unknown length unit", "a.docx", doc, map[string]string{"length": "pages"}, http.StatusBadRequest},
		{"wrong extension", "a.pdf", doc, nil, http.StatusBadRequest},
		{"missing file", "", nil, nil, http.StatusBadRequest},
		{"not a docx", "a.docx", []byte("plain text"), nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, multipartRequest(t, "/api/chunk", tt.filename, tt.data, tt.fields))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestChunk_TooLarge(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	s.cfg.MaxUploadBytes = 10
	rec := serve(s, multipartRequest(t, "/api/chunk", "a.docx", bytes.Repeat([]byte("x"), 100), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRules_File(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	md := []byte("# Leave approvals\n\nUp to three days: team lead.\n")
	rec := serve(s, multipartRequest(t, "/api/rules", "leave.md", md, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Status   string         `json:"status"`
		Source   string         `json:"source"`
		Rules    []extract.Rule `json:"rules"`
		Attempts int            `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "leave.md", body.Source)
	require.Len(t, body.Rules, 1)
	assert.Equal(t, "Leave approvals", body.Rules[0].Condition)
	assert.Equal(t, 1, body.Attempts)
}

func TestRules_InlineContentFallback(t *testing.T) {
	s := newTestServer(t, stubExtractor{fail: true}, nil)
	req := multipartRequest(t, "/api/rules", "", nil, map[string]string{
		"title":   "expenses",
		"content": "Expenses above 5000 need the CFO.",
	})
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "fallback", body["status"])
	assert.Equal(t, "expenses.md", body["source"])
	fb, ok := body["fallback"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fb-1", fb["id"])
}

func TestRules_EmptyContent(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	rec := serve(s, multipartRequest(t, "/api/rules", "", nil, map[string]string{"content": "  "}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPipeline(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	rec := serve(s, multipartRequest(t, "/api/pipeline", "policy.docx", docxBytes(t, policy), nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted struct {
		JobID   string `json:"job_id"`
		PollURL string `json:"poll_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, "/api/jobs/"+accepted.JobID, accepted.PollURL)

	var status struct {
		Status   pipeline.JobStatus `json:"status"`
		Progress pipeline.Progress  `json:"progress"`
		Rules    []extract.Rule     `json:"rules"`
	}
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, accepted.PollURL, nil)
		req.Header.Set("Authorization", "Bearer "+testKey)
		rec := serve(s, req)
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.Status == pipeline.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, status.Progress.TotalChunks, status.Progress.ChunksProcessed)
	assert.Len(t, status.Rules, status.Progress.TotalChunks)
	assert.Equal(t, "Leave", status.Rules[0].Condition)
}

func TestJobStatus_NotFound(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	assert.Equal(t, http.StatusNotFound, serve(s, req).Code)
}

func TestLLMStats(t *testing.T) {
	s := newTestServer(t, stubExtractor{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, req).Code)

	client := extract.NewClient(extract.ClientConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"}, nil)
	client.Stats.Record(extract.Call{Latency: 120 * time.Millisecond, PromptTokens: 40})
	s = newTestServer(t, stubExtractor{}, client)
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Model string                `json:"model"`
		Stats extract.StatsSnapshot `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, extract.DefaultModel, body.Model)
	assert.Equal(t, 1, body.Stats.Count)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "policy.docx", sanitizeFilename("../../etc/policy.docx"))
	assert.Equal(t, "unnamed", sanitizeFilename(""))
	assert.Equal(t, "a_b.docx", sanitizeFilename(`a\b.docx`))
}
