package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fumiama/go-docx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docsplit/internal/chunkfile"
	"github.com/dgallion1/docsplit/internal/extract"
)

// workdir isolates a test from config files and keys in the environment.
func workdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DASHSCOPE_API_KEY", "")
	t.Setenv("DOCSPLIT_LLM_API_KEY", "")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeDOCX(t *testing.T, path string, paras [][2]string) {
	t.Helper()
	doc := docx.New().WithDefaultTheme()
	for _, p := range paras {
		para := doc.AddParagraph()
		if p[0] != "" {
			para.Style(p[0])
		}
		para.AddText(p[1])
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = doc.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

var policyParas = [][2]string{
	{"Heading1", "Leave"},
	{"", strings.Repeat("Leave up to three days is approved by the team lead. ", 6)},
	{"Heading1", "Expenses"},
	{"", "Expenses above 5000 need the CFO."},
}

// chatServer answers every chat completion with reply and counts calls.
func chatServer(t *testing.T, reply string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		content, _ := json.Marshal(reply)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"1","object":"chat.completion","model":"qwen-plus",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const ruleReply = `{"rules":[{"condition":"leave <= 3 days","approver":"team lead","remark":null}]}`

func TestChunkCommand(t *testing.T) {
	dir := workdir(t)
	in := filepath.Join(dir, "HR Policy.docx")
	writeDOCX(t, in, policyParas)

	stdout, err := run(t, "chunk", in, "--chunk-size", "120", "--overlap", "20")
	require.NoError(t, err)

	out := filepath.Join(dir, "HR Policy_chunks.json")
	f, err := chunkfile.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 120, f.Metadata.ChunkSize)
	assert.Equal(t, 20, f.Metadata.ChunkOverlap)
	assert.Greater(t, f.Metadata.TotalChunks, 2)
	assert.Equal(t, "hr-policy_chunk_0000", f.Chunks[0].ChunkID)
	assert.Equal(t, "Leave", f.Chunks[0].Metadata.Title)
	assert.Contains(t, stdout, fmt.Sprintf("✓ %d chunks", f.Metadata.TotalChunks))
}

func TestChunkCommand_ConfigFileAndVerbose(t *testing.T) {
	dir := workdir(t)
	in := filepath.Join(dir, "policy.docx")
	writeDOCX(t, in, policyParas)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docsplit.yaml"),
		[]byte("chunk:\n  size: 1000\n  overlap: 0\noutput:\n  chunks: out/chunks.json\n"), 0o644))

	stdout, err := run(t, "chunk", in, "-v")
	require.NoError(t, err)

	f, err := chunkfile.Read(filepath.Join(dir, "out", "chunks.json"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.Metadata.TotalChunks)
	assert.Equal(t, 0, f.Metadata.ChunkOverlap)
	assert.Contains(t, stdout, "[1] Expenses")
}

func TestChunkCommand_InvalidOverlap(t *testing.T) {
	dir := workdir(t)
	in := filepath.Join(dir, "policy.docx")
	writeDOCX(t, in, policyParas)

	_, err := run(t, "chunk", in, "--chunk-size", "50", "--overlap", "50")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestChunkCommand_MissingFile(t *testing.T) {
	workdir(t)
	_, err := run(t, "chunk", "nope.docx")
	assert.Error(t, err)
}

func TestRulesCommand(t *testing.T) {
	dir := workdir(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	srv := chatServer(t, ruleReply, nil)
	in := filepath.Join(dir, "leave.md")
	require.NoError(t, os.WriteFile(in, []byte("# Leave\n\nUp to 3 days: team lead.\n"), 0o644))

	stdout, err := run(t, "rules", in, "--base-url", srv.URL, "-o", "rules.json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ 1 rules")
	assert.Contains(t, stdout, "team lead")

	data, err := os.ReadFile(filepath.Join(dir, "rules.json"))
	require.NoError(t, err)
	var rs extract.RuleSet
	require.NoError(t, json.Unmarshal(data, &rs))
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "leave <= 3 days", rs.Rules[0].Condition)
	assert.Nil(t, rs.Rules[0].Remark)
	assert.NoFileExists(t, filepath.Join(dir, "fallback.json"))
}

func TestRulesCommand_Fallback(t *testing.T) {
	dir := workdir(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	var calls atomic.Int32
	srv := chatServer(t, "I cannot find any rules.", &calls)
	in := filepath.Join(dir, "leave.md")
	require.NoError(t, os.WriteFile(in, []byte("Nothing to see here.\n"), 0o644))

	stdout, err := run(t, "rules", in, "--base-url", srv.URL, "--max-retries", "1", "--retry-delay", "1ms")
	require.NoError(t, err)
	assert.Contains(t, stdout, "extraction failed after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())

	assert.NoFileExists(t, filepath.Join(dir, "output.json"))
	data, err := os.ReadFile(filepath.Join(dir, "fallback.json"))
	require.NoError(t, err)
	var rec extract.FallbackRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, extract.KindDecode, rec.ErrorKind)
	assert.Equal(t, "I cannot find any rules.", rec.RawResponse)
	assert.Equal(t, "Nothing to see here.\n", rec.OriginalContent)
	assert.False(t, rec.IsAPIError)
}

func TestRulesCommand_RequiresKey(t *testing.T) {
	dir := workdir(t)
	in := filepath.Join(dir, "leave.md")
	require.NoError(t, os.WriteFile(in, []byte("# Leave\n"), 0o644))

	_, err := run(t, "rules", in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DASHSCOPE_API_KEY")
}

func TestPipelineCommand(t *testing.T) {
	dir := workdir(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	var calls atomic.Int32
	srv := chatServer(t, ruleReply, &calls)
	in := filepath.Join(dir, "policy.docx")
	writeDOCX(t, in, policyParas)

	stdout, err := run(t, "pipeline", in, "--base-url", srv.URL, "--chunks", "chunks.json", "--chunk-size", "1000", "--overlap", "0")
	require.NoError(t, err)
	assert.Contains(t, stdout, "completed: 2 rules from 2 chunks")
	assert.Equal(t, int32(2), calls.Load())

	f, err := chunkfile.Read(filepath.Join(dir, "chunks.json"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.Metadata.TotalChunks)

	data, err := os.ReadFile(filepath.Join(dir, "output.json"))
	require.NoError(t, err)
	var rs extract.RuleSet
	require.NoError(t, json.Unmarshal(data, &rs))
	assert.Len(t, rs.Rules, 2)
}

func TestPipelineCommand_WrongExtension(t *testing.T) {
	dir := workdir(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	in := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(in, []byte("# Notes\n"), 0o644))

	_, err := run(t, "pipeline", in)
	assert.Error(t, err)
}

func TestServeCommand_RequiresAPIKey(t *testing.T) {
	workdir(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	_, err := run(t, "serve", "--port", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "report_chunks.json", defaultOutput("/tmp/in/report.docx", "chunks.json"))
	assert.Equal(t, "out/fallback.jsonl", jsonLines("out/fallback.json"))
	assert.Equal(t, "fb.JSONL", jsonLines("fb.JSONL"))
	assert.Equal(t, "a b c", preview("  a\n\nb c "))
}

// ragServer embeds texts mentioning expenses along one axis and everything
// else along another, and answers chat completions with reply.
func ragServer(t *testing.T, reply string, chats *atomic.Int32) *httptest.Server {
	t.Helper()
	chat := chatServer(t, reply, chats)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			chat.Config.Handler.ServeHTTP(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]string, len(req.Input))
		for i, text := range req.Input {
			vec := "[1,0]"
			if strings.Contains(strings.ToLower(text), "expense") {
				vec = "[0,1]"
			}
			data[i] = fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":%s}`, i, vec)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","data":[%s],"usage":{"prompt_tokens":1,"total_tokens":1}}`, strings.Join(data, ","))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAskCommand(t *testing.T) {
	dir := workdir(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	in := filepath.Join(dir, "policy.docx")
	writeDOCX(t, in, policyParas)
	_, err := run(t, "chunk", in, "-o", "chunks.json", "--chunk-size", "1000", "--overlap", "0")
	require.NoError(t, err)

	var chats atomic.Int32
	srv := ragServer(t, `{"answer":"The CFO [policy_chunk_0001].","citations":["policy_chunk_0001","policy_chunk_0000"]}`, &chats)

	stdout, err := run(t, "ask", "Who approves expenses?", "chunks.json", "--base-url", srv.URL, "--json")
	require.NoError(t, err)
	assert.Equal(t, int32(1), chats.Load())

	var ans struct {
		Answer     string   `json:"answer"`
		Citations  []string `json:"citations"`
		HasContext bool     `json:"has_context"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &ans))
	assert.True(t, ans.HasContext)
	assert.Equal(t, "The CFO [policy_chunk_0001].", ans.Answer)
	assert.Equal(t, []string{"policy_chunk_0001"}, ans.Citations, "the leave chunk scores 0 and is not retrieved")
}

func TestAskCommand_NoRelevantChunks(t *testing.T) {
	dir := workdir(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	in := filepath.Join(dir, "policy.docx")
	writeDOCX(t, in, [][2]string{{"Heading1", "Leave"}, {"", "Leave is approved by the team lead."}})
	_, err := run(t, "chunk", in, "-o", "chunks.json")
	require.NoError(t, err)

	var chats atomic.Int32
	srv := ragServer(t, `{"answer":"x","citations":[]}`, &chats)

	stdout, err := run(t, "ask", "Who approves expenses?", "chunks.json", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, stdout, "no relevant chunks")
	assert.Zero(t, chats.Load())
}

func TestAskCommand_Args(t *testing.T) {
	workdir(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	_, err := run(t, "ask", "question only")
	assert.Error(t, err)

	_, err = run(t, "ask", "q", "missing.json")
	assert.Error(t, err)
}
