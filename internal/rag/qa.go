package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dgallion1/docsplit/internal/doctree"
	"github.com/dgallion1/docsplit/internal/extract"
	"github.com/dgallion1/docsplit/internal/logging"
)

const (
	DefaultTopK           = 5
	DefaultMaxChunks      = 5
	DefaultScoreThreshold = 0.35
)

// NoContextAnswer is returned without calling the model when no chunk
// clears the score threshold.
const NoContextAnswer = "No passage in the indexed documents is relevant to this question. Try rephrasing it or adding detail."

const sourcePreviewRunes = 200

const answerSystemPrompt = `You are a careful question answering assistant. Answer strictly from the reference passages you are given.

Rules:
1. Every statement must cite at least one passage id, for example [doc_chunk_0001].
2. Do not state anything that no passage supports.
3. Do not generalize beyond the passages.
4. If the passages are not enough to answer, say that the answer cannot be determined from them.

Reply with a single JSON object with two fields: "answer", the answer text with a [passage id] after each point, and "citations", the list of passage ids actually cited.`

// Chatter sends one system and one user message to a chat model.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Options tunes retrieval.
type Options struct {
	TopK           int     // Chunks retrieved from the index
	MaxChunks      int     // Chunks placed in the prompt
	ScoreThreshold float32 // Minimum cosine similarity
}

// DefaultOptions retrieves five chunks scoring at least 0.35.
func DefaultOptions() Options {
	return Options{TopK: DefaultTopK, MaxChunks: DefaultMaxChunks, ScoreThreshold: DefaultScoreThreshold}
}

// Source is a cited chunk, with its text shortened for display.
type Source struct {
	ChunkID  string                `json:"chunk_id"`
	Score    float32               `json:"score"`
	Text     string                `json:"text"`
	Metadata doctree.ChunkMetadata `json:"metadata"`
}

// Answer is the outcome of Ask.
type Answer struct {
	Answer     string   `json:"answer"`
	Citations  []string `json:"citations"`
	Sources    []Source `json:"sources"`
	HasContext bool     `json:"has_context"`
}

// Engine answers questions from the chunks of an Index.
type Engine struct {
	index *Index
	chat  Chatter
	opts  Options
	log   *slog.Logger
}

// NewEngine builds an engine. Zero options take their defaults.
func NewEngine(index *Index, chat Chatter, log *slog.Logger, opts Options) (*Engine, error) {
	if index == nil || chat == nil {
		return nil, errors.New("rag: index and chat model are required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = DefaultMaxChunks
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{index: index, chat: chat, opts: opts, log: log.With("component", "rag")}, nil
}

// Retrieve returns the chunks that go into the prompt for question.
func (e *Engine) Retrieve(ctx context.Context, question string) ([]Hit, error) {
	hits, err := e.index.Search(ctx, question, e.opts.TopK, e.opts.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	if len(hits) > e.opts.MaxChunks {
		hits = hits[:e.opts.MaxChunks]
	}
	return hits, nil
}

// Ask retrieves context for question and asks the model to answer from it.
// Citations of chunks that were not retrieved are removed.
func (e *Engine) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is empty")
	}

	hits, err := e.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(hits) == 0 {
		e.log.Info("no chunk above threshold", "threshold", e.opts.ScoreThreshold)
		return &Answer{Answer: NoContextAnswer, Citations: []string{}, Sources: []Source{}}, nil
	}
	for _, h := range hits {
		e.log.Debug("retrieved", "chunk_id", h.ChunkID, "score", h.Score)
	}

	raw, err := e.chat.Chat(ctx, answerSystemPrompt, BuildQuestionPrompt(BuildContext(hits), question))
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}

	text, cited := parseAnswer(raw)
	ans := &Answer{Answer: text, Citations: []string{}, Sources: []Source{}, HasContext: true}
	byID := make(map[string]Hit, len(hits))
	for _, h := range hits {
		byID[h.ChunkID] = h
	}
	seen := make(map[string]bool, len(cited))
	for _, id := range cited {
		if seen[id] {
			continue
		}
		seen[id] = true
		h, ok := byID[id]
		if !ok {
			e.log.Warn("removed citation of a chunk that was not retrieved", "chunk_id", id)
			continue
		}
		ans.Citations = append(ans.Citations, id)
		ans.Sources = append(ans.Sources, Source{
			ChunkID:  h.ChunkID,
			Score:    h.Score,
			Text:     shorten(h.Text, sourcePreviewRunes),
			Metadata: h.Metadata,
		})
	}
	e.log.Info("question answered", "retrieved", len(hits), "cited", len(ans.Citations))
	return ans, nil
}

// BuildContext renders hits as numbered reference passages, best first.
func BuildContext(hits []Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		header := fmt.Sprintf("[%s] (score: %.4f)", h.ChunkID, h.Score)
		if h.Metadata.Title != "" {
			header += " " + h.Metadata.Title
		}
		parts[i] = header + "\n" + h.Text
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// BuildQuestionPrompt places the question after its reference passages.
func BuildQuestionPrompt(passages, question string) string {
	var sb strings.Builder
	sb.WriteString("Reference passages:\n")
	sb.WriteString(passages)
	sb.WriteString("\n\nQuestion:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer strictly from the passages above, cite each point as [passage id], and return only the JSON object ")
	sb.WriteString(`{"answer": "...", "citations": ["..."]}.`)
	return sb.String()
}

// parseAnswer reads the answer and citations of a reply. A reply that is
// not the expected JSON object is used as the answer text, uncited.
func parseAnswer(raw string) (string, []string) {
	body := extract.StripCodeBlock(raw)
	if !gjson.Valid(body) {
		return strings.TrimSpace(raw), nil
	}
	res := gjson.Parse(body)
	answer := res.Get("answer")
	if answer.Type != gjson.String {
		return strings.TrimSpace(raw), nil
	}
	var cited []string
	for _, c := range res.Get("citations").Array() {
		if id := strings.TrimSpace(c.String()); id != "" {
			cited = append(cited, id)
		}
	}
	return answer.String(), cited
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
