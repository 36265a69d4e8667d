package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docsplit/internal/chunker"
	"github.com/dgallion1/docsplit/internal/chunkfile"
	"github.com/dgallion1/docsplit/internal/doctree"
	"github.com/dgallion1/docsplit/internal/extract"
	"github.com/dgallion1/docsplit/internal/outline"
	"github.com/dgallion1/docsplit/internal/parser"
)

// RuleExtractor is the part of extract.Extractor the worker needs.
type RuleExtractor interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Result, error)
}

// Worker processes a single document job.
type Worker struct {
	extractor RuleExtractor
	log       *slog.Logger
	chunkCfg  chunker.Config

	maxConcurrentExtract int
}

func NewWorker(ex RuleExtractor, log *slog.Logger, chunkCfg chunker.Config, maxExtract int) *Worker {
	if maxExtract <= 0 {
		maxExtract = 1
	}
	return &Worker{
		extractor:            ex,
		log:                  log,
		chunkCfg:             chunkCfg,
		maxConcurrentExtract: maxExtract,
	}
}

// Process runs parse, chunk and rule extraction for a job. It returns the
// chunks it produced so callers can export them; the job carries everything else.
func (w *Worker) Process(ctx context.Context, job *Job) []doctree.Chunk {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "filename", job.Filename)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	data := job.FileData()
	paras, err := parser.ParseDOCX(bytes.NewReader(data), int64(len(data)), job.Filename)
	job.releaseFileData()
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return nil
	}
	job.SetContentHash(ContentHashHex([]byte(flattenText(paras))))

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	c, err := chunker.New(w.chunkCfg)
	if err != nil {
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "chunking")
		return nil
	}
	chunks := c.Chunk(outline.Sections(paras), job.Filename)
	job.SetTotalChunks(len(chunks))
	log.Info("chunked document", "chunks", len(chunks))

	if len(chunks) == 0 {
		log.Warn("no chunks produced")
		job.AddError("no extractable content")
		job.SetStatus(StatusFailed, "chunking")
		return chunks
	}

	// Phase 3: Extract rules from chunks with bounded concurrency.
	job.SetStatus(StatusExtracting, "extracting")
	prefix := chunkfile.Slugify(strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename)))

	type chunkOutcome struct {
		idx int
		res *extract.Result
		err error
	}
	outcomes := make(chan chunkOutcome, len(chunks))
	sem := make(chan struct{}, w.maxConcurrentExtract)

	for i, chunk := range chunks {
		sem <- struct{}{}
		go func(i int, chunk doctree.Chunk) {
			defer func() { <-sem }()
			res, err := w.extractor.Extract(ctx, extract.Input{
				Source:  chunkfile.ChunkID(prefix, i),
				Title:   chunk.Metadata.Title,
				Path:    chunk.Metadata.Path,
				Content: chunk.Content,
			})
			outcomes <- chunkOutcome{idx: i, res: res, err: err}
		}(i, chunk)
	}

	// Collect extraction results.
	extracted, fallbacks, failed := 0, 0, 0
	for range chunks {
		o := <-outcomes
		chunk := chunks[o.idx]
		result := ChunkResult{
			ChunkID:    chunkfile.ChunkID(prefix, o.idx),
			ChunkIndex: o.idx,
			Title:      chunk.Metadata.Title,
			Path:       chunk.Metadata.Path,
			Rules:      []extract.Rule{},
		}
		switch {
		case o.err != nil:
			log.Error("extraction failed", "chunk", o.idx, "error", o.err)
			job.AddError(fmt.Sprintf("chunk %d: %s", o.idx, o.err))
			failed++
		case o.res.OK():
			result.Rules = o.res.Rules.Rules
			result.Attempts = o.res.Attempts
			extracted++
		default:
			result.Attempts = o.res.Attempts
			result.FallbackID = o.res.Fallback.ID
			job.AddError(fmt.Sprintf("chunk %d: fallback %s (%s)", o.idx, o.res.Fallback.ID, o.res.Fallback.ErrorKind))
			fallbacks++
		}
		job.AddResult(result)
	}

	log.Info("extraction complete", "extracted", extracted, "fallbacks", fallbacks, "failed", failed)

	switch {
	case extracted == len(chunks):
		job.SetStatus(StatusCompleted, "done")
	case extracted > 0:
		job.SetStatus(StatusPartial, "done")
	default:
		job.SetStatus(StatusFailed, "extracting")
	}
	return chunks
}

// flattenText joins paragraph text for hashing.
func flattenText(paras []doctree.Paragraph) string {
	var sb strings.Builder
	for _, p := range paras {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// MarkdownInput turns a loaded Markdown file into an extraction input.
func MarkdownInput(src *parser.MarkdownSource) extract.Input {
	return extract.Input{
		Source:  src.Name,
		Title:   src.Title,
		Content: src.Content,
	}
}
