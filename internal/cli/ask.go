package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docsplit/internal/chunkfile"
	"github.com/dgallion1/docsplit/internal/extract"
	"github.com/dgallion1/docsplit/internal/rag"
)

func newAskCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question> <chunks.json>...",
		Short: "Answer a question from chunk exports, citing the chunks used",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := args[0]
			if err := a.cfg.RequireLLM(); err != nil {
				return err
			}

			var entries []chunkfile.Entry
			for _, path := range args[1:] {
				f, err := chunkfile.Read(path)
				if err != nil {
					return err
				}
				entries = append(entries, f.Chunks...)
			}

			embedder, err := rag.NewOpenAIEmbedder(a.cfg.EmbedderConfig(), a.log)
			if err != nil {
				return err
			}
			defer embedder.Close()

			start := time.Now()
			index := rag.NewIndex(embedder)
			if err := index.Add(cmd.Context(), entries); err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			a.log.Info("index built", "chunks", index.Len(), "elapsed", time.Since(start).Round(time.Millisecond))

			client := extract.NewClient(a.cfg.ClientConfig(), extract.NewLLMStats(time.Hour))
			defer client.Close()
			engine, err := rag.NewEngine(index, client, a.log, a.cfg.RAGOptions())
			if err != nil {
				return err
			}

			ans, err := engine.Ask(cmd.Context(), question)
			if err != nil {
				return err
			}

			w := out(cmd)
			if asJSON {
				data, err := extract.MarshalIndent(ans)
				if err != nil {
					return err
				}
				_, err = w.Write(data)
				return err
			}
			printAnswer(w, ans)
			printStats(w, client.Model(), client.Stats.Snapshot())
			return nil
		},
	}
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.BoolVar(&asJSON, "json", false, "print the answer as JSON")
	f.Int("top-k", rag.DefaultTopK, "chunks retrieved per question")
	f.Float32("threshold", rag.DefaultScoreThreshold, "minimum cosine similarity of a retrieved chunk")
	f.String("embedding-model", rag.DefaultEmbeddingModel, "embedding model")
	bindFlag(f, "top-k", "rag.top_k")
	bindFlag(f, "threshold", "rag.score_threshold")
	bindFlag(f, "embedding-model", "rag.embedding_model")
	return cmd
}

func printAnswer(w io.Writer, ans *rag.Answer) {
	if !ans.HasContext {
		failure.Fprintln(w, "✗ no relevant chunks")
	}
	fmt.Fprintln(w, ans.Answer)
	for _, s := range ans.Sources {
		heading.Fprintf(w, "  [%s]", s.ChunkID)
		faint.Fprintf(w, " %.2f %s\n", s.Score, s.Metadata.Title)
	}
}
