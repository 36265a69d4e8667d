package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docsplit/internal/chunkfile"
	"github.com/dgallion1/docsplit/internal/parser"
	"github.com/dgallion1/docsplit/internal/pipeline"
)

func newPipelineCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline <file.docx>",
		Short: "Chunk a Word document and extract approval rules from every chunk",
		Long: "Chunk a Word document and extract approval rules from every chunk.\n" +
			"Rules of all chunks are merged into one output file; chunks that fail\n" +
			"extraction are appended to the fallback file in JSON-lines form.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !parser.IsSupportedExtension(path, parser.KindDOCX) {
				return &parser.FileError{Path: path, Err: parser.ErrUnsupportedFormat}
			}
			chunkCfg, err := a.cfg.ChunkerConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return &parser.FileError{Path: path, Err: err}
			}

			fallbackPath := jsonLines(a.cfg.Output.Fallback)
			client, ex, err := a.newExtractor(fallbackPath)
			if err != nil {
				return err
			}
			defer client.Close()

			job := pipeline.NewJob(filepath.Base(path), data)
			worker := pipeline.NewWorker(ex, a.log, chunkCfg, a.cfg.Pipeline.MaxConcurrentExtract)
			chunks := worker.Process(cmd.Context(), job)
			snap := job.Snapshot()

			if chunks == nil && len(snap.Progress.Errors) > 0 {
				return errors.New(snap.Progress.Errors[0])
			}
			if target := a.cfg.Output.Chunks; target != "" {
				if err := chunkfile.Write(target, chunkfile.New(path, chunks, chunkCfg.ChunkSize, chunkCfg.ChunkOverlap)); err != nil {
					return err
				}
			}

			rules := snap.Rules()
			if err := rules.WriteFile(a.cfg.Output.Rules); err != nil {
				return err
			}

			w := out(cmd)
			printRules(w, rules.Rules)
			status := success
			if snap.Status != pipeline.StatusCompleted {
				status = failure
			}
			status.Fprintf(w, "%s: %d rules from %d chunks", snap.Status, len(rules.Rules), snap.Progress.TotalChunks)
			faint.Fprintf(w, " → %s\n", a.cfg.Output.Rules)
			if snap.Progress.Fallbacks > 0 {
				failure.Fprintf(w, "%d chunks fell back", snap.Progress.Fallbacks)
				faint.Fprintf(w, " → %s\n", fallbackPath)
			}
			printStats(w, client.Model(), client.Stats.Snapshot())

			if snap.Status == pipeline.StatusFailed {
				return fmt.Errorf("no chunk of %s produced rules", path)
			}
			return nil
		},
	}
	addChunkFlags(cmd)
	addLLMFlags(cmd)
	cmd.Flags().StringP("output", "o", "output.json", "merged rule output path")
	cmd.Flags().String("chunks", "", "also write the chunk export to this path")
	cmd.Flags().String("fallback", "fallback.jsonl", "fallback record path")
	cmd.Flags().Int("concurrency", 5, "chunks extracted in parallel")
	bindFlag(cmd.Flags(), "output", "output.rules")
	bindFlag(cmd.Flags(), "chunks", "output.chunks")
	bindFlag(cmd.Flags(), "fallback", "output.fallback")
	bindFlag(cmd.Flags(), "concurrency", "pipeline.max_concurrent_extract")
	return cmd
}
