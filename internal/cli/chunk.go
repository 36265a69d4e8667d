package cli

import (
	"github.com/spf13/cobra"

	"github.com/dgallion1/docsplit/internal/chunker"
	"github.com/dgallion1/docsplit/internal/chunkfile"
)

func addChunkFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("chunk-size", chunker.DefaultChunkSize, "maximum chunk length")
	f.Int("overlap", chunker.DefaultChunkOverlap, "overlap between consecutive chunks of a section")
	f.String("length", chunker.UnitChars, "length unit: chars, estimate or tokens")
	f.String("encoding", chunker.DefaultEncoding, "tiktoken encoding for --length tokens")
	bindFlag(f, "chunk-size", "chunk.size")
	bindFlag(f, "overlap", "chunk.overlap")
	bindFlag(f, "length", "chunk.length")
	bindFlag(f, "encoding", "chunk.encoding")
}

func newChunkCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "chunk <file.docx>",
		Short: "Split a Word document into heading-aware chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			cfg, err := a.cfg.ChunkerConfig()
			if err != nil {
				return err
			}

			chunks, err := chunker.ProcessDocument(path, cfg)
			if err != nil {
				return err
			}

			target := a.cfg.Output.Chunks
			if target == "" {
				target = defaultOutput(path, "chunks.json")
			}
			if err := chunkfile.Write(target, chunkfile.New(path, chunks, cfg.ChunkSize, cfg.ChunkOverlap)); err != nil {
				return err
			}
			a.log.Info("chunks written", "source", path, "chunks", len(chunks), "output", target)

			w := out(cmd)
			if verbose {
				printChunks(w, chunks)
			}
			success.Fprintf(w, "✓ %d chunks", len(chunks))
			faint.Fprintf(w, " → %s\n", target)
			return nil
		},
	}
	addChunkFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "chunk export path (default <name>_chunks.json)")
	bindFlag(cmd.Flags(), "output", "output.chunks")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every chunk")
	return cmd
}
