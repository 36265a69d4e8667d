package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docsplit/internal/extract"
	"github.com/dgallion1/docsplit/internal/parser"
	"github.com/dgallion1/docsplit/internal/pipeline"
)

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("model", extract.DefaultModel, "chat model")
	f.String("base-url", extract.DashScopeBaseURL, "OpenAI-compatible API base URL")
	f.Int("max-retries", extract.DefaultMaxRetries, "retries after the first attempt")
	f.Duration("retry-delay", extract.DefaultRetryDelay, "base delay between attempts, doubled per retry")
	f.Duration("timeout", 120*time.Second, "timeout of one model call")
	bindFlag(f, "model", "llm.model")
	bindFlag(f, "base-url", "llm.base_url")
	bindFlag(f, "max-retries", "llm.max_retries")
	bindFlag(f, "retry-delay", "llm.retry_delay")
	bindFlag(f, "timeout", "llm.timeout")
}

// newExtractor builds the model client and extractor from the loaded config.
func (a *app) newExtractor(fallbackPath string) (*extract.Client, *extract.Extractor, error) {
	if err := a.cfg.RequireLLM(); err != nil {
		return nil, nil, err
	}
	client := extract.NewClient(a.cfg.ClientConfig(), extract.NewLLMStats(time.Hour))
	ex, err := extract.NewExtractor(client, extract.NewFileSink(fallbackPath), a.log, a.cfg.ExtractOptions())
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, ex, nil
}

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules <file.md>",
		Short: "Extract approval rules from a Markdown document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parser.ReadMarkdownFile(args[0])
			if err != nil {
				return err
			}

			client, ex, err := a.newExtractor(a.cfg.Output.Fallback)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := ex.Extract(cmd.Context(), pipeline.MarkdownInput(src))
			if err != nil {
				return err
			}

			w := out(cmd)
			if !res.OK() {
				failure.Fprintf(w, "✗ extraction failed after %d attempts (%s)", res.Attempts, res.Fallback.ErrorKind)
				faint.Fprintf(w, " → %s\n", a.cfg.Output.Fallback)
				return nil
			}

			if err := res.Rules.WriteFile(a.cfg.Output.Rules); err != nil {
				return err
			}
			printRules(w, res.Rules.Rules)
			success.Fprintf(w, "✓ %d rules", len(res.Rules.Rules))
			faint.Fprintf(w, " → %s\n", a.cfg.Output.Rules)
			printStats(w, client.Model(), client.Stats.Snapshot())
			return nil
		},
	}
	addLLMFlags(cmd)
	cmd.Flags().StringP("output", "o", "output.json", "rule output path")
	cmd.Flags().String("fallback", "fallback.json", "fallback record path (.jsonl appends)")
	bindFlag(cmd.Flags(), "output", "output.rules")
	bindFlag(cmd.Flags(), "fallback", "output.fallback")
	return cmd
}
