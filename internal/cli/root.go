// Package cli wires the docsplit commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dgallion1/docsplit/internal/config"
	"github.com/dgallion1/docsplit/internal/logging"
)

// viperKey is the flag annotation naming the config key a flag overrides.
const viperKey = "docsplit_viper_key"

// app carries the state shared by one command invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree with its own configuration state.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:          "docsplit",
		Short:        "docsplit: heading-aware Word chunking and LLM approval-rule extraction",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./docsplit.yaml if present)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().String("log-format", "", "log format: text or json")
	bindFlag(root.PersistentFlags(), "log-level", "log_level")
	bindFlag(root.PersistentFlags(), "log-format", "log_format")

	root.AddCommand(
		newChunkCmd(a),
		newRulesCmd(a),
		newPipelineCmd(a),
		newAskCmd(a),
		newServeCmd(a),
	)
	return root
}

// load binds the flags of the running command, then reads the configuration.
func (a *app) load(cmd *cobra.Command) error {
	var bindErr error
	bind := func(f *pflag.Flag) {
		if keys, ok := f.Annotations[viperKey]; ok && len(keys) == 1 && bindErr == nil {
			bindErr = a.v.BindPFlag(keys[0], f)
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.log = logging.New(cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())
	return nil
}

// bindFlag marks a flag as the command-line override of a config key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, viperKey, []string{key})
}

// defaultOutput names an output file after the input: report.docx becomes
// report_<suffix>.
func defaultOutput(input, suffix string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_" + suffix
}

// jsonLines switches a fallback path to the .jsonl form, so commands that
// record many fallbacks keep all of them.
func jsonLines(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".jsonl") {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".jsonl"
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
