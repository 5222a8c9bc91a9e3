// Package cli implements the vibegraph command line.
package cli

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scrypster/vibegraph/internal/config"
)

// rootOptions carries the persistent flags and the loaded config to
// subcommands.
type rootOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "vibegraph",
		Short: "Cultural signal graph with relevance decay and scenario matching",
		Long: "vibegraph tracks cultural signals (vibes) in a graph, lets their relevance decay over time, " +
			"spreads boosts to similar vibes and ranks them against scenarios.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			if err := setupLogging(cfg.Logging, cmd.ErrOrStderr()); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to a YAML config file (default: $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newIngestCmd(opts),
		newDecayCmd(opts),
		newMatchCmd(opts),
		newStatsCmd(opts),
		newBackupCmd(opts),
	)
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(cfg config.LoggingConfig, out io.Writer) error {
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return goerr.Wrap(err, "invalid log level", goerr.V("level", cfg.Level))
	}
	log.SetLevel(level)
	log.SetOutput(out)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
