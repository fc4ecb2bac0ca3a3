// Package cmd provides the argus command-line interface.
package cmd

import (
	"encoding/json"
	"io"

	"argus/bootstrap"
	"argus/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// options holds the persistent flags shared by every command
type options struct {
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
	logLevel   string
}

// NewRootCmd creates the argus command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "argus",
		Short: "Rule-based detection over event streams",
		Long: `argus evaluates events against native and SIGMA detection rules, backed by
reference datasets (IP sets, geo data, text lists, calendars) that are refreshed
from files or HTTP feeds without interrupting detection.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./argus.yaml or ./config/argus.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides logging.level)")

	rootCmd.AddCommand(newEvalCmd(opts))
	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newRulesCmd(opts))
	rootCmd.AddCommand(newSigmaCmd(opts))
	rootCmd.AddCommand(newDatasetsCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))

	return rootCmd
}

// setup loads the configuration and builds the logger it asks for. The
// logger writes to stderr; command output goes to the command's writer.
func (o *options) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := bootstrap.InitConfig(o.configFile, zap.NewNop().Sugar())
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	switch {
	case o.logLevel != "":
		level = o.logLevel
	case o.quiet:
		level = "error"
	}
	logger, _, err := bootstrap.InitLogger(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// outputAsJSON writes data as indented JSON
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
