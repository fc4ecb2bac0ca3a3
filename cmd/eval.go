package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"argus/bootstrap"
	"argus/core"
	"argus/ingest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// evalSummary is the outcome of one evaluation run
type evalSummary struct {
	Events   int `json:"events"`
	Rejected int `json:"rejected"`
	Alerts   int `json:"alerts"`
}

// newEvalCmd creates the 'eval' subcommand
func newEvalCmd(opts *options) *cobra.Command {
	var (
		eventsPath string
		formatName string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a batch of events and print the alerts",
		Long: `Load the configured rules and datasets, evaluate every event in the input
and print the alerts raised. Input is a JSON object stream, a JSON array or a
msgpack map stream; "-" reads standard input.`,
		Example: `  argus eval --events events.ndjson
  argus eval --events - --format msgpack --json < events.mp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ingest.ParseFormat(formatName)
			if err != nil {
				return err
			}
			in, closeIn, err := openInput(cmd, eventsPath)
			if err != nil {
				return err
			}
			defer closeIn()

			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			app, err := bootstrap.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer app.Shutdown()
			renderRuleErrors(cmd.ErrOrStderr(), app.RuleErrors, opts.quiet)

			summary, err := evaluate(cmd.Context(), cmd.OutOrStdout(), app, ingest.NewDecoder(in, format), opts.outputJSON, logger.Sugar())
			if err != nil {
				return err
			}
			if !opts.quiet && !opts.outputJSON {
				renderSummary(cmd.ErrOrStderr(), summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&eventsPath, "events", "e", "-", "Event file (\"-\" for stdin)")
	cmd.Flags().StringVarP(&formatName, "format", "f", string(ingest.FormatJSON), "Event format: json or msgpack")

	return cmd
}

// newRunCmd creates the 'run' subcommand
func newRunCmd(opts *options) *cobra.Command {
	var formatName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run continuously, reading events from stdin",
		Long: `Run the detector until interrupted, reading events from standard input and
printing alerts as they are raised. Feed sources are refreshed on their
schedules; SIGHUP reloads the rule directories.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ingest.ParseFormat(formatName)
			if err != nil {
				return err
			}
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			sugar := logger.Sugar()
			app, err := bootstrap.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			renderRuleErrors(cmd.ErrOrStderr(), app.RuleErrors, opts.quiet)

			if err := app.Start(); err != nil {
				app.Shutdown()
				return fmt.Errorf("failed to start: %w", err)
			}

			out := cmd.OutOrStdout()
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for alert := range app.Alerts {
					if err := printAlert(out, alert, opts.outputJSON); err != nil {
						sugar.Errorw("Failed to print alert", "error", err)
					}
				}
			}()

			streamCtx, cancelStream := context.WithCancel(cmd.Context())
			defer cancelStream()
			go func() {
				decoder := ingest.NewDecoder(cmd.InOrStdin(), format)
				n, err := decoder.Stream(streamCtx, app.Submit, func(err error) {
					sugar.Warnw("Event rejected", "error", err)
				})
				if err != nil && !errors.Is(err, bootstrap.ErrInputClosed) && !errors.Is(err, context.Canceled) {
					sugar.Errorw("Event input failed", "error", err)
				}
				sugar.Infow("Event input ended", "events", n)
				app.CloseInput()
			}()

			app.WaitForShutdown()
			cancelStream()
			err = app.Shutdown()
			<-printed
			return err
		},
	}

	cmd.Flags().StringVarP(&formatName, "format", "f", string(ingest.FormatJSON), "Event format: json or msgpack")

	return cmd
}

// evaluate starts app, streams every event from decoder into it and prints
// the alerts to out until the detector has drained.
func evaluate(ctx context.Context, out io.Writer, app *bootstrap.App, decoder *ingest.Decoder, asJSON bool, sugar *zap.SugaredLogger) (evalSummary, error) {
	var summary evalSummary
	if err := app.Start(); err != nil {
		return summary, fmt.Errorf("failed to start: %w", err)
	}

	printed := make(chan error, 1)
	go func() {
		var printErr error
		for alert := range app.Alerts {
			summary.Alerts++
			if printErr != nil {
				continue
			}
			printErr = printAlert(out, alert, asJSON)
		}
		printed <- printErr
	}()

	n, streamErr := decoder.Stream(ctx, app.Submit, func(err error) {
		summary.Rejected++
		sugar.Warnw("Event rejected", "error", err)
	})
	summary.Events = n
	app.CloseInput()

	printErr := <-printed
	if streamErr != nil {
		return summary, fmt.Errorf("event input failed after %d events: %w", n, streamErr)
	}
	if printErr != nil {
		return summary, fmt.Errorf("failed to print alert: %w", printErr)
	}
	return summary, nil
}

func printAlert(w io.Writer, alert *core.SiemAlert, asJSON bool) error {
	if asJSON {
		return writeJSONLine(w, alert)
	}
	renderAlert(w, alert)
	return nil
}

// openInput opens path for reading; "-" or "" is the command's stdin
func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open events: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
