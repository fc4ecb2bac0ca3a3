package cmd

import (
	"fmt"
	"sort"

	"argus/bootstrap"
	"argus/core"
	"argus/sigma"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ruleView is the printable form of a compiled rule
type ruleView struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool                   `json:"enabled" yaml:"enabled"`
	Severity    core.Severity          `json:"severity" yaml:"severity"`
	Tags        []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Tactics     []string               `json:"tactics,omitempty" yaml:"tactics,omitempty"`
	Techniques  []string               `json:"techniques,omitempty" yaml:"techniques,omitempty"`
	Datasets    []string               `json:"datasets,omitempty" yaml:"datasets,omitempty"`
	Conditions  [][]string             `json:"conditions" yaml:"conditions"`
	Subrules    map[string]subruleView `json:"subrules" yaml:"subrules"`
}

type subruleView struct {
	Conditions []conditionView `json:"conditions" yaml:"conditions"`
	State      *stateView      `json:"state,omitempty" yaml:"state,omitempty"`
}

type conditionView struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
}

type stateView struct {
	Name      string   `json:"name,omitempty" yaml:"name,omitempty"`
	KeyFields []string `json:"key_fields,omitempty" yaml:"key_fields,omitempty"`
	Window    string   `json:"window" yaml:"window"`
	Threshold int      `json:"threshold" yaml:"threshold"`
}

func newRuleView(r *core.SiemRule) ruleView {
	view := ruleView{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Enabled:     r.Enabled,
		Severity:    r.Alert.Severity,
		Tags:        r.Alert.Tags,
		Tactics:     r.Mitre.Tactics,
		Techniques:  r.Mitre.Techniques,
		Conditions:  r.Conditions,
		Subrules:    make(map[string]subruleView, len(r.Subrules)),
	}
	for _, kind := range r.NeededDatasets {
		view.Datasets = append(view.Datasets, kind.String())
	}
	for name, sub := range r.Subrules {
		sv := subruleView{}
		for _, c := range sub.Conditions {
			sv.Conditions = append(sv.Conditions, conditionView{Field: c.Field, Operator: c.Operator.OperatorName()})
		}
		if sub.State != nil {
			sv.State = &stateView{
				Name:      sub.State.Name,
				KeyFields: sub.State.KeyFields,
				Window:    sub.State.Window.String(),
				Threshold: sub.State.Threshold,
			}
		}
		view.Subrules[name] = sv
	}
	return view
}

// newRulesCmd creates the 'rules' command group
func newRulesCmd(opts *options) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and list detection rules",
	}
	rulesCmd.AddCommand(newRulesValidateCmd(opts))
	rulesCmd.AddCommand(newRulesListCmd(opts))
	return rulesCmd
}

// newRulesValidateCmd creates the 'rules validate' subcommand
func newRulesValidateCmd(opts *options) *cobra.Command {
	var nativeDir, sigmaDir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every rule loads and compiles",
		Long: `Load the native and SIGMA rule directories (from the configuration unless
overridden) and report every rule that fails to parse, validate or compile.
Exits non-zero when any rule is rejected.`,
		Example: `  argus rules validate --native ./rules --sigma ./sigma`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, errs, err := loadRulesFor(opts, nativeDir, sigmaDir)
			if err != nil {
				return err
			}

			if opts.outputJSON {
				messages := make([]string, 0, len(errs))
				for _, e := range errs {
					messages = append(messages, e.Error())
				}
				if err := outputAsJSON(cmd.OutOrStdout(), map[string]interface{}{
					"valid":  len(rules),
					"errors": messages,
				}); err != nil {
					return err
				}
			} else {
				renderValidation(cmd.OutOrStdout(), len(rules), errs)
			}

			if len(errs) > 0 {
				return fmt.Errorf("%d rule(s) rejected", len(errs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&nativeDir, "native", "", "Native rule directory (overrides rules.native_dir)")
	cmd.Flags().StringVar(&sigmaDir, "sigma", "", "SIGMA rule directory (overrides rules.sigma_dir)")

	return cmd
}

// newRulesListCmd creates the 'rules list' subcommand
func newRulesListCmd(opts *options) *cobra.Command {
	var nativeDir, sigmaDir string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the rules that load",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, _, err := loadRulesFor(opts, nativeDir, sigmaDir)
			if err != nil {
				return err
			}
			sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

			if opts.outputJSON {
				views := make([]ruleView, 0, len(rules))
				for _, r := range rules {
					views = append(views, newRuleView(r))
				}
				return outputAsJSON(cmd.OutOrStdout(), views)
			}
			renderRulesTable(cmd.OutOrStdout(), rules)
			return nil
		},
	}

	cmd.Flags().StringVar(&nativeDir, "native", "", "Native rule directory (overrides rules.native_dir)")
	cmd.Flags().StringVar(&sigmaDir, "sigma", "", "SIGMA rule directory (overrides rules.sigma_dir)")

	return cmd
}

func loadRulesFor(opts *options, nativeDir, sigmaDir string) ([]*core.SiemRule, []error, error) {
	cfg, logger, err := opts.setup()
	if err != nil {
		return nil, nil, err
	}
	if nativeDir != "" {
		cfg.Rules.NativeDir = nativeDir
	}
	if sigmaDir != "" {
		cfg.Rules.SigmaDir = sigmaDir
	}
	if cfg.Rules.NativeDir == "" && cfg.Rules.SigmaDir == "" {
		return nil, nil, fmt.Errorf("no rule directory configured (use --native or --sigma)")
	}
	rules, errs := bootstrap.LoadRules(cfg, bootstrap.NewRegexCompiler(cfg), logger.Sugar())
	return rules, errs, nil
}

// newSigmaCmd creates the 'sigma' command group
func newSigmaCmd(opts *options) *cobra.Command {
	sigmaCmd := &cobra.Command{
		Use:   "sigma",
		Short: "Work with SIGMA rules",
	}
	sigmaCmd.AddCommand(newSigmaConvertCmd(opts))
	return sigmaCmd
}

// newSigmaConvertCmd creates the 'sigma convert' subcommand
func newSigmaConvertCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <file>",
		Short: "Show the native rule a SIGMA rule translates to",
		Long: `Parse a SIGMA rule file, translate it with the configured field mapping and
print the resulting rule as YAML (or JSON with --json).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.setup()
			if err != nil {
				return err
			}
			sr, err := sigma.NewParser().ParseFile(args[0])
			if err != nil {
				return err
			}
			rule, err := bootstrap.NewSigmaConverter(cfg, bootstrap.NewRegexCompiler(cfg)).Convert(sr)
			if err != nil {
				return err
			}

			view := newRuleView(rule)
			if opts.outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), view)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(view); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
