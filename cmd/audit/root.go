package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/auditcore"
	"github.com/zero-day-ai/auditcore/config"
	"github.com/zero-day-ai/auditcore/consolidate"
	"github.com/zero-day-ai/auditcore/pass"
)

type rootOptions struct {
	ConfigPath string
	Out        string
	Full       bool
	Quick      bool
	Pass       int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "audit <path>",
		Short:         "Run the multi-pass smart contract audit pipeline",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, opts, args[0])
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to audit.yaml (default: search from the working directory)")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "Run every pass")
	cmd.Flags().BoolVar(&opts.Quick, "quick", false, "Run the baseline passes only (default)")
	cmd.Flags().IntVar(&opts.Pass, "pass", -1, "Re-run a single pass against the saved state")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "Write the report to a file instead of stdout")
	cmd.MarkFlagsMutuallyExclusive("full", "quick", "pass")

	cmd.AddCommand(newQueryCmd(opts), newWorkerCmd(opts), newDoctorCmd(opts), newKnownCmd(opts))
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath != "" {
		return config.Load(o.ConfigPath)
	}
	return config.LoadOrDefault(".")
}

func (o *rootOptions) mode(cmd *cobra.Command, cfg *config.Config) (pass.Mode, error) {
	switch {
	case o.Full:
		return pass.Full(), nil
	case o.Quick:
		return pass.Quick(), nil
	case cmd.Flags().Changed("pass"):
		if o.Pass < 0 || o.Pass > pass.MaxOrdinal {
			return pass.Mode{}, fmt.Errorf("--pass must be between 0 and %d", pass.MaxOrdinal)
		}
		return pass.Single(o.Pass), nil
	default:
		return pass.ParseMode(cfg.Mode)
	}
}

func runAudit(cmd *cobra.Command, opts *rootOptions, target string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	mode, err := opts.mode(cmd, cfg)
	if err != nil {
		return err
	}

	a, err := auditcore.New(auditcore.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Run(cmd.Context(), target, mode)
	if err != nil {
		var integrity *consolidate.ReferentialIntegrityError
		if errors.As(err, &integrity) {
			fmt.Fprintf(cmd.ErrOrStderr(), "findings with unrecorded evidence: %v (passes %v)\n",
				integrity.FindingIDs(), integrity.Passes())
		}
		return err
	}

	if report.IncompleteCoverage() {
		printGaps(cmd.ErrOrStderr(), report)
	}

	if opts.Out != "" {
		if err := report.WriteFile(opts.Out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s (%d findings)\n", opts.Out, len(report.Findings))
		return nil
	}
	data, err := report.JSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func printGaps(w io.Writer, report *consolidate.Report) {
	fmt.Fprintln(w, "incomplete coverage:")
	for _, g := range report.Coverage.Gaps {
		status := g.Reason
		if g.TimedOut {
			status = "timed out"
		}
		fmt.Fprintf(w, "  pass %d worker %s[%d]: %s (%d attempts)\n", g.Pass, g.Worker, g.WorkerIndex, status, g.Attempts)
	}
}
