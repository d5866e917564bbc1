package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/auditcore/health"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the workers, tools and backends audit.yaml depends on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			results := health.Run(ctx, health.Plan(cfg))
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%-10s %-32s %s\n", r.Status.State, r.Name, r.Status.Message)
			}

			overall := health.Combine(health.Statuses(results)...)
			fmt.Fprintln(out, overall.Message)
			if overall.IsUnhealthy() {
				return errors.New("doctor checks failed")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout for the checks")
	return cmd
}
