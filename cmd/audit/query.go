package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/auditcore"
	"github.com/zero-day-ai/auditcore/store"
)

func newQueryCmd(root *rootOptions) *cobra.Command {
	var where, stateDir string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List findings from the last saved run",
		Example: `  audit query --where 'severity in ["critical", "high"] && !duplicate'
  audit query --state .audit --where 'static'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			opts := []auditcore.Option{auditcore.WithConfig(cfg)}
			if stateDir != "" {
				opts = append(opts, auditcore.WithPersister(store.NewFilePersister(stateDir)))
			}

			a, err := auditcore.New(opts...)
			if err != nil {
				return err
			}
			defer a.Close()

			findings, err := a.Query(cmd.Context(), where)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(findings)
		},
	}

	cmd.Flags().StringVar(&where, "where", "", "CEL expression selecting findings")
	cmd.Flags().StringVar(&stateDir, "state", "", "State directory (default: state.dir from audit.yaml)")
	return cmd
}
