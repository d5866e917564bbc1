package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/auditcore"
	"github.com/zero-day-ai/auditcore/dedup"
)

type knownLister interface {
	List(ctx context.Context) ([]dedup.CanonicalFinding, error)
}

func newKnownCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "known",
		Short: "List findings published to the etcd known-findings index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			idx, err := auditcore.OpenEtcdIndex(cfg)
			if err != nil {
				return err
			}
			if idx == nil {
				return errors.New("known_index.etcd is not configured")
			}
			defer auditcore.CloseWithLog(idx, nil, "known findings index")

			return listKnown(cmd.Context(), cmd.OutOrStdout(), idx)
		},
	}
}

func listKnown(ctx context.Context, out io.Writer, l knownLister) error {
	known, err := l.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINGERPRINT\tID\tSEVERITY\tSOURCE\tTITLE")
	for _, cf := range known {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", cf.Fingerprint, cf.ID, cf.Severity, cf.Source, cf.Title)
	}
	return tw.Flush()
}
