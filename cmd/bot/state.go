package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ipwatch/internal/app"
)

func newStateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect persisted state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, mgr, err := app.OpenState(cmd.Context(), cfg.State, opts.logger())
			if err != nil {
				return err
			}
			defer store.Close()

			rec := mgr.Snapshot()
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, rec)
			}
			fmt.Fprintf(out, "last value:  %s\n", rec.LastValue)
			if !rec.ChangedAt.IsZero() {
				fmt.Fprintf(out, "changed at:  %s (%s)\n", rec.ChangedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(rec.ChangedAt))
			}
			fmt.Fprintf(out, "subscribers: %s (%s)\n", humanize.Comma(int64(len(rec.Subscribers))), strings.Join(rec.Subscribers, ", "))
			fmt.Fprintf(out, "targets:     %s\n", strings.Join(rec.Targets, ", "))
			return nil
		},
	})
	return cmd
}
