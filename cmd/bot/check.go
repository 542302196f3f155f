package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ipwatch/internal/app"
)

type checkResult struct {
	Current   string    `json:"current"`
	Last      string    `json:"last"`
	Changed   bool      `json:"changed"`
	ChangedAt time.Time `json:"changed_at,omitzero"`
}

// newCheckCmd resolves once and compares with the stored value. It never
// writes state or notifies anyone.
func newCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Resolve the current value and compare it with the stored one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log := opts.logger()

			store, mgr, err := app.OpenState(ctx, cfg.State, log)
			if err != nil {
				return err
			}
			defer store.Close()

			cur, err := app.NewResolver(cfg.Resolver).Resolve(ctx)
			if err != nil {
				return err
			}
			snap := mgr.Snapshot()
			res := checkResult{Current: cur, Last: snap.LastValue, Changed: cur != snap.LastValue, ChangedAt: snap.ChangedAt}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "current: %s\n", res.Current)
			last := res.Last
			if last == "" {
				last = "(none)"
			}
			fmt.Fprintf(out, "stored:  %s\n", last)
			if !res.ChangedAt.IsZero() {
				fmt.Fprintf(out, "since:   %s\n", humanize.Time(res.ChangedAt))
			}
			if res.Changed {
				fmt.Fprintln(out, "status:  changed (the next cycle will announce it)")
			} else {
				fmt.Fprintln(out, "status:  unchanged")
			}
			return nil
		},
	}
}
