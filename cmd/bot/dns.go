package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ipwatch/internal/app"
	"ipwatch/internal/target"
)

func newDNSCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dns",
		Short: "Inspect the DNS provider to find zone and record ids",
	}
	cmd.AddCommand(newDNSZonesCmd(opts), newDNSRecordsCmd(opts))
	return cmd
}

func dnsClient(opts *globalOptions) (*target.Cloudflare, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	cf, err := app.NewCloudflare(cfg.DNS, opts.logger())
	if err != nil {
		return nil, err
	}
	if cf == nil {
		return nil, errors.New("dns.provider is not configured")
	}
	return cf, nil
}

func newDNSZonesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "zones",
		Short: "List zones visible to the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, err := dnsClient(opts)
			if err != nil {
				return err
			}
			zones, err := cf.ListZones(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), zones)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME")
			for _, z := range zones {
				fmt.Fprintf(tw, "%s\t%s\n", z.ID, z.Name)
			}
			return tw.Flush()
		},
	}
}

func newDNSRecordsCmd(opts *globalOptions) *cobra.Command {
	var zone string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List DNS records of a zone (default: dns.zone_id)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, err := dnsClient(opts)
			if err != nil {
				return err
			}
			recs, err := cf.ListRecords(cmd.Context(), zone)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tNAME\tCONTENT")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Type, r.Name, r.Content)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&zone, "zone", "", "zone id")
	return cmd
}
