package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ipwatch/internal/app"
	"ipwatch/internal/config"
	logx "ipwatch/pkg/logx"
)

type globalOptions struct {
	configPath string
	verbose    bool
	jsonOut    bool
}

func (o *globalOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "./config.json", "path to config file (.json, .yaml, .toml)")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging for one-shot commands")
	fs.BoolVar(&o.jsonOut, "json", false, "print results as JSON")
}

func (o *globalOptions) logger() logx.Logger {
	if o.verbose {
		return logx.NewConsole("debug")
	}
	return logx.NewConsole("warn")
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	return config.NewManager(o.configPath).Load()
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "ipwatch",
		Short:         "Watch the public IP address and announce changes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}
	opts.bind(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newDNSCmd(opts),
		newStateCmd(opts),
	)
	return root
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}
}

func runDaemon(ctx context.Context, opts *globalOptions) error {
	a, err := app.New(ctx, opts.configPath)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
