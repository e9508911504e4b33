package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	klog "github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	RPC      string
	Config   string
	LogLevel string
	Timeout  time.Duration
}

// Client returns an RPC client for --rpc.
func (o *RootOptions) Client() *rpcclient.Client {
	return rpcclient.NewWithTimeout(o.RPC, o.Timeout)
}

// NewRootCommand creates the sandboxctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sandboxctl",
		Short: "Disposable local chains for contract tests",
		Long: `sandboxctl boots sandbox nodes and talks to them.

"up" starts a harness the same way tests do and keeps it running until
interrupted. The other commands work against any sandbox RPC endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			klog.SetLogger(klog.NewConsoleLogger(cmd.ErrOrStderr(), opts.LogLevel))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.RPC, "rpc", "http://127.0.0.1:3030", "sandbox RPC endpoint")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "harness config file (TOML)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", rpcclient.DefaultTimeout, "RPC request timeout")

	cmd.AddCommand(NewUpCommand(opts))
	cmd.AddCommand(NewBlockCommand(opts))
	cmd.AddCommand(NewViewCommand(opts))
	cmd.AddCommand(NewFastForwardCommand(opts))
	cmd.AddCommand(NewPatchStateCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))

	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
