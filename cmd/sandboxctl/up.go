package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/internal/sandbox"
)

// UpOptions holds flags for the up command.
type UpOptions struct {
	*RootOptions
	Home   string
	Port   int
	Keep   bool
	Binary string
	RefDir string
}

// NewUpCommand creates the up command.
func NewUpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Boot a sandbox node and keep it running",
		Long: `Boot a sandbox node the way the test harness does, print its endpoint
and root credentials, and tear it down on Ctrl-C.

Settings come from --config, then SANDBOX_* environment variables, then
the flags below.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Home, "home", "", "node home (default: a fresh temp dir)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "preferred RPC port (default: any free port)")
	cmd.Flags().BoolVar(&opts.Keep, "keep", false, "keep the home directory on exit")
	cmd.Flags().StringVar(&opts.Binary, "binary", "", "sandboxd executable (default: sandboxd on PATH)")
	cmd.Flags().StringVar(&opts.RefDir, "ref-dir", "", "seed the home from this directory")

	return cmd
}

func runUp(cmd *cobra.Command, opts *UpOptions) error {
	cfg, err := config.LoadSandbox(opts.Config)
	if err != nil {
		return err
	}
	if cfg.Network.IsRemote() {
		return fmt.Errorf("up needs network = %q, config has %q", config.NetworkSandbox, cfg.Network)
	}
	flags := cmd.Flags()
	if flags.Changed("home") {
		cfg.HomeDir = opts.Home
	}
	if flags.Changed("port") {
		cfg.Port = opts.Port
	}
	if flags.Changed("keep") {
		cfg.RM = !opts.Keep
	}
	if flags.Changed("binary") {
		cfg.Binary = opts.Binary
	}
	if flags.Changed("ref-dir") {
		cfg.RefDir = opts.RefDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := sandbox.Start(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "RPC endpoint:      %s\n", h.Client().Endpoint())
	fmt.Fprintf(out, "Home:              %s\n", h.Home())
	fmt.Fprintf(out, "Root account:      %s\n", h.Root().ID)
	fmt.Fprintf(out, "Root credentials:  %s\n", filepath.Join(h.Home(), config.ValidatorKeyFileName))
	fmt.Fprintln(out, "Press Ctrl-C to stop.")

	<-ctx.Done()

	if err := h.TearDown(context.WithoutCancel(ctx)); err != nil {
		var tw *sandbox.TeardownWarning
		if errors.As(err, &tw) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			return nil
		}
		return err
	}
	return nil
}
