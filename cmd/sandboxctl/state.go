package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// ViewOptions holds flags for the view command.
type ViewOptions struct {
	*RootOptions
	Args string
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "view <account> [method]",
		Short: "Call a view method, or print an account without one",
		Long: `With a method, run it read-only and print its JSON result:

  sandboxctl view greeter.test.near get_greeting

Without one, print the account record.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			client := opts.Client()
			if len(args) == 1 {
				acc, err := client.ViewAccount(cmd.Context(), rpcclient.BlockRef{}, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acc)
			}

			var raw []byte
			if opts.Args != "" {
				if !json.Valid([]byte(opts.Args)) {
					return fmt.Errorf("invalid --args JSON")
				}
				raw = []byte(opts.Args)
			}
			res, err := client.CallFunction(cmd.Context(), rpcclient.BlockRef{}, id, args[1], raw)
			if err != nil {
				return err
			}
			for _, line := range res.Logs {
				fmt.Fprintf(cmd.ErrOrStderr(), "log: %s\n", line)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(res.Result))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "", "method arguments as JSON")

	return cmd
}

// PatchStateOptions holds flags for the patch-state command.
type PatchStateOptions struct {
	*RootOptions
	Base64 bool
}

// NewPatchStateCommand creates the patch-state command.
func NewPatchStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PatchStateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "patch-state <account> <key> <value>",
		Short: "Overwrite one contract data slot on a sandbox node",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			key, value := []byte(args[1]), []byte(args[2])
			if opts.Base64 {
				if key, err = base64.StdEncoding.DecodeString(args[1]); err != nil {
					return fmt.Errorf("key: %w", err)
				}
				if value, err = base64.StdEncoding.DecodeString(args[2]); err != nil {
					return fmt.Errorf("value: %w", err)
				}
			}
			err = opts.Client().PatchState(cmd.Context(), []chain.StateRecord{{
				Data: &chain.DataRecord{AccountID: id, Key: key, Value: value},
			}})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Patched %s[%q]\n", id, args[1])
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Base64, "base64", false, "key and value are base64")

	return cmd
}
