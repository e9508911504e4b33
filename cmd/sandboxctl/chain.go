package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// BlockOptions holds flags for the block command.
type BlockOptions struct {
	*RootOptions
	Finality string
	Height   int64
	Hash     string
}

// NewBlockCommand creates the block command.
func NewBlockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BlockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "block",
		Short: "Print a block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := opts.blockRef()
			if err != nil {
				return err
			}
			blk, err := opts.Client().Block(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), blk)
		},
	}

	cmd.Flags().StringVar(&opts.Finality, "finality", string(types.FinalityFinal), "optimistic or final")
	cmd.Flags().Int64Var(&opts.Height, "height", -1, "block height")
	cmd.Flags().StringVar(&opts.Hash, "hash", "", "block hash")

	return cmd
}

func (o *BlockOptions) blockRef() (rpcclient.BlockRef, error) {
	switch {
	case o.Height >= 0 && o.Hash != "":
		return rpcclient.BlockRef{}, fmt.Errorf("--height and --hash are mutually exclusive")
	case o.Height >= 0:
		return rpcclient.AtHeight(uint64(o.Height)), nil
	case o.Hash != "":
		h, err := types.ParseHash(o.Hash)
		if err != nil {
			return rpcclient.BlockRef{}, err
		}
		return rpcclient.AtHash(h), nil
	}
	f := types.Finality(o.Finality)
	if err := f.Validate(); err != nil {
		return rpcclient.BlockRef{}, err
	}
	return rpcclient.Finality(f), nil
}

// NewFastForwardCommand creates the fast-forward command.
func NewFastForwardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fast-forward <delta>",
		Short: "Skip blocks on a sandbox node",
		Long: `Advance the node's height by delta blocks at once. Block time advances
as if the blocks had been produced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("delta: %w", err)
			}
			if delta <= 0 {
				return fmt.Errorf("delta must be positive, got %d", delta)
			}
			info, err := rootOpts.Client().FastForward(cmd.Context(), delta)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}
