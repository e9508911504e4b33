package rpcclient

import (
	"context"
	"encoding/json"

	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpc"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/tx"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// BlockRef selects the block a read is served at. The zero value is the
// optimistic head.
type BlockRef struct {
	ref rpc.BlockReference
}

// Finality references the head at a finality level.
func Finality(f types.Finality) BlockRef {
	return BlockRef{ref: rpc.BlockReference{Finality: f}}
}

// AtHeight references the block at height.
func AtHeight(height uint64) BlockRef {
	return BlockRef{ref: rpc.BlockReference{BlockID: &rpc.BlockID{Height: &height}}}
}

// AtHash references the block with the given hash.
func AtHash(hash types.Hash) BlockRef {
	return BlockRef{ref: rpc.BlockReference{BlockID: &rpc.BlockID{Hash: &hash}}}
}

// Status returns the node status.
func (c *Client) Status(ctx context.Context) (*rpc.StatusResult, error) {
	var res rpc.StatusResult
	if err := c.Call(ctx, rpc.MethodStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Block returns the block ref points at.
func (c *Client) Block(ctx context.Context, ref BlockRef) (*rpc.BlockResult, error) {
	var res rpc.BlockResult
	if err := c.Call(ctx, rpc.MethodBlock, rpc.BlockParams{BlockReference: ref.ref}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) query(ctx context.Context, ref BlockRef, params rpc.QueryParams, result interface{}) error {
	params.BlockReference = ref.ref
	return c.Call(ctx, rpc.MethodQuery, params, result)
}

// ViewAccount returns the account record of id.
func (c *Client) ViewAccount(ctx context.Context, ref BlockRef, id types.AccountID) (*chain.AccountView, error) {
	var res chain.AccountView
	err := c.query(ctx, ref, rpc.QueryParams{RequestType: rpc.QueryViewAccount, AccountID: id}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ViewAccessKey returns the access key pk of id.
func (c *Client) ViewAccessKey(ctx context.Context, ref BlockRef, id types.AccountID, pk crypto.PublicKey) (*chain.AccessKeyView, error) {
	var res chain.AccessKeyView
	err := c.query(ctx, ref, rpc.QueryParams{
		RequestType: rpc.QueryViewAccessKey,
		AccountID:   id,
		PublicKey:   pk.String(),
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ViewCode returns the contract code deployed on id.
func (c *Client) ViewCode(ctx context.Context, ref BlockRef, id types.AccountID) (*chain.CodeView, error) {
	var res chain.CodeView
	err := c.query(ctx, ref, rpc.QueryParams{RequestType: rpc.QueryViewCode, AccountID: id}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ViewState returns the raw contract data of id under prefix.
func (c *Client) ViewState(ctx context.Context, ref BlockRef, id types.AccountID, prefix []byte) (*chain.StateView, error) {
	var res chain.StateView
	err := c.query(ctx, ref, rpc.QueryParams{
		RequestType: rpc.QueryViewState,
		AccountID:   id,
		Prefix:      prefix,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CallFunction runs a read-only contract method. args is the JSON argument
// object, or nil for none.
func (c *Client) CallFunction(ctx context.Context, ref BlockRef, id types.AccountID, method string, args []byte) (*chain.CallResult, error) {
	var res chain.CallResult
	err := c.query(ctx, ref, rpc.QueryParams{
		RequestType: rpc.QueryCallFunction,
		AccountID:   id,
		MethodName:  method,
		Args:        args,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// View calls a read-only method and decodes its JSON result into out.
func (c *Client) View(ctx context.Context, id types.AccountID, method string, args, out interface{}) error {
	var raw []byte
	if args != nil {
		var err error
		if raw, err = json.Marshal(args); err != nil {
			return err
		}
	}
	res, err := c.CallFunction(ctx, BlockRef{}, id, method, raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(res.Result, out)
}

// BroadcastTxCommit submits a signed transaction and waits for it to be
// committed. It is never retried.
func (c *Client) BroadcastTxCommit(ctx context.Context, stx *tx.SignedTransaction) (*chain.Outcome, error) {
	var res chain.Outcome
	if err := c.Call(ctx, rpc.MethodBroadcastTxCommit, rpc.BroadcastTxParams{SignedTransaction: stx}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Tx returns where a committed transaction landed.
func (c *Client) Tx(ctx context.Context, hash types.Hash) (*rpc.TxResult, error) {
	var res rpc.TxResult
	if err := c.Call(ctx, rpc.MethodTx, rpc.TxParams{TxHash: hash}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FastForward asks a sandbox node to skip delta heights.
func (c *Client) FastForward(ctx context.Context, delta int64) (*types.BlockInfo, error) {
	var res types.BlockInfo
	if err := c.Call(ctx, rpc.MethodFastForward, rpc.FastForwardParams{DeltaHeight: delta}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PatchState writes raw state records into a sandbox node.
func (c *Client) PatchState(ctx context.Context, records []chain.StateRecord) error {
	return c.Call(ctx, rpc.MethodPatchState, rpc.PatchStateParams{Records: records}, nil)
}
