package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/tx"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Deploy installs code on a registered account. Code the node cannot
// compile fails with ErrDeploymentRejected.
func (h *Harness) Deploy(ctx context.Context, id types.AccountID, code []byte) (*chain.Outcome, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	signer, err := h.signer(id)
	if err != nil {
		return nil, err
	}
	out, err := h.send(ctx, signer, id, func(b *tx.Builder) { b.DeployContract(code) })
	if rejectionName(err) == chain.ErrCompilationError.Name {
		return nil, fmt.Errorf("%w: %v", ErrDeploymentRejected, err)
	}
	if err != nil {
		return nil, err
	}
	h.logger.Debug().Str("account", string(id)).Int("code_size", len(code)).Msg("Contract deployed")
	return out, nil
}

// DeployFile deploys the contract at path.
func (h *Harness) DeployFile(ctx context.Context, id types.AccountID, path string) (*chain.Outcome, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}
	return h.Deploy(ctx, id, code)
}

// DevDeploy creates a dev account under parentID and deploys code to it.
func (h *Harness) DevDeploy(ctx context.Context, parentID types.AccountID, code []byte, opts ...AccountOption) (Account, error) {
	acc, err := h.CreateDevAccount(ctx, parentID, opts...)
	if err != nil {
		return Account{}, err
	}
	if _, err := h.Deploy(ctx, acc.ID, code); err != nil {
		return acc, err
	}
	return acc, nil
}

// CallOption customizes a function call.
type CallOption func(*callOptions)

type callOptions struct {
	deposit types.Balance
}

// WithDeposit attaches amount to the call.
func WithDeposit(amount types.Balance) CallOption {
	return func(o *callOptions) { o.deposit = amount }
}

// Call invokes method on contract, signed by signerID. args is marshalled
// to JSON; nil sends no arguments.
func (h *Harness) Call(ctx context.Context, signerID, contract types.AccountID, method string, args interface{}, opts ...CallOption) (*chain.Outcome, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	raw, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}
	signer, err := h.signer(signerID)
	if err != nil {
		return nil, err
	}
	return h.send(ctx, signer, contract, func(b *tx.Builder) {
		b.FunctionCall(method, raw, o.deposit)
	})
}

// View runs a read-only method and decodes its result into out.
func (h *Harness) View(ctx context.Context, contract types.AccountID, method string, args, out interface{}) error {
	if err := h.requireReady(); err != nil {
		return err
	}
	return h.client.View(ctx, contract, method, args, out)
}

// ViewCode returns the code deployed on id.
func (h *Harness) ViewCode(ctx context.Context, id types.AccountID) ([]byte, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	cv, err := h.client.ViewCode(ctx, rpcclient.BlockRef{}, id)
	if err != nil {
		return nil, err
	}
	return cv.Code, nil
}

// ViewState returns the raw data records of id whose keys start with
// prefix, keyed by the raw key.
func (h *Harness) ViewState(ctx context.Context, id types.AccountID, prefix []byte) (map[string][]byte, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	sv, err := h.client.ViewState(ctx, rpcclient.BlockRef{}, id, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(sv.Values))
	for _, item := range sv.Values {
		out[string(item.Key)] = item.Value
	}
	return out, nil
}

// PatchState overwrites one raw data slot of id, bypassing contract logic.
// The value is stored byte for byte.
func (h *Harness) PatchState(ctx context.Context, id types.AccountID, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return h.PatchStateRecords(ctx, []chain.StateRecord{{
		Data: &chain.DataRecord{AccountID: id, Key: key, Value: value},
	}})
}

// PatchStateRecords writes raw state records. Only an owned sandbox node
// accepts them; in remote modes nothing is sent.
func (h *Harness) PatchStateRecords(ctx context.Context, records []chain.StateRecord) error {
	if err := h.requireReady(); err != nil {
		return err
	}
	if !h.IsSandbox() {
		return ErrPatchUnsupportedOnRemoteNetwork
	}
	return h.client.PatchState(ctx, records)
}

func marshalArgs(args interface{}) ([]byte, error) {
	switch a := args.(type) {
	case nil:
		return nil, nil
	case []byte:
		return a, nil
	case json.RawMessage:
		return a, nil
	default:
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		return raw, nil
	}
}
