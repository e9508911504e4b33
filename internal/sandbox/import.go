package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// ImportRequest copies a contract from another network into the sandbox.
type ImportRequest struct {
	// SourceRPC is the endpoint of the network to import from.
	SourceRPC string
	// AccountID is the contract account on the source network.
	AccountID types.AccountID
	// BlockHeight pins the source state. Nil means the final head.
	BlockHeight *uint64
	// WithData copies the contract's data records as well as its code.
	WithData bool
	// InitialBalance funds the local account. Nil uses the configured
	// InitialBalance.
	InitialBalance *types.Balance
	// LocalID is the id in the sandbox. Empty reuses AccountID.
	LocalID types.AccountID
}

// ImportContract fetches code, and optionally data, of req.AccountID from
// req.SourceRPC and installs it under a fresh local account with a new key.
// Fails with ErrImportSourceUnreachable when the source cannot be reached
// and ErrBlockNotFound when it does not know the requested block.
func (h *Harness) ImportContract(ctx context.Context, req ImportRequest) (Account, error) {
	if err := h.requireReady(); err != nil {
		return Account{}, err
	}
	if !h.IsSandbox() {
		return Account{}, ErrPatchUnsupportedOnRemoteNetwork
	}
	if err := req.AccountID.Validate(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
	}
	localID := req.LocalID
	if localID == "" {
		localID = req.AccountID
	}
	if err := localID.Validate(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
	}
	balance := h.cfg.InitialBalance
	if req.InitialBalance != nil {
		balance = *req.InitialBalance
	}

	src := rpcclient.NewWithTimeout(req.SourceRPC, h.cfg.RequestTimeout)
	ref := rpcclient.Finality(types.FinalityFinal)
	if req.BlockHeight != nil {
		ref = rpcclient.AtHeight(*req.BlockHeight)
	}

	blk, err := src.Block(ctx, ref)
	if err != nil {
		return Account{}, importError(err)
	}
	// Pin every read to the resolved block.
	ref = rpcclient.AtHash(blk.Hash)

	code, err := src.ViewCode(ctx, ref, req.AccountID)
	if err != nil {
		return Account{}, importError(err)
	}
	var data []chain.StateItem
	if req.WithData {
		sv, err := src.ViewState(ctx, ref, req.AccountID, nil)
		if err != nil {
			return Account{}, importError(err)
		}
		data = sv.Values
	}

	if err := h.reg.reserve(localID); err != nil {
		return Account{}, err
	}
	acc, err := h.installImported(ctx, localID, balance, code.Code, data)
	if err != nil {
		h.reg.release(localID)
		return Account{}, err
	}
	h.reg.commit(acc)
	h.logger.Info().
		Str("source", req.SourceRPC).
		Str("account", string(req.AccountID)).
		Str("local", string(localID)).
		Uint64("height", blk.Height).
		Int("records", len(data)).
		Msg("Contract imported")
	return acc, nil
}

func (h *Harness) installImported(ctx context.Context, id types.AccountID, balance types.Balance, code []byte, data []chain.StateItem) (Account, error) {
	_, err := h.client.ViewAccount(ctx, rpcclient.BlockRef{}, id)
	if err == nil {
		return Account{}, fmt.Errorf("%w: %s exists in the sandbox", ErrDuplicateAccount, id)
	}
	if rejectionName(err) != chain.ErrAccountDoesNotExist.Name {
		return Account{}, err
	}

	key, err := crypto.Generate(crypto.ED25519)
	if err != nil {
		return Account{}, err
	}
	records := make([]chain.StateRecord, 0, 3+len(data))
	records = append(records,
		chain.StateRecord{Account: &chain.AccountRecord{AccountID: id, Amount: balance}},
		chain.StateRecord{AccessKey: &chain.AccessKeyRecord{AccountID: id, PublicKey: key.PublicKey()}},
		chain.StateRecord{Contract: &chain.ContractRecord{AccountID: id, Code: code}},
	)
	for _, item := range data {
		records = append(records, chain.StateRecord{
			Data: &chain.DataRecord{AccountID: id, Key: item.Key, Value: item.Value},
		})
	}
	if err := h.client.PatchState(ctx, records); err != nil {
		return Account{}, err
	}
	return Account{ID: id, Parent: id.Parent(), Key: key}, nil
}

// importError maps source failures onto the import errors.
func importError(err error) error {
	var te *rpcclient.TransportError
	if errors.As(err, &te) {
		return fmt.Errorf("%w: %v", ErrImportSourceUnreachable, err)
	}
	if rejectionName(err) == chain.ErrUnknownBlock.Name {
		return fmt.Errorf("%w: %v", ErrBlockNotFound, err)
	}
	return err
}
