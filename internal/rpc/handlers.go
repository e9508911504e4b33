package rpc

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/block"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// ── Chain endpoints ─────────────────────────────────────────────────────

func (s *Server) handleStatus(_ context.Context, _ *Request) (interface{}, *Error) {
	head, err := s.chain.Head()
	if err != nil {
		return nil, chainError(err)
	}
	gen := s.chain.Genesis()
	return &StatusResult{
		ChainID:     gen.ChainID,
		GenesisHash: s.chain.GenesisHash(),
		Version:     config.Version,
		LatestBlock: head.Info(),
		BlockTimeMS: gen.Protocol.BlockTimeMS,
		EpochLength: gen.Protocol.EpochLength,
		Registrar:   types.AccountID(gen.Protocol.Registrar),
	}, nil
}

func (s *Server) handleBlock(_ context.Context, req *Request) (interface{}, *Error) {
	var params BlockParams
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := parseParams(req, &params); err != nil {
			return nil, err
		}
	}
	blk, rpcErr := s.resolveBlock(params.BlockReference)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return NewBlockResult(blk), nil
}

// resolveBlock finds the block a reference points at. Finality levels all
// resolve to the head: sandbox blocks are final when produced.
func (s *Server) resolveBlock(ref BlockReference) (*block.Block, *Error) {
	if ref.Finality != "" && ref.BlockID != nil {
		return nil, invalidParams("finality and block_id are mutually exclusive")
	}
	if ref.Finality != "" {
		if err := ref.Finality.Validate(); err != nil {
			return nil, invalidParams(err.Error())
		}
	}

	var (
		blk *block.Block
		err error
	)
	switch {
	case ref.BlockID != nil && ref.BlockID.Hash != nil:
		blk, err = s.chain.BlockByHash(*ref.BlockID.Hash)
	case ref.BlockID != nil && ref.BlockID.Height != nil:
		blk, err = s.chain.BlockByHeight(*ref.BlockID.Height)
	default:
		blk, err = s.chain.Head()
	}
	if err != nil {
		return nil, chainError(err)
	}
	return blk, nil
}

func (s *Server) handleTx(_ context.Context, req *Request) (interface{}, *Error) {
	var params TxParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	height, hash, err := s.chain.TxLocation(params.TxHash)
	if err != nil {
		return nil, chainError(err)
	}
	return &TxResult{TxHash: params.TxHash, BlockHeight: height, BlockHash: hash}, nil
}

// ── Query endpoint ──────────────────────────────────────────────────────

// handleQuery serves read-only views. A block reference must name a known
// block; the view itself is served from the head state.
func (s *Server) handleQuery(ctx context.Context, req *Request) (interface{}, *Error) {
	var params QueryParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := params.AccountID.Validate(); err != nil {
		return nil, invalidParams(err.Error())
	}
	if params.Finality != "" || params.BlockID != nil {
		if _, rpcErr := s.resolveBlock(params.BlockReference); rpcErr != nil {
			return nil, rpcErr
		}
	}

	var (
		result interface{}
		err    error
	)
	switch params.RequestType {
	case QueryViewAccount:
		result, err = s.chain.ViewAccount(params.AccountID)
	case QueryViewAccessKey:
		pk, perr := crypto.ParsePublicKey(params.PublicKey)
		if perr != nil {
			return nil, invalidParams(fmt.Sprintf("public_key: %v", perr))
		}
		result, err = s.chain.ViewAccessKey(params.AccountID, pk)
	case QueryViewCode:
		result, err = s.chain.ViewCode(params.AccountID)
	case QueryViewState:
		result, err = s.chain.ViewState(params.AccountID, params.Prefix)
	case QueryCallFunction:
		if params.MethodName == "" {
			return nil, invalidParams("method_name is required")
		}
		result, err = s.chain.CallView(ctx, params.AccountID, params.MethodName, params.Args)
	default:
		return nil, invalidParams(fmt.Sprintf("unknown request_type %q", params.RequestType))
	}
	if err != nil {
		return nil, chainError(err)
	}
	return result, nil
}

// ── Transaction endpoint ────────────────────────────────────────────────

func (s *Server) handleBroadcastTxCommit(ctx context.Context, req *Request) (interface{}, *Error) {
	var params BroadcastTxParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.SignedTransaction == nil {
		return nil, invalidParams("signed_transaction is required")
	}
	out, err := s.chain.ApplyTransaction(ctx, params.SignedTransaction)
	if err != nil {
		return nil, chainError(err)
	}
	return out, nil
}

// ── Sandbox endpoints ───────────────────────────────────────────────────

func (s *Server) handleFastForward(_ context.Context, req *Request) (interface{}, *Error) {
	var params FastForwardParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.DeltaHeight <= 0 {
		return nil, chainError(&chain.Error{
			Name:    chain.ErrInvalidDelta.Name,
			Message: fmt.Sprintf("delta_height must be positive, got %d", params.DeltaHeight),
		})
	}
	info, err := s.chain.FastForward(uint64(params.DeltaHeight))
	if err != nil {
		return nil, chainError(err)
	}
	return &info, nil
}

func (s *Server) handlePatchState(_ context.Context, req *Request) (interface{}, *Error) {
	var params PatchStateParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := s.chain.PatchState(params.Records); err != nil {
		return nil, chainError(err)
	}
	return &PatchStateResult{Records: len(params.Records)}, nil
}
