package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/block"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/tx"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeHandlerError   = -32000 // the chain rejected the request; Data carries its name
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData names the rejection, e.g. "AccountDoesNotExist".
type ErrorData struct {
	Name string `json:"name"`
}

// Method names.
const (
	MethodStatus            = "status"
	MethodBlock             = "block"
	MethodQuery             = "query"
	MethodBroadcastTxCommit = "broadcast_tx_commit"
	MethodTx                = "tx"
	MethodFastForward       = "sandbox_fast_forward"
	MethodPatchState        = "sandbox_patch_state"
)

// Query request types.
const (
	QueryViewAccount   = "view_account"
	QueryViewAccessKey = "view_access_key"
	QueryViewCode      = "view_code"
	QueryViewState     = "view_state"
	QueryCallFunction  = "call_function"
)

// ── Param types ─────────────────────────────────────────────────────────

// BlockID selects a block by height or by hash. The JSON form is either a
// number or a base58 hash string.
type BlockID struct {
	Height *uint64
	Hash   *types.Hash
}

// MarshalJSON implements json.Marshaler.
func (b BlockID) MarshalJSON() ([]byte, error) {
	switch {
	case b.Hash != nil:
		return json.Marshal(b.Hash)
	case b.Height != nil:
		return json.Marshal(*b.Height)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BlockID) UnmarshalJSON(data []byte) error {
	var height uint64
	if err := json.Unmarshal(data, &height); err == nil {
		b.Height, b.Hash = &height, nil
		return nil
	}
	var hash types.Hash
	if err := json.Unmarshal(data, &hash); err != nil {
		return fmt.Errorf("block_id must be a height or a block hash: %w", err)
	}
	b.Height, b.Hash = nil, &hash
	return nil
}

// BlockReference is embedded by requests that read at a block. At most one
// of Finality and BlockID is set; neither means the optimistic head.
type BlockReference struct {
	Finality types.Finality `json:"finality,omitempty"`
	BlockID  *BlockID       `json:"block_id,omitempty"`
}

// BlockParams is used by block.
type BlockParams struct {
	BlockReference
}

// QueryParams is used by query. Fields beyond RequestType and AccountID
// depend on the request type.
type QueryParams struct {
	BlockReference
	RequestType string          `json:"request_type"`
	AccountID   types.AccountID `json:"account_id"`
	PublicKey   string          `json:"public_key,omitempty"`
	Prefix      []byte          `json:"prefix_base64,omitempty"`
	MethodName  string          `json:"method_name,omitempty"`
	Args        []byte          `json:"args_base64,omitempty"`
}

// BroadcastTxParams is used by broadcast_tx_commit.
type BroadcastTxParams struct {
	SignedTransaction *tx.SignedTransaction `json:"signed_transaction"`
}

// TxParams is used by tx.
type TxParams struct {
	TxHash types.Hash `json:"tx_hash"`
}

// FastForwardParams is used by sandbox_fast_forward. The delta is signed so
// that negative requests can be rejected by name.
type FastForwardParams struct {
	DeltaHeight int64 `json:"delta_height"`
}

// PatchStateParams is used by sandbox_patch_state.
type PatchStateParams struct {
	Records []chain.StateRecord `json:"records"`
}

// ── Result types ────────────────────────────────────────────────────────

// StatusResult is returned by status.
type StatusResult struct {
	ChainID     string          `json:"chain_id"`
	GenesisHash types.Hash      `json:"genesis_hash"`
	Version     string          `json:"version"`
	LatestBlock types.BlockInfo `json:"latest_block"`
	BlockTimeMS uint64          `json:"block_time_ms"`
	EpochLength uint64          `json:"epoch_length"`
	Registrar   types.AccountID `json:"registrar"`
}

// BlockResult is returned by block.
type BlockResult struct {
	types.BlockInfo
	Transactions []types.Hash `json:"transactions"`
}

// NewBlockResult creates a BlockResult from a block, precomputing all hashes.
func NewBlockResult(b *block.Block) *BlockResult {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return &BlockResult{
		BlockInfo:    b.Info(),
		Transactions: hashes,
	}
}

// TxResult is returned by tx.
type TxResult struct {
	TxHash      types.Hash `json:"tx_hash"`
	BlockHeight uint64     `json:"block_height"`
	BlockHash   types.Hash `json:"block_hash"`
}

// PatchStateResult is returned by sandbox_patch_state.
type PatchStateResult struct {
	Records int `json:"records"`
}
