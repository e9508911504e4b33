package chain

import (
	"context"
	"encoding/json"

	"github.com/Klingon-tech/klingnet-sandbox/internal/runtime"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Views are served from the head state under a read lock.

// AccountView is an account as reported by view_account.
type AccountView struct {
	AccountID    types.AccountID      `json:"account_id"`
	Amount       types.Balance        `json:"amount"`
	Locked       types.Balance        `json:"locked"`
	CodeHash     types.Hash           `json:"code_hash"`
	StorageUsage uint64               `json:"storage_usage"`
	Balance      types.AccountBalance `json:"balance"`
	BlockHeight  uint64               `json:"block_height"`
	BlockHash    types.Hash           `json:"block_hash"`
}

// AccessKeyView is an access key as reported by view_access_key.
type AccessKeyView struct {
	Nonce       uint64     `json:"nonce"`
	Permission  string     `json:"permission"`
	BlockHeight uint64     `json:"block_height"`
	BlockHash   types.Hash `json:"block_hash"`
}

// CodeView is deployed contract code.
type CodeView struct {
	Code        []byte     `json:"code"`
	Hash        types.Hash `json:"hash"`
	BlockHeight uint64     `json:"block_height"`
	BlockHash   types.Hash `json:"block_hash"`
}

// StateItem is one raw contract data record.
type StateItem struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// StateView is a prefix scan of contract data.
type StateView struct {
	Values      []StateItem `json:"values"`
	BlockHeight uint64      `json:"block_height"`
	BlockHash   types.Hash  `json:"block_hash"`
}

// CallResult is the outcome of a view call.
type CallResult struct {
	Result      json.RawMessage `json:"result"`
	Logs        []string        `json:"logs"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   types.Hash      `json:"block_hash"`
}

// ViewAccount returns the account record of id.
func (c *Chain) ViewAccount(id types.AccountID) (*AccountView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	acc, err := newStateStore(c.db).account(id)
	if err != nil {
		return nil, err
	}
	return &AccountView{
		AccountID:    id,
		Amount:       acc.Amount,
		Locked:       acc.Locked,
		CodeHash:     acc.CodeHash,
		StorageUsage: acc.StorageUsage,
		Balance:      acc.Balance(),
		BlockHeight:  c.state.Height,
		BlockHash:    c.state.TipHash,
	}, nil
}

// ViewAccessKey returns the access key pk of id.
func (c *Chain) ViewAccessKey(id types.AccountID, pk crypto.PublicKey) (*AccessKeyView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := newStateStore(c.db)
	if _, err := st.account(id); err != nil {
		return nil, err
	}
	ak, err := st.accessKey(id, pk)
	if err != nil {
		return nil, err
	}
	return &AccessKeyView{
		Nonce:       ak.Nonce,
		Permission:  ak.Permission,
		BlockHeight: c.state.Height,
		BlockHash:   c.state.TipHash,
	}, nil
}

// ViewCode returns the contract deployed on id.
func (c *Chain) ViewCode(id types.AccountID) (*CodeView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := newStateStore(c.db)
	if _, err := st.account(id); err != nil {
		return nil, err
	}
	code, err := st.code(id)
	if err != nil {
		return nil, err
	}
	return &CodeView{
		Code:        code,
		Hash:        crypto.Hash(code),
		BlockHeight: c.state.Height,
		BlockHash:   c.state.TipHash,
	}, nil
}

// ViewState returns the data records of id whose keys start with prefix.
// Values are returned exactly as stored.
func (c *Chain) ViewState(id types.AccountID, prefix []byte) (*StateView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := newStateStore(c.db)
	if _, err := st.account(id); err != nil {
		return nil, err
	}
	view := &StateView{
		Values:      []StateItem{},
		BlockHeight: c.state.Height,
		BlockHash:   c.state.TipHash,
	}
	err := st.rangeData(id, prefix, func(key, value []byte) error {
		view.Values = append(view.Values, StateItem{Key: key, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// CallView runs method on the contract of id in read-only mode.
func (c *Chain) CallView(ctx context.Context, id types.AccountID, method string, args []byte) (*CallResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := newStateStore(c.db)
	if _, err := st.account(id); err != nil {
		return nil, err
	}
	code, err := st.code(id)
	if err != nil {
		return nil, err
	}
	tip, err := c.blocks.GetBlock(c.state.TipHash)
	if err != nil {
		return nil, err
	}

	call := runtime.Context{
		CurrentAccountID:     id,
		PredecessorAccountID: id,
		SignerAccountID:      id,
		BlockHeight:          tip.Header.Height,
		BlockTimestamp:       tip.Header.Timestamp,
		EpochHeight:          tip.Header.EpochHeight,
		Input:                args,
		View:                 true,
	}
	out, err := c.rt.Execute(ctx, code, method, call, contractStorage{st: st, id: id})
	if err != nil {
		return nil, runtimeRejection(err)
	}
	res := &CallResult{
		Result:      out.Result,
		Logs:        out.Logs,
		BlockHeight: c.state.Height,
		BlockHash:   c.state.TipHash,
	}
	if res.Result == nil {
		res.Result = json.RawMessage("null")
	}
	if res.Logs == nil {
		res.Logs = []string{}
	}
	return res, nil
}
