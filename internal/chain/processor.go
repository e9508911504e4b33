package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/internal/runtime"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/block"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/tx"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Outcome is the result of a committed transaction.
type Outcome struct {
	TxHash      types.Hash      `json:"tx_hash"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   types.Hash      `json:"block_hash"`
	Result      json.RawMessage `json:"result,omitempty"` // return value of the last function call
	Logs        []string        `json:"logs"`
}

// ApplyTransaction validates stx against the head state, applies its
// actions and commits the result as a new block. Either every action
// applies or nothing changes, the access key nonce included.
func (c *Chain) ApplyTransaction(ctx context.Context, stx *tx.SignedTransaction) (*Outcome, error) {
	if err := stx.Validate(); err != nil {
		if errors.Is(err, tx.ErrBadSignature) || errors.Is(err, tx.ErrEmptySignature) {
			return nil, rejectf(ErrInvalidSignature, "%v", err)
		}
		return nil, rejectf(ErrInvalidTransaction, "%v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.IsGenesis() {
		return nil, fmt.Errorf("chain not initialized")
	}

	t := &stx.Transaction
	ov := newOverlay(c.db)
	st := newStateStore(ov)

	if _, err := st.account(t.SignerID); err != nil {
		return nil, err
	}
	key, err := st.accessKey(t.SignerID, t.PublicKey)
	if err != nil {
		return nil, err
	}
	if t.Nonce <= key.Nonce {
		return nil, rejectf(ErrInvalidNonce, "transaction nonce %d must be larger than access key nonce %d", t.Nonce, key.Nonce)
	}
	key.Nonce = t.Nonce
	if err := st.putAccessKey(t.SignerID, t.PublicKey, key); err != nil {
		return nil, err
	}

	header := c.nextHeader(1, c.state.TimeOffset)
	ex := &executor{
		chain:   c,
		ctx:     ctx,
		st:      st,
		tx:      t,
		header:  header,
		created: make(map[types.AccountID]bool),
		touched: map[types.AccountID]struct{}{t.SignerID: {}, t.ReceiverID: {}},
	}
	for i, action := range t.Actions {
		if err := ex.apply(action); err != nil {
			log.Chain.Debug().
				Str("tx", stx.Hash().String()).
				Int("action", i).
				Err(err).
				Msg("Transaction rejected")
			return nil, err
		}
	}
	if err := st.refreshUsage(ex.touched, true); err != nil {
		return nil, err
	}

	blk := block.NewBlock(header, []*tx.SignedTransaction{stx})
	if err := c.commitBlock(ov, NewBlockStore(ov), blk, c.state.TimeOffset); err != nil {
		return nil, err
	}

	out := &Outcome{
		TxHash:      stx.Hash(),
		BlockHeight: header.Height,
		BlockHash:   blk.Hash(),
		Result:      ex.result,
		Logs:        ex.logs,
	}
	if out.Logs == nil {
		out.Logs = []string{}
	}
	log.Chain.Debug().
		Str("tx", out.TxHash.String()).
		Str("signer", string(t.SignerID)).
		Str("receiver", string(t.ReceiverID)).
		Uint64("height", out.BlockHeight).
		Msg("Transaction committed")
	return out, nil
}

// executor applies the actions of one transaction to an uncommitted state.
type executor struct {
	chain   *Chain
	ctx     context.Context
	st      *stateStore
	tx      *tx.Transaction
	header  *block.Header
	created map[types.AccountID]bool
	touched map[types.AccountID]struct{}
	result  json.RawMessage
	logs    []string
}

func (e *executor) apply(a tx.Action) error {
	switch a.Type {
	case tx.ActionCreateAccount:
		return e.createAccount()
	case tx.ActionTransfer:
		return e.transfer(a.DepositOrZero())
	case tx.ActionAddKey:
		return e.addKey(*a.PublicKey)
	case tx.ActionDeployContract:
		return e.deploy(a.Code)
	case tx.ActionFunctionCall:
		return e.functionCall(a.MethodName, a.Args, a.DepositOrZero())
	default:
		return rejectf(ErrInvalidTransaction, "unknown action %q", string(a.Type))
	}
}

// createAccount creates the receiver. Accounts are created by their
// direct parent; top-level names belong to the registrar.
func (e *executor) createAccount() error {
	signer, receiver := e.tx.SignerID, e.tx.ReceiverID
	exists, err := e.st.hasAccount(receiver)
	if err != nil {
		return err
	}
	if exists {
		return rejectf(ErrAccountAlreadyExists, "account %s already exists", receiver)
	}

	registrar := types.AccountID(e.chain.genesis.Protocol.Registrar)
	allowed := receiver.IsDirectSubOf(signer) || (receiver.IsTopLevel() && signer == registrar)
	if !allowed {
		return rejectf(ErrCreateAccountNotAllowed, "%s cannot create account %s", signer, receiver)
	}
	if err := e.st.putAccount(receiver, &Account{}); err != nil {
		return err
	}
	e.created[receiver] = true
	return nil
}

func (e *executor) transfer(amount types.Balance) error {
	return e.move(e.tx.SignerID, e.tx.ReceiverID, amount)
}

func (e *executor) move(from, to types.AccountID, amount types.Balance) error {
	if amount.IsZero() || from == to {
		return nil
	}
	src, err := e.st.account(from)
	if err != nil {
		return err
	}
	dst, err := e.st.account(to)
	if err != nil {
		return err
	}
	src.Amount, err = src.Amount.Sub(amount)
	if err != nil {
		return rejectf(ErrNotEnoughBalance, "%s has %s, needs %s", from, src.Amount, amount)
	}
	dst.Amount, err = dst.Amount.Add(amount)
	if err != nil {
		return rejectf(ErrInvalidTransaction, "balance of %s overflows", to)
	}
	if err := e.st.putAccount(from, src); err != nil {
		return err
	}
	return e.st.putAccount(to, dst)
}

// mayManage reports whether the signer controls the receiver's keys and code.
func (e *executor) mayManage() error {
	if e.tx.SignerID == e.tx.ReceiverID || e.created[e.tx.ReceiverID] {
		return nil
	}
	return rejectf(ErrActorNoPermission, "%s cannot act on behalf of %s", e.tx.SignerID, e.tx.ReceiverID)
}

func (e *executor) addKey(pk crypto.PublicKey) error {
	if err := e.mayManage(); err != nil {
		return err
	}
	receiver := e.tx.ReceiverID
	if _, err := e.st.account(receiver); err != nil {
		return err
	}
	if _, err := e.st.accessKey(receiver, pk); err == nil {
		return rejectf(ErrAccessKeyAlreadyExists, "access key %s already exists on %s", pk, receiver)
	} else if !errors.Is(err, ErrAccessKeyDoesNotExist) {
		return err
	}
	return e.st.putAccessKey(receiver, pk, &AccessKey{Permission: PermissionFullAccess})
}

func (e *executor) deploy(code []byte) error {
	if err := e.mayManage(); err != nil {
		return err
	}
	receiver := e.tx.ReceiverID
	acc, err := e.st.account(receiver)
	if err != nil {
		return err
	}
	if err := e.chain.rt.Validate(code); err != nil {
		return rejectf(ErrCompilationError, "%v", err)
	}
	if err := e.st.putCode(receiver, code); err != nil {
		return err
	}
	acc.CodeHash = crypto.Hash(code)
	return e.st.putAccount(receiver, acc)
}

func (e *executor) functionCall(method string, args []byte, deposit types.Balance) error {
	receiver := e.tx.ReceiverID
	if _, err := e.st.account(receiver); err != nil {
		return err
	}
	code, err := e.st.code(receiver)
	if err != nil {
		return err
	}
	if err := e.move(e.tx.SignerID, receiver, deposit); err != nil {
		return err
	}

	call := runtime.Context{
		CurrentAccountID:     receiver,
		PredecessorAccountID: e.tx.SignerID,
		SignerAccountID:      e.tx.SignerID,
		BlockHeight:          e.header.Height,
		BlockTimestamp:       e.header.Timestamp,
		EpochHeight:          e.header.EpochHeight,
		AttachedDeposit:      deposit,
		Input:                args,
	}
	out, err := e.chain.rt.Execute(e.ctx, code, method, call, contractStorage{st: e.st, id: receiver})
	if err != nil {
		return runtimeRejection(err)
	}
	e.result = out.Result
	e.logs = append(e.logs, out.Logs...)
	return nil
}

// runtimeRejection maps a runtime failure onto a named rejection.
func runtimeRejection(err error) error {
	switch {
	case errors.Is(err, runtime.ErrCompilation):
		return rejectf(ErrCompilationError, "%v", err)
	case errors.Is(err, runtime.ErrMethodNotFound):
		return rejectf(ErrMethodNotFound, "%v", err)
	default:
		return rejectf(ErrExecutionError, "%v", err)
	}
}
