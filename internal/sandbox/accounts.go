package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/internal/chain"
	"github.com/Klingon-tech/klingnet-sandbox/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/tx"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// AccountOption customizes account creation.
type AccountOption func(*accountOptions)

type accountOptions struct {
	balance *types.Balance
	key     *crypto.KeyPair
}

// WithInitialBalance funds the new account with b instead of the
// configured InitialBalance.
func WithInitialBalance(b types.Balance) AccountOption {
	return func(o *accountOptions) { o.balance = &b }
}

// WithKey uses kp instead of a fresh ed25519 key.
func WithKey(kp *crypto.KeyPair) AccountOption {
	return func(o *accountOptions) { o.key = kp }
}

func (h *Harness) resolveOptions(opts []AccountOption) (types.Balance, *crypto.KeyPair, error) {
	var o accountOptions
	for _, opt := range opts {
		opt(&o)
	}
	balance := h.cfg.InitialBalance
	if o.balance != nil {
		balance = *o.balance
	}
	key := o.key
	if key == nil {
		var err error
		if key, err = crypto.Generate(crypto.ED25519); err != nil {
			return types.Balance{}, nil, err
		}
	}
	return balance, key, nil
}

// signer returns the registered account for id.
func (h *Harness) signer(id types.AccountID) (Account, error) {
	acc, ok := h.reg.get(id)
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return acc, nil
}

// send signs and commits a transaction from signer to receiver. The nonce
// is read from the node; concurrent sends from one key may race and the
// loser gets the node's InvalidNonce rejection.
func (h *Harness) send(ctx context.Context, signer Account, receiver types.AccountID, build func(*tx.Builder)) (*chain.Outcome, error) {
	pk := signer.Key.PublicKey()
	ak, err := h.client.ViewAccessKey(ctx, rpcclient.BlockRef{}, signer.ID, pk)
	if err != nil {
		return nil, err
	}
	b := tx.NewBuilder(signer.ID, pk, ak.Nonce+1, receiver)
	build(b)
	stx, err := b.Build().Sign(signer.Key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return h.client.BroadcastTxCommit(ctx, stx)
}

// CreateSubAccount creates <localName>.<parentID>, funded and signed by the
// parent.
func (h *Harness) CreateSubAccount(ctx context.Context, parentID types.AccountID, localName string, opts ...AccountOption) (Account, error) {
	balance, key, err := h.resolveOptions(opts)
	if err != nil {
		return Account{}, err
	}
	id := parentID.Sub(localName)
	if err := id.Validate(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
	}
	return h.createAccount(ctx, parentID, id, key, balance)
}

// CreateAccountWithKey creates accountID, which must be a direct
// sub-account of parentID, with the given key.
func (h *Harness) CreateAccountWithKey(ctx context.Context, parentID, accountID types.AccountID, key *crypto.KeyPair, initialBalance types.Balance) (Account, error) {
	if err := accountID.Validate(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
	}
	if !accountID.IsDirectSubOf(parentID) {
		return Account{}, fmt.Errorf("%w: %s is not a direct sub-account of %s", ErrInvalidAccountID, accountID, parentID)
	}
	if key == nil {
		return Account{}, fmt.Errorf("create %s: nil key", accountID)
	}
	return h.createAccount(ctx, parentID, accountID, key, initialBalance)
}

// CreateDevAccount creates an account with a generated id under parentID,
// funded with the configured InitialBalance.
func (h *Harness) CreateDevAccount(ctx context.Context, parentID types.AccountID, opts ...AccountOption) (Account, error) {
	if err := h.requireReady(); err != nil {
		return Account{}, err
	}
	balance, key, err := h.resolveOptions(opts)
	if err != nil {
		return Account{}, err
	}
	id, err := h.reg.reserveDevID(parentID, time.Now())
	if err != nil {
		return Account{}, err
	}
	return h.createReserved(ctx, parentID, id, key, balance)
}

func (h *Harness) createAccount(ctx context.Context, parentID, id types.AccountID, key *crypto.KeyPair, balance types.Balance) (Account, error) {
	if err := h.requireReady(); err != nil {
		return Account{}, err
	}
	if err := h.reg.reserve(id); err != nil {
		return Account{}, err
	}
	return h.createReserved(ctx, parentID, id, key, balance)
}

// createReserved creates an id already reserved in the registry. The
// reservation is released on failure.
func (h *Harness) createReserved(ctx context.Context, parentID, id types.AccountID, key *crypto.KeyPair, balance types.Balance) (acc Account, err error) {
	defer func() {
		if err != nil {
			h.reg.release(id)
		}
	}()

	parent, err := h.signer(parentID)
	if err != nil {
		return Account{}, err
	}
	if err := h.checkFunds(ctx, parentID, balance); err != nil {
		return Account{}, err
	}

	_, err = h.send(ctx, parent, id, func(b *tx.Builder) {
		b.CreateAccount().Transfer(balance).AddKey(key.PublicKey())
	})
	switch rejectionName(err) {
	case "":
	case chain.ErrAccountAlreadyExists.Name:
		return Account{}, fmt.Errorf("%w: %s: %v", ErrDuplicateAccount, id, err)
	case chain.ErrNotEnoughBalance.Name, chain.ErrLackBalanceForState.Name:
		return Account{}, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case chain.ErrCreateAccountNotAllowed.Name:
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
	}
	if err != nil {
		return Account{}, err
	}

	acc = Account{ID: id, Parent: parentID, Key: key}
	h.reg.commit(acc)
	h.logger.Debug().Str("account", string(id)).Str("balance", balance.String()).Msg("Account created")
	return acc, nil
}

// checkFunds fails with ErrInsufficientFunds unless id can pay amount and
// keep MinReserve.
func (h *Harness) checkFunds(ctx context.Context, id types.AccountID, amount types.Balance) error {
	view, err := h.client.ViewAccount(ctx, rpcclient.BlockRef{}, id)
	if err != nil {
		return err
	}
	need, err := amount.Add(h.cfg.MinReserve)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	if view.Balance.Available.Lt(need) {
		return fmt.Errorf("%w: %s has %s available, needs %s", ErrInsufficientFunds, id, view.Balance.Available, need)
	}
	return nil
}

// Transfer moves amount from a registered account to any account.
func (h *Harness) Transfer(ctx context.Context, from, to types.AccountID, amount types.Balance) (*chain.Outcome, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	signer, err := h.signer(from)
	if err != nil {
		return nil, err
	}
	out, err := h.send(ctx, signer, to, func(b *tx.Builder) { b.Transfer(amount) })
	if rejectionName(err) == chain.ErrNotEnoughBalance.Name {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	return out, err
}

// ViewAccount returns the on-chain record of id.
func (h *Harness) ViewAccount(ctx context.Context, id types.AccountID) (*chain.AccountView, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	return h.client.ViewAccount(ctx, rpcclient.BlockRef{}, id)
}

// Balance returns the balance projection of id.
func (h *Harness) Balance(ctx context.Context, id types.AccountID) (types.AccountBalance, error) {
	view, err := h.ViewAccount(ctx, id)
	if err != nil {
		return types.AccountBalance{}, err
	}
	return view.Balance, nil
}

// AccountFromSecretKey registers an existing account so the harness can
// sign for it. Nothing is sent to the chain.
func (h *Harness) AccountFromSecretKey(id types.AccountID, secretKey string) (Account, error) {
	if err := id.Validate(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
	}
	kp, err := crypto.ParseSecretKey(secretKey)
	if err != nil {
		return Account{}, err
	}
	acc := Account{ID: id, Parent: id.Parent(), Key: kp}
	if err := h.reg.add(acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}

// AccountFromFile registers the account in a credentials file.
func (h *Harness) AccountFromFile(path string) (Account, error) {
	creds, err := crypto.LoadFromFile(path)
	if err != nil {
		return Account{}, err
	}
	acc := Account{ID: creds.AccountID, Parent: creds.AccountID.Parent(), Key: creds.Key}
	if err := h.reg.add(acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}
