package tx

import (
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a builder for a transaction from signer to receiver.
func NewBuilder(signer types.AccountID, pk crypto.PublicKey, nonce uint64, receiver types.AccountID) *Builder {
	return &Builder{
		tx: &Transaction{
			SignerID:   signer,
			PublicKey:  pk,
			Nonce:      nonce,
			ReceiverID: receiver,
		},
	}
}

// CreateAccount appends a CreateAccount action.
func (b *Builder) CreateAccount() *Builder {
	b.tx.Actions = append(b.tx.Actions, CreateAccount())
	return b
}

// Transfer appends a Transfer action.
func (b *Builder) Transfer(amount types.Balance) *Builder {
	b.tx.Actions = append(b.tx.Actions, Transfer(amount))
	return b
}

// AddKey appends an AddKey action.
func (b *Builder) AddKey(pk crypto.PublicKey) *Builder {
	b.tx.Actions = append(b.tx.Actions, AddKey(pk))
	return b
}

// DeployContract appends a DeployContract action.
func (b *Builder) DeployContract(code []byte) *Builder {
	b.tx.Actions = append(b.tx.Actions, DeployContract(code))
	return b
}

// FunctionCall appends a FunctionCall action.
func (b *Builder) FunctionCall(method string, args []byte, deposit types.Balance) *Builder {
	b.tx.Actions = append(b.tx.Actions, FunctionCall(method, args, deposit))
	return b
}

// Build returns the constructed transaction.
func (b *Builder) Build() *Transaction {
	return b.tx
}
