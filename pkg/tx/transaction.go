// Package tx defines signed transactions and the actions they carry.
package tx

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// ActionType tags an Action.
type ActionType string

// Action types.
const (
	ActionCreateAccount  ActionType = "CreateAccount"
	ActionTransfer       ActionType = "Transfer"
	ActionAddKey         ActionType = "AddKey"
	ActionDeployContract ActionType = "DeployContract"
	ActionFunctionCall   ActionType = "FunctionCall"
)

// Action is one step of a transaction, applied in order against the
// receiver. Only the fields of its Type are set.
type Action struct {
	Type       ActionType        `json:"type"`
	Deposit    *types.Balance    `json:"deposit,omitempty"`
	PublicKey  *crypto.PublicKey `json:"public_key,omitempty"`
	Code       []byte            `json:"code,omitempty"`
	MethodName string            `json:"method_name,omitempty"`
	Args       []byte            `json:"args,omitempty"`
}

// CreateAccount creates the receiver account.
func CreateAccount() Action {
	return Action{Type: ActionCreateAccount}
}

// Transfer moves amount from the signer to the receiver.
func Transfer(amount types.Balance) Action {
	return Action{Type: ActionTransfer, Deposit: &amount}
}

// AddKey registers a full-access key on the receiver.
func AddKey(pk crypto.PublicKey) Action {
	return Action{Type: ActionAddKey, PublicKey: &pk}
}

// DeployContract installs code on the receiver.
func DeployContract(code []byte) Action {
	return Action{Type: ActionDeployContract, Code: code}
}

// FunctionCall invokes method on the receiver's contract.
func FunctionCall(method string, args []byte, deposit types.Balance) Action {
	return Action{Type: ActionFunctionCall, MethodName: method, Args: args, Deposit: &deposit}
}

// DepositOrZero returns the attached deposit.
func (a Action) DepositOrZero() types.Balance {
	if a.Deposit == nil {
		return types.Balance{}
	}
	return *a.Deposit
}

// Transaction is an ordered list of actions from a signer to a receiver.
type Transaction struct {
	SignerID   types.AccountID  `json:"signer_id"`
	PublicKey  crypto.PublicKey `json:"public_key"`
	Nonce      uint64           `json:"nonce"`
	ReceiverID types.AccountID  `json:"receiver_id"`
	Actions    []Action         `json:"actions"`
}

// SigningBytes returns the canonical encoding that is hashed and signed.
func (t *Transaction) SigningBytes() []byte {
	// Struct fields marshal in declaration order, so the encoding is stable.
	data, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("marshal transaction: %v", err))
	}
	return data
}

// Hash returns the BLAKE3 hash of the signing bytes.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.SigningBytes())
}

// Sign signs the transaction with kp.
func (t *Transaction) Sign(kp *crypto.KeyPair) (*SignedTransaction, error) {
	if !kp.PublicKey().Equal(t.PublicKey) {
		return nil, errors.New("signing key does not match transaction public key")
	}
	sig, err := kp.Sign(t.SigningBytes())
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return &SignedTransaction{Transaction: *t, Signature: sig}, nil
}

// SignedTransaction is a transaction plus its signature.
type SignedTransaction struct {
	Transaction Transaction `json:"transaction"`
	Signature   []byte      `json:"signature"`
}

// Hash returns the transaction hash.
func (s *SignedTransaction) Hash() types.Hash {
	return s.Transaction.Hash()
}

// VerifySignature checks the signature against the embedded public key.
func (s *SignedTransaction) VerifySignature() bool {
	return s.Transaction.PublicKey.Verify(s.Transaction.SigningBytes(), s.Signature)
}
