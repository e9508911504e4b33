package tx

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrNoActions      = errors.New("transaction has no actions")
	ErrUnknownAction  = errors.New("unknown action type")
	ErrMissingField   = errors.New("action is missing a required field")
	ErrEmptySignature = errors.New("transaction is not signed")
	ErrBadSignature   = errors.New("signature does not verify")
)

// Validate performs stateless checks on a signed transaction.
func (s *SignedTransaction) Validate() error {
	t := &s.Transaction
	if err := t.SignerID.Validate(); err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	if err := t.ReceiverID.Validate(); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	if len(t.Actions) == 0 {
		return ErrNoActions
	}
	for i, a := range t.Actions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	if len(s.Signature) == 0 {
		return ErrEmptySignature
	}
	if !s.VerifySignature() {
		return ErrBadSignature
	}
	return nil
}

func (a Action) validate() error {
	switch a.Type {
	case ActionCreateAccount:
		return nil
	case ActionTransfer:
		if a.Deposit == nil {
			return fmt.Errorf("%w: deposit", ErrMissingField)
		}
	case ActionAddKey:
		if a.PublicKey == nil || a.PublicKey.IsZero() {
			return fmt.Errorf("%w: public_key", ErrMissingField)
		}
	case ActionDeployContract:
		if len(a.Code) == 0 {
			return fmt.Errorf("%w: code", ErrMissingField)
		}
	case ActionFunctionCall:
		if a.MethodName == "" {
			return fmt.Errorf("%w: method_name", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, string(a.Type))
	}
	return nil
}
