package chain

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// StateRecord is one raw state write applied by PatchState. Exactly one
// field is set.
type StateRecord struct {
	Account   *AccountRecord   `json:"account,omitempty"`
	AccessKey *AccessKeyRecord `json:"access_key,omitempty"`
	Contract  *ContractRecord  `json:"contract,omitempty"`
	Data      *DataRecord      `json:"data,omitempty"`
}

// AccountRecord creates or replaces an account.
type AccountRecord struct {
	AccountID types.AccountID `json:"account_id"`
	Amount    types.Balance   `json:"amount"`
	Locked    types.Balance   `json:"locked"`
}

// AccessKeyRecord creates or replaces an access key.
type AccessKeyRecord struct {
	AccountID types.AccountID  `json:"account_id"`
	PublicKey crypto.PublicKey `json:"public_key"`
	Nonce     uint64           `json:"nonce"`
}

// ContractRecord installs contract code without compiling it.
type ContractRecord struct {
	AccountID types.AccountID `json:"account_id"`
	Code      []byte          `json:"code"`
}

// DataRecord overwrites one contract data slot. A nil Value removes it.
type DataRecord struct {
	AccountID types.AccountID `json:"account_id"`
	Key       []byte          `json:"key"`
	Value     []byte          `json:"value"`
}

func (r StateRecord) accountID() (types.AccountID, error) {
	var ids []types.AccountID
	if r.Account != nil {
		ids = append(ids, r.Account.AccountID)
	}
	if r.AccessKey != nil {
		ids = append(ids, r.AccessKey.AccountID)
	}
	if r.Contract != nil {
		ids = append(ids, r.Contract.AccountID)
	}
	if r.Data != nil {
		ids = append(ids, r.Data.AccountID)
	}
	if len(ids) != 1 {
		return "", rejectf(ErrInvalidPatch, "record must set exactly one of account, access_key, contract, data")
	}
	if err := ids[0].Validate(); err != nil {
		return "", rejectf(ErrInvalidPatch, "%v", err)
	}
	return ids[0], nil
}

// PatchState writes records directly into state, bypassing transactions
// and contract logic. Records apply in order, so an account record may
// precede records for the same account. No block is produced. Storage
// usage is recomputed but not enforced.
func (c *Chain) PatchState(records []StateRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.IsGenesis() {
		return fmt.Errorf("chain not initialized")
	}

	ov := newOverlay(c.db)
	st := newStateStore(ov)
	touched := make(map[types.AccountID]struct{})

	for i, r := range records {
		id, err := r.accountID()
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if r.Account == nil {
			exists, err := st.hasAccount(id)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("record %d: %w", i, rejectf(ErrAccountDoesNotExist, "account %s does not exist", id))
			}
		}

		switch {
		case r.Account != nil:
			acc := &Account{}
			if existing, err := st.account(id); err == nil {
				acc = existing
			}
			acc.Amount = r.Account.Amount
			acc.Locked = r.Account.Locked
			err = st.putAccount(id, acc)
		case r.AccessKey != nil:
			err = st.putAccessKey(id, r.AccessKey.PublicKey, &AccessKey{
				Nonce:      r.AccessKey.Nonce,
				Permission: PermissionFullAccess,
			})
		case r.Contract != nil:
			var acc *Account
			acc, err = st.account(id)
			if err == nil {
				acc.CodeHash = crypto.Hash(r.Contract.Code)
				if err = st.putCode(id, r.Contract.Code); err == nil {
					err = st.putAccount(id, acc)
				}
			}
		case r.Data != nil:
			if r.Data.Value == nil {
				err = st.deleteData(id, r.Data.Key)
			} else {
				err = st.putData(id, r.Data.Key, r.Data.Value)
			}
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		touched[id] = struct{}{}
	}

	if err := st.refreshUsage(touched, false); err != nil {
		return err
	}
	if err := ov.commit(); err != nil {
		return fmt.Errorf("commit patch: %w", err)
	}
	log.Chain.Info().Int("records", len(records)).Msg("State patched")
	return nil
}
