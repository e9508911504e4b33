package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-sandbox/internal/storage"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// State holds the current chain tip state.
type State struct {
	Height       uint64
	TipHash      types.Hash
	TipTimestamp uint64 // Timestamp of the current tip block.
	TimeOffset   uint64 // Virtual nanoseconds added by fast-forwards.
}

// IsGenesis returns true if no blocks have been processed yet.
func (s *State) IsGenesis() bool {
	return s.Height == 0 && s.TipHash.IsZero()
}

// Account is the on-chain record of an account.
type Account struct {
	Amount       types.Balance `json:"amount"`
	Locked       types.Balance `json:"locked"`
	CodeHash     types.Hash    `json:"code_hash"`
	StorageUsage uint64        `json:"storage_usage"`
}

// Balance returns the balance projection of the account.
func (a *Account) Balance() types.AccountBalance {
	return types.NewAccountBalance(a.Amount, a.Locked, a.StorageUsage)
}

// PermissionFullAccess is the only access key permission the sandbox grants.
const PermissionFullAccess = "FullAccess"

// AccessKey is a key registered on an account.
type AccessKey struct {
	Nonce      uint64 `json:"nonce"`
	Permission string `json:"permission"`
}

// Storage accounting, in bytes.
const (
	accountRecordBytes = 100
	accessKeyBytes     = 82
	dataRecordBytes    = 40
)

// State namespaces, all below statePrefix in the chain database.
var (
	statePrefix     = []byte("state/")
	prefixAccount   = "a/" // a/<id> -> Account JSON
	prefixAccessKey = "k/" // k/<id>/<public key> -> AccessKey JSON
	prefixCode      = "c/" // c/<id> -> code
	prefixData      = "d/" // d/<id>/<key> -> value
)

// stateStore reads and writes account state in a storage.DB. Account IDs
// never contain '/', so an ID followed by '/' is an unambiguous prefix.
type stateStore struct {
	db storage.DB
}

func newStateStore(db storage.DB) *stateStore {
	return &stateStore{db: storage.NewTable(db, statePrefix)}
}

func accountKey(id types.AccountID) []byte {
	return []byte(prefixAccount + string(id))
}

func accessKeyKey(id types.AccountID, pk crypto.PublicKey) []byte {
	return []byte(prefixAccessKey + string(id) + "/" + pk.String())
}

func codeKey(id types.AccountID) []byte {
	return []byte(prefixCode + string(id))
}

func dataPrefix(id types.AccountID) []byte {
	return []byte(prefixData + string(id) + "/")
}

func dataKey(id types.AccountID, key []byte) []byte {
	return append(dataPrefix(id), key...)
}

func (s *stateStore) getJSON(key []byte, v any) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *stateStore) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put(key, data)
}

func (s *stateStore) account(id types.AccountID) (*Account, error) {
	var acc Account
	ok, err := s.getJSON(accountKey(id), &acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rejectf(ErrAccountDoesNotExist, "account %s does not exist", id)
	}
	return &acc, nil
}

func (s *stateStore) hasAccount(id types.AccountID) (bool, error) {
	return s.db.Has(accountKey(id))
}

func (s *stateStore) putAccount(id types.AccountID, acc *Account) error {
	return s.putJSON(accountKey(id), acc)
}

func (s *stateStore) accessKey(id types.AccountID, pk crypto.PublicKey) (*AccessKey, error) {
	var ak AccessKey
	ok, err := s.getJSON(accessKeyKey(id, pk), &ak)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rejectf(ErrAccessKeyDoesNotExist, "access key %s does not exist on %s", pk, id)
	}
	return &ak, nil
}

func (s *stateStore) putAccessKey(id types.AccountID, pk crypto.PublicKey, ak *AccessKey) error {
	return s.putJSON(accessKeyKey(id, pk), ak)
}

func (s *stateStore) code(id types.AccountID) ([]byte, error) {
	code, err := s.db.Get(codeKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, rejectf(ErrCodeDoesNotExist, "no contract code deployed on %s", id)
	}
	return code, err
}

func (s *stateStore) putCode(id types.AccountID, code []byte) error {
	return s.db.Put(codeKey(id), code)
}

func (s *stateStore) data(id types.AccountID, key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(dataKey(id, key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *stateStore) putData(id types.AccountID, key, value []byte) error {
	return s.db.Put(dataKey(id, key), value)
}

func (s *stateStore) deleteData(id types.AccountID, key []byte) error {
	return s.db.Delete(dataKey(id, key))
}

// rangeData calls fn for every data record of id whose key starts with
// prefix, in key order.
func (s *stateStore) rangeData(id types.AccountID, prefix []byte, fn func(key, value []byte) error) error {
	base := dataPrefix(id)
	return s.db.ForEach(append(base, prefix...), func(key, value []byte) error {
		return fn(key[len(base):], value)
	})
}

// storageUsage recomputes the bytes attributed to id.
func (s *stateStore) storageUsage(id types.AccountID) (uint64, error) {
	usage := uint64(accountRecordBytes)

	code, err := s.db.Get(codeKey(id))
	switch {
	case err == nil:
		usage += uint64(len(code))
	case !errors.Is(err, storage.ErrNotFound):
		return 0, err
	}

	err = s.db.ForEach([]byte(prefixAccessKey+string(id)+"/"), func(_, _ []byte) error {
		usage += accessKeyBytes
		return nil
	})
	if err != nil {
		return 0, err
	}

	err = s.rangeData(id, nil, func(key, value []byte) error {
		usage += uint64(len(key)+len(value)) + dataRecordBytes
		return nil
	})
	if err != nil {
		return 0, err
	}
	return usage, nil
}

// refreshUsage recomputes the storage usage of each account and rejects the
// change when an account can no longer cover its storage lock.
func (s *stateStore) refreshUsage(ids map[types.AccountID]struct{}, enforce bool) error {
	for id := range ids {
		acc, err := s.account(id)
		if err != nil {
			if errors.Is(err, ErrAccountDoesNotExist) {
				continue
			}
			return err
		}
		usage, err := s.storageUsage(id)
		if err != nil {
			return fmt.Errorf("storage usage of %s: %w", id, err)
		}
		acc.StorageUsage = usage
		if enforce {
			bal := acc.Balance()
			if bal.Total.Lt(bal.StateStaked) {
				return rejectf(ErrLackBalanceForState, "account %s needs %s to cover %d bytes of state, has %s",
					id, bal.StateStaked, usage, bal.Total)
			}
		}
		if err := s.putAccount(id, acc); err != nil {
			return err
		}
	}
	return nil
}

// contractStorage exposes one account's data records to the runtime.
type contractStorage struct {
	st *stateStore
	id types.AccountID
}

func (c contractStorage) Read(key []byte) ([]byte, bool, error) {
	return c.st.data(c.id, key)
}

func (c contractStorage) Write(key, value []byte) error {
	return c.st.putData(c.id, key, value)
}

func (c contractStorage) Remove(key []byte) error {
	return c.st.deleteData(c.id, key)
}
