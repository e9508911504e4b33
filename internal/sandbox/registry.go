package sandbox

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Account is a handle on an account the harness can sign for. It holds
// only identifiers and the key; operations go through the Harness.
type Account struct {
	ID     types.AccountID
	Parent types.AccountID // empty for the root
	Key    *crypto.KeyPair
}

// registry tracks the accounts of one harness. Ids are reserved before the
// creating transaction is sent, so concurrent creations of the same id fail
// fast with ErrDuplicateAccount.
type registry struct {
	mu       sync.Mutex
	accounts map[types.AccountID]Account
	pending  map[types.AccountID]struct{}
}

func newRegistry() *registry {
	return &registry{
		accounts: make(map[types.AccountID]Account),
		pending:  make(map[types.AccountID]struct{}),
	}
}

func (r *registry) reserve(id types.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, id)
	}
	if _, ok := r.pending[id]; ok {
		return fmt.Errorf("%w: %s is being created", ErrDuplicateAccount, id)
	}
	r.pending[id] = struct{}{}
	return nil
}

// commit turns a reservation into a registered account.
func (r *registry) commit(acc Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, acc.ID)
	r.accounts[acc.ID] = acc
}

// release drops a reservation whose creation failed.
func (r *registry) release(id types.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// add registers an account that already exists on chain.
func (r *registry) add(acc Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.accounts[acc.ID]; ok {
		if prev.Key.PublicKey().Equal(acc.Key.PublicKey()) {
			return nil
		}
		return fmt.Errorf("%w: %s is registered with another key", ErrDuplicateAccount, acc.ID)
	}
	if _, ok := r.pending[acc.ID]; ok {
		return fmt.Errorf("%w: %s is being created", ErrDuplicateAccount, acc.ID)
	}
	r.accounts[acc.ID] = acc
	return nil
}

func (r *registry) get(id types.AccountID) (Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	return acc, ok
}

func (r *registry) has(id types.AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[id]
	_, pending := r.pending[id]
	return ok || pending
}

// list returns registered accounts sorted by id.
func (r *registry) list() []Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// devIDAttempts bounds collisions before giving up on a dev id.
const devIDAttempts = 64

// reserveDevID reserves a fresh dev-<yyyymmddhhmmss>-<digits>.<parent> id.
func (r *registry) reserveDevID(parent types.AccountID, now time.Time) (types.AccountID, error) {
	stamp := now.UTC().Format("20060102150405")
	for i := 0; i < devIDAttempts; i++ {
		id := parent.Sub(fmt.Sprintf("dev-%s-%d", stamp, 10_000+rand.IntN(90_000_000)))
		if err := id.Validate(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
		}
		if err := r.reserve(id); err == nil {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no free dev id under %s", ErrDuplicateAccount, parent)
}
