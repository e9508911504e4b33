// Package chain implements the sandbox chain state machine: accounts,
// access keys, contract code and data, and the block sequence produced as
// transactions are committed.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/internal/log"
	"github.com/Klingon-tech/klingnet-sandbox/internal/runtime"
	"github.com/Klingon-tech/klingnet-sandbox/internal/storage"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/block"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Chain represents a sandbox chain instance with state and storage.
type Chain struct {
	mu          sync.RWMutex // Protects all state mutations.
	genesis     *config.Genesis
	genesisHash types.Hash
	db          storage.DB
	blocks      *BlockStore
	state       *State
	rt          *runtime.Runtime
	now         func() time.Time
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock overrides the wall clock used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// WithRuntime overrides the contract runtime.
func WithRuntime(rt *runtime.Runtime) Option {
	return func(c *Chain) { c.rt = rt }
}

// New creates a chain over db, recovering the tip if the database already
// holds one. A fresh chain must be initialised with InitFromGenesis.
func New(gen *config.Genesis, db storage.DB, opts ...Option) (*Chain, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis is nil")
	}
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	genHash, err := gen.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash genesis: %w", err)
	}

	ch := &Chain{
		genesis:     gen,
		genesisHash: genHash,
		db:          db,
		blocks:      NewBlockStore(db),
		state:       &State{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.rt == nil {
		ch.rt = runtime.New(runtime.Config{
			Timeout: time.Duration(gen.Protocol.ContractTimeoutMS) * time.Millisecond,
		})
	}

	// Recover state from the block store.
	tipHash, height, offset, ok, err := ch.blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}
	if !ok {
		return ch, nil
	}

	stored, err := ch.blocks.GetGenesisHash()
	if err != nil {
		return nil, fmt.Errorf("recover genesis hash: %w", err)
	}
	if stored != genHash {
		return nil, fmt.Errorf("database was initialised from genesis %s, not %s", stored, genHash)
	}
	tip, err := ch.blocks.GetBlock(tipHash)
	if err != nil {
		return nil, fmt.Errorf("recover tip block: %w", err)
	}
	ch.state = &State{
		Height:       height,
		TipHash:      tipHash,
		TipTimestamp: tip.Header.Timestamp,
		TimeOffset:   offset,
	}
	return ch, nil
}

// InitFromGenesis initializes a fresh chain from genesis configuration.
// Returns an error if the chain already has blocks.
func (c *Chain) InitFromGenesis() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsGenesis() {
		return fmt.Errorf("chain already initialized at height %d", c.state.Height)
	}

	ov := newOverlay(c.db)
	st := newStateStore(ov)
	touched := make(map[types.AccountID]struct{}, len(c.genesis.Accounts))
	for _, ga := range c.genesis.Accounts {
		id := types.AccountID(ga.AccountID)
		pk, err := crypto.ParsePublicKey(ga.PublicKey)
		if err != nil {
			return fmt.Errorf("genesis account %s: %w", id, err)
		}
		if err := st.putAccount(id, &Account{Amount: ga.Amount}); err != nil {
			return err
		}
		if err := st.putAccessKey(id, pk, &AccessKey{Permission: PermissionFullAccess}); err != nil {
			return err
		}
		touched[id] = struct{}{}
	}
	if err := st.refreshUsage(touched, false); err != nil {
		return fmt.Errorf("genesis storage usage: %w", err)
	}

	header := &block.Header{
		Version:     block.CurrentVersion,
		PrevHash:    c.genesisHash,
		Timestamp:   c.genesis.Timestamp,
		Height:      0,
		EpochHeight: block.EpochHeight(0, c.genesis.Protocol.EpochLength),
	}
	blk := block.NewBlock(header, nil)

	bs := NewBlockStore(ov)
	if err := bs.SetGenesisHash(c.genesisHash); err != nil {
		return err
	}
	if err := c.commitBlock(ov, bs, blk, 0); err != nil {
		return fmt.Errorf("store genesis: %w", err)
	}

	log.Chain.Info().
		Str("chain_id", c.genesis.ChainID).
		Str("genesis", c.genesisHash.String()).
		Int("accounts", len(c.genesis.Accounts)).
		Msg("Chain initialized from genesis")
	return nil
}

// Initialized reports whether the chain has a genesis block.
func (c *Chain) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.state.IsGenesis()
}

// Genesis returns the genesis the chain runs under.
func (c *Chain) Genesis() *config.Genesis {
	return c.genesis
}

// GenesisHash returns the hash of the genesis configuration.
func (c *Chain) GenesisHash() types.Hash {
	return c.genesisHash
}

// State returns a copy of the current tip state.
func (c *Chain) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.state
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Height
}

// Head returns the tip block.
func (c *Chain) Head() (*block.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks.GetBlock(c.state.TipHash)
}

// BlockByHeight returns the block at height. Heights skipped by a
// fast-forward report UnknownBlock.
func (c *Chain) BlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// BlockByHash returns the block with the given hash.
func (c *Chain) BlockByHash(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// TxLocation returns the height and hash of the block holding a committed
// transaction.
func (c *Chain) TxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	height, hash, err := c.blocks.GetTxLocation(txHash)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, types.Hash{}, rejectf(ErrUnknownTransaction, "transaction %s not found", txHash)
	}
	return height, hash, err
}

// ProduceBlock appends an empty block at height+1.
func (c *Chain) ProduceBlock() (types.BlockInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendEmpty(1, 0)
}

// FastForward appends one block delta heights above the tip and advances
// the virtual clock by delta block times, without waiting.
func (c *Chain) FastForward(delta uint64) (types.BlockInfo, error) {
	if delta == 0 {
		return types.BlockInfo{}, rejectf(ErrInvalidDelta, "delta must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	advance := delta * uint64(c.genesis.Protocol.BlockTime())
	if advance/delta != uint64(c.genesis.Protocol.BlockTime()) {
		return types.BlockInfo{}, rejectf(ErrInvalidDelta, "delta %d overflows the clock", delta)
	}
	info, err := c.appendEmpty(delta, advance)
	if err != nil {
		return types.BlockInfo{}, err
	}
	log.Chain.Info().
		Uint64("delta", delta).
		Uint64("height", info.Height).
		Msg("Fast-forwarded")
	return info, nil
}

// appendEmpty must be called with c.mu held.
func (c *Chain) appendEmpty(delta, advance uint64) (types.BlockInfo, error) {
	if c.state.IsGenesis() {
		return types.BlockInfo{}, fmt.Errorf("chain not initialized")
	}
	offset := c.state.TimeOffset + advance
	header := c.nextHeader(delta, offset)
	blk := block.NewBlock(header, nil)

	ov := newOverlay(c.db)
	if err := c.commitBlock(ov, NewBlockStore(ov), blk, offset); err != nil {
		return types.BlockInfo{}, err
	}
	log.Chain.Debug().
		Uint64("height", header.Height).
		Str("hash", blk.Hash().String()).
		Msg("Block produced")
	return blk.Info(), nil
}

// nextHeader builds the header of the block delta heights above the tip.
// Timestamps never go back.
func (c *Chain) nextHeader(delta, offset uint64) *block.Header {
	height := c.state.Height + delta
	ts := uint64(c.now().UnixNano()) + offset
	if ts < c.state.TipTimestamp {
		ts = c.state.TipTimestamp
	}
	return &block.Header{
		Version:     block.CurrentVersion,
		PrevHash:    c.state.TipHash,
		Timestamp:   ts,
		Height:      height,
		EpochHeight: block.EpochHeight(height, c.genesis.Protocol.EpochLength),
	}
}

// commitBlock stores blk as the new tip, commits ov and advances the
// in-memory state. Must be called with c.mu held.
func (c *Chain) commitBlock(ov *overlay, bs *BlockStore, blk *block.Block, offset uint64) error {
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("invalid block: %w", err)
	}
	if err := bs.PutBlock(blk); err != nil {
		return err
	}
	hash := blk.Hash()
	if err := bs.SetTip(hash, blk.Header.Height, offset); err != nil {
		return err
	}
	if err := ov.commit(); err != nil {
		return fmt.Errorf("commit block %d: %w", blk.Header.Height, err)
	}
	c.state.Height = blk.Header.Height
	c.state.TipHash = hash
	c.state.TipTimestamp = blk.Header.Timestamp
	c.state.TimeOffset = offset
	return nil
}
