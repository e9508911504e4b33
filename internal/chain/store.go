package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-sandbox/internal/storage"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/block"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Block store tables and metadata keys.
var (
	tableBlocks  = []byte("b/") // <hash> -> block JSON
	tableHeights = []byte("h/") // <height be64> -> hash
	tableTxs     = []byte("x/") // <tx hash> -> height be64 + block hash
	tableMeta    = []byte("s/")

	keyTip     = []byte("tip")     // hash + height be64 + time offset be64
	keyGenesis = []byte("genesis") // genesis config hash
)

const (
	tipRecordSize = types.HashSize + 16
	txRecordSize  = 8 + types.HashSize
)

// BlockStore persists blocks, their indexes and the chain tip.
type BlockStore struct {
	blocks  *storage.Table
	heights *storage.Table
	txs     *storage.Table
	meta    *storage.Table
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{
		blocks:  storage.NewTable(db, tableBlocks),
		heights: storage.NewTable(db, tableHeights),
		txs:     storage.NewTable(db, tableTxs),
		meta:    storage.NewTable(db, tableMeta),
	}
}

func heightKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, height)
}

// PutBlock stores a block and indexes it by height and by transaction.
func (bs *BlockStore) PutBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	hash := blk.Hash()
	if err := bs.blocks.Put(hash[:], data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	if err := bs.heights.Put(heightKey(blk.Header.Height), hash[:]); err != nil {
		return fmt.Errorf("height index put: %w", err)
	}

	loc := append(heightKey(blk.Header.Height), hash[:]...)
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		if err := bs.txs.Put(txHash[:], loc); err != nil {
			return fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}
	return nil
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.blocks.Get(hash[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, rejectf(ErrUnknownBlock, "no block with hash %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// GetBlockByHeight retrieves a block by its height. Heights skipped by a
// fast-forward have no block.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	raw, err := bs.heights.Get(heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, rejectf(ErrUnknownBlock, "no block at height %d", height)
	}
	if err != nil {
		return nil, fmt.Errorf("height index get: %w", err)
	}
	if len(raw) != types.HashSize {
		return nil, fmt.Errorf("corrupt height index: got %d bytes, want %d", len(raw), types.HashSize)
	}
	return bs.GetBlock(types.Hash(raw))
}

// SetTip records the chain tip and virtual time offset in one write.
func (bs *BlockStore) SetTip(hash types.Hash, height uint64, offset uint64) error {
	rec := make([]byte, 0, tipRecordSize)
	rec = append(rec, hash[:]...)
	rec = binary.BigEndian.AppendUint64(rec, height)
	rec = binary.BigEndian.AppendUint64(rec, offset)
	if err := bs.meta.Put(keyTip, rec); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	return nil
}

// GetTip returns the chain tip hash, height and time offset. ok is false
// on a fresh chain.
func (bs *BlockStore) GetTip() (hash types.Hash, height, offset uint64, ok bool, err error) {
	rec, err := bs.meta.Get(keyTip)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, 0, 0, false, nil
	}
	if err != nil {
		return types.Hash{}, 0, 0, false, err
	}
	if len(rec) != tipRecordSize {
		return types.Hash{}, 0, 0, false, fmt.Errorf("corrupt tip: got %d bytes, want %d", len(rec), tipRecordSize)
	}
	hash = types.Hash(rec[:types.HashSize])
	height = binary.BigEndian.Uint64(rec[types.HashSize:])
	offset = binary.BigEndian.Uint64(rec[types.HashSize+8:])
	return hash, height, offset, true, nil
}

// SetGenesisHash records which genesis the store was initialised from.
func (bs *BlockStore) SetGenesisHash(h types.Hash) error {
	return bs.meta.Put(keyGenesis, h[:])
}

// GetGenesisHash returns the recorded genesis hash.
func (bs *BlockStore) GetGenesisHash() (types.Hash, error) {
	b, err := bs.meta.Get(keyGenesis)
	if err != nil {
		return types.Hash{}, err
	}
	if len(b) != types.HashSize {
		return types.Hash{}, fmt.Errorf("corrupt genesis hash: got %d bytes", len(b))
	}
	return types.Hash(b), nil
}

// GetTxLocation returns the height and hash of the block holding txHash.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	rec, err := bs.txs.Get(txHash[:])
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("tx index get: %w", err)
	}
	if len(rec) != txRecordSize {
		return 0, types.Hash{}, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(rec), txRecordSize)
	}
	return binary.BigEndian.Uint64(rec[:8]), types.Hash(rec[8:]), nil
}
