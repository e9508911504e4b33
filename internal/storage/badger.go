package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingnet-sandbox/internal/log"
)

// BadgerDB implements DB using Badger. Sandbox homes are small and short
// lived, so tables and value logs are sized well below Badger's defaults.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger opens (or creates) a Badger database at path.
func NewBadger(path string) (*BadgerDB, error) {
	return openBadger(sandboxOptions(badger.DefaultOptions(path)), path)
}

// NewBadgerInMemory creates a Badger database that never touches disk.
func NewBadgerInMemory() (*BadgerDB, error) {
	return openBadger(sandboxOptions(badger.DefaultOptions("").WithInMemory(true)), "<memory>")
}

func sandboxOptions(opts badger.Options) badger.Options {
	return opts.
		WithLogger(badgerLogger{klog.Storage}).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithBlockCacheSize(16 << 20).
		WithIndexCacheSize(8 << 20)
}

func openBadger(opts badger.Options, path string) (*BadgerDB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Cannot acquire directory lock") ||
			strings.Contains(msg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("database at %s is locked by another process (is another sandboxd using this home?): %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	return &BadgerDB{db: db}, nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not exist.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

// Has checks if a key exists without reading its value.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("badger has: %w", err)
	}
	return true, nil
}

func (b *BadgerDB) Put(key, value []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Set(key, value) }); err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

func (b *BadgerDB) Delete(key []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// ForEach iterates over all keys with the given prefix in key order, inside
// one read transaction so the callback sees a consistent snapshot.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewBatch returns a batch committed as one Badger transaction. Unlike a
// WriteBatch it never splits, so a commit lands completely or not at all;
// a batch too large for one transaction fails with badger.ErrTxnTooBig.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{txn: b.db.NewTransaction(true)}
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

type badgerBatch struct {
	txn *badger.Txn
	err error
}

func (bb *badgerBatch) Put(key, value []byte) error {
	if bb.err == nil {
		bb.err = bb.txn.Set(copyBytes(key), copyBytes(value))
	}
	return bb.err
}

func (bb *badgerBatch) Delete(key []byte) error {
	if bb.err == nil {
		bb.err = bb.txn.Delete(copyBytes(key))
	}
	return bb.err
}

func (bb *badgerBatch) Commit() error {
	defer bb.txn.Discard()
	if bb.err != nil {
		return fmt.Errorf("badger batch: %w", bb.err)
	}
	if err := bb.txn.Commit(); err != nil {
		return fmt.Errorf("badger batch commit: %w", err)
	}
	return nil
}

// badgerLogger forwards Badger's internal logging to the storage logger.
// Badger is chatty at info level, so info and debug both go to debug.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Error().Msgf(trimNL(f), v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warn().Msgf(trimNL(f), v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debug().Msgf(trimNL(f), v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Debug().Msgf(trimNL(f), v...) }

func trimNL(s string) string { return strings.TrimSuffix(s, "\n") }
