package chain

import (
	"sort"
	"strings"

	"github.com/Klingon-tech/klingnet-sandbox/internal/storage"
)

// overlay buffers writes on top of a database. Reads see the buffered
// writes. Nothing reaches the base until commit, which applies everything
// in one batch, so a rejected transaction leaves no trace.
type overlay struct {
	base    storage.DB
	writes  map[string][]byte
	deletes map[string]struct{}
}

func newOverlay(base storage.DB) *overlay {
	return &overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := o.deletes[k]; ok {
		return nil, storage.ErrNotFound
	}
	if v, ok := o.writes[k]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	return o.base.Get(key)
}

func (o *overlay) Put(key, value []byte) error {
	k := string(key)
	v := make([]byte, len(value))
	copy(v, value)
	o.writes[k] = v
	delete(o.deletes, k)
	return nil
}

func (o *overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

func (o *overlay) Has(key []byte) (bool, error) {
	k := string(key)
	if _, ok := o.deletes[k]; ok {
		return false, nil
	}
	if _, ok := o.writes[k]; ok {
		return true, nil
	}
	return o.base.Has(key)
}

func (o *overlay) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	err := o.base.ForEach(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	})
	if err != nil {
		return err
	}
	p := string(prefix)
	for k, v := range o.writes {
		if strings.HasPrefix(k, p) {
			merged[k] = v
		}
	}
	for k := range o.deletes {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := merged[k]
		out := make([]byte, len(v))
		copy(out, v)
		if err := fn([]byte(k), out); err != nil {
			return err
		}
	}
	return nil
}

func (o *overlay) Close() error {
	return nil
}

// commit writes the buffered changes to the base.
func (o *overlay) commit() error {
	if batcher, ok := o.base.(storage.Batcher); ok {
		b := batcher.NewBatch()
		if err := o.apply(b.Put, b.Delete); err != nil {
			return err
		}
		return b.Commit()
	}
	return o.apply(o.base.Put, o.base.Delete)
}

func (o *overlay) apply(put func(k, v []byte) error, del func(k []byte) error) error {
	for k := range o.deletes {
		if err := del([]byte(k)); err != nil {
			return err
		}
	}
	for k, v := range o.writes {
		if err := put([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}
