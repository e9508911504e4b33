package storage

// Table is a view of a DB confined to the keys under one prefix. Keys going
// in and coming back out of ForEach are relative to the prefix. The chain
// keeps its state and block tables side by side in one database this way.
type Table struct {
	parent DB
	prefix []byte
}

// NewTable returns the table of parent under prefix. A table of a table
// reads the grandparent directly with the prefixes joined.
func NewTable(parent DB, prefix []byte) *Table {
	if t, ok := parent.(*Table); ok {
		return &Table{parent: t.parent, prefix: t.key(prefix)}
	}
	return &Table{parent: parent, prefix: append([]byte(nil), prefix...)}
}

// Prefix returns the absolute prefix of the table.
func (t *Table) Prefix() []byte {
	return append([]byte(nil), t.prefix...)
}

func (t *Table) key(k []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(k))
	return append(append(out, t.prefix...), k...)
}

func (t *Table) Get(key []byte) ([]byte, error) { return t.parent.Get(t.key(key)) }
func (t *Table) Put(key, value []byte) error    { return t.parent.Put(t.key(key), value) }
func (t *Table) Delete(key []byte) error        { return t.parent.Delete(t.key(key)) }
func (t *Table) Has(key []byte) (bool, error)   { return t.parent.Has(t.key(key)) }

// ForEach visits the table's keys under prefix with the table prefix stripped.
func (t *Table) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(t.prefix)
	return t.parent.ForEach(t.key(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// Close does nothing; the parent owns the underlying database.
func (t *Table) Close() error { return nil }
