package db

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = leveldb.ErrNotFound

// LevelDB wraps the actual LevelDB connection
type LevelDB struct {
	conn *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB instance at the given path.
// An empty path opens a store that lives in memory only.
func NewLevelDB(path string) (*LevelDB, error) {
	var (
		conn *leveldb.DB
		err  error
	)
	if path == "" {
		conn, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		conn, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %q", path)
	}
	return &LevelDB{conn: conn}, nil
}

// Close safely closes the LevelDB connection
func (l *LevelDB) Close() error {
	return l.conn.Close()
}

// Put inserts or updates a key-value pair
func (l *LevelDB) Put(key, value []byte) error {
	return l.conn.Put(key, value, nil)
}

// Get retrieves the value for a given key
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	return l.conn.Get(key, nil)
}

// Delete removes a key. Missing keys are not an error.
func (l *LevelDB) Delete(key []byte) error {
	return l.conn.Delete(key, nil)
}

// NewPrefixIterator returns an iterator over all keys starting with prefix, in key order.
func (l *LevelDB) NewPrefixIterator(prefix []byte) iterator.Iterator {
	return l.conn.NewIterator(util.BytesPrefix(prefix), nil)
}
