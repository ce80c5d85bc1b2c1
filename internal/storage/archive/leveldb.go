package archive

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// levelBackend stores envelopes in a LevelDB database, the lighter-weight
// alternative to pebble.
type levelBackend struct {
	db   *leveldb.DB
	path string
}

// NewLevelDBBackend opens (creating if missing) a LevelDB archive at
// config.Path.
func NewLevelDBBackend(config *Config) (Backend, error) {
	db, err := leveldb.OpenFile(config.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: open leveldb at %s: %w", config.Path, err)
	}
	return &levelBackend{db: db, path: config.Path}, nil
}

func (l *levelBackend) Name() string {
	return fmt.Sprintf("leveldb(%s)", l.path)
}

func (l *levelBackend) Put(key, value []byte) error {
	if err := l.db.Put(key, value, nil); err != nil {
		return fmt.Errorf("archive: leveldb put: %w", err)
	}
	return nil
}

func (l *levelBackend) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: leveldb get: %w", err)
	}
	return value, nil
}

func (l *levelBackend) Has(key []byte) (bool, error) {
	ok, err := l.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("archive: leveldb has: %w", err)
	}
	return ok, nil
}

func (l *levelBackend) ForEach(fn func(key, value []byte) error) error {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (l *levelBackend) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("archive: leveldb close: %w", err)
	}
	return nil
}
