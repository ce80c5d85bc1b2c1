package archive

import (
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// pebbleBackend stores envelopes in a PebbleDB database. It is the default
// backend.
type pebbleBackend struct {
	db   *pebble.DB
	path string
}

// NewPebbleBackend opens (creating if missing) a PebbleDB archive at
// config.Path.
func NewPebbleBackend(config *Config) (Backend, error) {
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("archive: create directory %s: %w", config.Path, err)
	}
	opts := &pebble.Options{
		MaxOpenFiles: 512,
		// Values are lz4-compressed before they reach the backend.
		Levels: []pebble.LevelOptions{{Compression: pebble.NoCompression}},
	}
	db, err := pebble.Open(config.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("archive: open pebble at %s: %w", config.Path, err)
	}
	return &pebbleBackend{db: db, path: config.Path}, nil
}

func (p *pebbleBackend) Name() string {
	return fmt.Sprintf("pebble(%s)", p.path)
}

func (p *pebbleBackend) Put(key, value []byte) error {
	// NoSync: the WAL provides durability, archiving is best-effort.
	if err := p.db.Set(key, value, pebble.NoSync); err != nil {
		return fmt.Errorf("archive: pebble set: %w", err)
	}
	return nil
}

func (p *pebbleBackend) Get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("archive: pebble get: %w", err)
	}
	defer closer.Close()

	// The slice is only valid until the closer releases it.
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (p *pebbleBackend) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("archive: pebble get: %w", err)
	}
	closer.Close()
	return true, nil
}

func (p *pebbleBackend) ForEach(fn func(key, value []byte) error) error {
	iter, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("archive: pebble iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *pebbleBackend) Close() error {
	if err := p.db.Flush(); err != nil {
		p.db.Close()
		return fmt.Errorf("archive: pebble flush: %w", err)
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("archive: pebble close: %w", err)
	}
	return nil
}
