package archive

import (
	"errors"
	"fmt"
	"sync"
)

// ErrKeyNotFound is returned by Backend.Get for absent keys.
var ErrKeyNotFound = errors.New("archive: key not found")

// Backend is the key-value surface the archive runs on. Keys are raw
// transaction hash bytes; values are packed envelopes.
type Backend interface {
	// Name identifies the backend and its location, for logging.
	Name() string

	Put(key, value []byte) error

	// Get returns the stored value or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)

	Has(key []byte) (bool, error)

	// ForEach visits every entry. Returning an error from fn stops the
	// scan and propagates the error.
	ForEach(fn func(key, value []byte) error) error

	Close() error
}

// BackendFactory is a function that creates a new backend instance.
type BackendFactory func(config *Config) (Backend, error)

var (
	backendMu        sync.RWMutex
	backendFactories = make(map[string]BackendFactory)
)

// RegisterBackend registers a backend factory with the given name.
func RegisterBackend(name string, factory BackendFactory) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendFactories[name] = factory
}

// CreateBackend creates a new backend instance for the given name and
// configuration.
func CreateBackend(name string, config *Config) (Backend, error) {
	backendMu.RLock()
	factory, ok := backendFactories[name]
	backendMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("archive: unknown backend: %s", name)
	}

	return factory(config)
}

// AvailableBackends returns a list of available backend names.
func AvailableBackends() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()

	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	return names
}

// IsBackendAvailable checks if a backend with the given name is available.
func IsBackendAvailable(name string) bool {
	backendMu.RLock()
	_, ok := backendFactories[name]
	backendMu.RUnlock()
	return ok
}

// init registers the built-in backends.
func init() {
	RegisterBackend("pebble", NewPebbleBackend)
	RegisterBackend("leveldb", NewLevelDBBackend)
}
