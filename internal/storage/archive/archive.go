// Package archive retains the raw wire JSON of every processed transaction
// in a local key-value store, so audits and replays do not have to re-fetch
// history from the ledger node. Values are CBOR envelopes, lz4-compressed
// when that pays off; the backend (pebble or leveldb) is selected by name.
package archive

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pierrec/lz4"
	"github.com/ugorji/go/codec"
	"go.uber.org/zap"

	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

// Config holds the archive settings.
type Config struct {
	// Backend selects the storage backend by registered name.
	Backend string `json:"backend" mapstructure:"backend"`

	// Path is the file system root of the backend's database.
	Path string `json:"path" mapstructure:"path"`

	// CacheSize bounds the decoded-envelope read cache (entries).
	CacheSize int `json:"cache_size" mapstructure:"cache_size"`

	// CompressThreshold is the envelope size in bytes above which lz4
	// compression is attempted.
	CompressThreshold int `json:"compress_threshold" mapstructure:"compress_threshold"`
}

// DefaultConfig returns a configuration with sensible defaults. Path still
// has to be filled in.
func DefaultConfig() *Config {
	return &Config{
		Backend:           "pebble",
		CacheSize:         1024,
		CompressThreshold: 256,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return errors.New("archive: backend must be specified")
	}
	if !IsBackendAvailable(c.Backend) {
		return fmt.Errorf("archive: unknown backend: %s", c.Backend)
	}
	if c.Path == "" {
		return errors.New("archive: path must be specified")
	}
	if c.CacheSize <= 0 {
		return errors.New("archive: cache_size must be positive")
	}
	if c.CompressThreshold < 0 {
		return errors.New("archive: compress_threshold must be non-negative")
	}
	return nil
}

// Envelope is the stored record. Raw is the transaction's wire JSON exactly
// as received.
type Envelope struct {
	Hash        string `codec:"hash"`
	UserID      string `codec:"user_id"`
	LedgerIndex uint32 `codec:"ledger_index"`
	StoredAt    int64  `codec:"stored_at"` // unix seconds
	Raw         []byte `codec:"raw"`
}

// Stats summarizes the archive's contents, gathered by a full scan.
type Stats struct {
	Entries    int
	StoredSize int64 // bytes on the backend, after packing
	RawSize    int64 // bytes of raw payloads, before packing
	Compressed int   // entries whose stored value is lz4-compressed
}

// cborHandle is shared; codec handles are safe for concurrent use.
var cborHandle codec.CborHandle

// Archive is the store handle. It satisfies the tracker's Archiver
// contract.
type Archive struct {
	backend Backend
	cache   *lru.Cache[string, *Envelope]
	cfg     *Config
	log     *zap.Logger

	now func() time.Time
}

var _ tracker.Archiver = (*Archive)(nil)

// Open validates the configuration, opens the backend, and wraps it with
// the read cache.
func Open(cfg *Config, log *zap.Logger) (*Archive, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := CreateBackend(cfg.Backend, cfg)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *Envelope](cfg.CacheSize)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("archive: create cache: %w", err)
	}
	a := &Archive{
		backend: backend,
		cache:   cache,
		cfg:     cfg,
		log:     log.Named("archive"),
		now:     time.Now,
	}
	a.log.Info("archive opened", zap.String("backend", backend.Name()))
	return a, nil
}

// Archive stores one transaction's raw payload, keyed by its hash. Writing
// the same hash twice overwrites with identical content, so replays are
// harmless.
func (a *Archive) Archive(ctx context.Context, hash, userID string, ledgerIndex uint32, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := &Envelope{
		Hash:        hash,
		UserID:      userID,
		LedgerIndex: ledgerIndex,
		StoredAt:    a.now().Unix(),
		Raw:         raw,
	}
	plain, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := a.backend.Put(keyFor(hash), packValue(plain, a.cfg.CompressThreshold)); err != nil {
		return err
	}
	a.cache.Add(hash, env)
	return nil
}

// Has reports whether a payload for the hash is archived.
func (a *Archive) Has(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if a.cache.Contains(hash) {
		return true, nil
	}
	return a.backend.Has(keyFor(hash))
}

// Get returns the stored envelope for the hash, or tracker.ErrNotFound.
func (a *Archive) Get(ctx context.Context, hash string) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if env, ok := a.cache.Get(hash); ok {
		return env, nil
	}
	value, err := a.backend.Get(keyFor(hash))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, tracker.ErrNotFound
		}
		return nil, err
	}
	plain, err := unpackValue(value)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(plain)
	if err != nil {
		return nil, err
	}
	a.cache.Add(hash, env)
	return env, nil
}

// Stats scans the backend and summarizes what is stored.
func (a *Archive) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := a.backend.ForEach(func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Entries++
		stats.StoredSize += int64(len(value))
		if len(value) > 0 && value[0] == flagCompressed {
			stats.Compressed++
		}
		plain, err := unpackValue(value)
		if err != nil {
			return fmt.Errorf("archive: entry %s: %w", hex.EncodeToString(key), err)
		}
		var env Envelope
		if err := decodeInto(plain, &env); err != nil {
			return fmt.Errorf("archive: entry %s: %w", hex.EncodeToString(key), err)
		}
		stats.RawSize += int64(len(env.Raw))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (a *Archive) Close() error {
	return a.backend.Close()
}

// keyFor derives the backend key from a transaction hash. Hashes are
// 64-char hex; anything else keys by its literal bytes.
func keyFor(hash string) []byte {
	if raw, err := hex.DecodeString(hash); err == nil && len(raw) > 0 {
		return raw
	}
	return []byte(hash)
}

func encodeEnvelope(env *Envelope) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, &cborHandle).Encode(env); err != nil {
		return nil, fmt.Errorf("archive: encode envelope: %w", err)
	}
	return buf, nil
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := decodeInto(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func decodeInto(data []byte, env *Envelope) error {
	if err := codec.NewDecoderBytes(data, &cborHandle).Decode(env); err != nil {
		return fmt.Errorf("archive: decode envelope: %w", err)
	}
	return nil
}

// Packed value layout: one flag byte, then either the plain envelope or a
// little-endian uint32 uncompressed size followed by the lz4 block.
const (
	flagPlain      = 0x00
	flagCompressed = 0x01

	compressedHeaderSize = 1 + 4
)

// packValue compresses envelopes above the threshold, keeping the result
// only when it is actually smaller.
func packValue(plain []byte, threshold int) []byte {
	if len(plain) > threshold {
		dst := make([]byte, lz4.CompressBlockBound(len(plain)))
		n, err := lz4.CompressBlock(plain, dst, nil)
		// n == 0 means the block is incompressible.
		if err == nil && n > 0 && compressedHeaderSize+n < 1+len(plain) {
			out := make([]byte, compressedHeaderSize+n)
			out[0] = flagCompressed
			binary.LittleEndian.PutUint32(out[1:5], uint32(len(plain)))
			copy(out[compressedHeaderSize:], dst[:n])
			return out
		}
	}
	out := make([]byte, 1+len(plain))
	out[0] = flagPlain
	copy(out[1:], plain)
	return out
}

func unpackValue(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, errors.New("archive: empty value")
	}
	switch value[0] {
	case flagPlain:
		return value[1:], nil
	case flagCompressed:
		if len(value) < compressedHeaderSize {
			return nil, errors.New("archive: truncated value header")
		}
		size := binary.LittleEndian.Uint32(value[1:5])
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(value[compressedHeaderSize:], dst)
		if err != nil {
			return nil, fmt.Errorf("archive: lz4 decompress: %w", err)
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("archive: unknown value flag 0x%02x", value[0])
	}
}
