// Package safe is the native repository's storage: a content-addressed
// commit table in BadgerDB, plus the reference tables that make it a
// complete history backend.
package safe

import (
	"errors"
	"fmt"
	"strings"

	"cmsg/internal/object"
	"cmsg/internal/store"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ErrCorrupt means the bytes stored under an id do not hash to it.
var ErrCorrupt = errors.New("stored object does not match its id")

const objectPrefix = "object:"

// DefaultCacheSize is the number of decoded objects kept in memory.
const DefaultCacheSize = 1024

// Options configures Safe behavior
type Options struct {
	CacheSize   int
	Compression CompressionOptions
}

// Safe stores canonical commit encodings keyed by their id. Values are
// zstd-compressed above a size threshold and every read is re-hashed.
type Safe struct {
	db     *badger.DB
	cache  *lru.Cache[object.ID, []byte]
	comp   *compressionManager
	logger *zap.Logger
}

// New creates a new Safe instance
func New(db *badger.DB, opts Options, logger *zap.Logger) (*Safe, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Compression == (CompressionOptions{}) {
		opts.Compression = DefaultCompressionOptions()
	}

	cache, err := lru.New[object.ID, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	comp, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Safe{db: db, cache: cache, comp: comp, logger: logger}, nil
}

func objectKey(id object.ID) []byte {
	return []byte(objectPrefix + string(id))
}

// Put stores an encoded commit body and returns its id. Storing an object
// that is already present changes nothing.
func (s *Safe) Put(body []byte) (object.ID, error) {
	id := object.HashEncoded(body)
	key := objectKey(id)

	stored := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		stored = true
		return txn.Set(key, s.comp.compress(body))
	})
	if err != nil {
		return object.ZeroID, fmt.Errorf("storing object %s: %w", id.Short(), err)
	}

	s.cache.Add(id, body)
	if stored {
		s.logger.Debug("stored object", zap.String("id", id.String()), zap.Int("size", len(body)))
	}
	return id, nil
}

// Get returns the encoded body stored under id.
func (s *Safe) Get(id object.ID) ([]byte, error) {
	if body, ok := s.cache.Get(id); ok {
		return body, nil
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrObjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", id.Short(), err)
	}

	body, err := s.comp.decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id.Short(), err)
	}
	if got := object.HashEncoded(body); got != id {
		return nil, fmt.Errorf("%w: %s hashes to %s", ErrCorrupt, id, got)
	}

	s.cache.Add(id, body)
	return body, nil
}

// Exists reports whether id is stored.
func (s *Safe) Exists(id object.ID) (bool, error) {
	if s.cache.Contains(id) {
		return true, nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Scan lists the stored ids that start with prefix.
func (s *Safe) Scan(prefix string) ([]object.ID, error) {
	var ids []object.ID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(objectPrefix + prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			ids = append(ids, object.ID(strings.TrimPrefix(string(it.Item().Key()), objectPrefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning objects: %w", err)
	}
	return ids, nil
}
