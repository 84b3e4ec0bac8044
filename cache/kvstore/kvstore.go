// Package kvstore implements a persistent key-value cache.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"
	"github.com/fxamacker/cbor/v2"

	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/metrics"
)

// How long OpenKVStore waits for pogreb before continuing without a cache.
const openTimeout = 30 * time.Second

// A key in the KVStore.
type CacheKey []byte

// GenerateCacheKey deterministically encodes a method name and its params.
func GenerateCacheKey(methodName string, params ...interface{}) (CacheKey, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	raw, err := encMode.Marshal([]interface{}{methodName, params})
	if err != nil {
		return nil, fmt.Errorf("cache key for %s: %w", methodName, err)
	}
	return CacheKey(raw), nil
}

// Pretty returns a human-readable version of the cache key. Intended only
// for debugging.
func (cacheKey CacheKey) Pretty() string {
	var parsed interface{}
	pretty := fmt.Sprintf("%x", []byte(cacheKey))
	if err := cbor.Unmarshal(cacheKey, &parsed); err == nil {
		pretty = fmt.Sprintf("%+v", parsed)
	}
	if len(pretty) > 100 {
		pretty = pretty[:95] + "[...]"
	}
	return pretty
}

// A key-value store. Typed access is provided by GetFromCacheOrCall.
type KVStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Close() error
}

type pogrebKVStore struct {
	db *pogreb.DB

	path    string
	logger  *log.Logger
	metrics *metrics.StorageMetrics // if nil, no metrics are emitted

	// Set once the store is open; opening happens in a background goroutine.
	initialized atomic.Bool
}

var _ KVStore = (*pogrebKVStore)(nil)

// Get implements KVStore.
func (s *pogrebKVStore) Get(key []byte) ([]byte, error) {
	if !s.initialized.Load() {
		return nil, fmt.Errorf("kvstore: not initialized yet")
	}
	return s.db.Get(key)
}

// Has implements KVStore.
func (s *pogrebKVStore) Has(key []byte) (bool, error) {
	if !s.initialized.Load() {
		return false, nil
	}
	return s.db.Has(key)
}

// Put implements KVStore.
func (s *pogrebKVStore) Put(key []byte, value []byte) error {
	if !s.initialized.Load() {
		s.logger.Debug("skipping write to uninitialized KVStore", "key", CacheKey(key).Pretty())
		return nil
	}
	return s.db.Put(key, value)
}

// Close implements KVStore.
func (s *pogrebKVStore) Close() error {
	if !s.initialized.Load() {
		s.logger.Warn("skipping closing uninitialized KVStore")
		return nil
	}
	s.logger.Info("closing KVStore", "path", s.path)
	return s.db.Close()
}

func (s *pogrebKVStore) init() error {
	// Pogreb backs up its indices into <name>.bac on every reindex, growing
	// the suffix each time. Drop the stale second-generation backups.
	stale, err := filepath.Glob(filepath.Join(s.path, "*.bac.bac"))
	if err != nil {
		return err
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			s.logger.Warn("failed to delete stale pogreb index backup", "file", f, "err", err)
		}
	}

	// If a reindex is needed, this can take hours.
	s.logger.Info("(re)opening KVStore", "path", s.path)
	db, err := pogreb.Open(s.path, &pogreb.Options{BackgroundSyncInterval: -1})
	if err != nil {
		s.logger.Error("failed to initialize pogreb store", "err", err)
		return err
	}

	s.db = db
	s.initialized.Store(true)
	s.logger.Info("KVStore opened", "path", s.path, "entries", db.Count())
	return nil
}

// OpenKVStore opens the database at path, creating it if needed. When
// pogreb takes longer than openTimeout (a reindex after a crash), the store
// is returned uninitialized and behaves as an always-missing cache until
// opening finishes in the background.
func OpenKVStore(logger *log.Logger, path string, m *metrics.StorageMetrics) (KVStore, error) {
	store := &pogrebKVStore{
		logger:  logger.WithModule("kvstore"),
		path:    path,
		metrics: m,
	}

	initErrCh := make(chan error, 1)
	go func() {
		initErrCh <- store.init()
	}()

	select {
	case err := <-initErrCh:
		if err != nil {
			return nil, err
		}
		return store, nil
	case <-time.After(openTimeout):
		store.logger.Warn("KVStore initialization timed out, continuing without cache while the database is reindexing in the background")
		return store, nil
	}
}

var errNoSuchKey = errors.New("no such key")

func increaseReadCounter(cache KVStore, status metrics.CacheReadStatus) {
	if s, ok := cache.(*pogrebKVStore); ok && s.metrics != nil {
		s.metrics.LocalCacheReads(status).Inc()
	}
}

// fetchTypedValue fetches the value of key from the cache, interpreted as a Value.
func fetchTypedValue[Value any](cache KVStore, key CacheKey, value *Value) error {
	isCached, err := cache.Has(key)
	if err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return err
	}
	if !isCached {
		increaseReadCounter(cache, metrics.CacheReadStatusMiss)
		return errNoSuchKey
	}
	raw, err := cache.Get(key)
	if err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return fmt.Errorf("failed to fetch key %s from cache: %w", key.Pretty(), err)
	}
	if err = cbor.Unmarshal(raw, value); err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusBadValue)
		return fmt.Errorf("failed to unmarshal the value for key %s from cache into %T: %w", key.Pretty(), value, err)
	}
	increaseReadCounter(cache, metrics.CacheReadStatusHit)
	return nil
}

// GetFromCacheOrCall returns the cached value for key if present. Otherwise
// it calls valueFunc and caches the result before returning it. If volatile
// is true, valueFunc is always called and nothing is cached.
func GetFromCacheOrCall[Value any](cache KVStore, volatile bool, key CacheKey, valueFunc func() (*Value, error)) (*Value, error) {
	if volatile {
		return valueFunc()
	}

	var cached Value
	switch err := fetchTypedValue(cache, key, &cached); {
	case err == nil:
		return &cached, nil
	case errors.Is(err, errNoSuchKey):
	default:
		if s, ok := cache.(*pogrebKVStore); ok {
			s.logger.Warn("error fetching from cache", "key", key.Pretty(), "err", err)
		}
	}

	computed, err := valueFunc()
	if err != nil {
		return nil, err
	}
	raw, err := cbor.Marshal(computed)
	if err != nil {
		return nil, fmt.Errorf("encoding value for key %s: %w", key.Pretty(), err)
	}
	return computed, cache.Put(key, raw)
}

// NoCache is a KVStore that stores nothing. Used when no cache directory
// is configured.
type NoCache struct{}

var _ KVStore = NoCache{}

func (NoCache) Has(key []byte) (bool, error)       { return false, nil }
func (NoCache) Get(key []byte) ([]byte, error)     { return nil, errNoSuchKey }
func (NoCache) Put(key []byte, value []byte) error { return nil }
func (NoCache) Close() error                       { return nil }
