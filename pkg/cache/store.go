// Package cache is the persistent TTL cache behind every live feed. Each
// entry is a JSON document holding the value, when it was stored, its TTL
// and the schema version of the value. Entries are valid only while fresh
// and only for callers expecting the same version.
//
// Caching is an optimization: Set never reports failures to the caller and
// a broken cache degrades to permanent misses.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/caribu66/veruspulse-sub005/pkg/errs"
)

// StoreConfig holds configuration for a cache Store.
type StoreConfig struct {
	// Dir is the directory where entry files are stored.
	Dir string

	// SweepInterval is how often expired entries are removed from disk.
	// Zero disables the background sweep; expired entries are still
	// ignored (and removed) on read.
	SweepInterval time.Duration

	// Clock supplies the current time and the sweep ticker. Defaults to
	// the real clock.
	Clock clock.WithTicker

	// Logger receives debug output for swallowed failures.
	Logger *slog.Logger
}

// Entry is the persisted form of one cached value. Entries are never
// mutated in place; Set replaces the whole file.
type Entry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	StoredAt int64           `json:"storedAt"` // Unix milliseconds
	TTLMs    int64           `json:"ttlMs"`
	Version  string          `json:"version"`
}

// StoredTime returns StoredAt as a time.Time.
func (e Entry) StoredTime() time.Time {
	return time.UnixMilli(e.StoredAt)
}

// TTL returns TTLMs as a duration.
func (e Entry) TTL() time.Duration {
	return time.Duration(e.TTLMs) * time.Millisecond
}

// expiredAt reports whether the entry's TTL has elapsed at now.
func (e Entry) expiredAt(now time.Time) bool {
	return now.UnixMilli()-e.StoredAt >= e.TTLMs
}

// Stats holds runtime counters for a Store.
type Stats struct {
	Hits          int64
	Misses        int64
	Expirations   int64
	WriteFailures int64
	Entries       int
}

// Store is a disk-backed key/value cache with TTL expiry and schema
// versioning. It is safe for concurrent use. A nil *Store is a valid cache
// that never hits and never stores.
type Store struct {
	cfg   StoreConfig
	clock clock.WithTicker
	log   *slog.Logger

	mu    sync.Mutex
	keys  map[string]string // hash -> key
	stats Stats

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStore creates a Store rooted at cfg.Dir, creating the directory with
// 0755 permissions when missing. Existing entry files are indexed; corrupt
// or expired-by-TTL files are removed.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: create directory %s: %w", cfg.Dir, err)
	}

	s := &Store{
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Logger,
		keys:  make(map[string]string),
		done:  make(chan struct{}),
	}

	if err := s.scanDir(); err != nil {
		return nil, fmt.Errorf("cache: scan directory: %w", err)
	}

	if cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}

	return s, nil
}

// Get returns the raw JSON value stored under key if the entry is fresh and
// was written with the expected version. Anything else is a miss. Expired
// entries are removed; entries of another version are left in place.
func (s *Store) Get(key, version string) (json.RawMessage, bool) {
	e, ok := s.GetEntry(key, version)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetEntry is like Get but returns the whole entry, so callers can show
// when the value was stored.
func (s *Store) GetEntry(key, version string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	h := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[h]; !ok {
		s.stats.Misses++
		return Entry{}, false
	}

	e, err := s.readEntry(h)
	if err != nil || e.Key != key {
		s.removeLocked(h)
		s.stats.Misses++
		return Entry{}, false
	}

	if e.expiredAt(s.clock.Now()) {
		s.removeLocked(h)
		s.stats.Expirations++
		s.stats.Misses++
		return Entry{}, false
	}
	// A reader expecting another schema sees a miss; the entry stays for
	// readers of its own version.
	if e.Version != version {
		s.stats.Misses++
		return Entry{}, false
	}

	s.stats.Hits++
	return e, true
}

// Set serializes value as JSON and stores it under key, replacing any
// previous entry. Failures are logged at debug level and counted; after a
// failed write the key reads as a miss.
func (s *Store) Set(key string, value any, ttl time.Duration, version string) {
	if s == nil {
		return
	}
	if err := s.write(key, value, ttl, version); err != nil {
		s.mu.Lock()
		s.stats.WriteFailures++
		s.removeLocked(hashKey(key))
		s.mu.Unlock()
		s.log.Debug("cache write skipped", "key", key, "error", err)
	}
}

// write performs the actual store and reports why it failed.
func (s *Store) write(key string, value any, ttl time.Duration, version string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errs.Cache("cache set "+key, fmt.Errorf("marshal value: %w", err))
	}

	e := Entry{
		Key:      key,
		Value:    raw,
		StoredAt: s.clock.Now().UnixMilli(),
		TTLMs:    ttl.Milliseconds(),
		Version:  version,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return errs.Cache("cache set "+key, fmt.Errorf("marshal entry: %w", err))
	}

	h := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := atomicWrite(s.entryPath(h), data, s.cfg.Dir); err != nil {
		return errs.Cache("cache set "+key, err)
	}
	s.keys[h] = key
	return nil
}

// Invalidate removes the entry for key. It is a no-op for unknown keys.
func (s *Store) Invalidate(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(hashKey(key))
}

// Keys returns the sorted keys of all entries that are still within their
// TTL, regardless of version.
func (s *Store) Keys() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	keys := make([]string, 0, len(s.keys))
	for h, key := range s.keys {
		e, err := s.readEntry(h)
		if err != nil || now-e.StoredAt >= e.TTLMs {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Entries = len(s.keys)
	return st
}

// Close stops the background sweep and waits for it to finish. It is safe
// to call Close multiple times.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

// --- internal helpers ---

func (s *Store) entryPath(hash string) string {
	return filepath.Join(s.cfg.Dir, hash+".json")
}

func (s *Store) readEntry(hash string) (Entry, error) {
	var e Entry
	data, err := os.ReadFile(s.entryPath(hash))
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, err
	}
	return e, nil
}

// removeLocked forgets the entry and deletes its file.
// Caller must hold s.mu.
func (s *Store) removeLocked(hash string) {
	delete(s.keys, hash)
	_ = os.Remove(s.entryPath(hash))
}

// scanDir rebuilds the key index from the entry files on disk.
func (s *Store) scanDir() error {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := s.clock.Now().UnixMilli()
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".tmp-") {
			_ = os.Remove(filepath.Join(s.cfg.Dir, name))
			continue
		}
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		hash := strings.TrimSuffix(name, ".json")
		e, err := s.readEntry(hash)
		if err != nil || hashKey(e.Key) != hash || now-e.StoredAt >= e.TTLMs {
			_ = os.Remove(s.entryPath(hash))
			continue
		}
		s.keys[hash] = e.Key
	}
	return nil
}

// sweepLoop periodically removes expired entries.
func (s *Store) sweepLoop() {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C():
			s.sweepExpired()
		}
	}
}

// sweepExpired removes every entry whose TTL has elapsed.
func (s *Store) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	for h := range s.keys {
		e, err := s.readEntry(h)
		if err != nil || now-e.StoredAt >= e.TTLMs {
			s.removeLocked(h)
			s.stats.Expirations++
		}
	}
}

// atomicWrite writes data to path via a temporary file and rename.
func atomicWrite(path string, data []byte, tmpDir string) error {
	tmp, err := os.CreateTemp(tmpDir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	success = true
	return nil
}
