package reportcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrMiss is returned when no usable entry exists for a kind/subkey. For
// TTL kinds it also covers entries past their freshness window.
var ErrMiss = errors.New("cache miss")

// Entry is the on-disk shape of one cached report. TTLHours is only set for
// time-boxed kinds; zero means the entry lives until explicitly invalidated.
type Entry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
	TTLHours float64         `json:"ttlHours,omitempty"`
}

// Fresh reports whether a TTL entry is still inside its window at the given
// time. Entries without a TTL are always fresh.
func (e *Entry) Fresh(now time.Time) bool {
	if e.TTLHours == 0 {
		return true
	}
	return now.Sub(e.StoredAt).Hours() < e.TTLHours
}

// Cache is a file-backed key→JSON store, one file per report kind/subkey.
// Writes are whole-file replacements; there is no locking. Two concurrent
// regenerations of the same kind may both write, last one wins, which is
// acceptable because reports are pure functions of the event store.
type Cache struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func New(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache{dir: dir, logger: logger, now: time.Now}, nil
}

// WithClock overrides the cache's notion of now. Tests use this to probe
// TTL boundaries.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) path(kind, subkey string) string {
	name := kind
	if subkey != "" {
		name = kind + "_" + sanitize(subkey)
	}
	return filepath.Join(c.dir, name+".json")
}

// sanitize keeps subkeys filesystem-safe.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func (c *Cache) read(kind, subkey string) (*Entry, error) {
	data, err := os.ReadFile(c.path(kind, subkey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("reading cache entry %s: %w", kind, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding cache entry %s: %w", kind, err)
	}
	return &entry, nil
}

// Get returns the stored entry if a file exists. Non-TTL kinds are fresh
// for as long as the file exists.
func (c *Cache) Get(kind, subkey string) (*Entry, error) {
	return c.read(kind, subkey)
}

// GetFresh returns the stored entry only while it is inside its TTL window.
// A stale entry yields ErrMiss but the file is left in place; the next Put
// supersedes it.
func (c *Cache) GetFresh(kind, subkey string) (*Entry, error) {
	entry, err := c.read(kind, subkey)
	if err != nil {
		return nil, err
	}
	if !entry.Fresh(c.now()) {
		return nil, ErrMiss
	}
	return entry, nil
}

// Put stores a payload with no TTL.
func (c *Cache) Put(kind, subkey string, payload any) (*Entry, error) {
	return c.write(kind, subkey, payload, 0)
}

// PutTTL stores a payload with a freshness window. If a prior entry exists
// its TTL is carried forward, stale or not, so an operator-tuned window
// survives refreshes; only a first write uses defaultTTLHours.
func (c *Cache) PutTTL(kind, subkey string, payload any, defaultTTLHours float64) (*Entry, error) {
	ttl := defaultTTLHours
	if prior, err := c.read(kind, subkey); err == nil && prior.TTLHours > 0 {
		ttl = prior.TTLHours
	}
	return c.write(kind, subkey, payload, ttl)
}

func (c *Cache) write(kind, subkey string, payload any, ttlHours float64) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload for %s: %w", kind, err)
	}

	entry := &Entry{
		Payload:  raw,
		StoredAt: c.now(),
		TTLHours: ttlHours,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding cache entry %s: %w", kind, err)
	}
	if err := os.WriteFile(c.path(kind, subkey), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing cache entry %s: %w", kind, err)
	}

	c.logger.Debug("cache entry written", "kind", kind, "subkey", subkey, "ttl_hours", ttlHours)
	return entry, nil
}

// Invalidate removes one entry. Removing a missing entry is not an error.
func (c *Cache) Invalidate(kind, subkey string) error {
	err := os.Remove(c.path(kind, subkey))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache entry %s: %w", kind, err)
	}
	return nil
}

// InvalidateKinds removes every file whose name starts with one of the
// given kinds, covering all subkeys of parameterized report kinds.
func (c *Cache) InvalidateKinds(kinds ...string) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("listing cache dir: %w", err)
	}

	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		base := strings.TrimSuffix(de.Name(), ".json")
		for _, kind := range kinds {
			if base == kind || strings.HasPrefix(base, kind+"_") {
				if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("removing cache entry %s: %w", de.Name(), err)
				}
				break
			}
		}
	}
	return nil
}
