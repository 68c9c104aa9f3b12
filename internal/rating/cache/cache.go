package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lead_rating_engine/platform/apperr"
	"lead_rating_engine/platform/logger"
)

// Namespace partitions the keyspace by kind of entry.
type Namespace string

const (
	NamespaceResult     Namespace = "result"
	NamespaceRuleConfig Namespace = "rule-config"
	NamespaceStatistics Namespace = "statistics"
)

var namespaces = []Namespace{NamespaceResult, NamespaceRuleConfig, NamespaceStatistics}

// Namespaces lists the known namespaces.
func Namespaces() []Namespace {
	out := make([]Namespace, len(namespaces))
	copy(out, namespaces)
	return out
}

const (
	DefaultResultTTL     = 24 * time.Hour
	DefaultRuleConfigTTL = 72 * time.Hour
	DefaultStatisticsTTL = 6 * time.Hour

	defaultKeyPrefix = "rating"
	deleteChunk      = 500
)

// Options configures a Cache. Zero values fall back to the defaults.
type Options struct {
	KeyPrefix     string
	ResultTTL     time.Duration
	RuleConfigTTL time.Duration
	StatisticsTTL time.Duration
}

// Cache is the namespaced cache used by the rating engine. Reads never
// fail: backend errors are logged and reported as misses. Writes and
// evictions return an apperr cache error.
type Cache struct {
	backend   Backend
	prefix    string
	ttls      map[Namespace]time.Duration
	stats     *Registry
	listeners listenerSet
	log       *logger.Logger
	now       func() time.Time
}

// New creates a cache. A nil registry gets a private one.
func New(backend Backend, stats *Registry, opts Options, log *logger.Logger) *Cache {
	if stats == nil {
		stats = NewRegistry()
	}
	if log == nil {
		log = logger.Discard()
	}
	prefix := strings.TrimSuffix(opts.KeyPrefix, ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Cache{
		backend: backend,
		prefix:  prefix,
		ttls: map[Namespace]time.Duration{
			NamespaceResult:     orDefault(opts.ResultTTL, DefaultResultTTL),
			NamespaceRuleConfig: orDefault(opts.RuleConfigTTL, DefaultRuleConfigTTL),
			NamespaceStatistics: orDefault(opts.StatisticsTTL, DefaultStatisticsTTL),
		},
		stats: stats,
		log:   log.WithComponent("rating-cache"),
		now:   time.Now,
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// DefaultTTL returns the configured TTL of ns.
func (c *Cache) DefaultTTL(ns Namespace) time.Duration {
	if ttl, ok := c.ttls[ns]; ok {
		return ttl
	}
	return DefaultStatisticsTTL
}

func (c *Cache) nsPrefix(ns Namespace) string {
	return c.prefix + ":" + string(ns) + ":"
}

func (c *Cache) fullKey(ns Namespace, key string) string {
	return c.nsPrefix(ns) + key
}

// AddListener registers l. RemoveListener unregisters it by identity.
func (c *Cache) AddListener(l Listener)    { c.listeners.add(l) }
func (c *Cache) RemoveListener(l Listener) { c.listeners.remove(l) }

// Set stores value as JSON under ns/key. A non-positive ttl uses the
// namespace default.
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode cache value", err).WithOp("cache.Set")
	}
	return c.setRaw(ctx, ns, key, data, ttl)
}

func (c *Cache) setRaw(ctx context.Context, ns Namespace, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.DefaultTTL(ns)
	}
	full := c.fullKey(ns, key)
	if err := c.backend.Set(ctx, full, data, ttl); err != nil {
		c.log.CacheError("set", full, err)
		return apperr.Cache("cache write failed", err).WithOp("cache.Set")
	}
	c.stats.For(ns).loads.Add(1)
	c.notify(func(l Listener) { l.OnCacheLoad(ns, key) })
	return nil
}

// Get decodes the entry at ns/key into dest and reports whether it was found.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string, dest any) bool {
	full := c.fullKey(ns, key)
	data, found, err := c.backend.Get(ctx, full)
	if err != nil {
		c.log.CacheError("get", full, err)
		c.recordMiss(ns, key)
		return false
	}
	if !found {
		c.recordMiss(ns, key)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.dropCorrupt(ctx, ns, key, err)
		c.recordMiss(ns, key)
		return false
	}
	c.recordHit(ns, key)
	return true
}

// GetRaw returns the stored JSON for ns/key.
func (c *Cache) GetRaw(ctx context.Context, ns Namespace, key string) (json.RawMessage, bool) {
	var raw json.RawMessage
	if !c.Get(ctx, ns, key, &raw) {
		return nil, false
	}
	return raw, true
}

// Get is the typed form of Cache.Get.
func Get[T any](ctx context.Context, c *Cache, ns Namespace, key string) (T, bool) {
	var v T
	ok := c.Get(ctx, ns, key, &v)
	return v, ok
}

// BatchGet fetches keys in one round trip. Missing or undecodable entries
// are absent from the result.
func BatchGet[T any](ctx context.Context, c *Cache, ns Namespace, keys []string) map[string]T {
	out := make(map[string]T, len(keys))
	if len(keys) == 0 {
		return out
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(ns, k)
	}

	values, err := c.backend.MultiGet(ctx, full)
	if err != nil {
		c.log.CacheError("mget", c.nsPrefix(ns)+"*", err)
		for _, k := range keys {
			c.recordMiss(ns, k)
		}
		return out
	}

	for i, k := range keys {
		if i >= len(values) || values[i] == nil {
			c.recordMiss(ns, k)
			continue
		}
		var v T
		if err := json.Unmarshal(values[i], &v); err != nil {
			c.dropCorrupt(ctx, ns, k, err)
			c.recordMiss(ns, k)
			continue
		}
		out[k] = v
		c.recordHit(ns, k)
	}
	return out
}

// Evict removes ns/key.
func (c *Cache) Evict(ctx context.Context, ns Namespace, key string) error {
	full := c.fullKey(ns, key)
	if _, err := c.backend.Delete(ctx, full); err != nil {
		c.log.CacheError("delete", full, err)
		return apperr.Cache("cache eviction failed", err).WithOp("cache.Evict")
	}
	c.recordEviction(ns, key, EvictManual)
	return nil
}

// BatchEvict removes keys from ns and returns how many existed.
func (c *Cache) BatchEvict(ctx context.Context, ns Namespace, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(ns, k)
	}
	deleted, err := c.deleteChunked(ctx, full)
	if err != nil {
		c.log.CacheError("batch_delete", c.nsPrefix(ns)+"*", err)
		return deleted, apperr.Cache("cache batch eviction failed", err).WithOp("cache.BatchEvict")
	}
	for _, k := range keys {
		c.recordEviction(ns, k, EvictBatch)
	}
	return deleted, nil
}

// Clear removes every entry of ns.
func (c *Cache) Clear(ctx context.Context, ns Namespace) (int64, error) {
	keys, err := c.backend.KeysByPrefix(ctx, c.nsPrefix(ns))
	if err != nil {
		c.log.CacheError("scan", c.nsPrefix(ns)+"*", err)
		return 0, apperr.Cache("cache clear failed", err).WithOp("cache.Clear")
	}
	deleted, err := c.deleteChunked(ctx, keys)
	if err != nil {
		c.log.CacheError("clear", c.nsPrefix(ns)+"*", err)
		return deleted, apperr.Cache("cache clear failed", err).WithOp("cache.Clear")
	}
	for _, k := range keys {
		c.recordEviction(ns, strings.TrimPrefix(k, c.nsPrefix(ns)), EvictClear)
	}
	return deleted, nil
}

// ClearAll empties every namespace.
func (c *Cache) ClearAll(ctx context.Context) (int64, error) {
	var total int64
	for _, ns := range namespaces {
		n, err := c.Clear(ctx, ns)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Exists reports whether ns/key is cached. Backend errors read as false.
func (c *Cache) Exists(ctx context.Context, ns Namespace, key string) bool {
	full := c.fullKey(ns, key)
	ok, err := c.backend.Exists(ctx, full)
	if err != nil {
		c.log.CacheError("exists", full, err)
		return false
	}
	return ok
}

// TTLRemaining returns the remaining lifetime of ns/key. found is false for
// missing keys and on backend errors; entries without expiry report NoExpiry.
func (c *Cache) TTLRemaining(ctx context.Context, ns Namespace, key string) (time.Duration, bool) {
	full := c.fullKey(ns, key)
	ttl, err := c.backend.TTL(ctx, full)
	if err != nil {
		c.log.CacheError("ttl", full, err)
		return 0, false
	}
	if ttl == KeyMissing {
		return 0, false
	}
	return ttl, true
}

// RefreshTTL resets the lifetime of ns/key. It reports false if the key is gone.
func (c *Cache) RefreshTTL(ctx context.Context, ns Namespace, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = c.DefaultTTL(ns)
	}
	full := c.fullKey(ns, key)
	ok, err := c.backend.Expire(ctx, full, ttl)
	if err != nil {
		c.log.CacheError("expire", full, err)
		return false, apperr.Cache("cache ttl refresh failed", err).WithOp("cache.RefreshTTL")
	}
	return ok, nil
}

// Keys lists the keys of ns without the namespace prefix. Backend errors
// read as an empty list.
func (c *Cache) Keys(ctx context.Context, ns Namespace) []string {
	prefix := c.nsPrefix(ns)
	keys, err := c.backend.KeysByPrefix(ctx, prefix)
	if err != nil {
		c.log.CacheError("scan", prefix+"*", err)
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out
}

// SizeInfo counts entries per namespace.
type SizeInfo struct {
	Namespaces map[Namespace]int `json:"namespaces"`
	Total      int               `json:"total"`
	TakenAt    time.Time         `json:"takenAt"`
}

func (c *Cache) SizeInfo(ctx context.Context) SizeInfo {
	info := SizeInfo{Namespaces: make(map[Namespace]int, len(namespaces)), TakenAt: c.now().UTC()}
	for _, ns := range namespaces {
		n := len(c.Keys(ctx, ns))
		info.Namespaces[ns] = n
		info.Total += n
	}
	return info
}

// CleanupExpired deletes entries that carry no expiry, which can only come
// from an out-of-band write. Expiring entries are left to the backend.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	for _, ns := range namespaces {
		for _, key := range c.Keys(ctx, ns) {
			full := c.fullKey(ns, key)
			ttl, err := c.backend.TTL(ctx, full)
			if err != nil {
				c.log.CacheError("ttl", full, err)
				continue
			}
			if ttl != NoExpiry {
				continue
			}
			if _, err := c.backend.Delete(ctx, full); err != nil {
				c.log.CacheError("delete", full, err)
				return removed, apperr.Cache("cache cleanup failed", err).WithOp("cache.CleanupExpired")
			}
			removed++
			c.recordEviction(ns, key, EvictCleanup)
		}
	}
	return removed, nil
}

// Statistics returns the hit/miss counters of every namespace.
func (c *Cache) Statistics() Statistics { return c.stats.Statistics() }

// HitRateStatistics returns hit rates as percentages.
func (c *Cache) HitRateStatistics() HitRateStatistics { return c.stats.HitRates(c.now().UTC()) }

// ResetStatistics zeroes every counter.
func (c *Cache) ResetStatistics() { c.stats.Reset() }

func (c *Cache) deleteChunked(ctx context.Context, keys []string) (int64, error) {
	var deleted int64
	for start := 0; start < len(keys); start += deleteChunk {
		end := start + deleteChunk
		if end > len(keys) {
			end = len(keys)
		}
		n, err := c.backend.Delete(ctx, keys[start:end]...)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (c *Cache) dropCorrupt(ctx context.Context, ns Namespace, key string, cause error) {
	full := c.fullKey(ns, key)
	c.log.CacheError("decode", full, cause)
	if _, err := c.backend.Delete(ctx, full); err != nil {
		c.log.CacheError("delete", full, err)
		return
	}
	c.recordEviction(ns, key, EvictCorrupt)
}

func (c *Cache) recordHit(ns Namespace, key string) {
	c.stats.For(ns).hits.Add(1)
	c.notify(func(l Listener) { l.OnCacheHit(ns, key) })
}

func (c *Cache) recordMiss(ns Namespace, key string) {
	c.stats.For(ns).misses.Add(1)
	c.notify(func(l Listener) { l.OnCacheMiss(ns, key) })
}

func (c *Cache) recordEviction(ns Namespace, key string, reason EvictionReason) {
	c.stats.For(ns).evictions.Add(1)
	c.notify(func(l Listener) { l.OnCacheEviction(ns, key, reason) })
}

func (c *Cache) notify(fn func(Listener)) {
	for _, l := range c.listeners.snapshot() {
		c.safeCall(l, fn)
	}
}

func (c *Cache) safeCall(l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cache listener panicked", "listener", fmt.Sprintf("%T", l), "panic", r)
		}
	}()
	fn(l)
}
