package cache

import (
	"sync/atomic"
	"time"
)

// Counters holds one namespace's hit/miss accounting. All fields are
// updated atomically.
type Counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	loads     atomic.Int64
	evictions atomic.Int64
}

func (c *Counters) snapshot() NamespaceStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	return NamespaceStats{
		Hits:      hits,
		Misses:    misses,
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
		Total:     hits + misses,
		HitRate:   rate(hits, misses),
	}
}

func (c *Counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.loads.Store(0)
	c.evictions.Store(0)
}

// Registry owns one Counters per namespace. The set of namespaces is fixed
// at construction so lookups need no lock.
type Registry struct {
	counters map[Namespace]*Counters
}

func NewRegistry() *Registry {
	r := &Registry{counters: make(map[Namespace]*Counters, len(namespaces))}
	for _, ns := range namespaces {
		r.counters[ns] = &Counters{}
	}
	return r
}

// For returns the counters of ns. Unknown namespaces get a throwaway set.
func (r *Registry) For(ns Namespace) *Counters {
	if c, ok := r.counters[ns]; ok {
		return c
	}
	return &Counters{}
}

func (r *Registry) Reset() {
	for _, c := range r.counters {
		c.reset()
	}
}

// NamespaceStats is a point-in-time copy of one namespace's counters.
type NamespaceStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Loads     int64   `json:"loads"`
	Evictions int64   `json:"evictions"`
	Total     int64   `json:"total"`
	HitRate   float64 `json:"hitRate"`
}

// Statistics aggregates all namespaces.
type Statistics struct {
	Hits       int64                        `json:"hits"`
	Misses     int64                        `json:"misses"`
	Loads      int64                        `json:"loads"`
	Evictions  int64                        `json:"evictions"`
	Total      int64                        `json:"total"`
	HitRate    float64                      `json:"hitRate"`
	Namespaces map[Namespace]NamespaceStats `json:"namespaces"`
}

// HitRateStatistics reports hit rates as percentages.
type HitRateStatistics struct {
	OverallHitRate    float64               `json:"overallHitRate"`
	NamespaceHitRates map[Namespace]float64 `json:"namespaceHitRates"`
	TotalHits         int64                 `json:"totalHits"`
	TotalMisses       int64                 `json:"totalMisses"`
	GeneratedAt       time.Time             `json:"generatedAt"`
}

func (r *Registry) Statistics() Statistics {
	out := Statistics{Namespaces: make(map[Namespace]NamespaceStats, len(r.counters))}
	for _, ns := range namespaces {
		s := r.For(ns).snapshot()
		out.Namespaces[ns] = s
		out.Hits += s.Hits
		out.Misses += s.Misses
		out.Loads += s.Loads
		out.Evictions += s.Evictions
	}
	out.Total = out.Hits + out.Misses
	out.HitRate = rate(out.Hits, out.Misses)
	return out
}

func (r *Registry) HitRates(now time.Time) HitRateStatistics {
	stats := r.Statistics()
	out := HitRateStatistics{
		OverallHitRate:    stats.HitRate * 100,
		NamespaceHitRates: make(map[Namespace]float64, len(stats.Namespaces)),
		TotalHits:         stats.Hits,
		TotalMisses:       stats.Misses,
		GeneratedAt:       now,
	}
	for ns, s := range stats.Namespaces {
		out.NamespaceHitRates[ns] = s.HitRate * 100
	}
	return out
}

func rate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
