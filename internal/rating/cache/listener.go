package cache

import "sync"

// EvictionReason says why an entry left the cache.
type EvictionReason string

const (
	EvictManual  EvictionReason = "manual"
	EvictBatch   EvictionReason = "batch"
	EvictClear   EvictionReason = "clear"
	EvictCorrupt EvictionReason = "corrupt"
	EvictCleanup EvictionReason = "cleanup"
)

// Listener observes cache activity. Callbacks run synchronously on the
// calling goroutine and must not block.
type Listener interface {
	OnCacheHit(ns Namespace, key string)
	OnCacheMiss(ns Namespace, key string)
	OnCacheLoad(ns Namespace, key string)
	OnCacheEviction(ns Namespace, key string, reason EvictionReason)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	Hit      func(ns Namespace, key string)
	Miss     func(ns Namespace, key string)
	Load     func(ns Namespace, key string)
	Eviction func(ns Namespace, key string, reason EvictionReason)
}

func (f *ListenerFuncs) OnCacheHit(ns Namespace, key string) {
	if f.Hit != nil {
		f.Hit(ns, key)
	}
}

func (f *ListenerFuncs) OnCacheMiss(ns Namespace, key string) {
	if f.Miss != nil {
		f.Miss(ns, key)
	}
}

func (f *ListenerFuncs) OnCacheLoad(ns Namespace, key string) {
	if f.Load != nil {
		f.Load(ns, key)
	}
}

func (f *ListenerFuncs) OnCacheEviction(ns Namespace, key string, reason EvictionReason) {
	if f.Eviction != nil {
		f.Eviction(ns, key, reason)
	}
}

type listenerSet struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (s *listenerSet) add(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *listenerSet) remove(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *listenerSet) snapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}
