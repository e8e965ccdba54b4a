// Package storage holds the in-memory value store, its TTL expiry index,
// and the stream store. Both are guarded by their own reader/writer lock
// so that fan-out or reap work never blocks the other.
package storage

import (
	"container/heap"
	"sync"
	"time"
)

// Store is a map of string keys to string values, backed by a min-heap
// expiry index. Reads never implicitly expire (spec §4.2 assigns all TTL
// enforcement to the background reaper); a Reaper removes entries once
// their TTL fires.
type Store struct {
	mu   sync.RWMutex
	data map[string]string

	expiryMu sync.RWMutex
	expireAt map[string]int64 // key -> absolute unix-ms, only for keys with a TTL
	heap     expiryHeap
}

func NewStore() *Store {
	return &Store{
		data:     make(map[string]string),
		expireAt: make(map[string]int64),
		heap:     make(expiryHeap, 0),
	}
}

// Set unconditionally writes k=v without touching any existing TTL.
func (s *Store) Set(k, v string) {
	s.mu.Lock()
	s.data[k] = v
	s.mu.Unlock()
}

// SetWithExpire writes k=v and schedules it to expire at nowMs+ttlMs.
func (s *Store) SetWithExpire(k, v string, nowMs, ttlMs int64) {
	s.mu.Lock()
	s.data[k] = v
	s.mu.Unlock()
	s.pushExpiry(k, nowMs+ttlMs)
}

func (s *Store) pushExpiry(k string, expireAtMs int64) {
	s.expiryMu.Lock()
	defer s.expiryMu.Unlock()
	s.expireAt[k] = expireAtMs
	heap.Push(&s.heap, &expiryEntry{key: k, expireAt: expireAtMs})
}

// Get reads the current value for k.
func (s *Store) Get(k string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[k]
	return v, ok
}

func (s *Store) Delete(k string) bool {
	s.mu.Lock()
	_, ok := s.data[k]
	delete(s.data, k)
	s.mu.Unlock()
	if ok {
		s.expiryMu.Lock()
		delete(s.expireAt, k)
		s.expiryMu.Unlock()
	}
	return ok
}

func (s *Store) Exists(k string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[k]
	return ok
}

// Keys returns a snapshot of all current keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// TTL returns remaining seconds until expiry, -1 if the key has no TTL,
// or -2 if the key doesn't exist.
func (s *Store) TTL(k string, nowMs int64) int64 {
	if !s.Exists(k) {
		return -2
	}
	s.expiryMu.RLock()
	expireAt, ok := s.expireAt[k]
	s.expiryMu.RUnlock()
	if !ok {
		return -1
	}
	remaining := (expireAt - nowMs) / 1000
	if remaining < 0 {
		return 0
	}
	return remaining
}

// expiryEntry is one (key, absolute-expiry-ms) pair in the min-heap.
type expiryEntry struct {
	key      string
	expireAt int64
	index    int
}

type expiryHeap []*expiryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expireAt < h[j].expireAt }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *expiryHeap) Push(x interface{}) {
	e := x.(*expiryEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// ReapOnce pops every entry whose expiry has already passed as of nowMs,
// removing it from the value map unless a later SetWithExpire or Delete
// superseded its expiry in the meantime (a plain Set does not, so the
// queued expiry still fires). It never removes an entry whose
// priority is still in the future — grounded on
// original_source/src/store/engine.rs's expired_reaper, which peeks and
// breaks the instant the earliest entry is not yet due.
func (s *Store) ReapOnce(nowMs int64) {
	for {
		s.expiryMu.Lock()
		if s.heap.Len() == 0 {
			s.expiryMu.Unlock()
			return
		}
		earliest := s.heap[0]
		if earliest.expireAt > nowMs {
			s.expiryMu.Unlock()
			return
		}
		heap.Pop(&s.heap)

		// The map entry may have been overwritten with a later TTL (or no
		// TTL) since this entry was queued; only act if it's still current.
		current, tracked := s.expireAt[earliest.key]
		stale := !tracked || current != earliest.expireAt
		if !stale {
			delete(s.expireAt, earliest.key)
		}
		s.expiryMu.Unlock()

		if stale {
			continue
		}
		s.mu.Lock()
		delete(s.data, earliest.key)
		s.mu.Unlock()
	}
}

// RunReaper blocks, waking every period to reap expired keys, until stop
// is closed.
func (s *Store) RunReaper(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			s.ReapOnce(t.UnixMilli())
		}
	}
}
