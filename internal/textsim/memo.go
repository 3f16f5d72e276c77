package textsim

import "sync"

type pair struct{ a, b string }

// Memo caches Similarity results keyed by the exact (a, b) pair. A scoring
// pass compares the same titles and excerpts many times; create one Memo
// per pass and drop it afterwards.
type Memo struct {
	mu      sync.RWMutex
	results map[pair]float64
	hits    int
}

// NewMemo returns an empty memo.
func NewMemo() *Memo {
	return &Memo{results: make(map[pair]float64)}
}

// Similarity returns the cached score for (a, b), computing it on first use.
func (m *Memo) Similarity(a, b string) float64 {
	key := pair{a, b}

	m.mu.RLock()
	v, ok := m.results[key]
	m.mu.RUnlock()
	if ok {
		m.mu.Lock()
		m.hits++
		m.mu.Unlock()
		return v
	}

	v = Similarity(a, b)
	m.mu.Lock()
	m.results[key] = v
	m.mu.Unlock()
	return v
}

// Len returns the number of distinct pairs computed.
func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// Hits returns how many lookups were served from the cache.
func (m *Memo) Hits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits
}
