// Package keymutex provides striped mutual exclusion keyed by string.
package keymutex

import (
	"hash/fnv"
	"sync"
)

// KeyMutex serializes critical sections per key. Stripes bound memory: two
// distinct keys may share a stripe, which widens a critical section but never
// narrows it.
type KeyMutex struct {
	stripes []sync.Mutex
}

// New returns a mutex with the given stripe count.
func New(stripes int) *KeyMutex {
	if stripes <= 0 {
		stripes = 64
	}
	return &KeyMutex{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key.
func (m *KeyMutex) Lock(key string) {
	m.stripes[m.index(key)].Lock()
}

// Unlock releases the stripe for key.
func (m *KeyMutex) Unlock(key string) {
	m.stripes[m.index(key)].Unlock()
}

func (m *KeyMutex) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.stripes)))
}
