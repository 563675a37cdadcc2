package keymutex_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"viewmill/internal/pkg/keymutex"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := keymutex.New(8)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("k")
			counter++
			m.Unlock("k")
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestDistinctKeysDoNotDeadlock(t *testing.T) {
	m := keymutex.New(64)

	m.Lock("a")
	done := make(chan struct{})
	go func() {
		// Different key, almost certainly a different stripe; either way the
		// stripe is released before we wait.
		m.Lock("b")
		m.Unlock("b")
		close(done)
	}()
	m.Unlock("a")
	<-done
}
