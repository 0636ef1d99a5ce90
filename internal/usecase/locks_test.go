package usecase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchLocksSerialiseSameBatch(t *testing.T) {
	t.Parallel()

	locks := NewBatchLocks()
	counters := map[string]int{}
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		for _, batch := range []string{"A", "B"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.Lock(batch)
				defer unlock()
				// the map is shared by both batches
				unlockAll := locks.Lock("counters")
				counters[batch]++
				unlockAll()
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, 50, counters["A"])
	assert.Equal(t, 50, counters["B"])
	assert.Zero(t, locks.size())
}
