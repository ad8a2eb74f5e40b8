package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	w := New()
	defer func() {
		w.Stop()
		_ = w.Wait()
	}()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 100; i++ {
		i := i
		w.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker to drain")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestReentrantPost(t *testing.T) {
	w := New()
	defer func() {
		w.Stop()
		_ = w.Wait()
	}()

	done := make(chan struct{})
	w.Post(func() {
		w.Post(func() {
			close(done)
		})
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant post never ran")
	}
}

func TestStopStopsDraining(t *testing.T) {
	w := New()
	w.Stop()
	err := w.Wait()
	require.NoError(t, err)
}
