package strand

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorburckel/smallexchange/internal/worker"
)

func TestSerialExecutionAcrossSharedWorker(t *testing.T) {
	w := worker.New()
	defer func() {
		w.Stop()
		_ = w.Wait()
	}()

	s1 := New(w)
	s2 := New(w)

	var mu sync.Mutex
	var s1Order, s2Order []int
	var wg sync.WaitGroup
	wg.Add(200)

	for i := 0; i < 100; i++ {
		i := i
		s1.Post(func() {
			mu.Lock()
			s1Order = append(s1Order, i)
			mu.Unlock()
			wg.Done()
		})
		s2.Post(func() {
			mu.Lock()
			s2Order = append(s2Order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, s1Order, 100)
	require.Len(t, s2Order, 100)
	for i := range s1Order {
		assert.Equal(t, i, s1Order[i])
		assert.Equal(t, i, s2Order[i])
	}
}

// TestStrandPropertyRunsToCompletionBeforeNextSubmit is the spec's named
// "Strand property" test (§8): post f1 then f2 to a strand over a mock
// worker; f1 must run to completion before the wrapper for f2 is submitted
// to the worker.
func TestStrandPropertyRunsToCompletionBeforeNextSubmit(t *testing.T) {
	var submitted []worker.Closure
	var mu sync.Mutex
	mock := &mockWorker{
		post: func(fn worker.Closure) {
			mu.Lock()
			submitted = append(submitted, fn)
			mu.Unlock()
		},
	}

	s := New(mock)

	var f1Started, f1Finished bool
	f1Done := make(chan struct{})
	s.Post(func() {
		f1Started = true
		close(f1Done)
		f1Finished = true
	})

	// Only one wrapper should have been submitted for f1.
	mu.Lock()
	require.Len(t, submitted, 1)
	firstWrapper := submitted[0]
	mu.Unlock()

	s.Post(func() {})

	// Before running the first wrapper, only one submission should exist.
	mu.Lock()
	require.Len(t, submitted, 1)
	mu.Unlock()

	// Run the first wrapper (simulating the worker draining it).
	firstWrapper()

	assert.True(t, f1Started)
	assert.True(t, f1Finished)

	// Now the second wrapper should have been submitted, after f1 completed.
	mu.Lock()
	require.Len(t, submitted, 2)
	mu.Unlock()
}

// mockWorker stands in for worker.Worker in the strand property test: a
// strand only depends on the Poster interface, so a bare function value is
// enough of a mock.
type mockWorker struct {
	post func(worker.Closure)
}

func (m *mockWorker) Post(fn worker.Closure) { m.post(fn) }
