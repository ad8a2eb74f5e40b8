// Package worker implements the single background thread that drains
// posted closures in FIFO order (§4.4). It is grounded on the single
// goroutine event-processing loop in
// rishavpaul-system-design/order-matching-engine/internal/disruptor/processor.go —
// that teacher drains a CAS ring buffer from one goroutine for determinism;
// this Worker generalizes the same "single consumer, many producers" shape
// to draining an arbitrary posted-closure queue, and swaps the teacher's
// hand-rolled atomic.Bool/shutdownCh/shutdownDone triple for
// gopkg.in/tomb.v2, the goroutine-lifecycle library donated by the
// "fenrir" exchange go.mod (see DESIGN.md).
package worker

import (
	"sync"

	"gopkg.in/tomb.v2"
)

// Closure is a unit of work posted to the Worker.
type Closure func()

// Worker runs posted closures on a single background goroutine, in the
// order they were posted. Posting is safe from any goroutine, including
// from within a closure the Worker is currently running (re-entrant Post).
type Worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Closure
	t       tomb.Tomb
}

// New starts the worker goroutine and returns the running Worker.
func New() *Worker {
	w := &Worker{}
	w.cond = sync.NewCond(&w.mu)
	w.t.Go(w.run)
	return w
}

// Post enqueues fn for execution on the worker goroutine. It never blocks
// the caller on fn's execution.
func (w *Worker) Post(fn Closure) {
	w.mu.Lock()
	w.pending = append(w.pending, fn)
	w.mu.Unlock()
	w.cond.Signal()
}

// run is the worker's single goroutine body: wait for pending work or
// death, swap the pending slice out under the lock, then run every closure
// outside the lock — holding the lock across user work would block
// concurrent Post calls, including re-entrant ones from a running closure.
func (w *Worker) run() error {
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.dying() {
			w.cond.Wait()
		}
		if len(w.pending) == 0 && w.dying() {
			w.mu.Unlock()
			return nil
		}
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

func (w *Worker) dying() bool {
	select {
	case <-w.t.Dying():
		return true
	default:
		return false
	}
}

// Stop signals the worker to stop and wakes it if it is idle. Pending work
// queued after Stop is not guaranteed to run (§4.4): "drains are not
// guaranteed".
func (w *Worker) Stop() {
	w.t.Kill(nil)
	w.cond.Broadcast()
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() error {
	return w.t.Wait()
}
